package service

import (
	"context"
	"sync"
	"time"

	"campusfeed/internal/cache"
	"campusfeed/internal/models"
	"campusfeed/internal/repository"

	"golang.org/x/sync/errgroup"
)

// LookupState describes what Directory.Get found without blocking.
type LookupState int

const (
	LookupMiss LookupState = iota
	LookupPending
	LookupHit
)

func (s LookupState) String() string {
	switch s {
	case LookupHit:
		return "hit"
	case LookupPending:
		return "pending"
	default:
		return "miss"
	}
}

// maxParallelBatches bounds concurrent IN queries per Resolve call.
const maxParallelBatches = 4

type memoEntry struct {
	user    *models.User
	expires time.Time
}

type lookup struct {
	done chan struct{}
	user *models.User
	err  error
}

// Directory resolves user identities for display. Entries live in a
// process-wide memo in front of the Redis cache in front of the users table.
// Concurrent requests for the same id share one fetch.
type Directory struct {
	users repository.UserRepository
	cache *cache.Store
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	memo     map[uint]memoEntry
	inflight map[uint]*lookup
	// epoch advances on every Invalidate; fetches begun in an older epoch
	// don't write back to the memo.
	epoch uint64
}

// NewDirectory creates a directory. store may be a disabled cache.Store.
func NewDirectory(users repository.UserRepository, store *cache.Store) *Directory {
	return &Directory{
		users:    users,
		cache:    store,
		ttl:      cache.UserTTL,
		now:      time.Now,
		memo:     make(map[uint]memoEntry),
		inflight: make(map[uint]*lookup),
	}
}

// Get returns the memoized user without blocking.
func (d *Directory) Get(id uint) (*models.User, LookupState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.memo[id]; ok && d.now().Before(e.expires) {
		return e.user, LookupHit
	}
	if _, ok := d.inflight[id]; ok {
		return nil, LookupPending
	}
	return nil, LookupMiss
}

// Lookup resolves one user; a missing user is NotFound.
func (d *Directory) Lookup(ctx context.Context, id uint) (*models.User, error) {
	found, err := d.Resolve(ctx, []uint{id})
	if err != nil {
		return nil, err
	}
	u, ok := found[id]
	if !ok {
		return nil, models.NewNotFoundError("User", id)
	}
	return u, nil
}

// Resolve returns the users for ids. Unknown ids are absent from the result.
func (d *Directory) Resolve(ctx context.Context, ids []uint) (map[uint]*models.User, error) {
	out := make(map[uint]*models.User, len(ids))
	waits := make(map[uint]*lookup)
	var fetch []uint

	d.mu.Lock()
	epoch := d.epoch
	now := d.now()
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		if e, ok := d.memo[id]; ok && now.Before(e.expires) {
			out[id] = e.user
			continue
		}
		if l, ok := d.inflight[id]; ok {
			waits[id] = l
			continue
		}
		d.inflight[id] = &lookup{done: make(chan struct{})}
		fetch = append(fetch, id)
	}
	d.mu.Unlock()

	if len(fetch) > 0 {
		found, err := d.fetch(ctx, fetch, epoch)
		d.settle(fetch, found, err, epoch)
		if err != nil {
			return nil, err
		}
		for id, u := range found {
			out[id] = u
		}
	}

	for id, l := range waits {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.done:
		}
		if l.err != nil {
			return nil, l.err
		}
		if l.user != nil {
			out[id] = l.user
		}
	}
	return out, nil
}

// Invalidate drops id from the memo and from Redis.
func (d *Directory) Invalidate(ctx context.Context, id uint) error {
	d.mu.Lock()
	delete(d.memo, id)
	d.epoch++
	d.mu.Unlock()
	return d.cache.Invalidate(ctx, cache.UserKey(id))
}

// fetch reads ids from Redis, then loads the remainder from the database in
// concurrent batches of at most repository.MaxBatchIDs.
func (d *Directory) fetch(ctx context.Context, ids []uint, epoch uint64) (map[uint]*models.User, error) {
	found := make(map[uint]*models.User, len(ids))

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cache.UserKey(id)
	}
	hits, err := cache.GetManyJSON[models.User](ctx, d.cache, keys)
	if err != nil {
		// Redis trouble degrades to the database.
		hits = nil
	}
	var missing []uint
	for i, id := range ids {
		if u, ok := hits[i]; ok && u.ID == id {
			found[id] = u
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return found, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelBatches)
	for start := 0; start < len(missing); start += repository.MaxBatchIDs {
		batch := missing[start:min(start+repository.MaxBatchIDs, len(missing))]
		g.Go(func() error {
			users, err := d.users.GetByIDs(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, u := range users {
				found[u.ID] = u
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.writeBack(ctx, missing, found, epoch)
	return found, nil
}

// writeBack stores freshly loaded users in Redis unless an Invalidate ran
// since the load began. An Invalidate that lands during the writes removes
// them again.
func (d *Directory) writeBack(ctx context.Context, ids []uint, found map[uint]*models.User, epoch uint64) {
	if !d.sameEpoch(epoch) {
		return
	}
	var keys []string
	for _, id := range ids {
		if u, ok := found[id]; ok {
			key := cache.UserKey(id)
			_ = d.cache.SetJSON(ctx, key, u, d.ttl)
			keys = append(keys, key)
		}
	}
	if len(keys) > 0 && !d.sameEpoch(epoch) {
		_ = d.cache.Invalidate(ctx, keys...)
	}
}

func (d *Directory) sameEpoch(epoch uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.epoch == epoch
}

// settle publishes a fetch result to the memo and wakes waiters.
func (d *Directory) settle(ids []uint, found map[uint]*models.User, err error, epoch uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	expires := d.now().Add(d.ttl)
	for _, id := range ids {
		if u, ok := found[id]; ok && err == nil && epoch == d.epoch {
			d.memo[id] = memoEntry{user: u, expires: expires}
		}
		if l, ok := d.inflight[id]; ok {
			l.user, l.err = found[id], err
			close(l.done)
			delete(d.inflight, id)
		}
	}
}
