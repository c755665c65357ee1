package service

import (
	"context"
	"log/slog"
	"time"

	"campusfeed/internal/models"
	"campusfeed/internal/notifications"
	"campusfeed/internal/observability"
	"campusfeed/internal/repository"
)

// SweepReport counts the repairs made by one reconciliation pass.
type SweepReport struct {
	OrphanComments  int64  `json:"orphan_comments"`
	OrphanReactions int64  `json:"orphan_reactions"`
	RecountedPosts  []uint `json:"recounted_posts"`
}

// Clean reports whether the sweep found nothing to repair.
func (r SweepReport) Clean() bool {
	return r.OrphanComments == 0 && r.OrphanReactions == 0 && len(r.RecountedPosts) == 0
}

// Reconciler repairs rows left behind by writes that did not complete
// atomically, such as deletes from older clients.
type Reconciler struct {
	repo     repository.ReconcileRepository
	live     Live
	interval time.Duration
	logger   *slog.Logger
}

// NewReconciler creates a reconciler that Run repeats every interval. A
// non-positive interval disables the loop; Sweep still works.
func NewReconciler(repo repository.ReconcileRepository, live Live, interval time.Duration) *Reconciler {
	return &Reconciler{
		repo:     repo,
		live:     live,
		interval: interval,
		logger:   observability.GlobalLogger.With(slog.String("component", "reconciler")),
	}
}

// Sweep deletes orphaned comments, then orphaned reactions (including those
// of the comments just removed), then fixes drifted comments_count values.
func (r *Reconciler) Sweep(ctx context.Context) (report SweepReport, err error) {
	span, ctx := observability.NewSpan(ctx, "Reconciler.Sweep")
	defer span.Finish(&err)

	if report.OrphanComments, err = r.repo.DeleteOrphanComments(ctx); err != nil {
		return report, err
	}
	observability.ReconcileRepairs.WithLabelValues("comments").Add(float64(report.OrphanComments))

	if report.OrphanReactions, err = r.repo.DeleteOrphanReactions(ctx); err != nil {
		return report, err
	}
	observability.ReconcileRepairs.WithLabelValues("reactions").Add(float64(report.OrphanReactions))

	drifted, err := r.repo.DriftedPostIDs(ctx)
	if err != nil {
		return report, err
	}
	for _, postID := range drifted {
		rev, err := r.repo.RecountComments(ctx, postID)
		if err != nil {
			if models.IsNotFound(err) {
				continue
			}
			return report, err
		}
		report.RecountedPosts = append(report.RecountedPosts, postID)
		observability.ReconcileRepairs.WithLabelValues("counts").Inc()
		r.live.publish(ctx, notifications.Event{
			Type:     notifications.EventComment,
			Subject:  models.PostSubject(postID).String(),
			Revision: rev,
		}, notifications.ThreadChannel(postID), notifications.FeedChannel)
	}

	if !report.Clean() {
		r.logger.InfoContext(ctx, "reconciliation repaired rows",
			slog.Int64("orphan_comments", report.OrphanComments),
			slog.Int64("orphan_reactions", report.OrphanReactions),
			slog.Int("recounted_posts", len(report.RecountedPosts)),
		)
	}
	return report, nil
}

// Run sweeps on every tick until ctx ends. Sweep errors are logged and the
// loop continues.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.InfoContext(ctx, "reconciliation loop disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "reconciliation sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
