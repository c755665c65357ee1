// Package seed creates demo data for development databases. It writes
// through the repository layer so comment counters and revisions stay
// consistent with what the services would produce.
package seed

import (
	"fmt"
	"time"

	"campusfeed/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

// Factory builds domain entities with fake content. It does not persist them.
type Factory struct {
	faker   *gofakeit.Faker
	maxDays int
	now     func() time.Time
}

// NewFactory returns a Factory. A zero seed picks a random one.
func NewFactory(seed int64, maxDays int) *Factory {
	if maxDays <= 0 {
		maxDays = 30
	}
	return &Factory{faker: gofakeit.New(seed), maxDays: maxDays, now: time.Now}
}

// BuildUser creates a member with role. Students start with the posting and
// reacting gates open; the profile gates are granted at random, as the
// progression system would.
func (f *Factory) BuildUser(role models.Role) *models.User {
	u := &models.User{
		FirstName:     f.faker.FirstName(),
		LastName:      f.faker.LastName(),
		PhotoURL:      fmt.Sprintf("https://i.pravatar.cc/150?u=%s", f.faker.UUID()),
		Bio:           f.faker.Sentence(10),
		Role:          role,
		Level:         f.faker.Number(1, 20),
		XP:            f.faker.Number(0, 5000),
		CanReact:      true,
		CanComment:    true,
		CanCreatePost: true,
	}
	u.CanUpdateInfo = f.faker.Bool()
	u.CanSetBio = f.faker.Bool()
	u.CanUploadCover = u.Level >= 5
	u.CanUploadProfilePic = u.Level >= 3

	if role != models.RoleStudent {
		u.CanUpdateInfo = true
		u.CanSetBio = true
		u.CanUploadCover = true
		u.CanUploadProfilePic = true
	}
	return u
}

// BuildPost creates a post by author backdated up to maxDays. Teachers and
// admins sometimes post announcements.
func (f *Factory) BuildPost(author *models.User) *models.Post {
	p := &models.Post{
		AuthorID:       author.ID,
		AuthorName:     author.DisplayName(),
		AuthorPhotoURL: author.PhotoURL,
		Content:        f.faker.Paragraph(1, 3, 12, "\n"),
		Images:         []string{},
		Audience:       models.AudiencePublic,
		PostType:       models.PostTypePost,
		CreatedAt:      f.backdate(),
	}
	if f.faker.Number(1, 10) == 1 {
		p.Audience = models.AudiencePrivate
	}
	if author.CanPublishAnnouncements() && f.faker.Number(1, 3) == 1 {
		p.PostType = models.PostTypeAnnouncement
		p.Audience = models.AudiencePublic
	}
	for i := f.faker.Number(0, 3); i > 0; i-- {
		p.Images = append(p.Images, fmt.Sprintf("https://picsum.photos/seed/%s/800/600", f.faker.UUID()))
	}
	return p
}

// BuildComment creates a comment on post. A non-nil parent makes it a reply.
func (f *Factory) BuildComment(post *models.Post, author *models.User, parent *models.Comment) *models.Comment {
	c := &models.Comment{
		PostID:         post.ID,
		UserID:         author.ID,
		AuthorName:     author.DisplayName(),
		AuthorPhotoURL: author.PhotoURL,
		Text:           f.faker.Sentence(f.faker.Number(3, 20)),
	}
	if parent != nil {
		id := parent.ID
		c.ParentID = &id
	}
	return c
}

// ReactionKind picks a kind, weighted towards likes.
func (f *Factory) ReactionKind() models.ReactionKind {
	if f.faker.Number(1, 2) == 1 {
		return models.ReactionLike
	}
	return models.ReactionKinds[f.faker.Number(0, len(models.ReactionKinds)-1)]
}

// Pick returns a random index below n.
func (f *Factory) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	return f.faker.Number(0, n-1)
}

func (f *Factory) backdate() time.Time {
	minutes := f.faker.Number(0, f.maxDays*24*60)
	return f.now().Add(-time.Duration(minutes) * time.Minute)
}
