package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
	"campusfeed/internal/repository"
)

const (
	maxNameLen = 100
	maxBioLen  = 500
)

// ProfileService applies gated edits to the caller's own profile. Existing
// posts and comments keep the author snapshot they were created with.
type ProfileService struct {
	users     repository.UserRepository
	authz     *Authorizer
	directory *Directory
}

func NewProfileService(users repository.UserRepository, authz *Authorizer, directory *Directory) *ProfileService {
	return &ProfileService{users: users, authz: authz, directory: directory}
}

// UpdateInfo changes the first and last name.
func (s *ProfileService) UpdateInfo(ctx context.Context, userID uint, firstName, lastName string) (*models.User, error) {
	firstName, lastName = strings.TrimSpace(firstName), strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return nil, models.NewValidationError("First and last name are required")
	}
	if utf8.RuneCountInString(firstName) > maxNameLen || utf8.RuneCountInString(lastName) > maxNameLen {
		return nil, models.NewValidationError("Name too long (max 100 characters)")
	}
	return s.update(ctx, userID, func(u *models.User) bool { return u.CanUpdateInfo }, "update your info",
		map[string]interface{}{"first_name": firstName, "last_name": lastName})
}

// SetBio replaces the bio. An empty bio clears it.
func (s *ProfileService) SetBio(ctx context.Context, userID uint, bio string) (*models.User, error) {
	bio = strings.TrimSpace(bio)
	if utf8.RuneCountInString(bio) > maxBioLen {
		return nil, models.NewValidationError("Bio too long (max 500 characters)")
	}
	return s.update(ctx, userID, func(u *models.User) bool { return u.CanSetBio }, "set a bio",
		map[string]interface{}{"bio": bio})
}

func (s *ProfileService) SetProfilePhoto(ctx context.Context, userID uint, uri string) (*models.User, error) {
	if err := validateImageURI(uri); err != nil {
		return nil, err
	}
	return s.update(ctx, userID, func(u *models.User) bool { return u.CanUploadProfilePic }, "upload a profile photo",
		map[string]interface{}{"photo_url": strings.TrimSpace(uri)})
}

func (s *ProfileService) SetCoverPhoto(ctx context.Context, userID uint, uri string) (*models.User, error) {
	if err := validateImageURI(uri); err != nil {
		return nil, err
	}
	return s.update(ctx, userID, func(u *models.User) bool { return u.CanUploadCover }, "upload a cover photo",
		map[string]interface{}{"cover_url": strings.TrimSpace(uri)})
}

func (s *ProfileService) update(ctx context.Context, userID uint, gate func(*models.User) bool, action string, fields map[string]interface{}) (*models.User, error) {
	actor, err := s.authz.Actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := requireGate(gate(actor), action); err != nil {
		return nil, err
	}
	updated, err := s.users.UpdateProfile(ctx, userID, fields)
	if err != nil {
		return nil, err
	}
	// The row is already written; a stale cache entry expires on its own.
	if err := s.directory.Invalidate(ctx, userID); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "user cache invalidation failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
	}
	return updated, nil
}
