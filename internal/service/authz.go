package service

import (
	"context"

	"campusfeed/internal/featureflags"
	"campusfeed/internal/models"
	"campusfeed/internal/repository"
)

// Authorizer evaluates the profile gates that guard every mutation. The
// actor is always read fresh from the users table, never from the directory
// memo, so a revoked flag takes effect on the next request.
type Authorizer struct {
	users repository.UserRepository
	flags *featureflags.Manager
}

func NewAuthorizer(users repository.UserRepository, flags *featureflags.Manager) *Authorizer {
	return &Authorizer{users: users, flags: flags}
}

// Actor loads the user performing an operation. An unknown or zero id is Unauthorized.
func (a *Authorizer) Actor(ctx context.Context, userID uint) (*models.User, error) {
	if userID == 0 {
		return nil, models.NewUnauthorizedError("Authentication required")
	}
	u, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, models.NewUnauthorizedError("Unknown user")
		}
		return nil, err
	}
	return u, nil
}

// CanComment applies the comment gate. can_react doubles as the comment
// permission unless separate_comment_gate is on.
func (a *Authorizer) CanComment(u *models.User) bool {
	if a.flags.Enabled(featureflags.SeparateCommentGate, u.ID) {
		return u.CanComment
	}
	return u.CanReact
}

// canModerate reports whether u may delete content owned by ownerID.
func canModerate(u *models.User, ownerID uint) bool {
	return u.ID == ownerID || u.IsAdmin()
}

func requireGate(allowed bool, action string) error {
	if !allowed {
		return models.NewUnauthorizedError("You are not allowed to " + action)
	}
	return nil
}
