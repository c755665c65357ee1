package repository

import (
	"context"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

// MaxBatchIDs caps the number of ids in one IN lookup.
const MaxBatchIDs = 30

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	// GetByIDs loads users in chunks of at most MaxBatchIDs. Unknown ids are skipped.
	GetByIDs(ctx context.Context, ids []uint) ([]*models.User, error)
	UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) (*models.User, error)
}

type userRepository struct {
	tx  *Transactor
	log *observability.RepoLogger
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(tx *Transactor) UserRepository {
	return &userRepository{tx: tx, log: observability.NewRepoLogger("users")}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.tx.DB(ctx).Create(user).Error; err != nil {
		return classify(err)
	}
	r.log.LogCreate(ctx, map[string]any{"user_id": user.ID})
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.tx.DB(ctx).First(&user, id).Error; err != nil {
		return nil, readError(err, "User", id)
	}
	return &user, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []uint) ([]*models.User, error) {
	defer observability.TrackQuery("batch_get", "users")()
	users := make([]*models.User, 0, len(ids))
	for start := 0; start < len(ids); start += MaxBatchIDs {
		end := min(start+MaxBatchIDs, len(ids))
		var chunk []*models.User
		if err := r.tx.DB(ctx).Where("id IN ?", ids[start:end]).Find(&chunk).Error; err != nil {
			return nil, readError(err, "User", 0)
		}
		users = append(users, chunk...)
	}
	return users, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) (*models.User, error) {
	res := r.tx.DB(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update")
		return nil, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, models.NewNotFoundError("User", id)
	}
	r.log.LogUpdate(ctx, map[string]any{"user_id": id})
	return r.GetByID(ctx, id)
}
