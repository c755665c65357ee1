package repository

import (
	"context"
	"errors"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReactionRepository defines the interface for the reaction ledger.
type ReactionRepository interface {
	// Toggle applies the toggle rule for (subject, user) atomically and
	// returns the outcome with the subject's new revision.
	Toggle(ctx context.Context, subject models.Subject, userID uint, kind models.ReactionKind) (models.ReactionResult, int64, error)
	ForSubject(ctx context.Context, subject models.Subject) (map[uint]models.ReactionKind, int64, error)
	ForSubjects(ctx context.Context, subjectType models.SubjectType, ids []uint) (map[uint]map[uint]models.ReactionKind, error)
}

type reactionRepository struct {
	tx  *Transactor
	log *observability.RepoLogger
}

// NewReactionRepository creates a new reaction repository
func NewReactionRepository(tx *Transactor) ReactionRepository {
	return &reactionRepository{tx: tx, log: observability.NewRepoLogger("reactions")}
}

func subjectModel(t models.SubjectType) (interface{}, string) {
	if t == models.SubjectComment {
		return &models.Comment{}, "Comment"
	}
	return &models.Post{}, "Post"
}

func (r *reactionRepository) Toggle(ctx context.Context, subject models.Subject, userID uint, kind models.ReactionKind) (models.ReactionResult, int64, error) {
	defer observability.TrackQuery("toggle", "reactions")()
	var result models.ReactionResult
	var rev int64
	err := r.tx.Run(ctx, func(tx *gorm.DB) error {
		model, resource := subjectModel(subject.Type)
		if err := bumpRevision(tx, model, resource, subject.ID, nil); err != nil {
			return err
		}

		var existing models.Reaction
		err := tx.Where("subject_type = ? AND subject_id = ? AND user_id = ?", subject.Type, subject.ID, userID).
			First(&existing).Error
		switch {
		case err == nil && existing.Kind == kind:
			if err := tx.Delete(&models.Reaction{}, existing.ID).Error; err != nil {
				return err
			}
			result = models.ReactionResult{Applied: false}
		case err == nil || errors.Is(err, gorm.ErrRecordNotFound):
			row := models.Reaction{SubjectType: subject.Type, SubjectID: subject.ID, UserID: userID, Kind: kind}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "subject_type"}, {Name: "subject_id"}, {Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"kind", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return err
			}
			result = models.ReactionResult{Applied: true, Kind: kind}
		default:
			return err
		}

		rev, err = currentRevision(tx, model, subject.ID)
		return err
	})
	if err != nil {
		return models.ReactionResult{}, 0, err
	}
	return result, rev, nil
}

// ForSubject returns the userID -> kind mapping together with the subject
// revision it was read at. Both are read in one transaction.
func (r *reactionRepository) ForSubject(ctx context.Context, subject models.Subject) (map[uint]models.ReactionKind, int64, error) {
	model, resource := subjectModel(subject.Type)
	out := make(map[uint]models.ReactionKind)
	var rev int64
	err := r.tx.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var revs []int64
		if err := tx.Model(model).Where("id = ?", subject.ID).Pluck("revision", &revs).Error; err != nil {
			return err
		}
		if len(revs) == 0 {
			return models.NewNotFoundError(resource, subject.ID)
		}
		rev = revs[0]

		var rows []models.Reaction
		if err := tx.Where("subject_type = ? AND subject_id = ?", subject.Type, subject.ID).Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			out[row.UserID] = row.Kind
		}
		return nil
	})
	if err != nil {
		return nil, 0, readError(err, resource, subject.ID)
	}
	return out, rev, nil
}

// ForSubjects loads the mappings for many subjects of one type with a single IN query.
func (r *reactionRepository) ForSubjects(ctx context.Context, subjectType models.SubjectType, ids []uint) (map[uint]map[uint]models.ReactionKind, error) {
	out := make(map[uint]map[uint]models.ReactionKind, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Reaction
	err := r.tx.DB(ctx).
		Where("subject_type = ? AND subject_id IN ?", subjectType, ids).
		Find(&rows).Error
	if err != nil {
		return nil, readError(err, "Reaction", 0)
	}
	for _, id := range ids {
		out[id] = make(map[uint]models.ReactionKind)
	}
	for _, row := range rows {
		out[row.SubjectID][row.UserID] = row.Kind
	}
	return out, nil
}
