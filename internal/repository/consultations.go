package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"telecare-server/internal/models"
)

type gormConsultationRepository struct {
	db *gorm.DB
}

func NewConsultationRepository(db *gorm.DB) ConsultationRepository {
	return &gormConsultationRepository{db: db}
}

func (r *gormConsultationRepository) CreateOrGet(ctx context.Context, c *models.Consultation) (*models.Consultation, bool, error) {
	existing, err := r.GetByAppointment(ctx, c.AppointmentID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrConsultationNotFound) {
		return nil, false, err
	}

	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, err
		}
		// Lost the race against a concurrent create for the same appointment.
		existing, err := r.GetByAppointment(ctx, c.AppointmentID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return c, true, nil
}

func (r *gormConsultationRepository) GetByID(ctx context.Context, id string) (*models.Consultation, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *gormConsultationRepository) GetByAppointment(ctx context.Context, appointmentID string) (*models.Consultation, error) {
	return r.first(ctx, "appointment_id = ?", appointmentID)
}

func (r *gormConsultationRepository) first(ctx context.Context, query string, arg any) (*models.Consultation, error) {
	var c models.Consultation
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at asc")
		}).
		Where(query, arg).
		First(&c).Error
	if err != nil {
		return nil, notFound(err, models.ErrConsultationNotFound)
	}
	return &c, nil
}

func (r *gormConsultationRepository) Transition(ctx context.Context, id string, t Transition) error {
	if !t.From.CanTransition(t.To) {
		return models.ErrInvalidTransition
	}
	res := r.db.WithContext(ctx).Model(&models.Consultation{}).
		Where("id = ? AND status = ?", id, t.From).
		Updates(t.Columns())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return models.ErrInvalidTransition
	}
	return nil
}

func (r *gormConsultationRepository) SetNotes(ctx context.Context, id string, field NotesField, text string) error {
	res := r.db.WithContext(ctx).Model(&models.Consultation{}).
		Where("id = ? AND status IN ?", id, notesStatuses).
		Update(string(field), text)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !statusIn(c.Status, notesStatuses) {
		return models.ErrInvalidTransition
	}
	// Matched but unchanged.
	return nil
}

func (r *gormConsultationRepository) SubmitFeedback(ctx context.Context, id string, f FeedbackSubmission) error {
	res := r.db.WithContext(ctx).Model(&models.Consultation{}).
		Where("id = ? AND status IN ?", id, feedbackStatuses).
		Where(f.ratingColumn() + " IS NULL").
		Updates(f.columns())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !statusIn(c.Status, feedbackStatuses) {
		return models.ErrInvalidTransition
	}
	return models.ErrFeedbackAlreadySubmitted
}

func (r *gormConsultationRepository) UpsertParticipant(ctx context.Context, p *models.ConsultationParticipant) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "consultation_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"role", "joined_at", "left_at", "connection_status", "updated_at",
			}),
		}).
		Create(p).Error
}
