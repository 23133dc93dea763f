package repository

import (
	"context"

	"gorm.io/gorm"

	"telecare-server/internal/models"
)

type gormDocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &gormDocumentRepository{db: db}
}

func (r *gormDocumentRepository) Create(ctx context.Context, d *models.AppointmentDocument) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *gormDocumentRepository) GetByID(ctx context.Context, id string) (*models.AppointmentDocument, error) {
	var d models.AppointmentDocument
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err, models.ErrDocumentNotFound)
	}
	return &d, nil
}

func (r *gormDocumentRepository) ListByAppointment(ctx context.Context, appointmentID string) ([]models.AppointmentDocument, error) {
	var docs []models.AppointmentDocument
	err := r.db.WithContext(ctx).
		Omit("file_data").
		Where("appointment_id = ?", appointmentID).
		Order("created_at asc").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}
