package repository

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"telecare-server/internal/models"
	"telecare-server/internal/scheduling"
)

type gormAppointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) AppointmentRepository {
	return &gormAppointmentRepository{db: db}
}

func (r *gormAppointmentRepository) CreateExclusive(ctx context.Context, a *models.Appointment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := guardWindow(tx, a); err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Create(a).Error
	})
}

func (r *gormAppointmentRepository) Save(ctx context.Context, a *models.Appointment, guard bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if guard && a.OccupiesTime() {
			if err := guardWindow(tx, a); err != nil {
				return err
			}
		}
		res := tx.Model(&models.Appointment{}).
			Where("id = ?", a.ID).
			Select("*").Omit("id", "created_at", clause.Associations).
			Updates(a)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrAppointmentNotFound
		}
		return nil
	})
}

// guardWindow serializes writers on the provider and patient rows, then
// fails if either party already holds an overlapping appointment.
func guardWindow(tx *gorm.DB, a *models.Appointment) error {
	ids := []string{a.AdminID}
	if a.PatientID != a.AdminID {
		ids = append(ids, a.PatientID)
	}
	sort.Strings(ids)

	var locked []models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id IN ?", ids).
		Order("id").
		Find(&locked).Error
	if err != nil {
		return err
	}

	q := tx.Model(&models.Appointment{}).
		Where("status <> ?", models.StatusCancelled).
		Where("start_time < ? AND end_time > ?", a.EndTime, a.StartTime).
		Where("(admin_id = ? OR patient_id = ?)", a.AdminID, a.PatientID)
	if a.ID != "" {
		q = q.Where("id <> ?", a.ID)
	}

	var existing models.Appointment
	err = q.Order("start_time asc").First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	case err != nil:
		return err
	}
	return models.ConflictWith(&existing, a.PatientID)
}

func (r *gormAppointmentRepository) GetByID(ctx context.Context, id string) (*models.Appointment, error) {
	var a models.Appointment
	err := r.db.WithContext(ctx).
		Preload("Documents", func(db *gorm.DB) *gorm.DB {
			return db.Omit("file_data").Order("created_at asc")
		}).
		First(&a, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, models.ErrAppointmentNotFound)
	}
	return &a, nil
}

func (r *gormAppointmentRepository) List(ctx context.Context, f models.AppointmentFilter) (*models.AppointmentPage, error) {
	normalizePage(&f)

	q := r.db.WithContext(ctx).Model(&models.Appointment{})
	if f.PatientID != "" {
		q = q.Where("patient_id = ?", f.PatientID)
	}
	if f.AdminID != "" {
		q = q.Where("admin_id = ?", f.AdminID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.From != nil {
		q = q.Where("start_time >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("start_time < ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	var appointments []models.Appointment
	err := q.Order("start_time asc").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&appointments).Error
	if err != nil {
		return nil, err
	}

	return &models.AppointmentPage{
		Appointments: appointments,
		Total:        total,
		Page:         f.Page,
		PageSize:     f.PageSize,
	}, nil
}

func (r *gormAppointmentRepository) ListOccupying(ctx context.Context, adminID string, window scheduling.Interval) ([]models.Appointment, error) {
	var appointments []models.Appointment
	err := r.db.WithContext(ctx).
		Where("admin_id = ? AND status <> ?", adminID, models.StatusCancelled).
		Where("start_time < ? AND end_time > ?", window.EndTime, window.StartTime).
		Order("start_time asc").
		Find(&appointments).Error
	if err != nil {
		return nil, err
	}
	return appointments, nil
}

func (r *gormAppointmentRepository) UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrAppointmentNotFound
	}
	return nil
}

var terminalStatuses = []models.AppointmentStatus{
	models.StatusCompleted, models.StatusCancelled, models.StatusNoShow,
}

func (r *gormAppointmentRepository) Cancel(ctx context.Context, id string, c Cancellation) (*models.Appointment, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Appointment{}).
			Where("id = ? AND status NOT IN ?", id, terminalStatuses).
			Updates(map[string]any{
				"status":              models.StatusCancelled,
				"cancelled_at":        c.At,
				"cancelled_by":        c.By,
				"cancellation_reason": c.Reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		var n int64
		if err := tx.Model(&models.Appointment{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return models.ErrAppointmentNotFound
		}
		return models.ErrInvalidTransition
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}
