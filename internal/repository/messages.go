package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"telecare-server/internal/models"
)

type gormMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

func (r *gormMessageRepository) Create(ctx context.Context, m *models.Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *gormMessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, models.ErrMessageNotFound)
	}
	return &m, nil
}

func (r *gormMessageRepository) ListFor(ctx context.Context, userID, withUserID string) ([]models.Message, error) {
	q := r.db.WithContext(ctx)
	if withUserID != "" {
		q = q.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, withUserID, withUserID, userID)
	} else {
		q = q.Where("sender_id = ? OR receiver_id = ?", userID, userID)
	}

	var messages []models.Message
	if err := q.Order("created_at asc").Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *gormMessageRepository) ListSince(ctx context.Context, userID string, since time.Time) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("(receiver_id = ? OR sender_id = ?) AND created_at > ?", userID, userID, since).
		Order("created_at desc").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *gormMessageRepository) Partners(ctx context.Context, userID string) ([]string, error) {
	var sent, received []string
	db := r.db.WithContext(ctx).Model(&models.Message{})
	if err := db.Where("sender_id = ?", userID).Distinct().Pluck("receiver_id", &sent).Error; err != nil {
		return nil, err
	}
	db = r.db.WithContext(ctx).Model(&models.Message{})
	if err := db.Where("receiver_id = ?", userID).Distinct().Pluck("sender_id", &received).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(sent)+len(received))
	partners := make([]string, 0, len(sent)+len(received))
	for _, id := range append(sent, received...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		partners = append(partners, id)
	}
	return partners, nil
}

func (r *gormMessageRepository) LatestBetween(ctx context.Context, a, b string) (*models.Message, error) {
	var m models.Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order("created_at desc").
		First(&m).Error
	if err != nil {
		return nil, notFound(err, models.ErrMessageNotFound)
	}
	return &m, nil
}

func (r *gormMessageRepository) CountUnread(ctx context.Context, fromID, toID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND status = ?", fromID, toID, models.MessageStatusSent).
		Count(&n).Error
	return n, err
}

func (r *gormMessageRepository) MarkRead(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id IN ? AND status = ?", ids, models.MessageStatusSent).
		Updates(map[string]any{"status": models.MessageStatusRead, "read_at": at}).Error
}
