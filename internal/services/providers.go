package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"telecare-server/internal/models"
	"telecare-server/internal/repository"
)

// ProviderResolver decides which provider a booking or slot query is bound
// to when the caller does not name one.
type ProviderResolver struct {
	users     repository.UserRepository
	defaultID string
	log       *zap.Logger
}

func NewProviderResolver(users repository.UserRepository, defaultID string, log *zap.Logger) *ProviderResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProviderResolver{users: users, defaultID: defaultID, log: log}
}

// Resolve returns the requested provider after checking it can take
// appointments, or the default provider when requested is empty. The default
// is the configured provider id if set, otherwise the longest-standing
// active admin.
func (r *ProviderResolver) Resolve(ctx context.Context, requested string) (*models.User, error) {
	if requested != "" {
		u, err := r.users.GetByID(ctx, requested)
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, invalid("providerId does not identify a user")
		}
		if err != nil {
			return nil, fmt.Errorf("loading provider: %w", err)
		}
		if !u.IsActive || !u.Role.CanProvide() {
			return nil, invalid("providerId does not identify an active provider")
		}
		return u, nil
	}

	if r.defaultID != "" {
		u, err := r.users.GetByID(ctx, r.defaultID)
		switch {
		case errors.Is(err, models.ErrUserNotFound):
			r.log.Error("configured default provider does not exist", zap.String("provider_id", r.defaultID))
			return nil, models.ErrNoActiveProvider
		case err != nil:
			return nil, fmt.Errorf("loading default provider: %w", err)
		case !u.IsActive || !u.Role.CanProvide():
			r.log.Error("configured default provider cannot take appointments", zap.String("provider_id", r.defaultID))
			return nil, models.ErrNoActiveProvider
		}
		return u, nil
	}

	u, err := r.users.FirstActive(ctx, models.RoleAdmin)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, models.ErrNoActiveProvider
	}
	if err != nil {
		return nil, fmt.Errorf("finding default provider: %w", err)
	}
	return u, nil
}
