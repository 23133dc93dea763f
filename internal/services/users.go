package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"telecare-server/internal/models"
	"telecare-server/internal/repository"
)

// UserService is the admin-facing account management surface.
type UserService struct {
	users repository.UserRepository
	deps  Deps
}

func NewUserService(repos repository.Repositories, deps Deps) *UserService {
	return &UserService{users: repos.Users, deps: deps.withDefaults()}
}

type CreateUserInput struct {
	FirstName   string
	LastName    string
	Email       string
	Password    string
	PhoneNumber string
	Role        models.Role
}

func (s *UserService) Create(ctx context.Context, caller models.Caller, in CreateUserInput) (*models.User, error) {
	if !canManageUsers(caller) {
		return nil, models.ErrForbidden
	}
	if in.Role == "" {
		in.Role = models.RolePatient
	}
	if !in.Role.IsValid() {
		return nil, invalid(fmt.Sprintf("role %q is not supported", in.Role))
	}
	u := &models.User{
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		Email:       normalizeEmail(in.Email),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		Role:        in.Role,
		IsActive:    true,
	}
	if err := createUser(ctx, s.users, u, in.Password); err != nil {
		return nil, err
	}
	s.deps.Log.Info("user created by admin",
		zap.String("user_id", u.ID), zap.String("role", string(u.Role)), zap.String("admin_id", caller.ID))
	return u, nil
}

func (s *UserService) List(ctx context.Context, caller models.Caller, role models.Role) ([]models.User, error) {
	if !canManageUsers(caller) {
		return nil, models.ErrForbidden
	}
	if role != "" && !role.IsValid() {
		return nil, invalid(fmt.Sprintf("role %q is not supported", role))
	}
	return s.users.List(ctx, role)
}

// Providers lists the active users that appointments can be booked with.
func (s *UserService) Providers(ctx context.Context) ([]models.User, error) {
	all, err := s.users.List(ctx, "")
	if err != nil {
		return nil, err
	}
	providers := make([]models.User, 0, len(all))
	for _, u := range all {
		if u.IsActive && u.Role.CanProvide() {
			providers = append(providers, u)
		}
	}
	return providers, nil
}

func (s *UserService) Get(ctx context.Context, caller models.Caller, id string) (*models.User, error) {
	if caller.ID != id && !canManageUsers(caller) {
		return nil, models.ErrForbidden
	}
	return s.users.GetByID(ctx, id)
}

// UserUpdate is an admin edit; nil fields are left unchanged.
type UserUpdate struct {
	FirstName   *string
	LastName    *string
	Email       *string
	PhoneNumber *string
	Role        *models.Role
	IsActive    *bool
	Password    *string
}

func (s *UserService) Update(ctx context.Context, caller models.Caller, id string, in UserUpdate) (*models.User, error) {
	if !canManageUsers(caller) {
		return nil, models.ErrForbidden
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		u.Email = normalizeEmail(*in.Email)
	}
	if in.PhoneNumber != nil {
		u.PhoneNumber = strings.TrimSpace(*in.PhoneNumber)
	}
	if in.Role != nil {
		if !in.Role.IsValid() {
			return nil, invalid(fmt.Sprintf("role %q is not supported", *in.Role))
		}
		if id == caller.ID && *in.Role != models.RoleAdmin {
			return nil, invalid("admins cannot demote themselves")
		}
		u.Role = *in.Role
	}
	if in.IsActive != nil {
		if id == caller.ID && !*in.IsActive {
			return nil, invalid("admins cannot deactivate themselves")
		}
		u.IsActive = *in.IsActive
	}
	if in.Password != nil {
		if len(*in.Password) < 8 {
			return nil, invalid("password must be at least 8 characters")
		}
		if err := u.SetPassword(*in.Password); err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
	}

	if err := s.users.Update(ctx, u); err != nil {
		if Classify(err) != KindInternal {
			return nil, err
		}
		return nil, fmt.Errorf("updating user: %w", err)
	}
	return u, nil
}

// Deactivate disables an account. Appointments and messages keep referring
// to it, so rows are never removed.
func (s *UserService) Deactivate(ctx context.Context, caller models.Caller, id string) error {
	inactive := false
	_, err := s.Update(ctx, caller, id, UserUpdate{IsActive: &inactive})
	return err
}

// Bootstrap creates the first admin account when no active admin exists, so
// a fresh deployment has a provider to book with. created is false when an
// admin was already present.
func (s *UserService) Bootstrap(ctx context.Context, email, password string) (u *models.User, created bool, err error) {
	existing, err := s.users.FirstActive(ctx, models.RoleAdmin)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, models.ErrUserNotFound):
		return nil, false, fmt.Errorf("looking up admins: %w", err)
	}

	u = &models.User{
		FirstName: "System",
		LastName:  "Administrator",
		Email:     normalizeEmail(email),
		Role:      models.RoleAdmin,
		IsActive:  true,
	}
	if err := createUser(ctx, s.users, u, password); err != nil {
		return nil, false, err
	}
	s.deps.Log.Info("bootstrap admin created", zap.String("user_id", u.ID), zap.String("email", u.Email))
	return u, true, nil
}
