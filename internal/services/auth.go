package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"telecare-server/internal/models"
	"telecare-server/internal/repository"
	"telecare-server/internal/utils"
)

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type AuthService struct {
	users  repository.UserRepository
	tokens repository.RefreshTokenRepository
	cfg    utils.TokenConfig
	deps   Deps
}

func NewAuthService(repos repository.Repositories, cfg utils.TokenConfig, deps Deps) *AuthService {
	return &AuthService{users: repos.Users, tokens: repos.Tokens, cfg: cfg, deps: deps.withDefaults()}
}

// RegisterInput is a self-registration. Self-registered accounts are always patients.
type RegisterInput struct {
	FirstName   string
	LastName    string
	Email       string
	Password    string
	PhoneNumber string
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	u := &models.User{
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		Email:       normalizeEmail(in.Email),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		Role:        models.RolePatient,
		IsActive:    true,
	}
	if err := createUser(ctx, s.users, u, in.Password); err != nil {
		return nil, err
	}
	s.deps.Log.Info("patient registered", zap.String("user_id", u.ID))
	return u, nil
}

func createUser(ctx context.Context, users repository.UserRepository, u *models.User, password string) error {
	if len(password) < 8 {
		return invalid("password must be at least 8 characters")
	}
	if err := u.SetPassword(password); err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := users.Create(ctx, u); err != nil {
		if errors.Is(err, models.ErrEmailTaken) {
			return err
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login checks credentials and issues a fresh token pair. Unknown emails,
// wrong passwords and deactivated accounts are indistinguishable.
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, *models.User, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, nil, models.ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading user: %w", err)
	}
	if !u.IsActive || !u.CheckPassword(password) {
		return nil, nil, models.ErrInvalidCredentials
	}

	pair, err := s.issue(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return pair, u, nil
}

func (s *AuthService) issue(ctx context.Context, u *models.User) (*TokenPair, error) {
	now := s.deps.Now()
	access, refresh, err := utils.GenerateTokens(u, s.cfg, now)
	if err != nil {
		return nil, err
	}
	err = s.tokens.Create(ctx, &models.RefreshToken{
		UserID:    u.ID,
		Token:     refresh,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair issued.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := utils.ValidateToken(refreshToken, s.cfg.RefreshSecret)
	if err != nil {
		return nil, models.ErrInvalidToken
	}
	now := s.deps.Now()
	if _, err := s.tokens.FindUsable(ctx, refreshToken, claims.UserID, now); err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, models.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !u.IsActive {
		return nil, models.ErrInvalidToken
	}

	revoked, err := s.tokens.Revoke(ctx, refreshToken, now)
	if err != nil {
		return nil, fmt.Errorf("revoking refresh token: %w", err)
	}
	if !revoked {
		// A concurrent refresh already spent it.
		return nil, models.ErrInvalidToken
	}
	return s.issue(ctx, u)
}

// Logout revokes refreshToken. Unknown or already revoked tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if _, err := s.tokens.Revoke(ctx, refreshToken, s.deps.Now()); err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	return nil
}

func (s *AuthService) Profile(ctx context.Context, caller models.Caller) (*models.User, error) {
	return s.users.GetByID(ctx, caller.ID)
}

// ProfileUpdate changes the caller's own contact details; nil means unchanged.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	PhoneNumber *string
}

func (s *AuthService) UpdateProfile(ctx context.Context, caller models.Caller, in ProfileUpdate) (*models.User, error) {
	u, err := s.users.GetByID(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if in.FirstName != nil && strings.TrimSpace(*in.FirstName) != "" {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil && strings.TrimSpace(*in.LastName) != "" {
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.PhoneNumber != nil {
		u.PhoneNumber = strings.TrimSpace(*in.PhoneNumber)
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return u, nil
}
