package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/opsdesk/ticket-sync/internal/auth"
	"github.com/opsdesk/ticket-sync/internal/config"
	"github.com/opsdesk/ticket-sync/internal/domain"
	"github.com/opsdesk/ticket-sync/internal/repository"
	apperrors "github.com/opsdesk/ticket-sync/pkg/util/errorutil"
)

// AuthService coordinates registration and login flows.
type AuthService struct {
	store      repository.Store
	tokenMgr   *auth.TokenManager
	bcryptCost int
	logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, store repository.Store, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		store:      store,
		tokenMgr:   auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		bcryptCost: cfg.BcryptCost,
		logger:     logger,
	}
}

// RegisterUser creates a new account together with its profile.
func (s *AuthService) RegisterUser(ctx context.Context, name, email, password string) (*domain.User, string, time.Time, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, "", time.Time{}, apperrors.NewValidationError("name is required", nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", time.Time{}, apperrors.NewValidationError("invalid email", nil)
	}
	if err := auth.CheckPassword(password); err != nil {
		return nil, "", time.Time{}, apperrors.NewValidationError(err.Error(), map[string]any{"min_length": auth.MinPasswordLength})
	}

	if _, err := s.store.Repos().Users.GetByEmail(ctx, email); err == nil {
		return nil, "", time.Time{}, apperrors.NewConflict("email already registered", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", time.Time{}, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Status:       domain.UserStatusActive,
	}
	err = s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		if err := repos.Users.Create(ctx, user); err != nil {
			return err
		}
		return s.createProfile(ctx, repos, user)
	})
	if err != nil {
		return nil, "", time.Time{}, err
	}

	token, exp, err := s.tokenMgr.GenerateToken(user.ID, domain.RoleFor(user))
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return user, token, exp, nil
}

// createProfile is the post-creation hook for new users.
func (s *AuthService) createProfile(ctx context.Context, repos repository.Repositories, user *domain.User) error {
	return repos.Users.CreateProfile(ctx, &domain.UserProfile{UserID: user.ID})
}

// LoginUser authenticates an account.
func (s *AuthService) LoginUser(ctx context.Context, email, password string) (*domain.User, string, time.Time, error) {
	user, err := s.store.Repos().Users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if user.Status != domain.UserStatusActive {
		return nil, "", time.Time{}, apperrors.NewForbidden("account suspended")
	}
	token, exp, err := s.tokenMgr.GenerateToken(user.ID, domain.RoleFor(user))
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return user, token, exp, nil
}

// ResolveSender maps an email sender to a registered user id, or nil.
func (s *AuthService) ResolveSender(ctx context.Context, sender string) *string {
	addr, err := mail.ParseAddress(sender)
	if err != nil {
		return nil
	}
	user, err := s.store.Repos().Users.GetByEmail(ctx, addr.Address)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("sender lookup failed", zap.Error(err))
		}
		return nil
	}
	return &user.ID
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
