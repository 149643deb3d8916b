package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aurora-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service turns provider credentials into server-issued session tokens and
// keeps the user's profile up to date on every sign-in.
type Service struct {
	db       *gorm.DB
	provider Provider
}

func NewService(db *gorm.DB, provider Provider) *Service {
	return &Service{db: db, provider: provider}
}

func toIdentity(user database.User) Identity {
	return Identity{
		Id:          user.Id,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		AvatarURL:   user.PhotoURL,
	}
}

// SignIn authenticates credential with the provider, creates the user's
// profile on first sign-in or refreshes its last login otherwise, and issues a
// new session token.
func (s *Service) SignIn(ctx context.Context, credential string) (uuid.UUID, Identity, error) {
	id, err := s.provider.Authenticate(ctx, credential)
	if err != nil {
		return uuid.Nil, Identity{}, asAuthError(err)
	}

	token := uuid.New()
	now := time.Now().UTC()

	if err := s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var user database.User
		if err := txn.
			Where(database.User{Id: id.Id}).
			Attrs(database.User{Email: id.Email, DisplayName: id.DisplayName, PhotoURL: id.AvatarURL, CreatedAt: now}).
			Assign(database.User{LastLogin: now}).
			FirstOrCreate(&user).Error; err != nil {
			return fmt.Errorf("error upserting user profile: %w", err)
		}

		if err := txn.Create(&database.AuthSession{Token: token, UserId: id.Id, CreationTime: now}).Error; err != nil {
			return fmt.Errorf("error creating auth session: %w", err)
		}
		return nil
	}); err != nil {
		slog.Error("error signing in user", "user_id", id.Id, "error", err)
		return uuid.Nil, Identity{}, err
	}

	slog.Info("user signed in", "user_id", id.Id)
	return token, id, nil
}

// Resolve returns the identity for a session token issued by SignIn.
func (s *Service) Resolve(ctx context.Context, token string) (Identity, error) {
	tokenId, err := uuid.Parse(token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: malformed session token", ErrAuth)
	}

	var session database.AuthSession
	if err := s.db.WithContext(ctx).Preload("User").First(&session, "token = ?", tokenId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, fmt.Errorf("%w: unknown session token", ErrAuth)
		}
		slog.Error("error looking up auth session", "error", err)
		return Identity{}, fmt.Errorf("error looking up auth session: %w", err)
	}

	if session.User == nil {
		return Identity{}, fmt.Errorf("%w: session has no user", ErrAuth)
	}

	return toIdentity(*session.User), nil
}

// SignOut revokes token. Revoking an unknown token is not an error.
func (s *Service) SignOut(ctx context.Context, token string) error {
	id, err := s.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, ErrAuth) {
			return nil
		}
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&database.AuthSession{}, "token = ?", uuid.MustParse(token)).Error; err != nil {
		slog.Error("error deleting auth session", "error", err)
		return fmt.Errorf("error deleting auth session: %w", err)
	}

	if err := s.provider.Deauthenticate(ctx, id); err != nil {
		return asAuthError(err)
	}
	return nil
}

// Tokens returns a Provider whose credentials are session tokens issued by
// SignIn, for clients that have already signed in over REST.
func (s *Service) Tokens() Provider {
	return tokenProvider{service: s}
}

type tokenProvider struct {
	service *Service
}

func (p tokenProvider) Authenticate(ctx context.Context, token string) (Identity, error) {
	return p.service.Resolve(ctx, token)
}

// Signing out of one connection leaves the token usable by the client's other
// connections; revoking it goes through Service.SignOut.
func (p tokenProvider) Deauthenticate(ctx context.Context, id Identity) error {
	return nil
}
