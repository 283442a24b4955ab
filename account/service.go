package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// PasswordCost is the bcrypt cost used for new accounts.
const PasswordCost = 10

// Welcomer hands a welcome email off to the queue. It must not block on
// delivery and must not fail; errors are the implementation's to log.
type Welcomer interface {
	DispatchWelcome(ctx context.Context, email string)
}

// Service registers and authenticates users.
type Service struct {
	store    Store
	tokens   *TokenIssuer
	welcomer Welcomer
	logger   *slog.Logger
}

// NewService creates an account service. welcomer may be nil, in which case
// no welcome email is sent.
func NewService(store Store, tokens *TokenIssuer, welcomer Welcomer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, tokens: tokens, welcomer: welcomer, logger: logger}
}

// Register creates a user and dispatches a welcome email. The user record
// is written first; a dispatch failure does not fail registration.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, courier.ErrInvalidCredentials
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, courier.ErrUserExists
	} else if !errors.Is(err, courier.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           id.NewUserID(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		slog.String("user_id", u.ID.String()),
	)

	if s.welcomer != nil {
		s.welcomer.DispatchWelcome(ctx, u.Email)
	}

	return u, nil
}

// Login checks the password and returns a signed access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", courier.ErrInvalidCredentials
	}

	return s.tokens.Issue(u.ID)
}
