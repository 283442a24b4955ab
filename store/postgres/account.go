package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/courier"
	"github.com/xraph/courier/account"
	"github.com/xraph/courier/id"
)

// CreateUser inserts a user. The unique email constraint rejects
// duplicates.
func (s *Store) CreateUser(ctx context.Context, u *account.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courier_users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`,
		u.ID.String(), u.Email, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrUserExists
		}
		return fmt.Errorf("courier/postgres: create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*account.User, error) {
	return s.getUser(ctx, `id = $1`, userID.String())
}

// GetUserByEmail retrieves a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	return s.getUser(ctx, `email = $1`, email)
}

func (s *Store) getUser(ctx context.Context, where string, arg string) (*account.User, error) {
	var (
		u     account.User
		idStr string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM courier_users WHERE `+where,
		arg,
	).Scan(&idStr, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrUserNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get user: %w", err)
	}

	parsed, err := id.ParseUserID(idStr)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: parse user id %q: %w", idStr, err)
	}
	u.ID = parsed
	return &u, nil
}
