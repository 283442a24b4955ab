package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/courier"
	"github.com/xraph/courier/account"
	"github.com/xraph/courier/id"
)

// CreateUser inserts a user; the unique email constraint rejects
// duplicates.
func (s *Store) CreateUser(ctx context.Context, u *account.User) error {
	_, err := s.db.NewInsert().Model(toUserModel(u)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrUserExists
		}
		return fmt.Errorf("courier/bun: create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*account.User, error) {
	return s.getUser(ctx, "id = ?", userID.String())
}

// GetUserByEmail retrieves a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	return s.getUser(ctx, "email = ?", email)
}

func (s *Store) getUser(ctx context.Context, where, arg string) (*account.User, error) {
	m := new(userModel)
	err := s.db.NewSelect().Model(m).Where(where, arg).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrUserNotFound
		}
		return nil, fmt.Errorf("courier/bun: get user: %w", err)
	}
	return fromUserModel(m)
}
