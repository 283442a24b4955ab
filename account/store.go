package account

import (
	"context"

	"github.com/xraph/courier/id"
)

// Store defines the persistence contract for user accounts.
type Store interface {
	// CreateUser persists a new user. Returns courier.ErrUserExists if the
	// email is already registered.
	CreateUser(ctx context.Context, u *User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, userID id.UserID) (*User, error)

	// GetUserByEmail retrieves a user by email address.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}
