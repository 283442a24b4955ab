package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/account"
	"github.com/xraph/courier/id"
)

// CreateUser reserves the email and stores the user in one script.
func (s *Store) CreateUser(ctx context.Context, u *account.User) error {
	uID := u.ID.String()
	args := []interface{}{u.Email, uID}
	args = append(args, flatten(userToMap(u))...)

	res, err := createUserScript.Run(ctx, s.client,
		[]string{userKey(uID), userEmailsKey},
		args...,
	).Int64()
	if err != nil {
		return fmt.Errorf("courier/redis: create user: %w", err)
	}
	if res == 0 {
		return courier.ErrUserExists
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*account.User, error) {
	vals, err := s.client.HGetAll(ctx, userKey(userID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get user: %w", err)
	}
	if len(vals) == 0 {
		return nil, courier.ErrUserNotFound
	}
	return mapToUser(vals)
}

// GetUserByEmail retrieves a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	uID, err := s.client.HGet(ctx, userEmailsKey, email).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, courier.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get user by email: %w", err)
	}
	parsed, err := id.ParseUserID(uID)
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse user id: %w", err)
	}
	return s.GetUser(ctx, parsed)
}

func userToMap(u *account.User) map[string]string {
	return map[string]string{
		"id":            u.ID.String(),
		"email":         u.Email,
		"password_hash": u.PasswordHash,
		"created_at":    u.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func mapToUser(m map[string]string) (*account.User, error) {
	uID, err := id.ParseUserID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse user id: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	return &account.User{
		ID:           uID,
		Email:        m["email"],
		PasswordHash: m["password_hash"],
		CreatedAt:    createdAt,
	}, nil
}
