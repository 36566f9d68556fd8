// Package repository holds the storage contracts and their implementations.
// Services depend on the interfaces; the concrete stores are wired at
// bootstrap, so any backend that preserves the per-key atomicity rules can
// stand in.
package repository

import (
	"context"
	"errors"

	"studyrag/internal/model"
)

var (
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateEmail    = errors.New("email already exists")
	ErrTokenNotFound     = errors.New("refresh token not found")
)

// UserStore is the Identity Store. Create must perform its uniqueness check
// and insert inside a single serialized critical section so concurrent
// registrations cannot both claim a username or email.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

// RefreshTokenStore holds opaque refresh tokens. Consume atomically claims a
// token: of any number of concurrent Consume calls for one value, exactly one
// receives the record and all others get ErrTokenNotFound. Revoke is
// idempotent; revoking an absent value is not an error.
type RefreshTokenStore interface {
	Save(ctx context.Context, token *model.RefreshToken) error
	Consume(ctx context.Context, value string) (*model.RefreshToken, error)
	Revoke(ctx context.Context, value string) error
	RevokeAll(ctx context.Context, userID string) error
}
