package repository

import (
	"context"
	"errors"

	"github.com/cortexahq/cortexa-auth/internal/domain/entity"
)

var (
	// ErrNotFound is returned when no user matches the lookup key.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when a create would violate the unique
	// email constraint. Uniqueness is enforced by the store, not the caller.
	ErrDuplicateEmail = errors.New("email already in use")
)

// UserRepository defines the interface for user-related database operations.
type UserRepository interface {
	Create(ctx context.Context, u *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	Update(ctx context.Context, u *entity.User) error
}
