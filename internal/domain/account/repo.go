package account

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	// GetByUsername matches the normalized username.
	GetByUsername(ctx context.Context, username string) (*Account, error)
}
