package encounter

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores encounters. Encounters are insert-only.
type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	ExistsByPatient(ctx context.Context, patientExternalID string) (bool, error)
	// ListByOwner and ListByPatient return newest first with the total count.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Encounter, int, error)
	ListByPatient(ctx context.Context, patientExternalID string, limit, offset int) ([]*Encounter, int, error)
	// ListAll returns every encounter, oldest first.
	ListAll(ctx context.Context) ([]*Encounter, error)
}
