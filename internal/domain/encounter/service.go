package encounter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/auth"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create inserts enc. A second encounter for the same patient id fails
// with apperr.ErrDuplicateKey and stores nothing.
func (s *Service) Create(ctx context.Context, enc *Encounter) error {
	if err := s.repo.Create(ctx, enc); err != nil {
		if errors.Is(err, apperr.ErrDuplicateKey) {
			return fmt.Errorf("%w: a report for patient id %q already exists", apperr.ErrDuplicateKey, enc.PatientExternalID)
		}
		return err
	}
	return nil
}

// PatientExists reports whether an encounter is already filed under the
// patient id.
func (s *Service) PatientExists(ctx context.Context, patientExternalID string) (bool, error) {
	return s.repo.ExistsByPatient(ctx, NormalizePatientID(patientExternalID))
}

// Find loads an encounter on behalf of r. An encounter r may not see is
// reported as apperr.ErrForbidden; callers that face the network should
// collapse that with ErrNotFound.
func (s *Service) Find(ctx context.Context, id uuid.UUID, r Requester) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !enc.CanView(r) {
		return nil, fmt.Errorf("%w: encounter %s", apperr.ErrForbidden, id)
	}
	return enc, nil
}

// Get loads an encounter without a visibility check. Only offline tools use it.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForDoctor(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit, offset)
}

func (s *Service) ListForPatient(ctx context.Context, username string, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByPatient(ctx, NormalizePatientID(username), limit, offset)
}

// ListFor lists the dashboard for r: a doctor's own submissions or a
// patient's own reports.
func (s *Service) ListFor(ctx context.Context, r Requester, limit, offset int) ([]*Encounter, int, error) {
	switch r.Role {
	case auth.RoleDoctor:
		return s.ListForDoctor(ctx, r.AccountID, limit, offset)
	case auth.RolePatient:
		return s.ListForPatient(ctx, r.Username, limit, offset)
	default:
		return nil, 0, fmt.Errorf("%w: role %q has no dashboard", apperr.ErrForbidden, r.Role)
	}
}

func (s *Service) ListAll(ctx context.Context) ([]*Encounter, error) {
	return s.repo.ListAll(ctx)
}
