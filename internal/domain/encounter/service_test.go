package encounter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/auth"
)

// -- Mock Repository --

type mockRepo struct {
	mu         sync.Mutex
	encounters map[uuid.UUID]*Encounter
	clock      time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		encounters: make(map[uuid.UUID]*Encounter),
		clock:      time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func (m *mockRepo) Create(_ context.Context, enc *Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.encounters {
		if e.PatientExternalID == enc.PatientExternalID {
			return fmt.Errorf("%w: encounter (encounters_patient_external_id_key)", apperr.ErrDuplicateKey)
		}
	}
	m.clock = m.clock.Add(time.Minute)
	enc.CreatedAt = m.clock
	m.encounters[enc.ID] = enc
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Encounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	enc, ok := m.encounters[id]
	if !ok {
		return nil, fmt.Errorf("%w: encounter", apperr.ErrNotFound)
	}
	return enc, nil
}

func (m *mockRepo) ExistsByPatient(_ context.Context, pid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.encounters {
		if e.PatientExternalID == pid {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) filter(keep func(*Encounter) bool, limit, offset int) ([]*Encounter, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Encounter
	for _, e := range m.encounters {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) ListByOwner(_ context.Context, owner uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	return m.filter(func(e *Encounter) bool { return e.OwnerID == owner }, limit, offset)
}

func (m *mockRepo) ListByPatient(_ context.Context, pid string, limit, offset int) ([]*Encounter, int, error) {
	return m.filter(func(e *Encounter) bool { return e.PatientExternalID == pid }, limit, offset)
}

func (m *mockRepo) ListAll(_ context.Context) ([]*Encounter, error) {
	all, _, err := m.filter(func(*Encounter) bool { return true }, len(m.encounters), 0)
	return all, err
}

func seed(t *testing.T, svc *Service, owner uuid.UUID, patient string) *Encounter {
	t.Helper()
	p := validParams(owner)
	p.PatientExternalID = patient
	enc, err := New(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Create(context.Background(), enc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return enc
}

func TestService_CreateDuplicate(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	owner := uuid.New()
	seed(t, svc, owner, "alice@example.com")

	p := validParams(owner)
	p.PatientExternalID = "ALICE@example.com"
	dup, _ := New(p)
	err := svc.Create(context.Background(), dup)
	if !errors.Is(err, apperr.ErrDuplicateKey) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if len(repo.encounters) != 1 {
		t.Errorf("expected exactly one encounter, have %d", len(repo.encounters))
	}

	exists, err := svc.PatientExists(context.Background(), " Alice@Example.com")
	if err != nil || !exists {
		t.Errorf("PatientExists = %v, %v", exists, err)
	}
}

func TestService_Find(t *testing.T) {
	svc := NewService(newMockRepo())
	owner := uuid.New()
	enc := seed(t, svc, owner, "alice@example.com")
	ctx := context.Background()

	got, err := svc.Find(ctx, enc.ID, Requester{AccountID: owner, Role: auth.RoleDoctor})
	if err != nil || got.ID != enc.ID {
		t.Fatalf("owner should see encounter: %v", err)
	}

	_, err = svc.Find(ctx, enc.ID, Requester{AccountID: uuid.New(), Role: auth.RoleDoctor})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("other doctor: expected forbidden, got %v", err)
	}
	_, err = svc.Find(ctx, enc.ID, Requester{Username: "bob@example.com", Role: auth.RolePatient})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("other patient: expected forbidden, got %v", err)
	}
	_, err = svc.Find(ctx, uuid.New(), Requester{AccountID: owner, Role: auth.RoleDoctor})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown id: expected not found, got %v", err)
	}

	admin, err := svc.Get(ctx, enc.ID)
	if err != nil || admin.ID != enc.ID {
		t.Errorf("Get should bypass visibility: %v", err)
	}
}

func TestService_ListFor_NewestFirst(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()
	doc, other := uuid.New(), uuid.New()

	first := seed(t, svc, doc, "p1@example.com")
	seed(t, svc, other, "p2@example.com")
	latest := seed(t, svc, doc, "p3@example.com")

	encs, total, err := svc.ListFor(ctx, Requester{AccountID: doc, Role: auth.RoleDoctor}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(encs) != 2 {
		t.Fatalf("expected 2 encounters, got %d/%d", len(encs), total)
	}
	if encs[0].ID != latest.ID || encs[1].ID != first.ID {
		t.Error("expected newest first")
	}

	mine, total, err := svc.ListFor(ctx, Requester{Username: "P2@example.com", Role: auth.RolePatient}, 10, 0)
	if err != nil || total != 1 || mine[0].PatientExternalID != "p2@example.com" {
		t.Errorf("patient dashboard = %v (%d) %v", mine, total, err)
	}

	if _, _, err := svc.ListFor(ctx, Requester{Role: "nurse"}, 10, 0); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden for unknown role, got %v", err)
	}
}
