package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/visionai/drscreen/internal/domain/account"
	"github.com/visionai/drscreen/internal/domain/encounter"
	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/auth"
	"github.com/visionai/drscreen/internal/platform/db"
)

func TestAccountStore(t *testing.T) {
	pool := newSchemaPool(t)
	ctx := context.Background()
	repo := account.NewRepo(pool)

	doc := createDoctor(t, ctx, repo, "grey@example.com")

	t.Run("LookupIsCaseInsensitive", func(t *testing.T) {
		got, err := repo.GetByUsername(ctx, "GREY@Example.com")
		if err != nil {
			t.Fatalf("GetByUsername: %v", err)
		}
		if got.ID != doc.ID || got.Role != auth.RoleDoctor || got.MedicalID == nil {
			t.Errorf("unexpected account %+v", got)
		}
		if ok, _ := auth.CheckPassword(got.PasswordHash, "correct horse battery"); !ok {
			t.Error("stored hash does not verify")
		}
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		dup := *doc
		dup.Username = "Grey@example.com"
		if err := repo.Create(ctx, &dup); !errors.Is(err, apperr.ErrDuplicateKey) {
			t.Errorf("expected duplicate key, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestEncounterStore(t *testing.T) {
	pool := newSchemaPool(t)
	ctx := context.Background()
	accounts := account.NewRepo(pool)
	svc := encounter.NewService(encounter.NewRepo(pool))

	grey := createDoctor(t, ctx, accounts, "grey@example.com")
	house := createDoctor(t, ctx, accounts, "house@example.com")

	var created []*encounter.Encounter
	for _, pid := range []string{"alice@example.com", "bob@example.com", "carol@example.com"} {
		enc := newEncounter(t, grey.ID, pid)
		if err := svc.Create(ctx, enc); err != nil {
			t.Fatalf("Create %s: %v", pid, err)
		}
		if enc.CreatedAt.IsZero() {
			t.Error("created_at not returned")
		}
		created = append(created, enc)
	}

	t.Run("RoundTrip", func(t *testing.T) {
		got, err := svc.Get(ctx, created[0].ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.PatientExternalID != "alice@example.com" || got.CombinedLabel != "Severe" {
			t.Errorf("unexpected encounter %+v", got)
		}
		if got.Age == nil || *got.Age != 45 || got.DiabetesDuration != nil {
			t.Errorf("optional fields not preserved: age=%v duration=%v", got.Age, got.DiabetesDuration)
		}
		if got.ExpectedReportFilename() != got.ID.String()+".pdf" {
			t.Errorf("expected file = %s", got.ExpectedReportFilename())
		}
	})

	t.Run("DuplicatePatient", func(t *testing.T) {
		dup := newEncounter(t, house.ID, " ALICE@example.com ")
		err := svc.Create(ctx, dup)
		if !errors.Is(err, apperr.ErrDuplicateKey) {
			t.Fatalf("expected duplicate, got %v", err)
		}
		exists, err := svc.PatientExists(ctx, "Alice@Example.com")
		if err != nil || !exists {
			t.Errorf("PatientExists = %v, %v", exists, err)
		}
	})

	t.Run("ConcurrentInsertsOneWins", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 5)
		encs := make([]*encounter.Encounter, len(errs))
		for i := range encs {
			encs[i] = newEncounter(t, house.ID, "race@example.com")
		}
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = svc.Create(ctx, encs[i])
			}(i)
		}
		wg.Wait()
		wins := 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case !errors.Is(err, apperr.ErrDuplicateKey):
				t.Errorf("unexpected error: %v", err)
			}
		}
		if wins != 1 {
			t.Errorf("expected exactly one insert to win, got %d", wins)
		}
	})

	t.Run("DashboardNewestFirst", func(t *testing.T) {
		doctor := encounter.Requester{AccountID: grey.ID, Username: grey.Username, Role: auth.RoleDoctor}
		encs, total, err := svc.ListFor(ctx, doctor, 2, 0)
		if err != nil {
			t.Fatal(err)
		}
		if total != 3 || len(encs) != 2 {
			t.Fatalf("total=%d page=%d", total, len(encs))
		}
		if encs[0].ID != created[2].ID || encs[1].ID != created[1].ID {
			t.Error("expected newest first")
		}

		patient := encounter.Requester{AccountID: uuid.New(), Username: "BOB@example.com", Role: auth.RolePatient}
		encs, total, err = svc.ListFor(ctx, patient, 20, 0)
		if err != nil || total != 1 || encs[0].ID != created[1].ID {
			t.Errorf("patient list = %v, %d, %v", encs, total, err)
		}
	})

	t.Run("Visibility", func(t *testing.T) {
		owner := encounter.Requester{AccountID: grey.ID, Role: auth.RoleDoctor}
		if _, err := svc.Find(ctx, created[0].ID, owner); err != nil {
			t.Errorf("owner: %v", err)
		}
		other := encounter.Requester{AccountID: house.ID, Role: auth.RoleDoctor}
		if _, err := svc.Find(ctx, created[0].ID, other); !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("other doctor: %v", err)
		}
		if _, err := svc.Find(ctx, uuid.New(), owner); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("unknown: %v", err)
		}
	})

	t.Run("ListAllOldestFirst", func(t *testing.T) {
		all, err := svc.ListAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 4 || all[0].ID != created[0].ID {
			t.Errorf("unexpected ListAll result (%d rows)", len(all))
		}
	})
}

func TestMigrations_Idempotent(t *testing.T) {
	pool := newSchemaPool(t)
	ctx := context.Background()
	m := db.NewMigrator(pool, findMigrationsDir())

	n, err := m.Up(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second run applied %d migrations", n)
	}
	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("migration %d not applied", s.Version)
		}
	}
}
