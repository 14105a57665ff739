package screening

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/visionai/drscreen/internal/domain/account"
	"github.com/visionai/drscreen/internal/domain/encounter"
	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/artifact"
	"github.com/visionai/drscreen/internal/platform/auth"
	"github.com/visionai/drscreen/internal/platform/classifier"
	"github.com/visionai/drscreen/internal/platform/pdfreport"
)

// -- in-memory encounter store --

type memEncounters struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*encounter.Encounter
	clock     time.Time
	createErr error
	// afterCreate runs once a row is stored.
	afterCreate func()
	// skipPrecheck makes PatientExists always report false, simulating a
	// concurrent submission that commits between pre-check and insert.
	skipPrecheck bool
}

func newMemEncounters() *memEncounters {
	return &memEncounters{
		byID:  make(map[uuid.UUID]*encounter.Encounter),
		clock: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
	}
}

func (m *memEncounters) Create(_ context.Context, enc *encounter.Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, e := range m.byID {
		if e.PatientExternalID == enc.PatientExternalID {
			return fmt.Errorf("%w: encounter (encounters_patient_external_id_key)", apperr.ErrDuplicateKey)
		}
	}
	m.clock = m.clock.Add(time.Minute)
	enc.CreatedAt = m.clock
	m.byID[enc.ID] = enc
	if m.afterCreate != nil {
		m.afterCreate()
	}
	return nil
}

func (m *memEncounters) PatientExists(_ context.Context, pid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skipPrecheck {
		return false, nil
	}
	for _, e := range m.byID {
		if e.PatientExternalID == encounter.NormalizePatientID(pid) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memEncounters) Get(_ context.Context, id uuid.UUID) (*encounter.Encounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: encounter", apperr.ErrNotFound)
	}
	return e, nil
}

func (m *memEncounters) Find(ctx context.Context, id uuid.UUID, r encounter.Requester) (*encounter.Encounter, error) {
	e, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.CanView(r) {
		return nil, fmt.Errorf("%w: encounter %s", apperr.ErrForbidden, id)
	}
	return e, nil
}

func (m *memEncounters) ListAll(context.Context) ([]*encounter.Encounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*encounter.Encounter, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memEncounters) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// -- doctors --

type memDoctors map[uuid.UUID]*account.Account

func (d memDoctors) Get(_ context.Context, id uuid.UUID) (*account.Account, error) {
	a, ok := d[id]
	if !ok {
		return nil, fmt.Errorf("%w: account", apperr.ErrNotFound)
	}
	return a, nil
}

// -- classifier --

var drLabels = []string{"No_DR", "Mild", "Moderate", "Severe", "Proliferate_DR"}

// redModel predicts the class equal to the red value of the first pixel.
type redModel struct{ err error }

func (m *redModel) Predict(_ context.Context, in classifier.Tensor) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	scores := make([]float32, len(drLabels))
	scores[int(in.Data[0]*255+0.5)%len(drLabels)] = 1
	return scores, nil
}

func (m *redModel) Ready(context.Context) error { return m.err }

func newClassifier(t *testing.T, m classifier.Model) *classifier.Classifier {
	t.Helper()
	labels, err := classifier.NewLabelMap(drLabels...)
	if err != nil {
		t.Fatal(err)
	}
	c, err := classifier.New(m, labels, classifier.WithInputSize(8))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func fundus(t *testing.T, red uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: red, G: 40, B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// -- compilers --

type failingCompiler struct{}

func (failingCompiler) Compile(context.Context, pdfreport.Report) ([]byte, error) {
	return nil, fmt.Errorf("%w: disk full", apperr.ErrCompileFailed)
}

// -- store wrappers --

// flakyStore fails the nth Put (1-based) and can refuse deletes.
type flakyStore struct {
	artifact.Store
	mu        sync.Mutex
	puts      int
	failPut   int
	deleteErr error
}

func (f *flakyStore) Put(ctx context.Context, spec artifact.Spec, r io.Reader) (string, error) {
	f.mu.Lock()
	f.puts++
	n := f.puts
	f.mu.Unlock()
	if n == f.failPut {
		return "", fmt.Errorf("%w: simulated write failure", apperr.ErrUploadFailed)
	}
	return f.Store.Put(ctx, spec, r)
}

func (f *flakyStore) Delete(ctx context.Context, ref string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Store.Delete(ctx, ref)
}

// -- fixture --

type fixture struct {
	t          *testing.T
	root       string
	store      *artifact.FSStore
	encounters *memEncounters
	doctors    memDoctors
	doctor     encounter.Requester
	workflow   *Workflow
	retriever  *Retriever
	regen      *Regenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := artifact.NewFSStore(artifact.Options{Root: root, RefPrefix: "uploads", WorkDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	docID := uuid.New()
	medID, hospital := "MD-7781", "Riverside Eye Clinic"
	doctors := memDoctors{docID: {
		ID: docID, Username: "dr.grey@example.com", Role: auth.RoleDoctor,
		FullName: "Meredith Grey", MedicalID: &medID, HospitalName: &hospital,
	}}

	f := &fixture{
		t:          t,
		root:       root,
		store:      store,
		encounters: newMemEncounters(),
		doctors:    doctors,
		doctor:     encounter.Requester{AccountID: docID, Username: "dr.grey@example.com", Role: auth.RoleDoctor},
	}
	f.build(newClassifier(t, &redModel{}), pdfreport.NewCompiler(store, zerolog.Nop()), store)
	return f
}

func (f *fixture) build(clf PairClassifier, compiler ReportCompiler, store artifact.Store) {
	f.workflow = NewWorkflow(f.encounters, f.doctors, clf, compiler, store, zerolog.Nop())
	f.retriever = NewRetriever(f.encounters, store)
	f.regen = NewRegenerator(f.encounters, f.doctors, compiler, store, zerolog.Nop())
}

func (f *fixture) submission(patientID string, leftRed, rightRed uint8) Submission {
	age := 45
	return Submission{
		PatientName:      "Alice Smith",
		PatientID:        patientID,
		Age:              &age,
		Gender:           "Female",
		DiabetesDuration: "12 years",
		BloodPressure:    "130/85",
		Medications:      "Metformin",
		Left:             Upload{Filename: "left.PNG", Content: fundus(f.t, leftRed)},
		Right:            Upload{Filename: "right.jpg", Content: fundus(f.t, rightRed)},
	}
}

// files lists the names in the artifact root.
func (f *fixture) files() []string {
	f.t.Helper()
	entries, err := f.store.List(context.Background())
	if err != nil {
		f.t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}
