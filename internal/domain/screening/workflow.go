package screening

import (
	"bytes"
	"context"
	"errors"
	"fmt"

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

// ReportMissingWarning is returned when the record was saved but the PDF
// could not be produced. The report can be regenerated later.
const ReportMissingWarning = "data saved, report artifact missing"

// State is a step of the submission state machine.
type State int

const (
	StateReceived State = iota
	StateImagesPersisted
	StateClassified
	StateRecordCommitted
	StateReportCompiled
	StateReportFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateImagesPersisted:
		return "images_persisted"
	case StateClassified:
		return "classified"
	case StateRecordCommitted:
		return "record_committed"
	case StateReportCompiled:
		return "report_compiled"
	case StateReportFailed:
		return "report_failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Encounters is the part of the encounter service the screening package
// needs.
type Encounters interface {
	Create(ctx context.Context, enc *encounter.Encounter) error
	PatientExists(ctx context.Context, patientExternalID string) (bool, error)
	Find(ctx context.Context, id uuid.UUID, r encounter.Requester) (*encounter.Encounter, error)
	Get(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
	ListAll(ctx context.Context) ([]*encounter.Encounter, error)
}

// Doctors looks up the clinician printed on a report.
type Doctors interface {
	Get(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

// PairClassifier grades both eyes of a submission.
type PairClassifier interface {
	Ready() error
	ClassifyPair(ctx context.Context, left, right []byte) (classifier.PairResult, error)
}

// ReportCompiler renders a report PDF.
type ReportCompiler interface {
	Compile(ctx context.Context, r pdfreport.Report) ([]byte, error)
}

// Result describes how far a submission got. A nil error with
// StateReportFailed means the record is saved but has no PDF yet.
type Result struct {
	Encounter *encounter.Encounter `json:"encounter"`
	State     State                `json:"state"`
	ReportRef string               `json:"-"`
	Warning   string               `json:"warning,omitempty"`
}

// Workflow runs doctor submissions end to end.
type Workflow struct {
	encounters Encounters
	doctors    Doctors
	classifier PairClassifier
	reports    *reportWriter
	store      artifact.Store
	logger     zerolog.Logger
}

func NewWorkflow(encounters Encounters, doctors Doctors, clf PairClassifier, compiler ReportCompiler, store artifact.Store, logger zerolog.Logger) *Workflow {
	return &Workflow{
		encounters: encounters,
		doctors:    doctors,
		classifier: clf,
		reports:    &reportWriter{compiler: compiler, store: store},
		store:      store,
		logger:     logger,
	}
}

// Submit moves a submission through
// received -> images persisted -> classified -> record committed -> report compiled.
// Failures before the record is committed leave no record and remove the
// images written so far. A failure to produce the report afterwards is not
// an error: the result carries StateReportFailed and ReportMissingWarning.
func (w *Workflow) Submit(ctx context.Context, doctor encounter.Requester, sub Submission) (*Result, error) {
	if doctor.Role != auth.RoleDoctor {
		return nil, fmt.Errorf("%w: only doctors can submit screenings", apperr.ErrForbidden)
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if err := w.classifier.Ready(); err != nil {
		return nil, err
	}
	doc, err := w.doctors.Get(ctx, doctor.AccountID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: doctor account no longer exists", apperr.ErrUnauthorized)
		}
		return nil, err
	}
	exists, err := w.encounters.PatientExists(ctx, sub.PatientID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: a report for patient id %q already exists", apperr.ErrDuplicateKey, encounter.NormalizePatientID(sub.PatientID))
	}

	log := w.logger.With().Str("doctor_id", doctor.AccountID.String()).Logger()

	// Received -> ImagesPersisted
	leftRef, err := w.store.Put(ctx, artifact.Spec{Kind: artifact.KindImage, Side: "left", Ext: sub.Left.Ext()}, bytes.NewReader(sub.Left.Content))
	if err != nil {
		return nil, uploadFailed("left_image", err)
	}
	rightRef, err := w.store.Put(ctx, artifact.Spec{Kind: artifact.KindImage, Side: "right", Ext: sub.Right.Ext()}, bytes.NewReader(sub.Right.Content))
	if err != nil {
		w.rollback(ctx, log, leftRef)
		return nil, uploadFailed("right_image", err)
	}

	// ImagesPersisted -> Classified
	pair, err := w.classifier.ClassifyPair(ctx, sub.Left.Content, sub.Right.Content)
	if err != nil {
		w.rollback(ctx, log, leftRef, rightRef)
		return nil, err
	}

	// Classified -> RecordCommitted
	enc, err := encounter.New(encounter.Params{
		OwnerID:           doctor.AccountID,
		PatientExternalID: sub.PatientID,
		PatientName:       sub.PatientName,
		Age:               sub.Age,
		Gender:            sub.Gender,
		DiabetesDuration:  sub.DiabetesDuration,
		BloodPressure:     sub.BloodPressure,
		Medications:       sub.Medications,
		OtherConditions:   sub.OtherConditions,
		LeftImageRef:      leftRef,
		RightImageRef:     rightRef,
		LeftLabel:         pair.Left.Label,
		RightLabel:        pair.Right.Label,
		CombinedLabel:     pair.Combined.Label,
	})
	if err != nil {
		w.rollback(ctx, log, leftRef, rightRef)
		return nil, err
	}
	if err := w.encounters.Create(ctx, enc); err != nil {
		// A concurrent submission for the same patient won the insert.
		w.rollback(ctx, log, leftRef, rightRef)
		return nil, err
	}
	log = log.With().Str("encounter_id", enc.ID.String()).Logger()
	log.Info().
		Str("left_label", enc.LeftLabel).
		Str("right_label", enc.RightLabel).
		Str("combined_label", enc.CombinedLabel).
		Msg("encounter saved")

	// RecordCommitted -> ReportCompiled. The record is saved, so the report
	// is produced even if the caller's deadline passes from here on.
	res := &Result{Encounter: enc, State: StateRecordCommitted}
	ref, err := w.reports.write(context.WithoutCancel(ctx), enc, doc, false)
	if err != nil {
		log.Warn().Err(err).Str("artifact", enc.ExpectedReportFilename()).Msg(ReportMissingWarning)
		res.State = StateReportFailed
		res.Warning = ReportMissingWarning
		return res, nil
	}
	res.State = StateReportCompiled
	res.ReportRef = ref
	return res, nil
}

func uploadFailed(field string, err error) error {
	if errors.Is(err, apperr.ErrUploadFailed) || errors.Is(err, apperr.ErrInvalidInput) {
		return fmt.Errorf("%s: %w", field, err)
	}
	return fmt.Errorf("%w: %s: %v", apperr.ErrUploadFailed, field, err)
}

// rollback removes images written by a submission that did not produce a
// record. Failures are logged and otherwise ignored; the orphan sweep
// reclaims anything left behind.
func (w *Workflow) rollback(ctx context.Context, log zerolog.Logger, refs ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if err := w.store.Delete(ctx, ref); err != nil {
			log.Warn().Err(err).Str("artifact", ref).Msg("rollback: could not delete image")
		}
	}
}

// reportWriter renders an encounter's report and stores it under the
// encounter's expected file name.
type reportWriter struct {
	compiler ReportCompiler
	store    artifact.Store
}

func (rw *reportWriter) write(ctx context.Context, enc *encounter.Encounter, doc *account.Account, overwrite bool) (string, error) {
	pdf, err := rw.compiler.Compile(ctx, buildReport(enc, doc))
	if err != nil {
		return "", err
	}
	ref, err := rw.store.Put(ctx, artifact.Spec{
		Kind:        artifact.KindReport,
		EncounterID: enc.ID.String(),
		Name:        enc.ExpectedReportFilename(),
		Overwrite:   overwrite,
	}, bytes.NewReader(pdf))
	if err != nil {
		return "", fmt.Errorf("%w: store report: %v", apperr.ErrCompileFailed, err)
	}
	return ref, nil
}

func buildReport(enc *encounter.Encounter, doc *account.Account) pdfreport.Report {
	r := pdfreport.Report{
		ID:               enc.ID.String(),
		CreatedAt:        enc.CreatedAt,
		PatientName:      enc.PatientName,
		PatientID:        enc.PatientExternalID,
		Gender:           deref(enc.Gender),
		DiabetesDuration: deref(enc.DiabetesDuration),
		BloodPressure:    deref(enc.BloodPressure),
		Medications:      deref(enc.Medications),
		OtherConditions:  deref(enc.OtherConditions),
		LeftLabel:        enc.LeftLabel,
		RightLabel:       enc.RightLabel,
		CombinedLabel:    enc.CombinedLabel,
		LeftImageRef:     enc.LeftImageRef,
		RightImageRef:    enc.RightImageRef,
	}
	if enc.Age != nil {
		r.Age = *enc.Age
	}
	if doc != nil {
		r.Doctor = pdfreport.Doctor{
			FullName:  doc.FullName,
			MedicalID: deref(doc.MedicalID),
			Hospital:  deref(doc.HospitalName),
		}
	}
	return r
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
