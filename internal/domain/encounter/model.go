package encounter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/auth"
)

// Encounter is one screening event: who was screened, by whom, the two
// fundus images and what the classifier said about them. Rows are inserted
// once and never updated.
type Encounter struct {
	ID                uuid.UUID `db:"id" json:"id"`
	OwnerID           uuid.UUID `db:"owner_id" json:"owner_id"`
	PatientExternalID string    `db:"patient_external_id" json:"patient_id"`
	PatientName       string    `db:"patient_name" json:"patient_name"`
	Age               *int      `db:"age" json:"age,omitempty"`
	Gender            *string   `db:"gender" json:"gender,omitempty"`
	DiabetesDuration  *string   `db:"diabetes_duration" json:"diabetes_duration,omitempty"`
	BloodPressure     *string   `db:"blood_pressure" json:"blood_pressure,omitempty"`
	Medications       *string   `db:"medications" json:"medications,omitempty"`
	OtherConditions   *string   `db:"other_conditions" json:"other_conditions,omitempty"`
	LeftImageRef      string    `db:"left_image_ref" json:"left_image_ref"`
	RightImageRef     string    `db:"right_image_ref" json:"right_image_ref"`
	LeftLabel         string    `db:"left_label" json:"left_label"`
	RightLabel        string    `db:"right_label" json:"right_label"`
	CombinedLabel     string    `db:"combined_label" json:"combined_label"`
	ReportFilename    *string   `db:"report_filename" json:"report_filename,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Params are the inputs New validates.
type Params struct {
	OwnerID           uuid.UUID
	PatientExternalID string
	PatientName       string
	Age               *int
	Gender            string
	DiabetesDuration  string
	BloodPressure     string
	Medications       string
	OtherConditions   string
	LeftImageRef      string
	RightImageRef     string
	LeftLabel         string
	RightLabel        string
	CombinedLabel     string
}

// New builds an encounter with a fresh id. The patient external id is an
// email address and is stored trimmed and lower-cased.
func New(p Params) (*Encounter, error) {
	if p.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner_id is required", apperr.ErrInvalidInput)
	}
	required := []struct{ name, value string }{
		{"patient_name", p.PatientName},
		{"patient_id", p.PatientExternalID},
		{"left_image_ref", p.LeftImageRef},
		{"right_image_ref", p.RightImageRef},
		{"left_label", p.LeftLabel},
		{"right_label", p.RightLabel},
		{"combined_label", p.CombinedLabel},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return nil, fmt.Errorf("%w: %s is required", apperr.ErrInvalidInput, f.name)
		}
	}
	if p.Age != nil && (*p.Age < 0 || *p.Age > 150) {
		return nil, fmt.Errorf("%w: age must be between 0 and 150", apperr.ErrInvalidInput)
	}

	return &Encounter{
		ID:                uuid.New(),
		OwnerID:           p.OwnerID,
		PatientExternalID: NormalizePatientID(p.PatientExternalID),
		PatientName:       strings.TrimSpace(p.PatientName),
		Age:               p.Age,
		Gender:            optional(p.Gender),
		DiabetesDuration:  optional(p.DiabetesDuration),
		BloodPressure:     optional(p.BloodPressure),
		Medications:       optional(p.Medications),
		OtherConditions:   optional(p.OtherConditions),
		LeftImageRef:      p.LeftImageRef,
		RightImageRef:     p.RightImageRef,
		LeftLabel:         p.LeftLabel,
		RightLabel:        p.RightLabel,
		CombinedLabel:     p.CombinedLabel,
	}, nil
}

// NormalizePatientID is the canonical form of a patient external id.
func NormalizePatientID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ExpectedReportFilename is where the report PDF lives in the artifact
// store: the stored override when there is one, else "{id}.pdf".
func (e *Encounter) ExpectedReportFilename() string {
	if e.ReportFilename != nil && *e.ReportFilename != "" {
		return *e.ReportFilename
	}
	return e.ID.String() + ".pdf"
}

// Requester is the authenticated caller asking for an encounter.
type Requester struct {
	AccountID uuid.UUID
	Username  string
	Role      string
}

// RequesterFromContext builds a Requester from the claims the JWT
// middleware stored on ctx. The first recognised role wins.
func RequesterFromContext(ctx context.Context) (Requester, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Requester{}, fmt.Errorf("%w: missing or malformed subject", apperr.ErrUnauthorized)
	}
	r := Requester{AccountID: id, Username: auth.UsernameFromContext(ctx)}
	for _, role := range auth.RolesFromContext(ctx) {
		if auth.ValidRole(role) {
			r.Role = role
			break
		}
	}
	if r.Role == "" {
		return Requester{}, fmt.Errorf("%w: no recognised role", apperr.ErrForbidden)
	}
	return r, nil
}

// CanView reports whether r may see e: doctors see encounters they created,
// patients see encounters filed under their own username.
func (e *Encounter) CanView(r Requester) bool {
	switch r.Role {
	case auth.RoleDoctor:
		return r.AccountID != uuid.Nil && e.OwnerID == r.AccountID
	case auth.RolePatient:
		u := NormalizePatientID(r.Username)
		return u != "" && e.PatientExternalID == u
	default:
		return false
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
