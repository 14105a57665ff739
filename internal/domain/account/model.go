package account

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/auth"
)

// Account is a registered doctor or patient. Profile fields that only apply
// to one role are nil for the other.
type Account struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"`
	FullName      string    `json:"full_name"`
	ContactNumber string    `json:"contact_number"`
	Address       *string   `json:"address,omitempty"`
	Age           *int      `json:"age,omitempty"`
	Gender        *string   `json:"gender,omitempty"`
	HospitalName  *string   `json:"hospital_name,omitempty"`
	MedicalID     *string   `json:"medical_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsDoctor reports whether the account has the doctor role.
func (a *Account) IsDoctor() bool { return a.Role == auth.RoleDoctor }

// DoctorRegistration is the sign-up form for clinicians.
type DoctorRegistration struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	FullName      string `json:"full_name"`
	ContactNumber string `json:"contact_number"`
	HospitalName  string `json:"hospital_name"`
	MedicalID     string `json:"medical_id"`
}

// PatientRegistration is the sign-up form for patients. Username is the
// email address doctors enter as the patient id on a screening.
type PatientRegistration struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	FullName      string `json:"full_name"`
	ContactNumber string `json:"contact_number"`
	Address       string `json:"address"`
	Age           int    `json:"age"`
	Gender        string `json:"gender"`
}

// LoginRequest carries credentials and the portal the user signs in to.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// NormalizeUsername trims and lower-cases a username. Usernames are email
// addresses and compare case-insensitively.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (r *DoctorRegistration) Validate() error {
	return requireFields(map[string]string{
		"username":       r.Username,
		"password":       r.Password,
		"full_name":      r.FullName,
		"contact_number": r.ContactNumber,
		"hospital_name":  r.HospitalName,
		"medical_id":     r.MedicalID,
	}, r.Username)
}

func (r *PatientRegistration) Validate() error {
	if err := requireFields(map[string]string{
		"username":       r.Username,
		"password":       r.Password,
		"full_name":      r.FullName,
		"contact_number": r.ContactNumber,
		"address":        r.Address,
		"gender":         r.Gender,
	}, r.Username); err != nil {
		return err
	}
	if r.Age <= 0 || r.Age > 150 {
		return fmt.Errorf("%w: age must be between 1 and 150", apperr.ErrInvalidInput)
	}
	return nil
}

// fieldOrder keeps validation messages stable.
var fieldOrder = []string{
	"username", "password", "full_name", "contact_number", "address", "gender", "hospital_name", "medical_id",
}

func requireFields(fields map[string]string, username string) error {
	for _, name := range fieldOrder {
		v, ok := fields[name]
		if ok && strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is required", apperr.ErrInvalidInput, name)
		}
	}
	username = strings.TrimSpace(username)
	if addr, err := mail.ParseAddress(username); err != nil || addr.Address != username {
		return fmt.Errorf("%w: username must be an email address", apperr.ErrInvalidInput)
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
