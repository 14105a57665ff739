package screening

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/imaging"
)

// Upload is one uploaded fundus photograph.
type Upload struct {
	Filename string
	Content  []byte
}

// Ext is the lower-cased file extension, dot included.
func (u Upload) Ext() string {
	return strings.ToLower(filepath.Ext(u.Filename))
}

// Submission is what a doctor sends to screen a patient. PatientID is the
// patient's registered email address.
type Submission struct {
	PatientName      string
	PatientID        string
	Age              *int
	Gender           string
	DiabetesDuration string
	BloodPressure    string
	Medications      string
	OtherConditions  string
	Left             Upload
	Right            Upload
}

// Validate rejects a submission before anything is written. Only presence
// and file type are checked; the images are decoded by the classifier.
func (s *Submission) Validate() error {
	if strings.TrimSpace(s.PatientName) == "" {
		return fmt.Errorf("%w: patient_name is required", apperr.ErrInvalidInput)
	}
	if strings.TrimSpace(s.PatientID) == "" {
		return fmt.Errorf("%w: patient_id is required", apperr.ErrInvalidInput)
	}
	if s.Age != nil && (*s.Age < 0 || *s.Age > 150) {
		return fmt.Errorf("%w: age must be between 0 and 150", apperr.ErrInvalidInput)
	}
	for _, f := range []struct {
		field string
		u     Upload
	}{{"left_image", s.Left}, {"right_image", s.Right}} {
		if len(f.u.Content) == 0 {
			return fmt.Errorf("%w: %s is required", apperr.ErrInvalidInput, f.field)
		}
		if !imaging.AllowedExtension(f.u.Filename) {
			return fmt.Errorf("%w: %s must be a .png, .jpg or .jpeg file", apperr.ErrInvalidInput, f.field)
		}
	}
	return nil
}
