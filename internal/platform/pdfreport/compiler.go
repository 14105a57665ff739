// Package pdfreport renders the single-page screening report. Output is a
// pure function of the Report value and the two source images, so the same
// encounter always compiles to the same bytes.
package pdfreport

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/rs/zerolog"

	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/imaging"
)

const (
	Title      = "Diabetic Retinopathy Screening Report"
	Disclaimer = "Disclaimer: This AI-generated report is a screening aid and not a substitute for a detailed ophthalmic examination."
	// Placeholder is drawn in place of a fundus image that cannot be read.
	Placeholder = "Image not available"

	dateLayout = "02 January 2006, 03:04 PM MST"

	marginLeft   = 18.0
	marginRight  = 18.0
	marginTop    = 15.0
	marginBottom = 12.0

	labelWidth    = 45.0
	imageMaxH     = 75.0
	imageGap      = 10.0
	imageMaxPixel = 1024
)

// Doctor is the physician block of the report.
type Doctor struct {
	FullName  string
	MedicalID string
	Hospital  string
}

// Report is everything the compiler needs for one encounter.
type Report struct {
	ID        string
	CreatedAt time.Time
	Doctor    Doctor

	PatientName      string
	PatientID        string
	Age              int
	Gender           string
	DiabetesDuration string
	BloodPressure    string
	Medications      string
	OtherConditions  string

	LeftLabel     string
	RightLabel    string
	CombinedLabel string

	LeftImageRef  string
	RightImageRef string
}

// ImageSource opens stored image references. The artifact store satisfies it.
type ImageSource interface {
	Open(ref string) (io.ReadCloser, error)
}

// Compiler renders reports. It holds no per-report state and is safe for
// concurrent use.
type Compiler struct {
	images ImageSource
	logger zerolog.Logger
}

// NewCompiler returns a Compiler reading images from src.
func NewCompiler(src ImageSource, logger zerolog.Logger) *Compiler {
	return &Compiler{images: src, logger: logger}
}

// Compile renders r to PDF bytes. A missing or unreadable image degrades to
// a placeholder; only a failure to produce the document itself is an error,
// and it wraps apperr.ErrCompileFailed.
func (c *Compiler) Compile(ctx context.Context, r Report) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginLeft, marginTop, marginRight)
	pdf.SetAutoPageBreak(false, marginBottom)
	pdf.SetCreationDate(r.CreatedAt)
	pdf.SetModificationDate(r.CreatedAt)
	pdf.SetCatalogSort(true)
	pdf.SetTitle(Title, false)
	pdf.SetSubject("Report "+r.ID, false)
	pdf.SetAuthor(r.Doctor.FullName, true)
	pdf.SetCreator("drscreen", false)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageW, _ := pdf.GetPageSize()
	contentW := pageW - marginLeft - marginRight

	pdf.AddPage()

	// Title and date.
	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(0x1A, 0x23, 0x7E)
	pdf.CellFormat(contentW, 9, Title, "", 1, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 9.5)
	pdf.CellFormat(contentW, 6, "Report date: "+r.CreatedAt.UTC().Format(dateLayout), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	// Physician (left) and patient (right) blocks.
	colW := contentW / 2
	top := pdf.GetY()
	c.block(pdf, tr, marginLeft, top, colW, [][2]string{
		{"Physician", r.Doctor.FullName},
		{"Medical ID", r.Doctor.MedicalID},
		{"Hospital/Clinic", r.Doctor.Hospital},
	})
	leftBottom := pdf.GetY()
	c.block(pdf, tr, marginLeft+colW, top, colW, [][2]string{
		{"Patient Name", r.PatientName},
		{"Patient ID (Email)", r.PatientID},
		{"Age", ageText(r.Age)},
		{"Gender", r.Gender},
	})
	if leftBottom > pdf.GetY() {
		pdf.SetY(leftBottom)
	}
	pdf.Ln(4)

	section(pdf, contentW, "Patient Medical Information")
	rows(pdf, tr, contentW, [][2]string{
		{"Diabetes Duration:", r.DiabetesDuration},
		{"Blood Pressure:", r.BloodPressure},
		{"Medications:", r.Medications},
		{"Other Conditions:", r.OtherConditions},
	})
	pdf.Ln(3)

	section(pdf, contentW, "Screening Results")
	rows(pdf, tr, contentW, [][2]string{
		{"Left Eye Diagnosis:", r.LeftLabel},
		{"Right Eye Diagnosis:", r.RightLabel},
	})
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetTextColor(0xD3, 0x2F, 0x2F)
	pdf.CellFormat(contentW, 7, tr("Overall Assessment: "+orDash(r.CombinedLabel)), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(3)

	section(pdf, contentW, "Fundus Images")
	pdf.Ln(2)
	cellW := (contentW - imageGap) / 2
	imgTop := pdf.GetY()
	c.fundus(pdf, "left", r.ID, r.LeftImageRef, marginLeft, imgTop, cellW, "Left Eye")
	c.fundus(pdf, "right", r.ID, r.RightImageRef, marginLeft+cellW+imageGap, imgTop, cellW, "Right Eye")
	pdf.SetY(imgTop + imageMaxH + 12)

	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(0x80, 0x80, 0x80)
	pdf.MultiCell(contentW, 4, Disclaimer, "", "C", false)
	_, pageH := pdf.GetPageSize()
	pdf.SetY(pageH - marginBottom - 4)
	pdf.CellFormat(contentW, 4, "Report ID: "+r.ID, "", 0, "C", false, 0, "")

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCompileFailed, err)
	}
	return buf.Bytes(), nil
}

func (c *Compiler) block(pdf *fpdf.Fpdf, tr func(string) string, x, y, w float64, items [][2]string) {
	pdf.SetXY(x, y)
	for _, it := range items {
		pdf.SetX(x)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(w, 5, it[0], "", 1, "L", false, 0, "")
		pdf.SetX(x)
		pdf.SetFont("Helvetica", "", 9.5)
		pdf.MultiCell(w-4, 5, tr(orDash(it[1])), "", "L", false)
		pdf.Ln(1)
	}
}

func section(pdf *fpdf.Fpdf, w float64, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetTextColor(0x0D, 0x47, 0xA1)
	pdf.CellFormat(w, 7, title, "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

func rows(pdf *fpdf.Fpdf, tr func(string) string, w float64, items [][2]string) {
	for _, it := range items {
		y := pdf.GetY()
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(labelWidth, 6, it[0], "", 0, "L", false, 0, "")
		pdf.SetXY(marginLeft+labelWidth, y)
		pdf.SetFont("Helvetica", "", 9.5)
		pdf.MultiCell(w-labelWidth, 6, tr(orDash(it[1])), "", "L", false)
	}
}

// fundus draws one image cell with its caption, or the placeholder.
// A document that has already failed is left untouched so Output reports
// the original error.
func (c *Compiler) fundus(pdf *fpdf.Fpdf, name, reportID, ref string, x, y, w float64, caption string) {
	if pdf.Err() {
		return
	}
	data, bounds, err := c.loadImage(ref)
	if err == nil {
		pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(data))
		if pdf.Err() {
			err = pdf.Error()
			pdf.ClearError()
		}
	}

	if err != nil {
		c.logger.Warn().Err(err).Str("report_id", reportID).Str("side", name).Msg("fundus image replaced by placeholder")
		pdf.SetDrawColor(0xC0, 0xC0, 0xC0)
		pdf.Rect(x, y, w, imageMaxH, "D")
		pdf.SetXY(x, y+imageMaxH/2-3)
		pdf.SetFont("Helvetica", "I", 9.5)
		pdf.CellFormat(w, 6, Placeholder, "", 0, "C", false, 0, "")
	} else {
		dw, dh := fitBox(float64(bounds.Dx()), float64(bounds.Dy()), w, imageMaxH)
		pdf.ImageOptions(name, x+(w-dw)/2, y+(imageMaxH-dh)/2, dw, dh, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	}

	pdf.SetXY(x, y+imageMaxH+2)
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(w, 5, caption, "", 0, "C", false, 0, "")
}

// loadImage reads a stored image and re-encodes it as a bounded PNG so the
// embedded stream does not depend on the upload's original encoding.
func (c *Compiler) loadImage(ref string) ([]byte, image.Rectangle, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, image.Rectangle{}, fmt.Errorf("%w: empty image reference", apperr.ErrArtifactMissing)
	}
	if c.images == nil {
		return nil, image.Rectangle{}, fmt.Errorf("%w: no image source", apperr.ErrArtifactMissing)
	}
	rc, err := c.images.Open(ref)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	defer rc.Close()

	img, _, err := imaging.Decode(rc)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	img = imaging.Fit(img, imageMaxPixel, imageMaxPixel)
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	return data, img.Bounds(), nil
}

// fitBox scales (w, h) to fit inside (maxW, maxH), keeping aspect ratio.
func fitBox(w, h, maxW, maxH float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return maxW, maxH
	}
	scale := maxW / w
	if s := maxH / h; s < scale {
		scale = s
	}
	return w * scale, h * scale
}

func ageText(age int) string {
	if age <= 0 {
		return ""
	}
	return strconv.Itoa(age)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
