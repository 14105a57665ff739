package screening

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/visionai/drscreen/internal/domain/encounter"
	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/auth"
)

type Handler struct {
	workflow  *Workflow
	retriever *Retriever
	regen     *Regenerator
}

func NewHandler(w *Workflow, rt *Retriever, g *Regenerator) *Handler {
	return &Handler{workflow: w, retriever: rt, regen: g}
}

// RegisterRoutes mounts the screening endpoints. audit, when given, wraps
// the report routes.
func (h *Handler) RegisterRoutes(api *echo.Group, audit ...echo.MiddlewareFunc) {
	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/screenings", h.Submit)

	reports := api.Group("/reports", append([]echo.MiddlewareFunc{auth.RequireRole(auth.RoleDoctor, auth.RolePatient)}, audit...)...)
	reports.GET("/:id", h.GetReport)
	reports.GET("/:id/file", h.GetReportFile)
	reports.POST("/:id/regenerate", h.Regenerate, auth.RequireRole(auth.RoleDoctor))
}

type submitResponse struct {
	ReportID        uuid.UUID            `json:"report_id"`
	State           State                `json:"state"`
	ReportAvailable bool                 `json:"report_available"`
	Warning         string               `json:"warning,omitempty"`
	Encounter       *encounter.Encounter `json:"encounter"`
}

// Submit accepts a multipart screening form: the clinical fields plus
// left_image and right_image files.
func (h *Handler) Submit(c echo.Context) error {
	ctx := c.Request().Context()
	r, err := encounter.RequesterFromContext(ctx)
	if err != nil {
		return apperr.HTTP(err)
	}
	sub, err := submissionFromForm(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	res, err := h.workflow.Submit(ctx, r, sub)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, submitResponse{
		ReportID:        res.Encounter.ID,
		State:           res.State,
		ReportAvailable: res.State == StateReportCompiled,
		Warning:         res.Warning,
		Encounter:       res.Encounter,
	})
}

func submissionFromForm(c echo.Context) (Submission, error) {
	sub := Submission{
		PatientName:      c.FormValue("patient_name"),
		PatientID:        c.FormValue("patient_id"),
		Gender:           c.FormValue("gender"),
		DiabetesDuration: c.FormValue("diabetes_duration"),
		BloodPressure:    c.FormValue("blood_pressure"),
		Medications:      c.FormValue("medications"),
		OtherConditions:  c.FormValue("other_conditions"),
	}
	if s := strings.TrimSpace(c.FormValue("age")); s != "" {
		age, err := strconv.Atoi(s)
		if err != nil {
			return sub, fmt.Errorf("%w: age must be a whole number", apperr.ErrInvalidInput)
		}
		sub.Age = &age
	}

	var err error
	if sub.Left, err = formUpload(c, "left_image"); err != nil {
		return sub, err
	}
	if sub.Right, err = formUpload(c, "right_image"); err != nil {
		return sub, err
	}
	return sub, nil
}

func formUpload(c echo.Context, field string) (Upload, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return Upload{}, fmt.Errorf("%w: %s is required", apperr.ErrInvalidInput, field)
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return Upload{}, he
		}
		return Upload{}, fmt.Errorf("%w: %s: %v", apperr.ErrInvalidInput, field, err)
	}
	content, err := readFormFile(fh)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return Upload{}, he
		}
		return Upload{}, fmt.Errorf("%w: %s: %v", apperr.ErrUploadFailed, field, err)
	}
	return Upload{Filename: fh.Filename, Content: content}, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func reportID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		// Malformed ids get the same answer as unknown ones.
		return uuid.Nil, apperr.Denial(apperr.ErrNotFound)
	}
	return id, nil
}

type reportResponse struct {
	Encounter       *encounter.Encounter `json:"encounter"`
	ReportAvailable bool                 `json:"report_available"`
	Notice          string               `json:"notice,omitempty"`
}

func (h *Handler) GetReport(c echo.Context) error {
	ctx := c.Request().Context()
	r, err := encounter.RequesterFromContext(ctx)
	if err != nil {
		return apperr.HTTP(err)
	}
	id, err := reportID(c)
	if err != nil {
		return err
	}
	enc, available, err := h.retriever.Detail(ctx, id, r)
	if err != nil {
		return apperr.Denial(err)
	}
	resp := reportResponse{Encounter: enc, ReportAvailable: available}
	if !available {
		resp.Notice = "the report file is not available yet"
	}
	return c.JSON(http.StatusOK, resp)
}

// GetReportFile streams the PDF inline (?action=view) or as an attachment
// (?action=download).
func (h *Handler) GetReportFile(c echo.Context) error {
	ctx := c.Request().Context()
	r, err := encounter.RequesterFromContext(ctx)
	if err != nil {
		return apperr.HTTP(err)
	}
	id, err := reportID(c)
	if err != nil {
		return err
	}
	action, err := ParseAction(c.QueryParam("action"))
	if err != nil {
		return apperr.HTTP(err)
	}

	doc, err := h.retriever.Open(ctx, id, r, action)
	switch {
	case errors.Is(err, apperr.ErrArtifactMissing):
		return echo.NewHTTPError(http.StatusNotFound, "the report file is not available yet").SetInternal(err)
	case err != nil:
		return apperr.Denial(err)
	}

	if doc.Action == ActionDownload {
		return c.Attachment(doc.Path, doc.Filename)
	}
	return c.Inline(doc.Path, doc.Filename)
}

func (h *Handler) Regenerate(c echo.Context) error {
	ctx := c.Request().Context()
	r, err := encounter.RequesterFromContext(ctx)
	if err != nil {
		return apperr.HTTP(err)
	}
	id, err := reportID(c)
	if err != nil {
		return err
	}
	if _, err := h.regen.RegenerateFor(ctx, id, r); err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrForbidden) {
			return apperr.Denial(err)
		}
		if errors.Is(err, apperr.ErrArtifactMissing) {
			return echo.NewHTTPError(http.StatusConflict, "source images for this report are missing").SetInternal(err)
		}
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"report_id": id, "report_available": true})
}
