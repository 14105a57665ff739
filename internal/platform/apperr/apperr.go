// Package apperr defines the error taxonomy shared by the screening
// workflow, the record stores and the HTTP layer. Call sites wrap one of the
// sentinels with context (which field, which file) and callers match with
// errors.Is.
package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrDuplicateKey          = errors.New("duplicate key")
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrInvalidImage          = errors.New("invalid image")
	ErrUploadFailed          = errors.New("upload failed")
	ErrArtifactMissing       = errors.New("artifact missing")
	ErrArtifactExists        = errors.New("artifact already exists")
	ErrCompileFailed         = errors.New("report compile failed")
)

// GenericDenial is returned for both unknown and invisible reports so that
// a caller cannot probe for the existence of another patient's record.
const GenericDenial = "report not found or access denied"

// Status maps an error onto an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrArtifactMissing):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrArtifactExists):
		return http.StatusConflict
	case errors.Is(err, ErrClassifierUnavailable), errors.Is(err, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTP converts err into an echo HTTP error. Internal failures get a fixed
// message so storage paths and driver errors stay in the logs.
func HTTP(err error) *echo.HTTPError {
	status := Status(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error()).SetInternal(err)
}

// Denial converts a record lookup error into the generic report denial when
// it is a not-found or forbidden condition, and into HTTP(err) otherwise.
func Denial(err error) *echo.HTTPError {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
		return echo.NewHTTPError(http.StatusNotFound, GenericDenial).SetInternal(err)
	}
	return HTTP(err)
}
