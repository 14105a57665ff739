package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/visionai/drscreen/internal/platform/auth"
)

// AuditEntry records one access to a screening report.
type AuditEntry struct {
	RequestID string
	UserID    string
	Username  string
	UserRoles []string
	ReportID  string
	Action    string // view, download, regenerate, create
	Method    string
	Path      string
	IPAddress string
	Status    int
	Timestamp time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request that reaches a report: who asked, for which
// report, what they did and what they got back. Denied attempts are logged
// at warn level. Mount it on the route groups that expose patient data.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			req := c.Request()
			ctx := req.Context()
			entry := AuditEntry{
				UserID:    auth.UserIDFromContext(ctx),
				Username:  auth.UsernameFromContext(ctx),
				UserRoles: auth.RolesFromContext(ctx),
				ReportID:  c.Param("id"),
				Action:    auditAction(req),
				Method:    req.Method,
				Path:      req.URL.Path,
				IPAddress: c.RealIP(),
				Status:    c.Response().Status,
				Timestamp: time.Now().UTC(),
			}
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				entry.Status = he.Code
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if entry.Status == http.StatusNotFound || entry.Status == http.StatusForbidden || entry.Status == http.StatusUnauthorized {
				evt = logger.Warn()
			}
			evt.
				Str("type", "report_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("username", entry.Username).
				Strs("user_roles", entry.UserRoles).
				Str("report_id", entry.ReportID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.Status).
				Msg("report_access")

			return err
		}
	}
}

// auditAction names what the request does to the report.
func auditAction(req *http.Request) string {
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		switch req.URL.Query().Get("action") {
		case "download":
			return "download"
		case "view":
			return "view"
		}
		return "read"
	case http.MethodPost:
		if strings.HasSuffix(req.URL.Path, "/regenerate") {
			return "regenerate"
		}
		return "create"
	default:
		return "other"
	}
}
