package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/visionai/drscreen/internal/platform/auth"
)

// mockRecorder collects audit entries for assertions.
type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newReportContext(method, target, reportID string, opts ...func(*http.Request)) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(reportID)
	return c, rec
}

func withAuth(userID, username string, roles ...string) func(*http.Request) {
	return func(req *http.Request) {
		ctx := req.Context()
		ctx = context.WithValue(ctx, auth.UserIDKey, userID)
		ctx = context.WithValue(ctx, auth.UsernameKey, username)
		ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
		*req = *req.WithContext(ctx)
	}
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAudit_ReportDownload(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newReportContext(http.MethodGet, "/api/v1/reports/42/file?action=download", "42",
		withAuth("acc-1", "alice@example.com", auth.RolePatient))
	c.Set("request_id", "req-9")

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	got := rec.last()
	if got.UserID != "acc-1" || got.Username != "alice@example.com" {
		t.Errorf("user not captured: %+v", got)
	}
	if got.ReportID != "42" || got.Action != "download" || got.Status != http.StatusOK {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.RequestID != "req-9" {
		t.Errorf("request id = %q", got.RequestID)
	}
	if len(got.UserRoles) != 1 || got.UserRoles[0] != auth.RolePatient {
		t.Errorf("roles = %v", got.UserRoles)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestAudit_Actions(t *testing.T) {
	tests := []struct {
		method string
		target string
		want   string
	}{
		{http.MethodGet, "/api/v1/reports/1", "read"},
		{http.MethodGet, "/api/v1/reports/1/file?action=view", "view"},
		{http.MethodGet, "/api/v1/reports/1/file", "read"},
		{http.MethodPost, "/api/v1/reports/1/regenerate", "regenerate"},
		{http.MethodPost, "/api/v1/screenings", "create"},
		{http.MethodDelete, "/api/v1/reports/1", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if got := auditAction(req); got != tt.want {
				t.Errorf("auditAction = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAudit_DeniedAccessLoggedAsWarning(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	c, _ := newReportContext(http.MethodGet, "/api/v1/reports/7", "7",
		withAuth("acc-2", "bob@example.com", auth.RolePatient))

	denied := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "report not found or access denied")
	}
	err := Audit(zerolog.New(&buf), rec)(denied)(c)
	if err == nil {
		t.Fatal("handler error must propagate")
	}
	if got := rec.last().Status; got != http.StatusNotFound {
		t.Errorf("status = %d, want 404", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"level":"warn"`)) {
		t.Errorf("expected warn level log, got %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"report_id":"7"`)) {
		t.Errorf("expected report id in log, got %s", buf.String())
	}
}

func TestAudit_RecorderErrorDoesNotBreakRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	c, httpRec := newReportContext(http.MethodGet, "/api/v1/reports/1", "1")

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("recorder failure leaked into response: %v", err)
	}
	if httpRec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", httpRec.Code)
	}
}

func TestAudit_NoRecorderLogsOnly(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newReportContext(http.MethodGet, "/api/v1/reports/1", "1")

	if err := Audit(zerolog.New(&buf))(okHandler)(c); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("report_access")) {
		t.Errorf("expected audit log line, got %s", buf.String())
	}
}

func TestAuditRecorderFunc(t *testing.T) {
	var got AuditEntry
	f := AuditRecorderFunc(func(e AuditEntry) error {
		got = e
		return nil
	})
	if err := f.RecordAccess(AuditEntry{ReportID: "x"}); err != nil {
		t.Fatal(err)
	}
	if got.ReportID != "x" {
		t.Errorf("entry not passed through: %+v", got)
	}
}
