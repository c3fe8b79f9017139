package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/claimsync/internal/platform/auth"
)

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

// =========== RequestID ===========

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	h := RequestID()(func(c echo.Context) error {
		seen = GetRequestID(c)
		return ok(c)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == "" {
		t.Error("expected request_id to be generated")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("expected response header %q, got %q", seen, rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := RequestID()(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", got)
	}
}

// =========== Logger ===========

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "alice", []string{auth.RoleBilling}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := RequestID()(Logger(logger)(ok))(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON log line, got %q", buf.String())
	}
	if line["user_id"] != "alice" || line["path"] != "/api/v1/claims" || line["status"] != float64(200) {
		t.Errorf("unexpected log line %v", line)
	}
	if line["level"] != "info" {
		t.Errorf("expected info level, got %v", line["level"])
	}
}

func TestLogger_WritesHandlerError(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims/x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Logger(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "claim not found")
	})
	if err := h(c); err != nil {
		t.Fatalf("expected the error to be handled, got %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("expected warn level for a 4xx, got %s", buf.String())
	}
}

// =========== Recovery ===========

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("test panic")
	})(c)

	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	if !strings.Contains(buf.String(), "test panic") {
		t.Errorf("expected the panic value in the log, got %s", buf.String())
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), httptest.NewRecorder())
	if err := Recovery(zerolog.Nop())(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// =========== BodyLimit ===========

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"10MB", 10 << 20},
		{"512K", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"invalid", 1 << 20},
		{"-5", 1 << 20},
	}
	for _, tt := range tests {
		if got := parseLimit(tt.input); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestBodyLimit(t *testing.T) {
	readAll := func(c echo.Context) error {
		if _, err := io.ReadAll(c.Request().Body); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
	body := bytes.Repeat([]byte("x"), 2048)

	tests := []struct {
		name    string
		path    string
		length  bool
		wantErr int
	}{
		{"json under limit", "/api/v1/claims", true, 0},
		{"json over limit", "/api/v1/claims", true, http.StatusRequestEntityTooLarge},
		{"json over limit without length", "/api/v1/claims", false, http.StatusRequestEntityTooLarge},
		{"x12 upload uses larger limit", "/api/v1/ingest", true, 0},
		{"decode uses larger limit", "/api/v1/x12/decode/", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := body
			if tt.name == "json under limit" {
				payload = body[:512]
			}
			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewReader(payload))
			if !tt.length {
				req.ContentLength = -1
			}
			c := echo.New().NewContext(req, httptest.NewRecorder())

			err := BodyLimit("1K", "4K")(readAll)(c)
			if tt.wantErr == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var httpErr *echo.HTTPError
			if !errors.As(err, &httpErr) || httpErr.Code != tt.wantErr {
				t.Fatalf("expected %d, got %v", tt.wantErr, err)
			}
		})
	}
}

// =========== RateLimit ===========

func TestRateLimit(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(ok)

	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/claims", nil)
		if user != "" {
			req = req.WithContext(auth.WithIdentity(req.Context(), user, nil))
		}
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if err := h(c); err != nil {
			e.HTTPErrorHandler(err, c)
		}
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := call("alice"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := call("alice")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "1" {
		t.Errorf("expected X-RateLimit-Limit 1, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}

	if rec := call("bob"); rec.Code != http.StatusOK {
		t.Errorf("expected a separate bucket per user, got %d", rec.Code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(RateLimitConfig{})(ok)
	e := echo.New()
	for i := 0; i < 100; i++ {
		if err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

// =========== RequestTimeout ===========

func TestRequestTimeout(t *testing.T) {
	slow := func(c echo.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return ok(c)
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/claims", nil), httptest.NewRecorder())
	if err := RequestTimeout(5 * time.Second)(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/claims", nil), httptest.NewRecorder())
	err := RequestTimeout(50 * time.Millisecond)(slow)(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}

	var deadline bool
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/ingest/poll", nil), httptest.NewRecorder())
	err = RequestTimeout(50*time.Millisecond, "/api/v1/ingest/poll")(func(c echo.Context) error {
		_, deadline = c.Request().Context().Deadline()
		return ok(c)
	})(c)
	if err != nil || deadline {
		t.Errorf("expected skipped path to run without a deadline, err=%v deadline=%v", err, deadline)
	}
}

// =========== Audit ===========

func TestAudit_RecordsMutations(t *testing.T) {
	var entries []AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		entries = append(entries, entry)
		return nil
	})
	e := echo.New()
	mw := Audit(zerolog.Nop(), recorder)

	run := func(method, path string) {
		req := httptest.NewRequest(method, path, nil)
		req = req.WithContext(auth.WithIdentity(context.Background(), "alice", []string{auth.RoleBilling}))
		c := e.NewContext(req, httptest.NewRecorder())
		if err := mw(ok)(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	run(http.MethodGet, "/api/v1/claims")
	run(http.MethodPost, "/api/v1/claims/6f1c1e2a-4b9d-4a36-9a53-0d4f7f9f5a11/submit")
	run(http.MethodPost, "/health")

	if len(entries) != 1 {
		t.Fatalf("expected only the submit to be audited, got %d entries", len(entries))
	}
	got := entries[0]
	if got.UserID != "alice" || got.Resource != "claims" || got.Action != "submit" ||
		got.ResourceID != "6f1c1e2a-4b9d-4a36-9a53-0d4f7f9f5a11" || got.StatusCode != http.StatusOK {
		t.Errorf("unexpected entry %+v", got)
	}
}

func TestAudit_RecorderFailureDoesNotFailRequest(t *testing.T) {
	var buf bytes.Buffer
	recorder := AuditRecorderFunc(func(AuditEntry) error { return errors.New("disk full") })
	c := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil), httptest.NewRecorder())

	if err := Audit(zerolog.New(&buf), recorder)(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected the recorder failure to be logged, got %s", buf.String())
	}
}

func TestParseAuditPath(t *testing.T) {
	tests := []struct {
		path                 string
		resource, id, action string
	}{
		{"/api/v1/claims", "claims", "", "create"},
		{"/api/v1/claims/6f1c1e2a-4b9d-4a36-9a53-0d4f7f9f5a11/void", "claims", "6f1c1e2a-4b9d-4a36-9a53-0d4f7f9f5a11", "void"},
		{"/api/v1/ingest/poll", "ingest", "", "poll"},
		{"/api/v1/x12/decode", "x12", "", "decode"},
	}
	for _, tt := range tests {
		resource, id, action := parseAuditPath(tt.path)
		if resource != tt.resource || id != tt.id || action != tt.action {
			t.Errorf("parseAuditPath(%q) = %q, %q, %q", tt.path, resource, id, action)
		}
	}
}
