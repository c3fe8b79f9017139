package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/claimsync/internal/platform/auth"
)

// AuditEntry records who changed what through the API.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Action     string
	Resource   string
	ResourceID string
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
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

// Audit logs every mutating /api/v1 request after it completes. Reads are
// already covered by the request log. Each recorder also receives the
// entry; a recorder failure is logged and does not fail the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") || !isMutating(req.Method) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			resource, id, action := parseAuditPath(req.URL.Path)
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Action:     action,
				Resource:   resource,
				ResourceID: id,
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				RequestID:  GetRequestID(c),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("api_change")

			return err
		}
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// parseAuditPath splits an API path into resource, id and action:
//
//	/api/v1/claims                    -> claims, "", create
//	/api/v1/claims/<id>/submit        -> claims, <id>, submit
//	/api/v1/reconciliation/<id>/resolve -> reconciliation, <id>, resolve
//	/api/v1/ingest/poll               -> ingest, "", poll
func parseAuditPath(path string) (resource, id, action string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	resource = segments[0]
	action = "create"
	rest := segments[1:]
	if len(rest) > 0 {
		if _, err := uuid.Parse(rest[0]); err == nil {
			id = rest[0]
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		action = rest[len(rest)-1]
	}
	return resource, id, action
}
