package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telehealth/rxdesk/internal/platform/auth"
	"github.com/telehealth/rxdesk/internal/platform/db"
)

const apiPrefix = "/api/v1/"

// AuditEntry captures who touched which patient-bearing resource, when, and
// from where.
type AuditEntry struct {
	TenantID     string
	UserID       string
	UserRoles    []string
	ResourceType string
	PatientID    string
	QueueKind    string
	QueueItemID  string
	Action       string // read, create, update, delete
	IPAddress    string
	UserAgent    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder receives every audit entry in addition to the log line.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs PHI access for every /api/v1/* request after the handler runs.
// Without a recorder it only emits the structured log line.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !auditable(path) {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:    time.Now().UTC(),
				TenantID:     db.TenantFromContext(ctx),
				UserID:       auth.UserIDFromContext(ctx),
				UserRoles:    auth.RolesFromContext(ctx),
				Path:         path,
				Method:       req.Method,
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				StatusCode:   c.Response().Status,
				Action:       actionFor(req.Method),
				ResourceType: resourceOf(path),
				PatientID:    patientOf(c),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			entry.QueueKind, entry.QueueItemID = queueRefOf(path)

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

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource_type", entry.ResourceType).
				Str("patient_id", entry.PatientID).
				Str("queue_kind", entry.QueueKind).
				Str("queue_item_id", entry.QueueItemID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func auditable(path string) bool {
	return strings.HasPrefix(path, apiPrefix)
}

func actionFor(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceOf returns the first path segment under /api/v1/.
func resourceOf(path string) string {
	if !strings.HasPrefix(path, apiPrefix) {
		return "unknown"
	}
	segments := strings.Split(strings.TrimPrefix(path, apiPrefix), "/")
	if segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// patientOf reads /api/v1/patients/<uuid> or ?patient_id=<uuid>.
func patientOf(c echo.Context) string {
	path := c.Request().URL.Path
	if rest, ok := strings.CutPrefix(path, apiPrefix+"patients/"); ok {
		seg, _, _ := strings.Cut(rest, "/")
		if isUUIDLike(seg) {
			return seg
		}
	}
	if pid := c.QueryParam("patient_id"); isUUIDLike(pid) {
		return pid
	}
	return ""
}

// queueRefOf reads /api/v1/rx-queue/<kind>/<uuid>[/...].
func queueRefOf(path string) (kind, id string) {
	rest, ok := strings.CutPrefix(path, apiPrefix+"rx-queue/")
	if !ok {
		return "", ""
	}
	segments := strings.Split(rest, "/")
	if len(segments) < 2 || !isUUIDLike(segments[1]) {
		return "", ""
	}
	return segments[0], segments[1]
}

func isUUIDLike(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
