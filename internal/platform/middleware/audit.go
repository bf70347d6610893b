package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sgfc/sgfc/internal/platform/auth"
)

// AccessEntry records one staff request touching patient data.
type AccessEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	EntryID    int64
	Action     string
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AccessRecorder persists access entries somewhere other than the log.
type AccessRecorder interface {
	RecordAccess(entry AccessEntry) error
}

type AccessRecorderFunc func(entry AccessEntry) error

func (f AccessRecorderFunc) RecordAccess(entry AccessEntry) error {
	return f(entry)
}

// AccessAudit logs every /api/v1/ request with the authenticated user and
// the waiting-list entry it touched. The public lookup is anonymized and
// is not audited here.
func AccessAudit(logger zerolog.Logger, recorder AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			entry := AccessEntry{
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Resource:   resourceOf(req.URL.Path),
				EntryID:    entryIDOf(c),
				Action:     actionOf(req.Method),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Path:       req.URL.Path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				RequestID:  requestID(c),
				StatusCode: status,
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record access")
				}
			}

			logger.Info().
				Str("type", "data_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Int64("entry_id", entry.EntryID).
				Str("action", entry.Action).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("data_access")

			return err
		}
	}
}

func actionOf(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}

// resourceOf returns the first path segment after /api/v1/ and the second
// when it names a collection, e.g. "waitlist/entries" or "catalog/patients".
func resourceOf(path string) string {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	switch {
	case len(segs) == 0 || segs[0] == "":
		return "unknown"
	case len(segs) == 1:
		return segs[0]
	}
	return segs[0] + "/" + segs[1]
}

// entryIDOf reads the :id route parameter on waiting-list entry routes.
func entryIDOf(c echo.Context) int64 {
	if !strings.HasPrefix(c.Request().URL.Path, "/api/v1/waitlist/entries/") {
		return 0
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
