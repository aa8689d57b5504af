package web

// errors.go turns handler errors into responses.
//
// Every error is logged with its technical detail and request ID, then
// mapped through importer.MapError so the client only sees a friendly
// message, an action and a support code. API routes answer with JSON,
// pages with the templ error page.

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/issueimport/internal/importer"
	"github.com/JonMunkholm/issueimport/internal/logging"
	"github.com/JonMunkholm/issueimport/internal/tabular"
	"github.com/JonMunkholm/issueimport/internal/tracker"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// errBadRequest marks problems with the request itself rather than the payload.
var errBadRequest = errors.New("bad request")

// statusFor picks the HTTP status for an error returned by the service.
func statusFor(err error) int {
	var inputErr *importer.InputError
	switch {
	case errors.Is(err, importer.ErrNoBatch), errors.Is(err, tracker.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrStaleBatch), errors.Is(err, importer.ErrBatchInProgress):
		return http.StatusConflict
	case errors.Is(err, importer.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, importer.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &inputErr),
		errors.Is(err, importer.ErrEmptyInput),
		errors.Is(err, importer.ErrMalformedInput),
		errors.Is(err, importer.ErrInvalidMapping),
		errors.Is(err, importer.ErrUniqueFieldRequired),
		errors.Is(err, importer.ErrUnknownUniqueField),
		errors.Is(err, tabular.ErrUnsupportedEncoding),
		errors.Is(err, tabular.ErrInvalidFormat),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes a friendly response in the format the
// route calls for.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := importer.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if wantsJSON(r) {
		respondErrorJSON(w, userMsg, status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := errorPage(userMsg).Render(r.Context(), w); err != nil {
		logger.Error("render error page", "error", err)
	}
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg importer.UserMessage, status int) {
	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// wantsJSON reports whether the client should get a JSON error.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
