package graph

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ArgumentError reports a missing or invalid tool argument. Callers render
// it as "Invalid arguments: ..." without contacting Graph.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string { return e.Message }

// Argf builds an ArgumentError from a format string.
func Argf(format string, args ...any) *ArgumentError {
	return &ArgumentError{Message: fmt.Sprintf(format, args...)}
}

// Access error categories.
const (
	ErrorTypeSessionExpired   = "session_expired"
	ErrorTypePermissionDenied = "permission_denied"
	ErrorTypeNotFoundOrDenied = "not_found_or_no_access"
	ErrorTypeAccessError      = "access_error"
)

// AccessError classifies an upstream 401/403/404 into something an end user
// driving an agent can act on.
type AccessError struct {
	StatusCode          int      `json:"statusCode"`
	ErrorCode           string   `json:"errorCode,omitempty"`
	Resource            string   `json:"resource"`
	ErrorType           string   `json:"errorType"`
	UserMessage         string   `json:"userMessage"`
	Action              string   `json:"action"`
	RequiredPermissions []string `json:"requiredPermissions,omitempty"`
	GraphMessage        string   `json:"graphMessage,omitempty"`
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s (HTTP %d): %s", e.ErrorType, e.StatusCode, e.UserMessage)
}

// UpstreamError is the structured shape of any other non-2xx Graph response.
// It is returned to the caller as tool data.
type UpstreamError struct {
	Error   bool   `json:"error"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// graphErrorEnvelope is Graph's standard {error:{code,message}} body.
type graphErrorEnvelope struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		InnerError any    `json:"innerError,omitempty"`
	} `json:"error"`
}

// parseGraphError extracts code and message from a Graph error body. Bodies
// that are not the standard envelope produce empty strings.
func parseGraphError(body []byte) (code, message string) {
	var env graphErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", ""
	}
	return env.Error.Code, env.Error.Message
}

// NewUpstreamError builds the structured error for a non-2xx, non-access
// response.
func NewUpstreamError(status int, body []byte) *UpstreamError {
	code, message := parseGraphError(body)
	if code == "" {
		code = strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
		if code == "" {
			code = "http_error"
		}
	}
	if message == "" {
		message = fmt.Sprintf("Graph request failed with HTTP %d %s", status, http.StatusText(status))
	}

	ue := &UpstreamError{
		Error:   true,
		Status:  status,
		Code:    code,
		Message: message,
	}
	if len(body) > 0 {
		var details any
		if err := json.Unmarshal(body, &details); err == nil {
			ue.Details = details
		} else {
			ue.Details = truncateRunes(string(body), 1000)
		}
	}
	return ue
}

// IsAccessStatus reports whether status is classified as an AccessError.
func IsAccessStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound
}
