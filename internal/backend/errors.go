package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrClientClosed is returned by calls started after Close.
var ErrClientClosed = errors.New("backend: client closed")

// ErrToken wraps failures to obtain a bearer token.
var ErrToken = errors.New("backend: bearer token unavailable")

// Error types the service reports in the __type field.
const (
	ErrTypeThrottling     = "ThrottlingException"
	ErrTypeValidation     = "ValidationException"
	ErrTypeAccessDenied   = "AccessDeniedException"
	ErrTypeInternalServer = "InternalServerException"
	ErrTypeNotFound       = "ResourceNotFoundException"
)

// ServiceError is a non-2xx response from the service.
type ServiceError struct {
	StatusCode int
	Type       string
	Message    string
	RequestID  string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: %s (status %d)", e.Type, e.StatusCode)
	}
	return fmt.Sprintf("backend: %s (status %d): %s", e.Type, e.StatusCode, e.Message)
}

// Throttling reports whether the request was rate limited.
func (e *ServiceError) Throttling() bool {
	return e.Type == ErrTypeThrottling || e.StatusCode == http.StatusTooManyRequests
}

// Validation reports whether the service rejected the request shape.
func (e *ServiceError) Validation() bool {
	return e.Type == ErrTypeValidation
}

// Server reports a 5xx failure.
func (e *ServiceError) Server() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

type errorBody struct {
	Type         string `json:"__type"`
	Message      string `json:"message"`
	MessageUpper string `json:"Message"`
}

// decodeServiceError builds a ServiceError from a failed response. The body
// is consumed but not closed.
func decodeServiceError(resp *http.Response) *ServiceError {
	se := &ServiceError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("x-amzn-RequestId"),
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if len(data) > 0 && json.Unmarshal(data, &body) == nil {
		se.Type = body.Type
		se.Message = body.Message
		if se.Message == "" {
			se.Message = body.MessageUpper
		}
	}
	if se.Type == "" {
		se.Type = resp.Header.Get("x-amzn-ErrorType")
	}
	se.Type = sanitizeErrorType(se.Type)
	if se.Type == "" {
		se.Type = http.StatusText(resp.StatusCode)
	}
	return se
}

// sanitizeErrorType strips the namespace prefix and any ":<uri>" suffix,
// so "com.amazon.coral#ThrottlingException:http://..." becomes
// "ThrottlingException".
func sanitizeErrorType(t string) string {
	if i := strings.IndexByte(t, ':'); i >= 0 {
		t = t[:i]
	}
	if i := strings.LastIndexByte(t, '#'); i >= 0 {
		t = t[i+1:]
	}
	return strings.TrimSpace(t)
}
