package attendance

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Error kinds returned by the backend client, the queue and the tracker.
var (
	ErrConnectivity     = errors.New("no network path to the attendance backend")
	ErrAlreadyProcessed = errors.New("action already processed")
	ErrValidation       = errors.New("validation failed")
	ErrRateLimited      = errors.New("rate limited by backend")
	ErrUnexpectedServer = errors.New("unexpected server error")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionChanged   = errors.New("session changed while request was in flight")
	ErrDrainInProgress  = errors.New("offline queue drain in progress")
	ErrActionInProgress = errors.New("another attendance action is in progress")
	ErrActionNotAllowed = errors.New("action not allowed in current attendance state")
	ErrUnknownEvent     = errors.New("unknown realtime event")
	ErrUnknownEventType = errors.New("unknown pending event type")
)

// messages the backend returns when a replayed punch was already applied
var alreadyProcessedMarkers = []string{
	"already checked in today",
	"already checked out today",
	"already on break",
}

// APIError carries the backend's message together with its classified kind.
type APIError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%v: %s (status %d)", e.Kind, e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Kind }

// Classify maps a backend response or transport failure onto the error kinds above.
// It returns nil for a successful status without transport error.
func Classify(status int, message string, transportErr error) error {
	if transportErr != nil {
		switch {
		case errors.Is(transportErr, ErrNotAuthenticated):
			return &APIError{Kind: ErrNotAuthenticated, Message: transportErr.Error()}
		case errors.Is(transportErr, context.Canceled):
			return transportErr
		}
		return &APIError{Kind: ErrConnectivity, Message: transportErr.Error()}
	}
	lower := strings.ToLower(message)
	for _, marker := range alreadyProcessedMarkers {
		if strings.Contains(lower, marker) {
			return &APIError{Kind: ErrAlreadyProcessed, StatusCode: status, Message: message}
		}
	}
	if status >= 200 && status < 300 {
		return nil
	}
	switch {
	case status == http.StatusUnauthorized:
		return &APIError{Kind: ErrNotAuthenticated, StatusCode: status, Message: message}
	case status == http.StatusTooManyRequests:
		return &APIError{Kind: ErrRateLimited, StatusCode: status, Message: message}
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity,
		status == http.StatusConflict, status == http.StatusForbidden:
		return &APIError{Kind: ErrValidation, StatusCode: status, Message: message}
	}
	return &APIError{Kind: ErrUnexpectedServer, StatusCode: status, Message: message}
}

// Queueable reports whether a failed mutating action should go to the offline queue.
// A server failure cannot be told apart from a broken network path, so both qualify.
func Queueable(err error) bool {
	return errors.Is(err, ErrConnectivity) || errors.Is(err, ErrUnexpectedServer)
}

// Message returns the backend message of err when it has one.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
