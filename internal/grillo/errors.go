package grillo

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrLocationNotFound = errors.New("location not found")
	ErrAlreadyClockedIn = errors.New("already clocked in at another location")
	ErrNoActiveSession  = errors.New("no active session")
	ErrAccountNotFound  = errors.New("account not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// Messages the lab service uses for business-rule rejections.
const (
	msgLocationNotFound = "Location not found"
	msgSwitchLocation   = "Must provide summary when switching location"
	msgNoActiveAudit    = "No active audit found for user"
	msgUserNotFound     = "User not found"
)

var knownMessages = map[string]error{
	msgLocationNotFound: ErrLocationNotFound,
	msgSwitchLocation:   ErrAlreadyClockedIn,
	msgNoActiveAudit:    ErrNoActiveSession,
	msgUserNotFound:     ErrAccountNotFound,
}

// NetworkError is a transient failure: the request did not produce a
// usable answer (connection refused, timeout, malformed body).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: lab service unreachable: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceError is a structured rejection reported by the lab service.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// Is lets callers match known service messages with errors.Is.
func (e *ServiceError) Is(target error) bool {
	known, ok := knownMessages[e.Message]
	return ok && known == target
}

// IsNetwork reports whether err is a transient transport failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func newServiceError(status int, msg *string) *ServiceError {
	if msg == nil || *msg == "" {
		return &ServiceError{Status: status, Message: http.StatusText(status)}
	}
	return &ServiceError{Status: status, Message: *msg}
}
