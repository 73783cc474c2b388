package kyc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind enumerates every failure the verification pipeline can surface.
// The set is closed: boundary layers switch over it exhaustively to pick a
// caller-visible representation.
type ErrorKind int

const (
	ErrValidation ErrorKind = iota
	ErrImageSource
	ErrModelUnavailable
	ErrNoFaceDetected
	ErrMatchFailed
	ErrNotFound
	ErrAccessDenied
)

// String returns the stable name of the kind used in logs and responses.
func (k ErrorKind) String() string {
	switch k {
	case ErrValidation:
		return "validation"
	case ErrImageSource:
		return "image_source"
	case ErrModelUnavailable:
		return "model_unavailable"
	case ErrNoFaceDetected:
		return "no_face_detected"
	case ErrMatchFailed:
		return "match_failed"
	case ErrNotFound:
		return "not_found"
	case ErrAccessDenied:
		return "access_denied"
	default:
		return "unknown"
	}
}

// MatchDetail carries the numeric outcome of a failed comparison so callers
// can render why the match was rejected, not just that it was.
type MatchDetail struct {
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
}

// Error is the single error type crossing component boundaries in the
// verification pipeline. Detail fields are populated per kind and forwarded
// verbatim; nothing re-wraps or discards them on the way up.
type Error struct {
	Kind          ErrorKind
	Message       string
	MissingFields []string
	Match         *MatchDetail
	Err           error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if len(e.MissingFields) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.MissingFields, ", "))
	}
	if e.Match != nil {
		msg = fmt.Sprintf("%s (distance=%.6f threshold=%.6f)", msg, e.Match.Distance, e.Match.Threshold)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a pipeline error of the given kind wrapping an optional cause.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// NewValidationError reports the required submission fields that were missing.
func NewValidationError(missing []string) *Error {
	return &Error{
		Kind:          ErrValidation,
		Message:       "missing required fields",
		MissingFields: missing,
	}
}

// NewMatchFailed reports a comparison whose distance did not clear the threshold.
func NewMatchFailed(distance, threshold float64) *Error {
	return &Error{
		Kind:    ErrMatchFailed,
		Message: "face verification failed",
		Match:   &MatchDetail{Distance: distance, Threshold: threshold},
	}
}

// KindOf extracts the pipeline error kind, reporting ok=false for foreign errors.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given pipeline error kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
