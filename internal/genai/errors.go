package genai

import (
	"errors"
	"fmt"
)

// Class buckets a backend failure into the taxonomy the fallback resolver
// acts on. Classification happens here, at the client, so callers never see
// raw upstream errors.
type Class string

const (
	// ClassNotFound means the model is unavailable to this credential.
	ClassNotFound Class = "not_found"
	// ClassRateLimited means the upstream throttled the call.
	ClassRateLimited Class = "rate_limited"
	// ClassQuotaExceeded means the credential's quota is spent.
	ClassQuotaExceeded Class = "quota_exceeded"
	// ClassOverloaded means transient upstream capacity exhaustion.
	ClassOverloaded Class = "overloaded"
	// ClassContentRejected means a safety or policy refusal. The upstream
	// may have returned a text explanation instead of the artifact.
	ClassContentRejected Class = "content_rejected"
	// ClassTransport covers network failures and timeouts.
	ClassTransport Class = "transport"
	ClassUnknown   Class = "unknown"
)

// Error is a classified backend failure for one specific model candidate.
type Error struct {
	Class   Class
	Model   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("genai: %s (%s): %s", e.Class, e.Model, e.Message)
}

func newError(class Class, model, format string, args ...interface{}) *Error {
	return &Error{Class: class, Model: model, Message: fmt.Sprintf(format, args...)}
}

// ClassOf extracts the classification from an error, defaulting to
// ClassUnknown for anything that did not come out of this package.
// Wrapped classified errors keep their class.
func ClassOf(err error) Class {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassUnknown
}
