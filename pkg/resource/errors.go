package resource

import (
	"errors"
	"fmt"
)

// ErrorClass partitions resource errors for handling policy. Operational
// classes flow through the flight error model; invariant errors indicate a
// code or schema mismatch and are never retried.
type ErrorClass string

const (
	// ErrorClassConflict indicates the request collides with existing state:
	// duplicate names, concurrent operations in progress.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassNotFound indicates the referenced row does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassPrecondition indicates a hard precondition is missing,
	// such as creating a controlled resource without a cloud context.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassInvariant indicates a programming error: an illegal state
	// transition, a zero-field update, an unknown type identifier.
	ErrorClassInvariant ErrorClass = "invariant"
)

// Error is a classified resource-layer error with optional identity context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code is a stable code for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// WorkspaceID and ResourceID identify the resource involved, if known.
	WorkspaceID string `json:"workspace_id,omitempty"`
	ResourceID  string `json:"resource_id,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.WorkspaceID != "" && e.ResourceID != "" {
		return fmt.Sprintf("[%s] %s (workspace=%s, resource=%s)", e.Class, e.Message, e.WorkspaceID, e.ResourceID)
	}
	if e.WorkspaceID != "" {
		return fmt.Sprintf("[%s] %s (workspace=%s)", e.Class, e.Message, e.WorkspaceID)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on class and code so sentinel-style comparisons work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithIdentity attaches resource identity context to an error.
func (e *Error) WithIdentity(workspaceID, resourceID string) *Error {
	e.WorkspaceID = workspaceID
	e.ResourceID = resourceID
	return e
}

// Stable error codes.
const (
	ErrCodeDuplicateResource    = "DUPLICATE_RESOURCE"
	ErrCodeResourceNotFound     = "RESOURCE_NOT_FOUND"
	ErrCodeCloudContextRequired = "CLOUD_CONTEXT_REQUIRED"
	ErrCodeResourceBusy         = "RESOURCE_BUSY"
	ErrCodeInvalidTransition    = "INVALID_STATE_TRANSITION"
	ErrCodeUnknownType          = "UNKNOWN_RESOURCE_TYPE"
	ErrCodeInvalidUpdate        = "INVALID_UPDATE"
	ErrCodeInvalidField         = "INVALID_FIELD"
)

// NewDuplicateResourceError reports a name or id collision within a workspace.
func NewDuplicateResourceError(message string) *Error {
	return &Error{Class: ErrorClassConflict, Code: ErrCodeDuplicateResource, Message: message}
}

// NewResourceNotFoundError reports a lookup miss.
func NewResourceNotFoundError(message string) *Error {
	return &Error{Class: ErrorClassNotFound, Code: ErrCodeResourceNotFound, Message: message}
}

// NewCloudContextRequiredError reports controlled-resource creation without a
// provisioned cloud context for the workspace and platform.
func NewCloudContextRequiredError(message string) *Error {
	return &Error{Class: ErrorClassPrecondition, Code: ErrCodeCloudContextRequired, Message: message}
}

// NewResourceBusyError reports a concurrent operation already in flight
// against the resource. Raised synchronously at submission time.
func NewResourceBusyError(message string) *Error {
	return &Error{Class: ErrorClassConflict, Code: ErrCodeResourceBusy, Message: message}
}

// NewInvalidTransitionError reports an illegal lifecycle transition request.
func NewInvalidTransitionError(from, to State) *Error {
	return &Error{
		Class:   ErrorClassInvariant,
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("invalid resource state transition %s -> %s", from, to),
	}
}

// NewUnknownTypeError reports a type identifier with no registered
// descriptor. This defends against rows written by a different code version.
func NewUnknownTypeError(t Type) *Error {
	return &Error{
		Class:   ErrorClassInvariant,
		Code:    ErrCodeUnknownType,
		Message: fmt.Sprintf("unknown resource type %q", t),
	}
}

// NewInvalidUpdateError reports an update call with nothing to change.
func NewInvalidUpdateError(message string) *Error {
	return &Error{Class: ErrorClassInvariant, Code: ErrCodeInvalidUpdate, Message: message}
}

// NewInvalidFieldError reports a model field that fails validation.
func NewInvalidFieldError(message string) *Error {
	return &Error{Class: ErrorClassInvariant, Code: ErrCodeInvalidField, Message: message}
}

func isCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsDuplicate returns true for duplicate name/id errors.
func IsDuplicate(err error) bool { return isCode(err, ErrCodeDuplicateResource) }

// IsNotFound returns true for lookup misses.
func IsNotFound(err error) bool { return isCode(err, ErrCodeResourceNotFound) }

// IsCloudContextRequired returns true when the cloud-context precondition failed.
func IsCloudContextRequired(err error) bool { return isCode(err, ErrCodeCloudContextRequired) }

// IsBusy returns true for concurrent-operation conflicts.
func IsBusy(err error) bool { return isCode(err, ErrCodeResourceBusy) }

// IsUnknownType returns true for unregistered type identifiers.
func IsUnknownType(err error) bool { return isCode(err, ErrCodeUnknownType) }

// IsInvariant returns true for programming-error-class failures.
func IsInvariant(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassInvariant
	}
	return false
}
