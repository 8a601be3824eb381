package market

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain failure. The HTTP status mapping lives in the
// API layer; the core only distinguishes kinds and stable codes.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindPermission
	KindConflict
	KindInvalidState
	KindSelfReference
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid_state"
	case KindSelfReference:
		return "self_reference"
	default:
		return "unknown"
	}
}

// Error is a typed domain failure. Code is a stable snake_case identifier
// suitable for client-side branching, distinct from the human-readable
// message.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is makes two domain errors equivalent when kind and code match, so
// sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind && e.Code == other.Code
}

func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf extracts the ErrorKind from err, or 0 when err is not a domain error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf extracts the stable code from err, or "" for non-domain errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

var (
	ErrTaskNotFound         = NewError(KindNotFound, "task_not_found", "task not found")
	ErrRequestNotFound      = NewError(KindNotFound, "request_not_found", "request not found")
	ErrChannelNotFound      = NewError(KindNotFound, "channel_not_found", "channel not found")
	ErrNotificationNotFound = NewError(KindNotFound, "notification_not_found", "notification not found")

	ErrActiveTaskExists  = NewError(KindConflict, "active_task_exists", "user already has an active task")
	ErrDuplicateRequest  = NewError(KindConflict, "duplicate_request", "a request for this task already exists")
	ErrDuplicateRating   = NewError(KindConflict, "duplicate_rating", "this task was already rated for this user")
	ErrTaskNotOpen       = NewError(KindInvalidState, "task_not_open", "task is no longer open")
	ErrTaskAlreadyClosed = NewError(KindInvalidState, "task_closed", "task is already closed")
	ErrTaskNotInProgress = NewError(KindInvalidState, "task_not_in_progress", "task is not in progress")
	ErrTaskNotClosed     = NewError(KindInvalidState, "task_not_closed", "task is not closed")
	ErrRequestNotPending = NewError(KindInvalidState, "request_not_pending", "request was already processed")

	ErrOwnTask    = NewError(KindSelfReference, "own_task", "cannot request your own task")
	ErrSelfRating = NewError(KindSelfReference, "self_rating", "cannot rate yourself")

	ErrNotTaskCreator = NewError(KindPermission, "not_task_creator", "only the task creator may do this")
)

// ChatDenied converts a policy denial into a permission error whose code is
// the denial reason itself.
func ChatDenied(reason ChatDenialReason) *Error {
	return NewError(KindPermission, string(reason), "chat access denied")
}
