package domain

import (
	"errors"
	"time"
)

// Code classifies a failure so transports can map it without string matching.
type Code string

const (
	CodeNotFound          Code = "not_found"
	CodeForbidden         Code = "forbidden"
	CodeUnauthenticated   Code = "unauthenticated"
	CodeInvalidArgument   Code = "invalid_argument"
	CodeInvalidState      Code = "invalid_state"
	CodeAlreadyStarted    Code = "already_started"
	CodeAlreadyExists     Code = "already_exists"
	CodeAlreadyAnswered   Code = "already_answered"
	CodeStaleQuestion     Code = "stale_question"
	CodeCooldownActive    Code = "cooldown_active"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeUnavailable       Code = "unavailable"
	CodeInternal          Code = "internal"
)

// Error is a coded domain error. Two errors match under errors.Is when their codes match.
type Error struct {
	Code    Code
	Message string
	Cause   error
	// RetryAfter is set on cooldown failures.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Cooldown builds a CooldownActive error carrying the remaining wait.
func Cooldown(remaining time.Duration) *Error {
	return &Error{Code: CodeCooldownActive, Message: "prize wheel cooling down", RetryAfter: remaining}
}

// CodeOf extracts the code of the first domain error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

var (
	// ErrSessionNotFound is returned when no session exists under a code.
	ErrSessionNotFound = New(CodeNotFound, "quiz session not found")
	// ErrParticipantNotFound is returned when a user acts on a session before joining.
	ErrParticipantNotFound = New(CodeNotFound, "participant not found in session")
	// ErrQuizNotFound is returned when a library quiz id does not resolve.
	ErrQuizNotFound = New(CodeNotFound, "quiz not found")
	// ErrProfileNotFound indicates the profile collaborator has no record for a user.
	ErrProfileNotFound = New(CodeNotFound, "profile not found")
	// ErrUnknownSessionCode is returned by join when the code does not resolve.
	ErrUnknownSessionCode = New(CodeForbidden, "session code does not resolve to a session")
	// ErrNotCreator is returned when a non-creator tries to drive the session.
	ErrNotCreator = New(CodeForbidden, "only the session creator may do this")
	// ErrItemLocked is returned when selecting an item the user has not unlocked.
	ErrItemLocked = New(CodeForbidden, "item not unlocked")
	// ErrUnauthenticated is returned when no caller identity is present.
	ErrUnauthenticated = New(CodeUnauthenticated, "caller identity required")
	// ErrInvalidState is the generic lifecycle violation.
	ErrInvalidState = New(CodeInvalidState, "operation not valid in current session state")
	// ErrAlreadyStarted is returned when joining a session that has begun.
	ErrAlreadyStarted = New(CodeAlreadyStarted, "session already started")
	// ErrCodeTaken is returned when creating a session under an occupied code.
	ErrCodeTaken = New(CodeAlreadyExists, "session code already in use")
	// ErrItemOwned is returned when unlocking an item the profile already holds.
	ErrItemOwned = New(CodeAlreadyExists, "item already unlocked")
	// ErrAlreadyAnswered is returned for a second answer to the same question.
	ErrAlreadyAnswered = New(CodeAlreadyAnswered, "question already answered")
	// ErrStaleQuestion is returned when the answered index is no longer live.
	ErrStaleQuestion = New(CodeStaleQuestion, "question is no longer current")
	// ErrCooldownActive matches any cooldown failure.
	ErrCooldownActive = New(CodeCooldownActive, "prize wheel cooling down")
	// ErrInsufficientFunds is returned when a purchase exceeds the balance.
	ErrInsufficientFunds = New(CodeInsufficientFunds, "insufficient balance")
	// ErrUnavailable is returned when a backing store cannot be reached.
	ErrUnavailable = New(CodeUnavailable, "store unavailable")
)
