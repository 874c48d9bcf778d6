// internal/game/errors.go
package game

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeNotFound             Code = "NOT_FOUND"
	CodeGone                 Code = "GONE"
	CodeForbidden            Code = "FORBIDDEN"
	CodeNotInRound           Code = "NOT_IN_ROUND"
	CodeVersionConflict      Code = "VERSION_CONFLICT"
	CodeAlreadyApplied       Code = "ALREADY_APPLIED"
	CodeCharacterTaken       Code = "CHARACTER_TAKEN"
	CodeWrongGamerCount      Code = "WRONG_GAMER_COUNT"
	CodeNotInRoomWithPassage Code = "NOT_IN_ROOM_WITH_PASSAGE"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
)

// Error is a rules engine failure scoped to one game and one request.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so wrapped details still satisfy errors.Is(err, ErrX).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

var (
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrGone                 = &Error{Code: CodeGone}
	ErrForbidden            = &Error{Code: CodeForbidden}
	ErrNotInRound           = &Error{Code: CodeNotInRound}
	ErrVersionConflict      = &Error{Code: CodeVersionConflict}
	ErrAlreadyApplied       = &Error{Code: CodeAlreadyApplied}
	ErrCharacterTaken       = &Error{Code: CodeCharacterTaken}
	ErrWrongGamerCount      = &Error{Code: CodeWrongGamerCount}
	ErrNotInRoomWithPassage = &Error{Code: CodeNotInRoomWithPassage}
	ErrInvalidArgument      = &Error{Code: CodeInvalidArgument}
)

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of err, or "" when err is not a rules engine error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
