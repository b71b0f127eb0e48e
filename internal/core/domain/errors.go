package domain

import (
	"errors"
	"fmt"
)

// --- DOMAIN ERRORS ---

// Sentinels usable with errors.Is. Every *FeedError matches the sentinel of its code.
var (
	ErrEmptyInput       = errors.New("empty input")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrRemoteWrite      = errors.New("remote write rejected")
	ErrNotFound         = errors.New("not found")
)

// ErrSelfFollow is the cause of the REMOTE_WRITE error returned when a viewer targets
// their own account.
var ErrSelfFollow = errors.New("cannot follow yourself")

// ErrorCode categorizes feed errors so the presentation layer can pick a message
// without matching strings.
type ErrorCode string

const (
	CodeEmptyInput       ErrorCode = "EMPTY_INPUT"
	CodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"
	CodeRemoteWrite      ErrorCode = "REMOTE_WRITE"
	CodeNotFound         ErrorCode = "NOT_FOUND"
)

// FeedError is returned by every engine operation.
type FeedError struct {
	Code ErrorCode

	// Op is the operation that failed ("like", "comment", "follow", ...).
	Op string

	// Ref is the post or author id the operation referenced, if any.
	Ref string

	// Field names the blank input for EMPTY_INPUT errors.
	Field string

	// Err is the underlying cause for REMOTE_WRITE errors.
	Err error
}

func (e *FeedError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Code)
	if e.Ref != "" {
		msg += fmt.Sprintf(" (ref=%s)", e.Ref)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" (field=%s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error code.
func (e *FeedError) Is(target error) bool {
	switch target {
	case ErrEmptyInput:
		return e.Code == CodeEmptyInput
	case ErrNotAuthenticated:
		return e.Code == CodeNotAuthenticated
	case ErrRemoteWrite:
		return e.Code == CodeRemoteWrite
	case ErrNotFound:
		return e.Code == CodeNotFound
	}
	return false
}

func NewEmptyInputError(op, ref, field string) *FeedError {
	return &FeedError{Code: CodeEmptyInput, Op: op, Ref: ref, Field: field}
}

func NewNotAuthenticatedError(op string) *FeedError {
	return &FeedError{Code: CodeNotAuthenticated, Op: op}
}

func NewRemoteWriteError(op, ref string, cause error) *FeedError {
	return &FeedError{Code: CodeRemoteWrite, Op: op, Ref: ref, Err: cause}
}

func NewNotFoundError(op, ref string) *FeedError {
	return &FeedError{Code: CodeNotFound, Op: op, Ref: ref}
}

// CodeOf extracts the code of a wrapped *FeedError, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	var fe *FeedError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

func IsEmptyInput(err error) bool       { return CodeOf(err) == CodeEmptyInput }
func IsNotAuthenticated(err error) bool { return CodeOf(err) == CodeNotAuthenticated }
func IsRemoteWrite(err error) bool      { return CodeOf(err) == CodeRemoteWrite }
func IsNotFound(err error) bool         { return CodeOf(err) == CodeNotFound || errors.Is(err, ErrNotFound) }
