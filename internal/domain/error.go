package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeUnknownTool         ErrorCode = "UNKNOWN_TOOL"
	CodeToolUnavailable     ErrorCode = "TOOL_UNAVAILABLE"
	CodeConcurrencyExceeded ErrorCode = "CONCURRENCY_EXCEEDED"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeInvalidModelID      ErrorCode = "INVALID_MODEL_ID"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeAborted             ErrorCode = "ABORTED"
	CodeProcessFailure      ErrorCode = "PROCESS_FAILURE"
	CodeUpstreamAPIError    ErrorCode = "UPSTREAM_API_ERROR"
	CodeAuthError           ErrorCode = "AUTH_ERROR"
	CodeUpdateError         ErrorCode = "UPDATE_ERROR"
	CodeInvalidArgument     ErrorCode = "INVALID_ARGUMENT"
	CodeShuttingDown        ErrorCode = "SHUTTING_DOWN"
	CodeConflict            ErrorCode = "CONFLICT"
	CodeInternal            ErrorCode = "INTERNAL"
)

// Sentinels match any *Error carrying the same code under errors.Is.
var (
	ErrUnknownTool         = &Error{Code: CodeUnknownTool}
	ErrToolUnavailable     = &Error{Code: CodeToolUnavailable}
	ErrConcurrencyExceeded = &Error{Code: CodeConcurrencyExceeded}
	ErrRateLimited         = &Error{Code: CodeRateLimited}
	ErrInvalidModelID      = &Error{Code: CodeInvalidModelID}
	ErrTimeout             = &Error{Code: CodeTimeout}
	ErrAborted             = &Error{Code: CodeAborted}
	ErrProcessFailure      = &Error{Code: CodeProcessFailure}
	ErrUpstreamAPI         = &Error{Code: CodeUpstreamAPIError}
	ErrAuth                = &Error{Code: CodeAuthError}
	ErrUpdate              = &Error{Code: CodeUpdateError}
	ErrInvalidArgument     = &Error{Code: CodeInvalidArgument}
	ErrShuttingDown        = &Error{Code: CodeShuttingDown}
)

type Error struct {
	Code      ErrorCode
	Op        string
	Message   string
	Cause     error
	Retryable bool
	Meta      map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *Error
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Code != "" && other.Code == e.Code
}

// UserMessage is the text surfaced to HTTP callers: the message without
// operation or code prefixes.
func (e *Error) UserMessage() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Code)
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Errorf(code ErrorCode, op, format string, args ...any) *Error {
	return E(code, op, fmt.Sprintf(format, args...), nil)
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:      existing.Code,
			Op:        op,
			Message:   existing.Message,
			Cause:     existing.Cause,
			Retryable: existing.Retryable,
			Meta:      existing.Meta,
		}
	}
	return E(code, op, "", err)
}

// WithMeta returns a copy of e with key set in Meta.
func (e *Error) WithMeta(key, value string) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.Meta = make(map[string]string, len(e.Meta)+1)
	for k, v := range e.Meta {
		out.Meta[k] = v
	}
	out.Meta[key] = value
	return &out
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	return "", false
}

// MessageFrom returns the caller-facing message for err.
func MessageFrom(err error) string {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.UserMessage()
	}
	return err.Error()
}
