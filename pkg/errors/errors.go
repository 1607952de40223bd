// Package errors provides the plateflow error taxonomy.
// Errors carry a code for programmatic handling plus key/value context.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code identifies an error class.
type Code string

const (
	// Input errors (1xx)
	CodeFormatUnrecognized Code = "E101"
	CodeDecode             Code = "E102"

	// Consistency errors (2xx)
	CodeDuplicateData            Code = "E201"
	CodeDimensionMismatch        Code = "E202"
	CodeReferentialInconsistency Code = "E203"
	CodeInvalidPlate             Code = "E204"

	// Storage errors (3xx)
	CodeStorage  Code = "E301"
	CodeNotFound Code = "E302"

	// Coordination errors (4xx)
	CodeLocked Code = "E401"

	CodeUnknown Code = "E999"
)

var codeNames = map[Code]string{
	CodeFormatUnrecognized:       "format unrecognized",
	CodeDecode:                   "decode error",
	CodeDuplicateData:            "duplicate data",
	CodeDimensionMismatch:        "dimension mismatch",
	CodeReferentialInconsistency: "referential inconsistency",
	CodeInvalidPlate:             "invalid plate",
	CodeStorage:                  "storage error",
	CodeNotFound:                 "not found",
	CodeLocked:                   "locked",
}

// String returns the short name of the code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "unknown"
}

// Sentinels for errors.Is matching by code.
var (
	ErrFormatUnrecognized       = &Error{Code: CodeFormatUnrecognized}
	ErrDecode                   = &Error{Code: CodeDecode}
	ErrDuplicateData            = &Error{Code: CodeDuplicateData}
	ErrDimensionMismatch        = &Error{Code: CodeDimensionMismatch}
	ErrReferentialInconsistency = &Error{Code: CodeReferentialInconsistency}
	ErrInvalidPlate             = &Error{Code: CodeInvalidPlate}
	ErrStorage                  = &Error{Code: CodeStorage}
	ErrNotFound                 = &Error{Code: CodeNotFound}
	ErrLocked                   = &Error{Code: CodeLocked}
)

// Error is the base error type for all plateflow errors.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Message == "" {
		sb.WriteString(e.Code.String())
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// --- Convenience constructors ---

// Decode creates a decoder error for the named format.
func Decode(format string, message string) *Error {
	return New(CodeDecode, message).WithContext("format", format)
}

// Decodef creates a decoder error with a formatted message.
func Decodef(format string, msg string, args ...interface{}) *Error {
	return Decode(format, fmt.Sprintf(msg, args...))
}

// DimensionMismatch reports a plate whose size conflicts with the stored plate.
func DimensionMismatch(plate string, storedW, storedH, fileW, fileH int) *Error {
	return Newf(CodeDimensionMismatch,
		"plate %q exists as %dx%d, file has %dx%d", plate, storedH, storedW, fileH, fileW).
		WithContext("plate", plate)
}

// Inconsistent reports a referential inconsistency on one well.
func Inconsistent(plate, well, message string) *Error {
	return New(CodeReferentialInconsistency, message).
		WithContext("plate", plate).
		WithContext("well", well)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Code
	}
	return CodeUnknown
}

// IsDomain reports whether err is an expected, user-actionable condition
// rather than a system fault.
func IsDomain(err error) bool {
	code := GetCode(err)
	return strings.HasPrefix(string(code), "E1") || strings.HasPrefix(string(code), "E2")
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
