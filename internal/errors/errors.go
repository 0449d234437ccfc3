// Package errors provides structured error types for upkeep.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for upkeep.
const (
	// Lookup errors
	CodeTemplateNotFound Code = "TEMPLATE_NOT_FOUND"
	CodeTaskNotFound     Code = "TASK_NOT_FOUND"
	CodeAssetNotFound    Code = "ASSET_NOT_FOUND"

	// Scheduling errors
	CodeCadenceInvalid      Code = "CADENCE_INVALID"
	CodeDuplicateOccurrence Code = "DUPLICATE_OCCURRENCE"
	CodeTaskInvalid         Code = "TASK_INVALID"

	// Storage errors
	CodeTransactionFailed Code = "TRANSACTION_FAILED"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// Category groups error codes for exit status and display.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
)

var codeCategories = map[Code]Category{
	CodeTemplateNotFound:    CategoryNotFound,
	CodeTaskNotFound:        CategoryNotFound,
	CodeAssetNotFound:       CategoryNotFound,
	CodeCadenceInvalid:      CategoryBadRequest,
	CodeTaskInvalid:         CategoryBadRequest,
	CodeDuplicateOccurrence: CategoryConflict,
	CodeTransactionFailed:   CategoryInternal,
	CodeConfigInvalid:       CategoryBadRequest,
}

// ExitCode returns the process exit status used by the CLI for a category.
func (c Category) ExitCode() int {
	switch c {
	case CategoryNotFound:
		return 3
	case CategoryBadRequest:
		return 2
	case CategoryConflict:
		return 4
	default:
		return 1
	}
}

// Error is the structured error type for upkeep.
type Error struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *Error) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrTemplateNotFound returns an error when a maintenance template doesn't exist.
func ErrTemplateNotFound(id string) *Error {
	return &Error{
		Code: CodeTemplateNotFound,
		What: fmt.Sprintf("template %s not found", id),
		Why:  "No maintenance template with this ID exists",
		Fix:  "Run 'upkeep template list' to see available templates",
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id string) *Error {
	return &Error{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %s not found", id),
		Why:  "No task with this ID exists",
		Fix:  "Run 'upkeep task list' to see available tasks",
	}
}

// ErrAssetNotFound returns an error when an asset doesn't exist.
func ErrAssetNotFound(id string) *Error {
	return &Error{
		Code: CodeAssetNotFound,
		What: fmt.Sprintf("asset %s not found", id),
		Why:  "No asset with this ID exists",
		Fix:  "Run 'upkeep asset list' to see available assets",
	}
}

// ErrCadenceInvalid returns an error for an active template whose cadence
// cannot produce occurrences.
func ErrCadenceInvalid(templateID string, months int) *Error {
	return &Error{
		Code: CodeCadenceInvalid,
		What: fmt.Sprintf("template %s has invalid cadence %d", templateID, months),
		Why:  "Active templates need a cadence of at least one month",
		Fix:  "Edit the template cadence or pause it with 'upkeep template pause'",
	}
}

// ErrTaskInvalid returns an error for a task edit that leaves the task inconsistent.
func ErrTaskInvalid(id, reason string) *Error {
	return &Error{
		Code: CodeTaskInvalid,
		What: fmt.Sprintf("task %s is invalid", id),
		Why:  reason,
	}
}

// ErrDuplicateOccurrence returns an error when an occurrence already exists
// for a template on the given date.
func ErrDuplicateOccurrence(templateID, due string) *Error {
	return &Error{
		Code: CodeDuplicateOccurrence,
		What: fmt.Sprintf("template %s already has an occurrence due %s", templateID, due),
		Why:  "Occurrences are unique per template and due date",
	}
}

// ErrTransactionFailed wraps a storage failure that rolled a transaction back.
func ErrTransactionFailed(op string, cause error) *Error {
	return &Error{
		Code:  CodeTransactionFailed,
		What:  fmt.Sprintf("%s failed", op),
		Why:   "The change was rolled back and nothing was saved",
		Fix:   "Retry the operation",
		Cause: cause,
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *Error {
	return &Error{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check config.toml and fix the invalid field",
	}
}

// AsError returns the first *Error in err's chain, or nil.
func AsError(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return nil
}

// HasCode reports whether err's chain contains an *Error with the given code.
func HasCode(err error, code Code) bool {
	e := AsError(err)
	return e != nil && e.Code == code
}

// IsNotFound reports whether err is any of the not-found codes.
func IsNotFound(err error) bool {
	e := AsError(err)
	return e != nil && e.Category() == CategoryNotFound
}
