// Package types defines the error taxonomy shared by the registry, the
// parser and the executor.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error tag constants, one per error kind.
const (
	TagRegistrationError      = "RegistrationError"
	TagResolutionError        = "ResolutionError"
	TagArgumentContractError  = "ArgumentContractError"
	TagHookFailure            = "HookFailure"
	TagInternalInvariantError = "InternalInvariantError"
)

// Result codes reported when no script line is available.
const (
	CodeRegistration      = -1
	CodeResolution        = -2
	CodeArgumentContract  = -3
	CodeHookFailure       = -4
	CodeInternalInvariant = -5
	CodeCancelled         = -6
)

// ScriptError is the error type returned by every engine operation.
type ScriptError struct {
	Message string
	Code    int64    // hook status for HookFailure, otherwise a negative kind code
	Tags    []string // the first tag is the kind
	Line    int      // 1-based script line, 0 when unknown
	Name    string   // command or function involved, if any
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	var sb strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d: ", e.Line)
	}
	if e.Name != "" {
		fmt.Fprintf(&sb, "%s: ", e.Name)
	}
	fmt.Fprintf(&sb, "%s (code=%d, tags=[%s])", e.Message, e.Code, strings.Join(e.Tags, ", "))
	return sb.String()
}

// Kind returns the primary tag of the error.
func (e *ScriptError) Kind() string {
	if len(e.Tags) == 0 {
		return ""
	}
	return e.Tags[0]
}

// HasTag returns true if the error has the specified tag.
func (e *ScriptError) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AtLine returns a copy of the error attributed to a script line. An error
// that already carries a line keeps it.
func (e *ScriptError) AtLine(line int) *ScriptError {
	c := *e
	if c.Line == 0 {
		c.Line = line
	}
	return &c
}

// KindOf returns the kind tag of err, or "" if err is not a ScriptError.
func KindOf(err error) string {
	var se *ScriptError
	if errors.As(err, &se) {
		return se.Kind()
	}
	return ""
}

// IsKind reports whether err is a ScriptError tagged with tag.
func IsKind(err error, tag string) bool {
	var se *ScriptError
	return errors.As(err, &se) && se.HasTag(tag)
}

// Common error constructors.

// NewRegistrationError creates a RegistrationError.
func NewRegistrationError(name, msg string) *ScriptError {
	return &ScriptError{Message: msg, Code: CodeRegistration, Tags: []string{TagRegistrationError}, Name: name}
}

// NewResolutionError creates a ResolutionError for an unknown name.
func NewResolutionError(name string, line int, msg string) *ScriptError {
	return &ScriptError{Message: msg, Code: CodeResolution, Tags: []string{TagResolutionError}, Line: line, Name: name}
}

// NewArgumentContractError creates an ArgumentContractError.
func NewArgumentContractError(name, msg string) *ScriptError {
	return &ScriptError{Message: msg, Code: CodeArgumentContract, Tags: []string{TagArgumentContractError}, Name: name}
}

// NewHookFailure creates a HookFailure carrying the hook's own status.
func NewHookFailure(name string, status int) *ScriptError {
	return &ScriptError{
		Message: fmt.Sprintf("returned status %d", status),
		Code:    int64(status),
		Tags:    []string{TagHookFailure},
		Name:    name,
	}
}

// NewInternalError creates an InternalInvariantError.
func NewInternalError(msg string) *ScriptError {
	return &ScriptError{Message: msg, Code: CodeInternalInvariant, Tags: []string{TagInternalInvariantError}}
}
