// Package errors is the fraudgraph error taxonomy. Every failure that crosses
// a component boundary is an *Error whose Type decides how callers react:
// infrastructure types are absorbed by falling back, the rest surface.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType represents the category of error
type ErrorType int

const (
	ErrorTypeConfig ErrorType = iota
	ErrorTypeValidation
	ErrorTypeDatabase // query failed against a reachable store
	ErrorTypeInternal
	ErrorTypeStoreUnavailable      // connectivity or auth failure
	ErrorTypeCapabilityUnavailable // optional traversal primitive missing
	ErrorTypeEmptyResult           // traversal ran and matched nothing
	ErrorTypeModelUnavailable
	ErrorTypeAnnotationFailure
)

// Severity represents how critical an error is
type Severity int

const (
	SeverityLow Severity = iota // degraded but serving
	SeverityMedium
	SeverityHigh
	SeverityCritical // stops the process
)

type typeInfo struct {
	name       string
	severity   Severity // used when a constructor does not choose one
	degradable bool     // absorbed by the extractor ladder
}

var types = map[ErrorType]typeInfo{
	ErrorTypeConfig:                {"CONFIG", SeverityCritical, false},
	ErrorTypeValidation:            {"VALIDATION", SeverityHigh, false},
	ErrorTypeDatabase:              {"DATABASE", SeverityMedium, false},
	ErrorTypeInternal:              {"INTERNAL", SeverityCritical, false},
	ErrorTypeStoreUnavailable:      {"STORE_UNAVAILABLE", SeverityLow, true},
	ErrorTypeCapabilityUnavailable: {"CAPABILITY_UNAVAILABLE", SeverityLow, true},
	ErrorTypeEmptyResult:           {"EMPTY_RESULT", SeverityLow, true},
	ErrorTypeModelUnavailable:      {"MODEL_UNAVAILABLE", SeverityHigh, false},
	ErrorTypeAnnotationFailure:     {"ANNOTATION_FAILURE", SeverityMedium, false},
}

func (t ErrorType) String() string {
	if info, ok := types[t]; ok {
		return info.name
	}
	return "UNKNOWN"
}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]any
	StackTrace string
}

// Sentinels for errors.Is; Is compares Type only
var (
	ErrStoreUnavailable      = sentinel(ErrorTypeStoreUnavailable, "graph store unavailable")
	ErrCapabilityUnavailable = sentinel(ErrorTypeCapabilityUnavailable, "traversal capability unavailable")
	ErrEmptyResult           = sentinel(ErrorTypeEmptyResult, "traversal returned no nodes")
	ErrModelUnavailable      = sentinel(ErrorTypeModelUnavailable, "model is not loaded")
	ErrAnnotationFailure     = sentinel(ErrorTypeAnnotationFailure, "annotation failed")
)

func sentinel(t ErrorType, msg string) *Error {
	return &Error{Type: t, Severity: types[t].severity, Message: msg}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Type == t.Type
}

// WithContext attaches a key/value that DetailedString and logs report
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// DetailedString renders severity, type, cause, sorted context and the
// capture stack, one item per line
func (e *Error) DetailedString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] [%s] %s\n", e.Severity, e.Type, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&sb, "Caused by: %v\n", e.Cause)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Context:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %v\n", k, e.Context[k])
		}
	}
	if e.StackTrace != "" {
		fmt.Fprintf(&sb, "Stack trace:\n%s", e.StackTrace)
	}
	return sb.String()
}

// stack records up to 10 frames, starting inside the constructor
func stack(skip int) string {
	pcs := make([]uintptr, 10)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var sb strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&sb, "  %s:%d %s\n", f.File, f.Line, f.Function)
		if !more {
			break
		}
	}
	return sb.String()
}

func build(t ErrorType, sev Severity, cause error, msg string) *Error {
	return &Error{
		Type:       t,
		Severity:   sev,
		Message:    msg,
		Cause:      cause,
		StackTrace: stack(2),
	}
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return build(errType, severity, nil, message)
}

// Wrap attaches a type and message to err; a nil err stays nil
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}
	return build(errType, severity, err, message)
}

// of builds an error with the type's default severity; a nil cause is allowed
func of(t ErrorType, cause error, msg string) *Error {
	return build(t, types[t].severity, cause, msg)
}

func ConfigErrorf(format string, args ...any) *Error {
	return of(ErrorTypeConfig, nil, fmt.Sprintf(format, args...))
}

func ValidationError(err error, message string) *Error {
	return of(ErrorTypeValidation, err, message)
}

func DatabaseErrorf(err error, format string, args ...any) *Error {
	return of(ErrorTypeDatabase, err, fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...any) *Error {
	return of(ErrorTypeInternal, nil, fmt.Sprintf(format, args...))
}

// StoreUnavailable wraps a connectivity or auth failure
func StoreUnavailable(err error, message string) *Error {
	return of(ErrorTypeStoreUnavailable, err, message)
}

// CapabilityUnavailable reports a missing or failing optional traversal primitive
func CapabilityUnavailable(err error, message string) *Error {
	return of(ErrorTypeCapabilityUnavailable, err, message)
}

// EmptyResult reports a traversal that executed but matched nothing
func EmptyResult(transactionID string) *Error {
	return of(ErrorTypeEmptyResult, nil, "no subgraph found").
		WithContext("transaction_id", transactionID)
}

func ModelUnavailable(reason string) *Error {
	return of(ErrorTypeModelUnavailable, nil, "model is not loaded: "+reason)
}

// AnnotationFailure wraps an unexpected error raised during enrichment
func AnnotationFailure(err error, transactionID string) *Error {
	return of(ErrorTypeAnnotationFailure, err, "annotation failed").
		WithContext("transaction_id", transactionID)
}

func IsModelUnavailable(err error) bool {
	return stderrors.Is(err, ErrModelUnavailable)
}

// IsDegradable reports whether err is an infrastructure failure that callers
// absorb by falling back instead of surfacing
func IsDegradable(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && types[e.Type].degradable
}

// IsFatal reports a critical *Error anywhere in the chain
func IsFatal(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Severity == SeverityCritical
}

// GetType returns Internal for errors outside the taxonomy
func GetType(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// TypeName is GetType as a log field value
func TypeName(err error) string {
	return GetType(err).String()
}
