// Package errs defines the error hierarchy of the profiling subsystem.
//
// Every error is an *Error carrying a Kind and a map of namespaced context
// entries (profiling.component, sampling.rate, exporter.name, command.*).
// Kinds form a small tree rooted at KindProfiling, and errors.Is honours it:
//
//	errors.Is(err, errs.ErrCommandTimeout)   // exact kind
//	errors.Is(err, errs.ErrCommandExecution) // timeout is an execution failure
//	errors.Is(err, errs.ErrProfiling)        // every kind
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Kind identifies a node of the error hierarchy.
type Kind int

const (
	KindProfiling Kind = iota
	KindConfiguration
	KindCollector
	KindSampling
	KindExporter
	KindCommandExecution
	KindCommandTimeout
)

func (k Kind) String() string {
	switch k {
	case KindProfiling:
		return "profiling"
	case KindConfiguration:
		return "configuration"
	case KindCollector:
		return "collector"
	case KindSampling:
		return "sampling"
	case KindExporter:
		return "exporter"
	case KindCommandExecution:
		return "command_execution"
	case KindCommandTimeout:
		return "command_timeout"
	default:
		return "unknown"
	}
}

func (k Kind) parent() Kind {
	if k == KindCommandTimeout {
		return KindCommandExecution
	}
	return KindProfiling
}

// IsA reports whether k equals ancestor or descends from it.
func (k Kind) IsA(ancestor Kind) bool {
	for {
		if k == ancestor {
			return true
		}
		if k == KindProfiling {
			return false
		}
		k = k.parent()
	}
}

// Namespaced context keys.
const (
	KeyComponent    = "profiling.component"
	KeySamplingRate = "sampling.rate"
	KeyExporterName = "exporter.name"
	KeyConfigKey    = "config.key"
	KeyCommand      = "command"
	KeyExitCode     = "command.exit_code"
	KeyTimeout      = "command.timeout"
	KeyCwd          = "command.cwd"
	KeyStdout       = "command.stdout"
	KeyStderr       = "command.stderr"
)

// maxRenderedValue bounds how much of a context value Error() prints.
const maxRenderedValue = 120

// Sentinels for errors.Is. They match any *Error of the same kind or of a
// descendant kind.
var (
	ErrProfiling        = sentinel(KindProfiling)
	ErrConfiguration    = sentinel(KindConfiguration)
	ErrCollector        = sentinel(KindCollector)
	ErrSampling         = sentinel(KindSampling)
	ErrExporter         = sentinel(KindExporter)
	ErrCommandExecution = sentinel(KindCommandExecution)
	ErrCommandTimeout   = sentinel(KindCommandTimeout)
)

func sentinel(k Kind) *Error {
	return &Error{Kind: k, Message: k.String() + " error", sentinel: true}
}

// Error is a profiling error with attached context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	context  map[string]any
	sentinel bool
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// NewProfilingError creates a base error attributed to a profiling component.
func NewProfilingError(msg, component string) *Error {
	return New(KindProfiling, msg).With(KeyComponent, component)
}

// NewConfigurationError reports an invalid or missing configuration value.
func NewConfigurationError(msg, key string) *Error {
	e := New(KindConfiguration, msg)
	if key != "" {
		e.With(KeyConfigKey, key)
	}
	return e
}

// NewCollectorError reports a failing profiling component.
func NewCollectorError(msg, component string, cause error) *Error {
	return Wrap(KindCollector, msg, cause).With(KeyComponent, component)
}

// NewSamplingError reports a sampling failure at the given rate.
func NewSamplingError(msg string, rate float64) *Error {
	return New(KindSampling, msg).With(KeySamplingRate, rate)
}

// NewExporterError reports a failure of the named exporter.
func NewExporterError(msg, exporter string, cause error) *Error {
	return Wrap(KindExporter, msg, cause).With(KeyExporterName, exporter)
}

// NewCommandExecutionError reports a subprocess that failed to start or
// exited abnormally.
func NewCommandExecutionError(msg string, command []string, exitCode int, cause error) *Error {
	return Wrap(KindCommandExecution, msg, cause).
		With(KeyCommand, strings.Join(command, " ")).
		With(KeyExitCode, exitCode)
}

// NewCommandTimeoutError reports a subprocess killed after timeout.
func NewCommandTimeoutError(command []string, timeout time.Duration, cause error) *Error {
	msg := fmt.Sprintf("command timed out after %s", timeout)
	return Wrap(KindCommandTimeout, msg, cause).
		With(KeyCommand, strings.Join(command, " ")).
		With(KeyTimeout, timeout.String())
}

// With attaches a context entry and returns e for chaining.
func (e *Error) With(key string, value any) *Error {
	if e == nil {
		return nil
	}
	if e.context == nil {
		e.context = make(map[string]any)
	}
	e.context[key] = value
	return e
}

// WithContext merges every entry of ctx into e.
func (e *Error) WithContext(ctx map[string]any) *Error {
	for k, v := range ctx {
		e.With(k, v)
	}
	return e
}

// Context returns a copy of the attached context.
func (e *Error) Context() map[string]any {
	if e == nil {
		return nil
	}
	out := make(map[string]any, len(e.context))
	for k, v := range e.context {
		out[k] = v
	}
	return out
}

// Get returns a single context entry.
func (e *Error) Get(key string) (any, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e.context[key]
	return v, ok
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.context) > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('[')
		for i, k := range sortedKeys(e.context) {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%s", k, shorten(fmt.Sprint(e.context[k])))
		}
		b.WriteByte(']')
	}
	if e.Cause != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinels by kind, honouring the hierarchy.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || !t.sentinel {
		return false
	}
	return e.Kind.IsA(t.Kind)
}

// MarshalLogObject renders the error as a structured zap object.
func (e *Error) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", e.Kind.String())
	enc.AddString("message", e.Message)
	for _, k := range sortedKeys(e.context) {
		zap.Any(k, e.context[k]).AddTo(enc)
	}
	if e.Cause != nil {
		enc.AddString("cause", e.Cause.Error())
	}
	return nil
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	if e, ok := As(err); ok {
		return e.Kind, true
	}
	return KindProfiling, false
}

// ContextOf merges the context of every *Error in err's chain. Entries of
// outer errors take precedence.
func ContextOf(err error) map[string]any {
	out := make(map[string]any)
	for err != nil {
		if e, ok := err.(*Error); ok {
			for k, v := range e.context {
				if _, seen := out[k]; !seen {
					out[k] = v
				}
			}
		}
		err = errors.Unwrap(err)
	}
	return out
}

// AddContext attaches key=value to the *Error found in err's chain. Foreign
// errors and sentinels are wrapped in a new KindProfiling error instead.
func AddContext(err error, key string, value any) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok && !e.sentinel {
		e.With(key, value)
		return err
	}
	return Wrap(KindProfiling, "", err).With(key, value)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func shorten(s string) string {
	if len(s) <= maxRenderedValue {
		return s
	}
	return s[:maxRenderedValue] + "..."
}
