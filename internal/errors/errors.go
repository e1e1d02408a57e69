// Package errors provides centralized error handling for the aircast backend.
// Errors carry a component, a category and free-form context so the control
// dispatcher can report failures uniformly while logs retain the detail.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"     // bad parameters from the control channel
	CategoryConfiguration ErrorCategory = "configuration"  // unsupported codec/family, bad sample rate
	CategoryCodecInit     ErrorCategory = "codec-init"     // codec engine context open failure
	CategoryFileIO        ErrorCategory = "file-io"        // recorder file operations
	CategoryNetwork       ErrorCategory = "network"        // streamer connections
	CategoryBuffer        ErrorCategory = "audio-buffer"   // ring buffer management
	CategoryOverflow      ErrorCategory = "overflow"       // packet ring saturation
	CategoryState         ErrorCategory = "state"          // lifecycle misuse (stop while stopped etc.)
	CategoryResource      ErrorCategory = "resource"       // allocation/open failures
	CategoryAudioFeed     ErrorCategory = "audio-feed"     // capture device problems
	CategoryControl       ErrorCategory = "control"        // control channel protocol errors
	CategoryGeneric       ErrorCategory = "generic"
)

// Component names used across the backend.
const (
	ComponentEncoder  = "encoder"
	ComponentRecorder = "recorder"
	ComponentStreamer = "streamer"
	ComponentFeed     = "feed"
	ComponentControl  = "control"
	ComponentCodec    = "codec"
	ComponentUnknown  = "unknown"
)

// EnhancedError wraps an error with component, category and context metadata.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches on category when the target is also an EnhancedError.
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return Is(ee.Err, target)
}

// GetCategory returns the error category as a string.
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetContext returns a copy of the error context.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	contextCopy := make(map[string]any, len(ee.Context))
	maps.Copy(contextCopy, ee.Context)
	return contextCopy
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new error builder wrapping err. A nil err yields a generic
// message composed from the context at Build time.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error with enhanced context
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category for better grouping
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the EnhancedError.
func (eb *ErrorBuilder) Build() *EnhancedError {
	err := eb.err
	if err == nil {
		if msg, ok := eb.context["error"].(string); ok {
			err = stderrors.New(msg)
		} else {
			err = stderrors.New("unspecified error")
		}
	}
	category := eb.category
	if category == "" {
		category = CategoryGeneric
	}
	component := eb.component
	if component == "" {
		component = ComponentUnknown
	}
	return &EnhancedError{
		Err:       err,
		Component: component,
		Category:  category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
}

// Standard library passthroughs so callers only import this package.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join wraps errors.Join from the standard library.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// NewStd creates a plain standard library error without enhancement.
func NewStd(text string) error {
	return stderrors.New(text)
}
