package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryDecode    Category = "decode"
	CategoryEncode    Category = "encode"
	CategoryGeometry  Category = "geometry"
	CategorySource    Category = "source"
	CategoryPipeline  Category = "pipeline"
	CategoryTemp      Category = "temp"
	CategoryConfig    Category = "config"
	CategoryTransient Category = "transient"
	CategoryInput     Category = "input"
)

// EditError is the structured error type used throughout the module.
type EditError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *EditError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *EditError) Unwrap() error { return e.Err }

// New creates a non-retryable EditError.
func New(category Category, op string, err error) *EditError {
	return &EditError{Category: category, Op: op, Err: err}
}

// Transient creates a retryable EditError.
func Transient(op string, err error) *EditError {
	return &EditError{Category: CategoryTransient, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var ee *EditError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var ee *EditError
	if errors.As(err, &ee) {
		return ee.Category == cat
	}
	return false
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")
	ErrInvalidCropRegion = errors.New("invalid crop region")
	ErrInvalidTargetSize = errors.New("invalid target size")
	ErrInvalidRotation   = errors.New("invalid rotation arguments")
	ErrEmptyURI          = errors.New("empty uri")
	ErrSourceTooLarge    = errors.New("source exceeds size cap")
	ErrEmptyInput        = errors.New("empty input")
	ErrTaskQueueFull     = errors.New("task queue full")
	ErrNoTempDir         = errors.New("no temp directory available")
)
