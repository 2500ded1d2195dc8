package core

import (
	"context"
	"io"
	"time"

	"github.com/pixfold/image-editor/geometry"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB  ColorSpace = "rgb"
	ColorSpaceRGBA ColorSpace = "rgba"
	ColorSpaceCMYK ColorSpace = "cmyk"
	ColorSpaceGray ColorSpace = "gray"
)

// Metadata holds extracted image information.
type Metadata struct {
	Width      int
	Height     int
	Format     Format
	ColorSpace ColorSpace
	HasAlpha   bool
	SizeBytes  int64
	EXIF       map[string]string // nil when stripped or absent
	HasEXIF    bool
	// Orientation correction in degrees {0, 90, 180, 270} derived from the
	// EXIF orientation tag.  The pixel buffer is stored unrotated.
	Orientation int
}

// ImageData is the in-memory representation passed through a pipeline.
// Data holds encoded bytes; Image holds the decoded pixel buffer when needed.
type ImageData struct {
	// Encoded bytes — non-nil when the image has been encoded or is raw input.
	Data   []byte
	Format Format

	// Decoded pixel buffer — populated lazily by decode steps only when needed.
	// Using image.Image keeps us CGO-free; the libvips adapter wraps its refs
	// in its own type and satisfies the same interfaces.
	Image interface{} // actual type: image.Image or vips wrapper depending on backend

	// Metadata extracted during decode.
	Meta Metadata

	// Geometry computed by a cover-crop step, if one ran.
	Geometry *geometry.Result

	// Size of the original raw input.
	OriginalSize int64
}

// EditResult is returned to the caller after the full pipeline completes.
type EditResult struct {
	Primary  *ImageData
	Variants map[string]*ImageData // keyed by variant name

	// Observability.
	EditTime    time.Duration
	StepTimings map[string]time.Duration
}

// Source abstracts where raw bytes come from (reader, file path, URL, etc.).
type Source struct {
	Reader      io.Reader
	ContentType string // optional hint
	Name        string // optional logical name / filename
	Size        int64  // -1 if unknown
}

// Task encapsulates a single crop/rotate request for the worker pool.  Once
// dispatched a task either resolves with a result or rejects with an error on
// its channel; there is no cancellation or partial outcome.
type Task struct {
	ID      string
	Ctx     context.Context //nolint:containedctx // intentional for async tasks
	Source  Source
	Steps   []Step
	Options TaskOptions
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- TaskResult
}

// TaskOptions controls per-task behaviour.
type TaskOptions struct {
	MaxRetries  int
	RetryDelay  time.Duration
	VariantDefs []VariantDefinition
}

// VariantDefinition instructs the pipeline to produce a named output variant,
// e.g. several display sizes cropped from the same region.
type VariantDefinition struct {
	Name  string
	Steps []Step
}

// TaskResult wraps the outcome of an async task.
type TaskResult struct {
	TaskID string
	Result *EditResult
	Err    error
}

// Step is the fundamental pipeline building block.  Each Step transforms an
// *ImageData value and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}
