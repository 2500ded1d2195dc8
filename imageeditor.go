// Package imageeditor crops, rotates, and resizes images with scale-to-cover
// geometry, writing results to managed temp files.  It is the Go counterpart
// of a mobile image-editor module: sources arrive as file paths, data URIs, or
// http(s) URLs, and outputs are written under a sweepable prefix.
package imageeditor

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"

	"github.com/pixfold/image-editor/adapters/decoder"
	"github.com/pixfold/image-editor/adapters/encoder"
	"github.com/pixfold/image-editor/adapters/tempfile"
	"github.com/pixfold/image-editor/config"
	"github.com/pixfold/image-editor/core"
	apperrors "github.com/pixfold/image-editor/errors"
	"github.com/pixfold/image-editor/geometry"
	"github.com/pixfold/image-editor/metadata"
	"github.com/pixfold/image-editor/pipeline"
	"github.com/pixfold/image-editor/source"
	"github.com/pixfold/image-editor/utils"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// ── Options and results ───────────────────────────────────────────────────────

// Offset is the top-left corner of a crop region in upright source pixels.
type Offset struct {
	X, Y int
}

// Size is a width/height pair in pixels.
type Size struct {
	Width, Height int
}

// CropOptions controls a CropImage call.
type CropOptions struct {
	// Offset and Size define the crop region in upright source coordinates.
	Offset Offset
	Size   Size

	// TargetSize, when set, scales the cropped region to cover this exact
	// output size.  When nil the region is extracted at its natural size.
	TargetSize *Size

	// Format of the output file.  Empty keeps the source format.
	Format core.Format

	// Quality for lossy encoders (1-100).  0 uses the configured default.
	Quality int
}

// CropResult describes the written output file.
type CropResult struct {
	URI      string
	Path     string
	Name     string
	Width    int
	Height   int
	MimeType string
	Size     int64

	// Geometry reports the computed cover-crop parameters when a TargetSize
	// was requested; nil for natural-size crops.
	Geometry *geometry.Result

	// EXIF carries whitelisted source attributes when PreserveEXIF is on and
	// the source had a readable EXIF block.
	EXIF map[string]string
}

// RotateOptions controls a Rotate call.
type RotateOptions struct {
	// Degrees of clockwise rotation, applied after the EXIF orientation
	// correction.  Must be a multiple of 90 in [0, 360).
	Degrees int

	// Quality of the JPEG output (1-100).  0 uses the configured default.
	Quality int

	// OutputName, when set, names the output file inside the temp directory
	// instead of generating a unique name.
	OutputName string
}

// RotateResult describes the written output file.
type RotateResult struct {
	Path string
	URI  string
	Name string
	Size int64
}

// ImageSize is the upright display size of a source image.
type ImageSize struct {
	Width  int
	Height int
}

// ── Editor ────────────────────────────────────────────────────────────────────

// Editor is the primary entry point.
type Editor struct {
	cfg      config.Config
	inner    *core.Editor
	reg      *core.DefaultRegistry
	store    *tempfile.Store
	resolver *source.Resolver
}

// New creates a fully wired Editor with default JPEG, PNG, and WebP codecs
// registered.  Pass config.Default() or a customised copy.
func New(cfg config.Config) (*Editor, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "new", err)
	}

	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.CompressQuality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatWebP, encoder.NewWebP(cfg.CompressQuality))

	store, err := tempfile.NewStore(cfg.Temp.Dir, cfg.Temp.Prefix, os.FileMode(cfg.Temp.Permissions))
	if err != nil {
		return nil, err
	}

	return &Editor{
		cfg:      cfg,
		inner:    core.New(cfg, reg),
		reg:      reg,
		store:    store,
		resolver: source.NewResolver(cfg.HTTPTimeout, cfg.MaxImageBytes),
	}, nil
}

// SetLogger attaches a structured logger.
func (e *Editor) SetLogger(l core.Logger) { e.inner.SetLogger(l) }

// SetMetrics attaches a metrics collector.
func (e *Editor) SetMetrics(m core.MetricsCollector) { e.inner.SetMetrics(m) }

// AddHook registers an observer for pipeline step events.
func (e *Editor) AddHook(h core.Hook) { e.inner.AddHook(h) }

// RegisterDecoder registers a custom decoder for the given format.
func (e *Editor) RegisterDecoder(f core.Format, d core.Decoder) { e.reg.RegisterDecoder(f, d) }

// RegisterEncoder registers a custom encoder for the given format.
func (e *Editor) RegisterEncoder(f core.Format, enc core.Encoder) { e.reg.RegisterEncoder(f, enc) }

// TempDir returns the directory output files are written into.
func (e *Editor) TempDir() string { return e.store.Dir() }

// Start launches the worker pool and, when configured, sweeps leftover output
// files from previous runs.
func (e *Editor) Start(ctx context.Context) error {
	if e.cfg.Temp.SweepOnStart {
		if _, err := e.store.Sweep(ctx); err != nil {
			return err
		}
	}
	e.inner.Start()
	return nil
}

// Stop shuts down the worker pool and, when configured, sweeps output files.
func (e *Editor) Stop(ctx context.Context) error {
	e.inner.Stop()
	if e.cfg.Temp.SweepOnStop {
		if _, err := e.store.Sweep(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ── CropImage ─────────────────────────────────────────────────────────────────

// CropImage extracts the region described by opts from the image behind uri
// and writes the result to a managed temp file.  With a TargetSize the region
// is scaled to cover the target exactly; aspect ratio is never distorted.
// All option validation happens up front, before any decoding starts.
func (e *Editor) CropImage(ctx context.Context, uri string, opts CropOptions) (*CropResult, error) {
	region := geometry.Region{X: opts.Offset.X, Y: opts.Offset.Y, Width: opts.Size.Width, Height: opts.Size.Height}
	target, err := validateCropOptions(region, opts)
	if err != nil {
		return nil, err
	}

	raw, resolved, err := e.resolver.ResolveBytes(ctx, uri)
	if err != nil {
		return nil, err
	}

	steps := e.cropSteps(region, target, opts)
	result, err := e.inner.Process(ctx, core.Source{
		Reader:      bytes.NewReader(raw),
		ContentType: resolved.ContentType,
		Name:        resolved.Name,
		Size:        int64(len(raw)),
	}, steps...)
	if err != nil {
		return nil, err
	}

	primary := result.Primary
	mimeType := utils.MimeForFormat(string(primary.Format))
	path, err := e.writeOutput(primary.Data, utils.ExtensionForMime(mimeType), "")
	if err != nil {
		return nil, err
	}

	out := &CropResult{
		URI:      "file://" + path,
		Path:     path,
		Name:     filepath.Base(path),
		Width:    primary.Meta.Width,
		Height:   primary.Meta.Height,
		MimeType: mimeType,
		Size:     int64(len(primary.Data)),
		Geometry: primary.Geometry,
	}
	if e.cfg.PreserveEXIF && primary.Format == core.FormatJPEG {
		out.EXIF = metadata.CopyAttributes(raw)
	}
	return out, nil
}

// cropSteps assembles the pipeline for a validated crop request.
func (e *Editor) cropSteps(region geometry.Region, target *geometry.Size, opts CropOptions) []core.Step {
	steps := []core.Step{
		&pipeline.DecodeStep{Registry: e.reg},
		&pipeline.OrientStep{},
	}
	if target != nil {
		steps = append(steps, &pipeline.CoverCropStep{Crop: region, Target: *target})
	} else {
		steps = append(steps, &pipeline.CropStep{Region: region})
	}
	if opts.Format != "" {
		steps = append(steps, &pipeline.FormatStep{Format: opts.Format})
	}
	quality := opts.Quality
	if quality <= 0 {
		quality = e.cfg.CompressQuality
	}
	steps = append(steps, &pipeline.EncodeStep{
		Registry:    e.reg,
		BaseOptions: core.EncodeOptions{Quality: quality},
	})
	return steps
}

func validateCropOptions(region geometry.Region, opts CropOptions) (*geometry.Size, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	if opts.Quality < 0 || opts.Quality > 100 {
		return nil, apperrors.New(apperrors.CategoryInput, "crop_image",
			fmt.Errorf("quality out of range: %d", opts.Quality))
	}
	if opts.TargetSize == nil {
		return nil, nil
	}
	target := geometry.Size{Width: opts.TargetSize.Width, Height: opts.TargetSize.Height}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return &target, nil
}

// ── Rotate ────────────────────────────────────────────────────────────────────

// Rotate applies the source's EXIF orientation correction plus the requested
// clockwise rotation and writes the result as a JPEG temp file.
func (e *Editor) Rotate(ctx context.Context, uri string, opts RotateOptions) (*RotateResult, error) {
	deg := opts.Degrees
	if deg < 0 || deg >= 360 || deg%90 != 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "rotate",
			fmt.Errorf("%w: %d", apperrors.ErrInvalidRotation, opts.Degrees))
	}
	if opts.Quality < 0 || opts.Quality > 100 {
		return nil, apperrors.New(apperrors.CategoryInput, "rotate",
			fmt.Errorf("quality out of range: %d", opts.Quality))
	}

	raw, resolved, err := e.resolver.ResolveBytes(ctx, uri)
	if err != nil {
		return nil, err
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = e.cfg.CompressQuality
	}
	steps := []core.Step{
		&pipeline.DecodeStep{Registry: e.reg},
		&pipeline.OrientStep{},
		&pipeline.RotateStep{Degrees: deg},
		&pipeline.FormatStep{Format: core.FormatJPEG},
		&pipeline.EncodeStep{Registry: e.reg, BaseOptions: core.EncodeOptions{Quality: quality}},
	}

	result, err := e.inner.Process(ctx, core.Source{
		Reader:      bytes.NewReader(raw),
		ContentType: resolved.ContentType,
		Name:        resolved.Name,
		Size:        int64(len(raw)),
	}, steps...)
	if err != nil {
		return nil, err
	}

	path, err := e.writeOutput(result.Primary.Data, ".jpg", opts.OutputName)
	if err != nil {
		return nil, err
	}
	return &RotateResult{
		Path: path,
		URI:  "file://" + path,
		Name: filepath.Base(path),
		Size: int64(len(result.Primary.Data)),
	}, nil
}

// ── GetSize ───────────────────────────────────────────────────────────────────

// GetSize returns the upright display size of the image behind uri without
// decoding the pixel buffer.  Sources whose EXIF orientation rotates by 90 or
// 270 degrees report swapped dimensions.
func (e *Editor) GetSize(ctx context.Context, uri string) (ImageSize, error) {
	raw, _, err := e.resolver.ResolveBytes(ctx, uri)
	if err != nil {
		return ImageSize{}, err
	}

	var w, h int
	switch utils.DetectFormat(raw) {
	case "jpeg":
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			return ImageSize{}, apperrors.Wrap(apperrors.CategoryDecode, "get_size", err)
		}
		w, h = cfg.Width, cfg.Height
	case "png":
		cfg, err := png.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			return ImageSize{}, apperrors.Wrap(apperrors.CategoryDecode, "get_size", err)
		}
		w, h = cfg.Width, cfg.Height
	case "webp":
		ww, wh, _, err := webp.GetInfo(raw)
		if err != nil {
			return ImageSize{}, apperrors.Wrap(apperrors.CategoryDecode, "get_size", err)
		}
		w, h = ww, wh
	default:
		return ImageSize{}, apperrors.New(apperrors.CategoryDecode, "get_size", apperrors.ErrUnsupportedFormat)
	}

	w, h = geometry.OrientedSize(w, h, metadata.Degrees(raw))
	return ImageSize{Width: w, Height: h}, nil
}

// ── GetBase64 ─────────────────────────────────────────────────────────────────

// GetBase64 returns the raw bytes behind uri encoded as a standard base64
// string, without a data-URI prefix.
func (e *Editor) GetBase64(ctx context.Context, uri string) (string, error) {
	raw, _, err := e.resolver.ResolveBytes(ctx, uri)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", apperrors.New(apperrors.CategorySource, "get_base64", apperrors.ErrEmptyInput)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ── Async and lower-level access ──────────────────────────────────────────────

// SubmitCrop enqueues an async crop.  The outcome arrives on resultCh; a full
// queue is reported immediately via ErrTaskQueueFull.
func (e *Editor) SubmitCrop(ctx context.Context, id, uri string, opts CropOptions, resultCh chan<- core.TaskResult) error {
	region := geometry.Region{X: opts.Offset.X, Y: opts.Offset.Y, Width: opts.Size.Width, Height: opts.Size.Height}
	target, err := validateCropOptions(region, opts)
	if err != nil {
		return err
	}

	raw, resolved, err := e.resolver.ResolveBytes(ctx, uri)
	if err != nil {
		return err
	}

	return e.inner.Submit(core.Task{
		ID:  id,
		Ctx: ctx,
		Source: core.Source{
			Reader:      bytes.NewReader(raw),
			ContentType: resolved.ContentType,
			Name:        resolved.Name,
			Size:        int64(len(raw)),
		},
		Steps:    e.cropSteps(region, target, opts),
		ResultCh: resultCh,
	})
}

// Process executes the provided steps synchronously against a raw source.
func (e *Editor) Process(ctx context.Context, src core.Source, steps ...core.Step) (*core.EditResult, error) {
	return e.inner.Process(ctx, src, steps...)
}

// Batch runs the same steps on multiple sources concurrently.
func (e *Editor) Batch(ctx context.Context, sources []core.Source, steps ...core.Step) ([]*core.EditResult, []error) {
	return e.inner.Batch(ctx, sources, steps...)
}

// ProcessVariants runs base steps and then produces named variants in
// parallel, e.g. several display sizes cropped from the same region.
func (e *Editor) ProcessVariants(
	ctx context.Context,
	src core.Source,
	baseSteps []core.Step,
	variants []core.VariantDefinition,
) (*core.EditResult, error) {
	return e.inner.ProcessVariants(ctx, src, baseSteps, variants)
}

// NewPipeline creates a reusable, standalone pipeline.
func (e *Editor) NewPipeline(steps ...core.Step) *pipeline.Pipeline {
	pl := pipeline.New()
	pl.Use(steps...)
	return pl
}

// Stats returns lightweight processing statistics.
func (e *Editor) Stats() (edited, errors int64) {
	return e.inner.EditedCount(), e.inner.ErrorCount()
}

// writeOutput persists encoded bytes to the temp store and returns the path.
func (e *Editor) writeOutput(data []byte, ext, name string) (string, error) {
	var (
		f   *os.File
		err error
	)
	if name != "" {
		f, err = e.store.CreateNamed(name)
	} else {
		f, err = e.store.Create(ext)
	}
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", apperrors.Wrap(apperrors.CategoryTemp, "write_output", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", apperrors.Wrap(apperrors.CategoryTemp, "write_output.close", err)
	}
	return f.Name(), nil
}

// ── Source constructors ───────────────────────────────────────────────────────

// FromReader creates a Source from an io.Reader.
func FromReader(r io.Reader) core.Source { return core.Source{Reader: r, Size: -1} }

// FromReaderWithMeta creates a Source with known size and content-type hints.
func FromReaderWithMeta(r io.Reader, size int64, contentType, name string) core.Source {
	return core.Source{Reader: r, Size: size, ContentType: contentType, Name: name}
}

// FileURI converts a local path into a file:// URI.
func FileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}

// ── Step constructors ─────────────────────────────────────────────────────────

// DecodeWith returns a decode step bound to the given registry.
func DecodeWith(reg core.Registry) core.Step { return &pipeline.DecodeStep{Registry: reg} }

// Orient returns a step that rotates the pixels upright per EXIF orientation.
func Orient() core.Step { return &pipeline.OrientStep{} }

// CoverCrop returns a scale-to-cover crop step.
func CoverCrop(x, y, width, height, targetWidth, targetHeight int) core.Step {
	return &pipeline.CoverCropStep{
		Crop:   geometry.Region{X: x, Y: y, Width: width, Height: height},
		Target: geometry.Size{Width: targetWidth, Height: targetHeight},
	}
}

// Crop returns a natural-size crop step.
func Crop(x, y, width, height int) core.Step {
	return &pipeline.CropStep{Region: geometry.Region{X: x, Y: y, Width: width, Height: height}}
}

// Rotate returns a clockwise rotation step.
func Rotate(degrees int) core.Step { return &pipeline.RotateStep{Degrees: degrees} }

// Resize returns a resize step.  Pass 0 for one axis to preserve aspect ratio.
func Resize(width, height int) core.Step { return &pipeline.ResizeStep{Width: width, Height: height} }

// Quality stores the desired encode quality (1-100) for the next Encode step.
func Quality(q int) core.Step { return &pipeline.QualityStep{Quality: q} }

// ConvertFormat instructs subsequent steps to use the given output format.
func ConvertFormat(f core.Format) core.Step { return &pipeline.FormatStep{Format: f} }

// StripEXIF returns a step that removes EXIF metadata.
func StripEXIF() core.Step { return &pipeline.StripEXIFStep{} }

// EncodeWith returns an encode step bound to the given registry and options.
func EncodeWith(reg core.Registry, opts core.EncodeOptions) core.Step {
	return &pipeline.EncodeStep{Registry: reg, BaseOptions: opts}
}
