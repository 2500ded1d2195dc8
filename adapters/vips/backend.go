// Package vips is an optional libvips-backed codec and step set.  It mirrors
// the pure-Go steps but keeps pixels inside libvips, so large sources never
// materialise as Go bitmaps.  Requires CGO and an installed libvips.
package vips

import (
	"context"
	"fmt"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/pixfold/image-editor/core"
	apperrors "github.com/pixfold/image-editor/errors"
	"github.com/pixfold/image-editor/geometry"
	"github.com/pixfold/image-editor/metadata"
	"github.com/pixfold/image-editor/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool
}

// Backend is a unified libvips-powered Decoder and Encoder.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 90
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatUnknown:
		return true
	}
	return false
}

func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}

	buf, err := utils.DrainReader(ctx, r, 32*1024)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.drain", err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })

	format := vipsFormatToCore(ref.Format())
	meta := core.Metadata{
		Width:      ref.Width(),
		Height:     ref.Height(),
		Format:     format,
		ColorSpace: vipsInterpretationToColorSpace(ref.Interpretation()),
		HasAlpha:   ref.HasAlpha(),
		// Meta.Orientation carries degrees, not the raw EXIF tag.
		Orientation: metadata.OrientationDegrees(ref.Orientation()),
	}
	if exif := metadata.CopyAttributes(raw); len(exif) > 0 {
		meta.EXIF = exif
		meta.HasEXIF = true
	}

	return &core.ImageData{
		Data:         raw,
		Format:       format,
		Image:        &VipsImage{ref: ref},
		Meta:         meta,
		OriginalSize: int64(len(raw)),
	}, nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanEncode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return true
	}
	return false
}

func (b *Backend) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}

	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("image must be decoded with the vips backend first"))
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = b.cfg.DefaultQuality
	}

	switch img.Format {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		ep.StripMetadata = opts.StripEXIF
		ep.Interlace = opts.Interlaced
		buf, _, err := vi.ref.ExportJpeg(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.jpeg", err)
		}
		return buf, nil

	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		ep.StripMetadata = opts.StripEXIF
		ep.Interlace = opts.Interlaced
		buf, _, err := vi.ref.ExportPng(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.png", err)
		}
		return buf, nil

	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		ep.Lossless = opts.Lossless
		ep.StripMetadata = opts.StripEXIF
		buf, _, err := vi.ref.ExportWebp(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.webp", err)
		}
		return buf, nil

	default:
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}
}

// ─── VipsImage ────────────────────────────────────────────────────────────────

// VipsImage wraps a *govips.ImageRef for storage in core.ImageData.Image.
type VipsImage struct {
	ref *govips.ImageRef
}

func (v *VipsImage) Width() int            { return v.ref.Width() }
func (v *VipsImage) Height() int           { return v.ref.Height() }
func (v *VipsImage) Ref() *govips.ImageRef { return v.ref }
func (v *VipsImage) Close()                { v.ref.Close() }

// ─── VipsCoverCropStep ────────────────────────────────────────────────────────

// VipsCoverCropStep crops a region and scales it to cover a target size,
// the same geometry the pure-Go step computes.  The sampled decode is
// emulated with an integer downscale, then the crop is extracted and
// resized to the exact target.
type VipsCoverCropStep struct {
	Crop   geometry.Region
	Target geometry.Size
}

func (s *VipsCoverCropStep) Name() string { return "vips.cover_crop" }

func (s *VipsCoverCropStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("expected *VipsImage; use vips backend for decode"))
	}
	res, err := geometry.CoverCrop(s.Crop, s.Target)
	if err != nil {
		return nil, err
	}
	if !s.Crop.In(img.Meta.Width, img.Meta.Height) {
		return nil, apperrors.New(apperrors.CategoryGeometry, s.Name(),
			fmt.Errorf("%w: region %dx%d+%d+%d outside %dx%d source",
				apperrors.ErrInvalidCropRegion,
				s.Crop.Width, s.Crop.Height, s.Crop.X, s.Crop.Y,
				img.Meta.Width, img.Meta.Height))
	}

	if res.SampleSize > 1 {
		if err := vi.ref.Resize(1/float64(res.SampleSize), govips.KernelNearest); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
		}
	}
	if err := vi.ref.ExtractArea(res.Crop.X, res.Crop.Y, res.Crop.Width, res.Crop.Height); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if vi.ref.Width() != s.Target.Width || vi.ref.Height() != s.Target.Height {
		scale := float64(s.Target.Width) / float64(vi.ref.Width())
		if err := vi.ref.Resize(scale, govips.KernelLanczos3); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
		}
	}

	out := *img
	out.Meta.Width = vi.ref.Width()
	out.Meta.Height = vi.ref.Height()
	out.Geometry = &res
	return &out, nil
}

// ─── VipsCropStep ─────────────────────────────────────────────────────────────

// VipsCropStep extracts a region at its natural size.
type VipsCropStep struct {
	Region geometry.Region
}

func (s *VipsCropStep) Name() string { return "vips.crop" }

func (s *VipsCropStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("expected *VipsImage; use vips backend for decode"))
	}
	if err := s.Region.Validate(); err != nil {
		return nil, err
	}
	if !s.Region.In(img.Meta.Width, img.Meta.Height) {
		return nil, apperrors.New(apperrors.CategoryGeometry, s.Name(),
			fmt.Errorf("%w: region outside source bounds", apperrors.ErrInvalidCropRegion))
	}
	if err := vi.ref.ExtractArea(s.Region.X, s.Region.Y, s.Region.Width, s.Region.Height); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	out := *img
	out.Meta.Width = vi.ref.Width()
	out.Meta.Height = vi.ref.Height()
	return &out, nil
}

// ─── VipsRotateStep ───────────────────────────────────────────────────────────

// VipsRotateStep rotates clockwise by a multiple of 90 degrees.
type VipsRotateStep struct {
	Degrees int
}

func (s *VipsRotateStep) Name() string { return "vips.rotate" }

func (s *VipsRotateStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("expected *VipsImage; use vips backend for decode"))
	}

	deg := ((s.Degrees % 360) + 360) % 360
	var angle govips.Angle
	switch deg {
	case 0:
		return img, nil
	case 90:
		angle = govips.Angle90
	case 180:
		angle = govips.Angle180
	case 270:
		angle = govips.Angle270
	default:
		return nil, apperrors.New(apperrors.CategoryInput, s.Name(),
			fmt.Errorf("%w: %d", apperrors.ErrInvalidRotation, s.Degrees))
	}

	if err := vi.ref.Rotate(angle); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	out := *img
	out.Meta.Width = vi.ref.Width()
	out.Meta.Height = vi.ref.Height()
	return &out, nil
}

// ─── VipsAutoRotateStep ───────────────────────────────────────────────────────

// VipsAutoRotateStep applies the EXIF orientation tag then clears it, so
// later geometry works on upright pixels.
type VipsAutoRotateStep struct{}

func (s *VipsAutoRotateStep) Name() string { return "vips.auto_rotate" }

func (s *VipsAutoRotateStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return img, nil
	}
	if err := vi.ref.AutoRotate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	out := *img
	out.Meta.Width = vi.ref.Width()
	out.Meta.Height = vi.ref.Height()
	out.Meta.Orientation = 0
	return &out, nil
}

// ─── VipsStripEXIFStep ────────────────────────────────────────────────────────

// VipsStripEXIFStep removes all EXIF/XMP/IPTC metadata in-place.
type VipsStripEXIFStep struct{}

func (s *VipsStripEXIFStep) Name() string { return "vips.strip_exif" }

func (s *VipsStripEXIFStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	if vi, ok := img.Image.(*VipsImage); ok && vi != nil {
		vi.ref.RemoveMetadata()
	}
	out := *img
	out.Meta.EXIF = nil
	out.Meta.HasEXIF = false
	out.Meta.Orientation = 0
	return &out, nil
}

// ─── RegisterVipsBackend ──────────────────────────────────────────────────────

// RegisterVipsBackend replaces the Go stdlib codecs with libvips for all
// supported formats.
func RegisterVipsBackend(reg core.Registry, b *Backend) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP} {
		reg.RegisterDecoder(f, b)
		reg.RegisterEncoder(f, b)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func vipsFormatToCore(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	default:
		return core.FormatUnknown
	}
}

func vipsInterpretationToColorSpace(i govips.Interpretation) core.ColorSpace {
	switch i {
	case govips.InterpretationSRGB, govips.InterpretationRGB16:
		return core.ColorSpaceRGB
	case govips.InterpretationBW:
		return core.ColorSpaceGray
	case govips.InterpretationCMYK:
		return core.ColorSpaceCMYK
	default:
		return core.ColorSpaceRGB
	}
}

// compile-time interface checks
var _ core.Decoder = (*Backend)(nil)
var _ core.Encoder = (*Backend)(nil)
var _ core.Step = (*VipsCoverCropStep)(nil)
var _ core.Step = (*VipsCropStep)(nil)
var _ core.Step = (*VipsRotateStep)(nil)
var _ core.Step = (*VipsAutoRotateStep)(nil)
var _ core.Step = (*VipsStripEXIFStep)(nil)
