// Package pipeline provides built-in pipeline steps and the extensible Step API.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/pixfold/image-editor/core"
	apperrors "github.com/pixfold/image-editor/errors"
	"github.com/pixfold/image-editor/geometry"
	"github.com/pixfold/image-editor/metadata"
	"github.com/pixfold/image-editor/utils"
)

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes raw bytes in img.Data into an image.Image and extracts
// the EXIF orientation correction.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Image != nil {
		return img, nil // already decoded
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(), apperrors.ErrEmptyInput)
	}
	dec, ok := s.Registry.DecoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	decoded, err := dec.Decode(ctx, bytes.NewReader(img.Data))
	if err != nil {
		return nil, err
	}

	// Preserve the raw data bytes alongside the decoded representation.
	decoded.Data = img.Data
	decoded.OriginalSize = img.OriginalSize
	decoded.Meta.Orientation = metadata.Degrees(img.Data)
	return decoded, nil
}

// ── Orient ────────────────────────────────────────────────────────────────────

// OrientStep rotates/flips the pixel buffer so the image is upright, then
// clears the orientation correction.  Crop regions are expressed in upright
// coordinates, so this step runs before any cropping.
type OrientStep struct{}

func (s *OrientStep) Name() string { return "orient" }

func (s *OrientStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	tag := metadata.ReadOrientation(img.Data)
	if tag <= 1 {
		return img, nil
	}

	upright := orientationTransform(src, tag)
	bounds := upright.Bounds()

	out := *img
	out.Image = upright
	out.Meta.Width = bounds.Dx()
	out.Meta.Height = bounds.Dy()
	out.Meta.Orientation = 0
	return &out, nil
}

// orientationTransform applies the flip/rotation for EXIF orientation values
// 1-8.  Note imaging rotations are counter-clockwise, so tag 6 (90° CW) maps
// to Rotate270 and tag 8 to Rotate90.
func orientationTransform(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// ── CoverCrop ─────────────────────────────────────────────────────────────────

// CoverCropStep crops Region and scales the result to exactly Target using
// scale-to-cover geometry.  Mirrors a sampled decode: when the geometry calls
// for a power-of-two sample size the working buffer is first decimated, the
// sampled-space rect is cropped, and the residual scale reaches the target.
type CoverCropStep struct {
	Crop   geometry.Region
	Target geometry.Size
	// Resampler controls quality vs speed of the final scale.  Defaults to
	// draw.BiLinear.
	Resampler xdraw.Interpolator
}

func (s *CoverCropStep) Name() string { return "cover_crop" }

func (s *CoverCropStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	res, err := geometry.CoverCrop(s.Crop, s.Target)
	if err != nil {
		return nil, err
	}

	srcB := src.Bounds()
	if !s.Crop.In(srcB.Dx(), srcB.Dy()) {
		return nil, apperrors.New(apperrors.CategoryGeometry, s.Name(),
			fmt.Errorf("%w: region %+v exceeds image bounds %dx%d",
				apperrors.ErrInvalidCropRegion, s.Crop, srcB.Dx(), srcB.Dy()))
	}

	working := src
	if res.SampleSize > 1 {
		sw := srcB.Dx() / res.SampleSize
		sh := srcB.Dy() / res.SampleSize
		sampled := image.NewRGBA(image.Rect(0, 0, sw, sh))
		xdraw.NearestNeighbor.Scale(sampled, sampled.Bounds(), src, srcB, xdraw.Src, nil)
		working = sampled
	}

	rect := image.Rect(res.Crop.X, res.Crop.Y, res.Crop.X+res.Crop.Width, res.Crop.Y+res.Crop.Height)
	cropped := image.NewRGBA(image.Rect(0, 0, res.Crop.Width, res.Crop.Height))
	draw.Draw(cropped, cropped.Bounds(), working, rect.Min, draw.Src)

	sampler := s.Resampler
	if sampler == nil {
		sampler = xdraw.BiLinear
	}
	dst := image.NewRGBA(image.Rect(0, 0, s.Target.Width, s.Target.Height))
	sampler.Scale(dst, dst.Bounds(), cropped, cropped.Bounds(), xdraw.Src, nil)

	out := *img
	out.Image = dst
	out.Meta.Width = s.Target.Width
	out.Meta.Height = s.Target.Height
	out.Geometry = &res
	return &out, nil
}

// ── Crop ──────────────────────────────────────────────────────────────────────

// CropStep crops a rectangle from the image without scaling.
type CropStep struct {
	Region geometry.Region
}

func (s *CropStep) Name() string { return "crop" }

func (s *CropStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if err := s.Region.Validate(); err != nil {
		return nil, err
	}

	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	srcB := src.Bounds()
	if !s.Region.In(srcB.Dx(), srcB.Dy()) {
		return nil, apperrors.New(apperrors.CategoryGeometry, s.Name(),
			fmt.Errorf("%w: region %+v exceeds image bounds %dx%d",
				apperrors.ErrInvalidCropRegion, s.Region, srcB.Dx(), srcB.Dy()))
	}

	rect := image.Rect(s.Region.X, s.Region.Y, s.Region.X+s.Region.Width, s.Region.Y+s.Region.Height)
	dst := image.NewRGBA(image.Rect(0, 0, s.Region.Width, s.Region.Height))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)

	out := *img
	out.Image = dst
	out.Meta.Width = s.Region.Width
	out.Meta.Height = s.Region.Height
	return &out, nil
}

// ── Rotate ────────────────────────────────────────────────────────────────────

// RotateStep rotates the image clockwise by Degrees.  Arbitrary angles are
// supported; right angles take the exact transform path.
type RotateStep struct {
	Degrees int
}

func (s *RotateStep) Name() string { return "rotate" }

func (s *RotateStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	deg := ((s.Degrees % 360) + 360) % 360
	if deg == 0 {
		return img, nil
	}

	var rotated image.Image
	switch deg {
	case 90:
		rotated = imaging.Rotate270(src) // imaging rotations are CCW
	case 180:
		rotated = imaging.Rotate180(src)
	case 270:
		rotated = imaging.Rotate90(src)
	default:
		rotated = imaging.Rotate(src, float64(360-deg), color.Transparent)
	}

	bounds := rotated.Bounds()
	out := *img
	out.Image = rotated
	out.Meta.Width = bounds.Dx()
	out.Meta.Height = bounds.Dy()
	return &out, nil
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep resizes the image to the given dimensions, preserving aspect ratio
// when one axis is 0.
type ResizeStep struct {
	Width, Height int
	// Resampler controls quality vs speed.  Defaults to draw.BiLinear.
	Resampler xdraw.Interpolator
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}

	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	srcB := src.Bounds()
	dstW, dstH := utils.ScaleDimensions(srcB.Dx(), srcB.Dy(), s.Width, s.Height)

	if dstW == srcB.Dx() && dstH == srcB.Dy() {
		return img, nil // nothing to do
	}
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidTargetSize)
	}

	sampler := s.Resampler
	if sampler == nil {
		sampler = xdraw.BiLinear
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	sampler.Scale(dst, dst.Bounds(), src, srcB, xdraw.Over, nil)

	out := *img
	out.Image = dst
	out.Meta.Width = dstW
	out.Meta.Height = dstH
	return &out, nil
}

// ── Format conversion ─────────────────────────────────────────────────────────

// FormatStep converts the image to a new format (sets img.Format for the
// subsequent encode step to pick up).
type FormatStep struct {
	Format core.Format
}

func (s *FormatStep) Name() string { return "format" }

func (s *FormatStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.Format = s.Format
	out.Meta.Format = s.Format
	return &out, nil
}

// ── Quality ───────────────────────────────────────────────────────────────────

// QualityStep records the desired encode quality.  The actual quality is
// consumed by EncodeStep.
type QualityStep struct {
	Quality int
}

func (s *QualityStep) Name() string { return "quality" }

func (s *QualityStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	// Store as a tag in Meta so EncodeStep can read it without coupling.
	if out.Meta.EXIF == nil {
		out.Meta.EXIF = make(map[string]string)
	}
	out.Meta.EXIF["_quality"] = fmt.Sprintf("%d", s.Quality)
	return &out, nil
}

// ── EXIF strip ────────────────────────────────────────────────────────────────

// StripEXIFStep removes EXIF metadata from the ImageData.
type StripEXIFStep struct{}

func (s *StripEXIFStep) Name() string { return "strip_exif" }

func (s *StripEXIFStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.Meta.EXIF = nil
	out.Meta.HasEXIF = false
	out.Meta.Orientation = 0
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the image.Image into encoded bytes using the registry.
type EncodeStep struct {
	Registry    core.Registry
	BaseOptions core.EncodeOptions
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	enc, ok := s.Registry.EncoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	opts := s.BaseOptions
	// Apply quality override stored by QualityStep.
	if img.Meta.EXIF != nil {
		if qs, found := img.Meta.EXIF["_quality"]; found {
			var q int
			fmt.Sscanf(qs, "%d", &q)
			opts.Quality = q
		}
	}

	data, err := enc.Encode(ctx, img, opts)
	if err != nil {
		return nil, err
	}

	out := *img
	out.Data = data
	out.Meta.SizeBytes = int64(len(data))
	return &out, nil
}
