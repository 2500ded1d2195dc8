// Package geometry computes cover-crop rectangles, decode sample sizes, and
// orientation-corrected dimensions.  Everything here is pure arithmetic; the
// functions are safe to call from any goroutine.
package geometry

import (
	"fmt"
	"math"

	apperrors "github.com/pixfold/image-editor/errors"
)

// Region is a crop rectangle in source-pixel space.
type Region struct {
	X, Y, Width, Height int
}

// Size is a width/height pair in pixels.
type Size struct {
	Width, Height int
}

// Result describes how to produce a target-sized output from a crop region:
// the crop rectangle translated into sampled-bitmap coordinates, the
// power-of-two decode divisor, and the residual scale applied after cropping
// to reach the exact target size.
type Result struct {
	Crop       Region
	SampleSize int
	Scale      float64
}

// Validate rejects regions with negative offsets or non-positive dimensions.
// Bounds against the source image are checked by the crop step once the
// source has been decoded.
func (r Region) Validate() error {
	if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 {
		return apperrors.New(apperrors.CategoryInput, "geometry.region",
			fmt.Errorf("%w: [%d, %d, %d, %d]", apperrors.ErrInvalidCropRegion, r.X, r.Y, r.Width, r.Height))
	}
	return nil
}

// Validate rejects non-positive target dimensions.
func (s Size) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return apperrors.New(apperrors.CategoryInput, "geometry.size",
			fmt.Errorf("%w: [%d, %d]", apperrors.ErrInvalidTargetSize, s.Width, s.Height))
	}
	return nil
}

// In reports whether the region lies entirely within a w×h source.
func (r Region) In(w, h int) bool {
	return r.X+r.Width <= w && r.Y+r.Height <= h
}

// CoverCrop computes scale-to-cover geometry: the target frame is completely
// filled by scaling the crop region, with overflow cropped on the longer axis
// and the shrunk axis re-centred within the original region.  Aspect ratio is
// never distorted.
func CoverCrop(crop Region, target Size) (Result, error) {
	if err := crop.Validate(); err != nil {
		return Result{}, err
	}
	if err := target.Validate(); err != nil {
		return Result{}, err
	}

	var newX, newY, newW, newH, scale float64
	cropRatio := float64(crop.Width) / float64(crop.Height)
	targetRatio := float64(target.Width) / float64(target.Height)
	if cropRatio > targetRatio {
		// Crop region is relatively wider than the target: height limits.
		newW = float64(crop.Height) * targetRatio
		newH = float64(crop.Height)
		newX = float64(crop.X) + (float64(crop.Width)-newW)/2
		newY = float64(crop.Y)
		scale = float64(target.Height) / float64(crop.Height)
	} else {
		// Width limits.
		newW = float64(crop.Width)
		newH = float64(crop.Width) / targetRatio
		newX = float64(crop.X)
		newY = float64(crop.Y) + (float64(crop.Height)-newH)/2
		scale = float64(target.Width) / float64(crop.Width)
	}

	sample := DecodeSampleSize(crop.Width, crop.Height, target.Width, target.Height)

	// Floor, never round up: the rect must not exceed sampled bitmap bounds.
	s := float64(sample)
	return Result{
		Crop: Region{
			X:      int(math.Floor(newX / s)),
			Y:      int(math.Floor(newY / s)),
			Width:  int(math.Floor(newW / s)),
			Height: int(math.Floor(newH / s)),
		},
		SampleSize: sample,
		Scale:      scale * s,
	}, nil
}

// DecodeSampleSize returns the largest power of two such that decoding every
// n-th pixel still leaves both dimensions at or above the target.  Bounds peak
// decode memory; 1 when the region is already no larger than the target.
func DecodeSampleSize(width, height, targetWidth, targetHeight int) int {
	sample := 1
	if height > targetHeight || width > targetWidth {
		halfWidth := width / 2
		halfHeight := height / 2
		for (halfWidth/sample) >= targetWidth && (halfHeight/sample) >= targetHeight {
			sample *= 2
		}
	}
	return sample
}

// OrientedSize returns the dimensions as consumed after applying an EXIF
// rotation of the given degrees.  The pixel buffer is stored unrotated, so
// 90 and 270 swap width and height.
func OrientedSize(width, height, degrees int) (int, int) {
	if degrees == 90 || degrees == 270 {
		return height, width
	}
	return width, height
}
