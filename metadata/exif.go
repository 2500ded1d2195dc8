// Package metadata reads EXIF attributes from encoded images.  Decoding is
// best-effort: images without EXIF (PNG, stripped JPEG) report a zero
// orientation and no attributes rather than an error.
package metadata

import (
	"bytes"
	"io"

	"github.com/rwcarlsen/goexif/exif"
)

// copyAttributes is the whitelist of EXIF tags carried over to crop results
// when preservation is enabled.
var copyAttributes = []exif.FieldName{
	exif.ApertureValue,
	exif.DateTime,
	exif.DateTimeDigitized,
	exif.ExposureTime,
	exif.Flash,
	exif.FocalLength,
	exif.GPSAltitude,
	exif.GPSAltitudeRef,
	exif.GPSDateStamp,
	exif.GPSLatitude,
	exif.GPSLatitudeRef,
	exif.GPSLongitude,
	exif.GPSLongitudeRef,
	exif.GPSProcessingMethod,
	exif.GPSTimeStamp,
	exif.ImageLength,
	exif.ImageWidth,
	exif.ISOSpeedRatings,
	exif.Make,
	exif.Model,
	exif.Orientation,
	exif.SubSecTime,
	exif.SubSecTimeDigitized,
	exif.SubSecTimeOriginal,
	exif.WhiteBalance,
}

// ReadOrientation returns the raw EXIF orientation tag (1-8) from the encoded
// image in data, or 0 when the tag is absent or unreadable.
func ReadOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return orientation
}

// OrientationDegrees converts an EXIF orientation tag to the rotation in
// degrees needed to display the image upright.  Mirrored orientations map to
// 0; only the pure rotations participate in geometry.
func OrientationDegrees(orientation int) int {
	switch orientation {
	case 3:
		return 180
	case 6:
		return 90
	case 8:
		return 270
	default:
		return 0
	}
}

// Degrees reads the orientation from data and converts it in one call.
func Degrees(data []byte) int {
	return OrientationDegrees(ReadOrientation(data))
}

// SwapsDimensions reports whether the given rotation swaps width and height.
func SwapsDimensions(degrees int) bool {
	return degrees == 90 || degrees == 270
}

// CopyAttributes extracts the whitelisted EXIF attributes from data as a
// string map.  Returns nil when the image carries no readable EXIF block.
func CopyAttributes(data []byte) map[string]string {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	attrs := make(map[string]string)
	for _, name := range copyAttributes {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		attrs[string(name)] = tag.String()
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// ReadOrientationFrom is a reader-based variant of ReadOrientation for
// callers that stream rather than buffer.
func ReadOrientationFrom(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return orientation
}
