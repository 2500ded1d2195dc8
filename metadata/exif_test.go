package metadata

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"
)

func TestOrientationDegrees(t *testing.T) {
	tests := []struct {
		orientation int
		want        int
	}{
		{0, 0},
		{1, 0},
		{2, 0}, // mirrored, no rotation
		{3, 180},
		{4, 0},
		{5, 0},
		{6, 90},
		{7, 0},
		{8, 270},
		{9, 0},
	}
	for _, tc := range tests {
		if got := OrientationDegrees(tc.orientation); got != tc.want {
			t.Errorf("OrientationDegrees(%d) = %d; want %d", tc.orientation, got, tc.want)
		}
	}
}

func TestSwapsDimensions(t *testing.T) {
	for _, deg := range []int{0, 180} {
		if SwapsDimensions(deg) {
			t.Errorf("SwapsDimensions(%d) = true; want false", deg)
		}
	}
	for _, deg := range []int{90, 270} {
		if !SwapsDimensions(deg) {
			t.Errorf("SwapsDimensions(%d) = false; want true", deg)
		}
	}
}

// taggedJPEG encodes a blank JPEG and splices in an APP1 EXIF segment whose
// TIFF directory carries a single Orientation entry.
func taggedJPEG(t *testing.T, orientation byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	raw := buf.Bytes()
	tiff := []byte{
		'I', 'I', 0x2A, 0x00, // little-endian TIFF header
		0x08, 0x00, 0x00, 0x00, // IFD0 at offset 8
		0x01, 0x00, // one directory entry
		0x12, 0x01, 0x03, 0x00, // Orientation, SHORT
		0x01, 0x00, 0x00, 0x00, // count 1
		orientation, 0x00, 0x00, 0x00, // value
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	seg := append([]byte{0xFF, 0xE1, byte((len(payload) + 2) >> 8), byte(len(payload) + 2)}, payload...)
	out := make([]byte, 0, len(raw)+len(seg))
	out = append(out, raw[:2]...) // APP1 goes right after SOI
	out = append(out, seg...)
	return append(out, raw[2:]...)
}

func TestReadOrientation_Tagged(t *testing.T) {
	tests := []struct {
		orientation byte
		wantDegrees int
	}{
		{1, 0},
		{3, 180},
		{6, 90},
		{8, 270},
	}
	for _, tc := range tests {
		data := taggedJPEG(t, tc.orientation)
		if got := ReadOrientation(data); got != int(tc.orientation) {
			t.Errorf("ReadOrientation(tag %d) = %d", tc.orientation, got)
		}
		if got := Degrees(data); got != tc.wantDegrees {
			t.Errorf("Degrees(tag %d) = %d; want %d", tc.orientation, got, tc.wantDegrees)
		}
	}
}

func TestReadOrientation_NoEXIF(t *testing.T) {
	// A plain encoded JPEG carries no EXIF block.
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := ReadOrientation(buf.Bytes()); got != 0 {
		t.Errorf("ReadOrientation = %d; want 0", got)
	}
	if attrs := CopyAttributes(buf.Bytes()); attrs != nil {
		t.Errorf("CopyAttributes = %v; want nil", attrs)
	}
}

func TestReadOrientation_Garbage(t *testing.T) {
	if got := ReadOrientation([]byte("not an image")); got != 0 {
		t.Errorf("ReadOrientation = %d; want 0", got)
	}
}
