package imageeditor_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	imageeditor "github.com/pixfold/image-editor"
	"github.com/pixfold/image-editor/config"
	"github.com/pixfold/image-editor/core"
	apperrors "github.com/pixfold/image-editor/errors"
	"github.com/pixfold/image-editor/hooks"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func newGradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: 128, A: 255,
			})
		}
	}
	return img
}

func newJPEGFile(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, newGradientImage(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	path := filepath.Join(t.TempDir(), "src.jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write test jpeg: %v", err)
	}
	return path
}

func newPNGFile(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, newGradientImage(w, h)); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	path := filepath.Join(t.TempDir(), "src.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write test png: %v", err)
	}
	return path
}

// newTaggedJPEGFile writes a JPEG whose APP1 EXIF segment carries the given
// orientation, so the pixel dimensions stay unrotated on disk.
func newTaggedJPEGFile(t *testing.T, w, h int, orientation byte) string {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, newGradientImage(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
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
	tagged := make([]byte, 0, len(raw)+len(seg))
	tagged = append(tagged, raw[:2]...) // APP1 goes right after SOI
	tagged = append(tagged, seg...)
	tagged = append(tagged, raw[2:]...)

	path := filepath.Join(t.TempDir(), "tagged.jpg")
	if err := os.WriteFile(path, tagged, 0o644); err != nil {
		t.Fatalf("write test jpeg: %v", err)
	}
	return path
}

func newEditor(t *testing.T) *imageeditor.Editor {
	t.Helper()
	cfg := imageeditor.DefaultConfig()
	cfg.WorkerCount = 2
	cfg.QueueSize = 16
	cfg.Temp.Dir = t.TempDir()
	ed, err := imageeditor.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ed.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { ed.Stop(context.Background()) })
	return ed
}

func decodeFile(t *testing.T, path string) image.Config {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode config %s: %v", path, err)
	}
	return cfg
}

// ── CropImage ─────────────────────────────────────────────────────────────────

func TestCropImage_CoverGeometry(t *testing.T) {
	ed := newEditor(t)
	src := newJPEGFile(t, 1000, 500)

	res, err := ed.CropImage(context.Background(), src, imageeditor.CropOptions{
		Size:       imageeditor.Size{Width: 1000, Height: 500},
		TargetSize: &imageeditor.Size{Width: 200, Height: 200},
	})
	if err != nil {
		t.Fatalf("CropImage: %v", err)
	}

	if res.Width != 200 || res.Height != 200 {
		t.Errorf("output size: %dx%d, want 200x200", res.Width, res.Height)
	}
	if res.MimeType != "image/jpeg" {
		t.Errorf("mime: got %s, want image/jpeg", res.MimeType)
	}
	if res.Geometry == nil {
		t.Fatal("geometry not reported")
	}
	if res.Geometry.SampleSize != 2 {
		t.Errorf("sample size: got %d, want 2", res.Geometry.SampleSize)
	}
	if res.Geometry.Scale != 0.8 {
		t.Errorf("scale: got %v, want 0.8", res.Geometry.Scale)
	}
	// Overflow cropped from the wide axis, re-centred in sampled space.
	if res.Geometry.Crop.X != 125 || res.Geometry.Crop.Y != 0 {
		t.Errorf("crop origin: got (%d,%d), want (125,0)", res.Geometry.Crop.X, res.Geometry.Crop.Y)
	}

	cfg := decodeFile(t, res.Path)
	if cfg.Width != 200 || cfg.Height != 200 {
		t.Errorf("written file: %dx%d, want 200x200", cfg.Width, cfg.Height)
	}
	if !strings.HasPrefix(res.Name, "edited_image_") {
		t.Errorf("output name %q missing managed prefix", res.Name)
	}
	if !strings.HasPrefix(res.URI, "file://") {
		t.Errorf("uri %q missing file scheme", res.URI)
	}
}

func TestCropImage_NaturalSize(t *testing.T) {
	ed := newEditor(t)
	src := newPNGFile(t, 300, 200)

	res, err := ed.CropImage(context.Background(), src, imageeditor.CropOptions{
		Offset: imageeditor.Offset{X: 50, Y: 40},
		Size:   imageeditor.Size{Width: 120, Height: 80},
	})
	if err != nil {
		t.Fatalf("CropImage: %v", err)
	}
	if res.Width != 120 || res.Height != 80 {
		t.Errorf("output size: %dx%d, want 120x80", res.Width, res.Height)
	}
	if res.MimeType != "image/png" {
		t.Errorf("mime: got %s, want image/png", res.MimeType)
	}
	if res.Geometry != nil {
		t.Error("natural-size crop should not report cover geometry")
	}
}

func TestCropImage_FormatConversion(t *testing.T) {
	ed := newEditor(t)
	src := newPNGFile(t, 100, 100)

	res, err := ed.CropImage(context.Background(), src, imageeditor.CropOptions{
		Size:   imageeditor.Size{Width: 100, Height: 100},
		Format: imageeditor.JPEG,
	})
	if err != nil {
		t.Fatalf("CropImage: %v", err)
	}
	if res.MimeType != "image/jpeg" {
		t.Errorf("mime: got %s, want image/jpeg", res.MimeType)
	}
	if filepath.Ext(res.Path) != ".jpg" {
		t.Errorf("extension: got %s, want .jpg", filepath.Ext(res.Path))
	}
}

func TestCropImage_InvalidOptions(t *testing.T) {
	ed := newEditor(t)
	src := newJPEGFile(t, 100, 100)

	tests := []struct {
		name string
		opts imageeditor.CropOptions
	}{
		{"zero width", imageeditor.CropOptions{Size: imageeditor.Size{Width: 0, Height: 10}}},
		{"negative offset", imageeditor.CropOptions{
			Offset: imageeditor.Offset{X: -1},
			Size:   imageeditor.Size{Width: 10, Height: 10},
		}},
		{"zero target", imageeditor.CropOptions{
			Size:       imageeditor.Size{Width: 10, Height: 10},
			TargetSize: &imageeditor.Size{Width: 0, Height: 10},
		}},
		{"quality out of range", imageeditor.CropOptions{
			Size:    imageeditor.Size{Width: 10, Height: 10},
			Quality: 101,
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ed.CropImage(context.Background(), src, tc.opts); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestCropImage_RegionOutOfBounds(t *testing.T) {
	ed := newEditor(t)
	src := newJPEGFile(t, 100, 100)

	_, err := ed.CropImage(context.Background(), src, imageeditor.CropOptions{
		Offset: imageeditor.Offset{X: 50, Y: 50},
		Size:   imageeditor.Size{Width: 100, Height: 100},
	})
	if err == nil {
		t.Fatal("expected out-of-bounds error, got nil")
	}
	if !apperrors.IsCategory(err, apperrors.CategoryGeometry) {
		t.Errorf("error category: got %v", err)
	}
}

func TestCropImage_DataURI(t *testing.T) {
	ed := newEditor(t)
	var buf bytes.Buffer
	if err := png.Encode(&buf, newGradientImage(50, 50)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	res, err := ed.CropImage(context.Background(), uri, imageeditor.CropOptions{
		Offset: imageeditor.Offset{X: 10, Y: 10},
		Size:   imageeditor.Size{Width: 20, Height: 20},
	})
	if err != nil {
		t.Fatalf("CropImage from data uri: %v", err)
	}
	if res.Width != 20 || res.Height != 20 {
		t.Errorf("output size: %dx%d, want 20x20", res.Width, res.Height)
	}
}

func TestCropImage_UnsupportedScheme(t *testing.T) {
	ed := newEditor(t)
	_, err := ed.CropImage(context.Background(), "content://media/external/images/1",
		imageeditor.CropOptions{Size: imageeditor.Size{Width: 10, Height: 10}})
	if err == nil {
		t.Fatal("expected scheme error, got nil")
	}
	if !apperrors.IsCategory(err, apperrors.CategorySource) {
		t.Errorf("error category: got %v", err)
	}
}

// ── Rotate ────────────────────────────────────────────────────────────────────

func TestRotate(t *testing.T) {
	ed := newEditor(t)
	src := newJPEGFile(t, 100, 50)

	res, err := ed.Rotate(context.Background(), src, imageeditor.RotateOptions{Degrees: 90})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	cfg := decodeFile(t, res.Path)
	if cfg.Width != 50 || cfg.Height != 100 {
		t.Errorf("rotated size: %dx%d, want 50x100", cfg.Width, cfg.Height)
	}
	if res.Size <= 0 {
		t.Error("size not reported")
	}
	if res.Name == "" || res.URI == "" {
		t.Error("name/uri not reported")
	}
}

func TestRotate_InvalidDegrees(t *testing.T) {
	ed := newEditor(t)
	src := newJPEGFile(t, 50, 50)

	for _, deg := range []int{45, -90, 360, 91} {
		if _, err := ed.Rotate(context.Background(), src, imageeditor.RotateOptions{Degrees: deg}); err == nil {
			t.Errorf("degrees=%d: expected error, got nil", deg)
		}
	}
}

// ── GetSize / GetBase64 ───────────────────────────────────────────────────────

func TestGetSize(t *testing.T) {
	ed := newEditor(t)

	jpg := newJPEGFile(t, 120, 80)
	size, err := ed.GetSize(context.Background(), jpg)
	if err != nil {
		t.Fatalf("GetSize jpeg: %v", err)
	}
	if size.Width != 120 || size.Height != 80 {
		t.Errorf("jpeg size: %dx%d, want 120x80", size.Width, size.Height)
	}

	pngPath := newPNGFile(t, 64, 48)
	size, err = ed.GetSize(context.Background(), pngPath)
	if err != nil {
		t.Fatalf("GetSize png: %v", err)
	}
	if size.Width != 64 || size.Height != 48 {
		t.Errorf("png size: %dx%d, want 64x48", size.Width, size.Height)
	}
}

func TestGetSize_OrientationSwap(t *testing.T) {
	ed := newEditor(t)

	// Tag 6 (90° CW) swaps the reported dimensions; tag 3 (180°) does not.
	src := newTaggedJPEGFile(t, 120, 80, 6)
	size, err := ed.GetSize(context.Background(), src)
	if err != nil {
		t.Fatalf("GetSize: %v", err)
	}
	if size.Width != 80 || size.Height != 120 {
		t.Errorf("rotated size: %dx%d, want 80x120", size.Width, size.Height)
	}

	src = newTaggedJPEGFile(t, 120, 80, 3)
	size, err = ed.GetSize(context.Background(), src)
	if err != nil {
		t.Fatalf("GetSize: %v", err)
	}
	if size.Width != 120 || size.Height != 80 {
		t.Errorf("flipped size: %dx%d, want 120x80", size.Width, size.Height)
	}
}

func TestCropImage_UprightsTaggedSource(t *testing.T) {
	ed := newEditor(t)
	src := newTaggedJPEGFile(t, 100, 50, 6)

	// Upright dimensions are 50x100, so a full-frame crop uses those bounds.
	res, err := ed.CropImage(context.Background(), src, imageeditor.CropOptions{
		Size: imageeditor.Size{Width: 50, Height: 100},
	})
	if err != nil {
		t.Fatalf("CropImage: %v", err)
	}
	cfg := decodeFile(t, res.Path)
	if cfg.Width != 50 || cfg.Height != 100 {
		t.Errorf("output: %dx%d, want 50x100", cfg.Width, cfg.Height)
	}
}

func TestGetBase64(t *testing.T) {
	ed := newEditor(t)
	src := newPNGFile(t, 10, 10)
	raw, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}

	b64, err := ed.GetBase64(context.Background(), src)
	if err != nil {
		t.Fatalf("GetBase64: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Error("base64 round-trip does not match source bytes")
	}
}

func TestGetBase64_SourceOverCap(t *testing.T) {
	cfg := imageeditor.DefaultConfig()
	cfg.MaxImageBytes = 1024
	cfg.Temp.Dir = t.TempDir()
	ed, err := imageeditor.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ed.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { ed.Stop(context.Background()) })

	src := filepath.Join(t.TempDir(), "big.jpg")
	if err := os.WriteFile(src, make([]byte, 1<<20), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := ed.GetBase64(context.Background(), src); !errors.Is(err, apperrors.ErrSourceTooLarge) {
		t.Fatalf("GetBase64: got %v, want ErrSourceTooLarge", err)
	}
	if _, err := ed.CropImage(context.Background(), src, imageeditor.CropOptions{
		Size: imageeditor.Size{Width: 10, Height: 10},
	}); !errors.Is(err, apperrors.ErrSourceTooLarge) {
		t.Fatalf("CropImage: got %v, want ErrSourceTooLarge", err)
	}
}

// ── Lifecycle / sweeping ──────────────────────────────────────────────────────

func TestStart_SweepsLeftovers(t *testing.T) {
	dir := t.TempDir()
	leftover := filepath.Join(dir, "edited_image_stale.jpg")
	if err := os.WriteFile(leftover, []byte("stale"), 0o644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}

	cfg := imageeditor.DefaultConfig()
	cfg.Temp.Dir = dir
	ed, err := imageeditor.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ed.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { ed.Stop(context.Background()) })

	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Error("leftover output file survived Start")
	}
}

func TestStop_SweepsOutputs(t *testing.T) {
	dir := t.TempDir()
	cfg := imageeditor.DefaultConfig()
	cfg.Temp.Dir = dir
	ed, err := imageeditor.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ed.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	src := newJPEGFile(t, 100, 100)
	res, err := ed.CropImage(context.Background(), src, imageeditor.CropOptions{
		Size: imageeditor.Size{Width: 50, Height: 50},
	})
	if err != nil {
		t.Fatalf("CropImage: %v", err)
	}

	if err := ed.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(res.Path); !os.IsNotExist(err) {
		t.Error("output file survived Stop sweep")
	}
}

func TestStop_Idempotent(t *testing.T) {
	cfg := imageeditor.DefaultConfig()
	cfg.Temp.Dir = t.TempDir()
	ed, err := imageeditor.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ed.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := ed.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := ed.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

// ── Async worker pool ─────────────────────────────────────────────────────────

func TestSubmitCrop_Async(t *testing.T) {
	ed := newEditor(t)
	src := newJPEGFile(t, 400, 400)

	resultCh := make(chan core.TaskResult, 1)
	err := ed.SubmitCrop(context.Background(), "crop-001", src, imageeditor.CropOptions{
		Size:       imageeditor.Size{Width: 400, Height: 400},
		TargetSize: &imageeditor.Size{Width: 100, Height: 100},
	}, resultCh)
	if err != nil {
		t.Fatalf("SubmitCrop: %v", err)
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			t.Fatalf("async crop error: %v", res.Err)
		}
		if res.TaskID != "crop-001" {
			t.Errorf("task id: got %s", res.TaskID)
		}
		if res.Result.Primary.Meta.Width != 100 {
			t.Errorf("async width: got %d, want 100", res.Result.Primary.Meta.Width)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async crop timed out")
	}
}

// ── Hooks / metrics ───────────────────────────────────────────────────────────

func TestMetricsHook(t *testing.T) {
	m := hooks.NewInMemoryMetrics()

	ed := newEditor(t)
	ed.AddHook(hooks.NewMetricsHook(m))

	src := newJPEGFile(t, 400, 200)
	_, err := ed.CropImage(context.Background(), src, imageeditor.CropOptions{
		Size:       imageeditor.Size{Width: 400, Height: 200},
		TargetSize: &imageeditor.Size{Width: 100, Height: 100},
	})
	if err != nil {
		t.Fatalf("CropImage: %v", err)
	}

	snap := m.Snapshot()
	if snap.StepCalls["cover_crop"] == 0 {
		t.Error("cover_crop step was not recorded in metrics")
	}
	if snap.StepCalls["encode"] == 0 {
		t.Error("encode step was not recorded in metrics")
	}
}

// ── Config validation ─────────────────────────────────────────────────────────

func TestConfigValidation(t *testing.T) {
	cfg := config.Default()
	cfg.CompressQuality = 0 // invalid
	if err := config.Validate(cfg); err == nil {
		t.Error("expected validation error for quality=0")
	}

	cfg = config.Default()
	cfg.Temp.Prefix = ""
	if err := config.Validate(cfg); err == nil {
		t.Error("expected validation error for empty prefix")
	}
}

// ── Stats ─────────────────────────────────────────────────────────────────────

func TestStats(t *testing.T) {
	ed := newEditor(t)
	src := newJPEGFile(t, 100, 100)

	if _, err := ed.CropImage(context.Background(), src, imageeditor.CropOptions{
		Size: imageeditor.Size{Width: 50, Height: 50},
	}); err != nil {
		t.Fatalf("CropImage: %v", err)
	}

	edited, _ := ed.Stats()
	if edited == 0 {
		t.Error("edited count not incremented")
	}
}

// ── Benchmarks ────────────────────────────────────────────────────────────────

func BenchmarkCropImage_Cover(b *testing.B) {
	cfg := imageeditor.DefaultConfig()
	cfg.Temp.Dir = b.TempDir()
	ed, err := imageeditor.New(cfg)
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	if err := ed.Start(context.Background()); err != nil {
		b.Fatalf("Start: %v", err)
	}
	defer ed.Stop(context.Background())

	var buf bytes.Buffer
	jpeg.Encode(&buf, newGradientImage(1920, 1080), &jpeg.Options{Quality: 90})
	src := filepath.Join(b.TempDir(), "bench.jpg")
	os.WriteFile(src, buf.Bytes(), 0o644)

	opts := imageeditor.CropOptions{
		Size:       imageeditor.Size{Width: 1920, Height: 1080},
		TargetSize: &imageeditor.Size{Width: 320, Height: 320},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ed.CropImage(context.Background(), src, opts); err != nil {
			b.Fatalf("CropImage: %v", err)
		}
	}
}
