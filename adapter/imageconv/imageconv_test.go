// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imageconv

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/screencap"
)

// testFrame returns a 3x2 BGRA frame with a padded stride and distinct
// pixels.
func testFrame(t *testing.T) *screencap.Frame {
	t.Helper()
	const w, h, stride = 3, 2, 16
	data := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*stride + x*4
			data[i+0] = uint8(10 * x)      // B
			data[i+1] = uint8(100 + 10*y)  // G
			data[i+2] = uint8(200 + x + y) // R
			data[i+3] = 255                // A
		}
		for i := y*stride + w*4; i < (y+1)*stride; i++ {
			data[i] = 0xAB
		}
	}
	f, err := screencap.NewFrame(w, h, stride, data)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	return f
}

func TestToRGBA(t *testing.T) {
	img, err := RGBA{}.Convert(testFrame(t))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Fatalf("Bounds = %v", img.Bounds())
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			want := color.RGBA{R: uint8(200 + x + y), G: uint8(100 + 10*y), B: uint8(10 * x), A: 255}
			if got := img.RGBAAt(x, y); got != want {
				t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestToRGBAStale(t *testing.T) {
	var f *screencap.Frame
	if _, err := ToRGBA(f); !errors.Is(err, screencap.ErrStaleFrame) {
		t.Errorf("ToRGBA(nil) = %v, want ErrStaleFrame", err)
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	f := testFrame(t)
	for _, format := range []Format{PNG, BMP, TIFF} {
		t.Run(format.String(), func(t *testing.T) {
			data, err := Encoder{Format: format}.Convert(f)
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			img, name, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if name != format.String() {
				t.Errorf("decoded as %q", name)
			}
			r, g, b, _ := img.At(2, 1).RGBA()
			if r>>8 != 203 || g>>8 != 110 || b>>8 != 20 {
				t.Errorf("pixel (2,1) = %d,%d,%d, want 203,110,20", r>>8, g>>8, b>>8)
			}
		})
	}
}

func TestEncoderJPEG(t *testing.T) {
	data, err := Encoder{Format: JPEG, Quality: 80}.Convert(testFrame(t))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if name != "jpeg" || cfg.Width != 3 || cfg.Height != 2 {
		t.Errorf("decoded %s %dx%d", name, cfg.Width, cfg.Height)
	}
}

func TestEncodeUnknownFormat(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	if err := Encode(&bytes.Buffer{}, img, Format(42), 0); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Encode = %v, want ErrUnknownFormat", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"png", PNG},
		{"PNG", PNG},
		{".jpg", JPEG},
		{"jpeg", JPEG},
		{"bmp", BMP},
		{"tif", TIFF},
		{"tiff", TIFF},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseFormat("gif"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("ParseFormat(gif) = %v, want ErrUnknownFormat", err)
	}
}

func TestFormatFromPath(t *testing.T) {
	got, err := FormatFromPath("/tmp/shot.JPEG")
	if err != nil || got != JPEG {
		t.Errorf("FormatFromPath = %v, %v", got, err)
	}
	if _, err := FormatFromPath("noext"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("FormatFromPath(noext) = %v, want ErrUnknownFormat", err)
	}
	if PNG.ContentType() != "image/png" || JPEG.ContentType() != "image/jpeg" {
		t.Error("ContentType mismatch")
	}
}
