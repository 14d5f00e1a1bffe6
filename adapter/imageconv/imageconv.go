// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package imageconv converts captured frames to Go images and encoded image
// files.
package imageconv

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/gogpu/screencap"
	"github.com/gogpu/screencap/internal/pixel"
)

// ErrUnknownFormat is returned for unrecognized format names or extensions.
var ErrUnknownFormat = errors.New("imageconv: unknown image format")

// Format is an encoded image file format.
type Format int

// Supported formats.
const (
	PNG Format = iota
	JPEG
	BMP
	TIFF
)

// DefaultJPEGQuality is used when Encoder.Quality is zero.
const DefaultJPEGQuality = 90

// String returns the lower-case format name.
func (f Format) String() string {
	switch f {
	case PNG:
		return "png"
	case JPEG:
		return "jpeg"
	case BMP:
		return "bmp"
	case TIFF:
		return "tiff"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case BMP:
		return "image/bmp"
	case TIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

// ParseFormat parses a format name such as "png" or "jpg".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	case "bmp":
		return BMP, nil
	case "tif", "tiff":
		return TIFF, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatFromPath picks the format from a file name's extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// ToRGBA copies f into a new image.RGBA, dropping row padding and swapping
// BGRA to RGBA.
func ToRGBA(f *screencap.Frame) (*image.RGBA, error) {
	if !f.Valid() {
		return nil, screencap.ErrStaleFrame
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	rowBytes := f.Width * pixel.BytesPerPixel
	for y := 0; y < f.Height; y++ {
		pixel.SwapRB(img.Pix[y*img.Stride:y*img.Stride+rowBytes], f.Row(y))
	}
	return img, nil
}

// RGBA is an Adapter producing *image.RGBA.
type RGBA struct{}

var _ screencap.Adapter[*image.RGBA] = RGBA{}

// Convert implements screencap.Adapter.
func (RGBA) Convert(f *screencap.Frame) (*image.RGBA, error) {
	return ToRGBA(f)
}

// Encode writes img to w in format. quality applies to JPEG only; zero
// selects DefaultJPEGQuality.
func Encode(w io.Writer, img image.Image, format Format, quality int) error {
	switch format {
	case PNG:
		return png.Encode(w, img)
	case JPEG:
		if quality <= 0 {
			quality = DefaultJPEGQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case BMP:
		return bmp.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%w: %v", ErrUnknownFormat, format)
	}
}

// Encoder is an Adapter producing an encoded image file.
type Encoder struct {
	Format  Format
	Quality int
}

var _ screencap.Adapter[[]byte] = Encoder{}

// Convert implements screencap.Adapter.
func (e Encoder) Convert(f *screencap.Frame) ([]byte, error) {
	img, err := ToRGBA(f)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, e.Format, e.Quality); err != nil {
		return nil, fmt.Errorf("imageconv: encode %s: %w", e.Format, err)
	}
	return buf.Bytes(), nil
}
