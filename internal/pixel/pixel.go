// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package pixel holds the byte-level helpers shared by the capture pipeline,
// its drivers and its adapters.
package pixel

// BytesPerPixel is the size of one BGRA8 or RGBA8 pixel.
const BytesPerPixel = 4

// CopyPitchAlignment is the row pitch alignment required for
// texture-to-buffer copies (WebGPU and DX12 both require 256).
const CopyPitchAlignment = 256

// AlignPitch rounds n up to a multiple of align. align must be a power of two.
func AlignPitch(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}

// SwapRB converts between BGRA and RGBA by swapping the first and third
// byte of every pixel. dst and src may be the same slice. Only
// min(len(dst), len(src))/4 pixels are converted.
func SwapRB(dst, src []byte) {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	n -= n % BytesPerPixel
	for i := 0; i < n; i += BytesPerPixel {
		b, g, r, a := src[i], src[i+1], src[i+2], src[i+3]
		dst[i] = r
		dst[i+1] = g
		dst[i+2] = b
		dst[i+3] = a
	}
}

// CompactRows copies height rows of rowBytes bytes from src, where rows are
// srcStride bytes apart, into dst, where rows are packed. It returns the
// number of bytes written.
func CompactRows(dst, src []byte, rowBytes, srcStride, height int) int {
	if srcStride == rowBytes {
		return copy(dst, src[:rowBytes*height])
	}
	n := 0
	for y := 0; y < height; y++ {
		off := y * srcStride
		n += copy(dst[y*rowBytes:(y+1)*rowBytes], src[off:off+rowBytes])
	}
	return n
}
