// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package staging

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/screencap/compositor"
	"github.com/gogpu/screencap/internal/gputest"
)

func uploadFrame(t *testing.T, pool *compositor.FramePool, w, h int) compositor.Frame {
	t.Helper()
	f, ok, err := pool.Upload(make([]byte, w*h*4), w, h, w*4, compositor.OrderBGRA)
	if err != nil || !ok {
		t.Fatalf("Upload %dx%d: ok=%v err=%v", w, h, ok, err)
	}
	return f
}

func TestStride(t *testing.T) {
	tests := []struct {
		width, rowPitch, want uint32
	}{
		{64, 256, 256},
		{100, 400, 512},
		{1920, 7680, 7680},
		{1366, 5464, 5632},
		{10, 0, 256},
		{10, 1024, 1024},
	}
	for _, tt := range tests {
		f := compositor.Frame{Width: tt.width, RowPitch: tt.rowPitch}
		if got := Stride(f); got != tt.want {
			t.Errorf("Stride(width=%d, pitch=%d) = %d, want %d", tt.width, tt.rowPitch, got, tt.want)
		}
		if got := Stride(f); got < tt.width*4 {
			t.Errorf("Stride %d < width*4 for width %d", got, tt.width)
		}
	}
}

func TestMaterialize(t *testing.T) {
	gpu := gputest.New(t)
	pool := compositor.NewFramePool(gpu, 2, "test")
	defer pool.Close()
	tr := New(gpu, Config{})
	defer tr.Destroy()

	f := uploadFrame(t, pool, 100, 30)
	defer f.Done()

	v, err := tr.Materialize(f)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if v.Width != 100 || v.Height != 30 {
		t.Errorf("size = %dx%d, want 100x30", v.Width, v.Height)
	}
	if v.Stride != 512 {
		t.Errorf("Stride = %d, want 512", v.Stride)
	}
	if len(v.Data) != int(v.Stride*v.Height) {
		t.Errorf("len(Data) = %d, want %d", len(v.Data), v.Stride*v.Height)
	}
	if v.Format != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("Format = %v", v.Format)
	}
	if v.Seq != f.Seq {
		t.Errorf("Seq = %d, want %d", v.Seq, f.Seq)
	}
}

func TestMaterializeStrideIsCopyPitch(t *testing.T) {
	gpu := gputest.New(t)
	pool := compositor.NewFramePool(gpu, 2, "test")
	defer pool.Close()
	tr := New(gpu, Config{})
	defer tr.Destroy()

	f := uploadFrame(t, pool, 100, 4)
	defer f.Done()
	if f.RowPitch != 400 {
		t.Fatalf("driver RowPitch = %d, want 400", f.RowPitch)
	}

	v, err := tr.Materialize(f)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	// The host copy keeps the 256-aligned copy pitch, not the driver's.
	if v.Stride == f.RowPitch {
		t.Errorf("Stride = RowPitch = %d, want the aligned copy pitch", v.Stride)
	}
	if v.Stride != Stride(f) || v.Stride%256 != 0 {
		t.Errorf("Stride = %d, want %d", v.Stride, Stride(f))
	}
}

func TestMaterializeReusesBuffer(t *testing.T) {
	gpu := gputest.New(t)
	pool := compositor.NewFramePool(gpu, 2, "test")
	defer pool.Close()
	tr := New(gpu, Config{})
	defer tr.Destroy()

	sizes := [][2]int{{64, 64}, {64, 64}, {64, 64}, {32, 16}, {32, 16}, {64, 64}}
	for _, sz := range sizes {
		f := uploadFrame(t, pool, sz[0], sz[1])
		if _, err := tr.Materialize(f); err != nil {
			t.Fatalf("Materialize %v: %v", sz, err)
		}
		f.Done()
	}
	if got := tr.Allocations(); got != 3 {
		t.Errorf("Allocations = %d, want 3 (one per geometry change)", got)
	}
}

func TestMaterializeUnsupportedFormat(t *testing.T) {
	gpu := gputest.New(t)
	tr := New(gpu, Config{})
	defer tr.Destroy()

	f := compositor.Frame{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm}
	if _, err := tr.Materialize(f); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Materialize = %v, want ErrUnsupportedFormat", err)
	}
	if tr.Allocations() != 0 {
		t.Error("rejected frame allocated a staging buffer")
	}
}

func TestMaterializeCopyFailure(t *testing.T) {
	gpu := gputest.New(t)
	pool := compositor.NewFramePool(gpu, 1, "test")
	defer pool.Close()
	tr := New(gpu, Config{})
	defer tr.Destroy()

	f := uploadFrame(t, pool, 8, 8)
	defer f.Done()

	gpu.FailSubmit(1)
	if _, err := tr.Materialize(f); !errors.Is(err, ErrCopyFailed) {
		t.Fatalf("Materialize = %v, want ErrCopyFailed", err)
	}
	if _, err := tr.Materialize(f); err != nil {
		t.Errorf("Materialize after transient failure: %v", err)
	}
}

func TestMaterializeEmptyFrame(t *testing.T) {
	tr := New(gputest.New(t), Config{})
	defer tr.Destroy()
	f := compositor.Frame{Format: gputypes.TextureFormatBGRA8Unorm}
	if _, err := tr.Materialize(f); !errors.Is(err, ErrCopyFailed) {
		t.Errorf("Materialize = %v, want ErrCopyFailed", err)
	}
}

func TestDestroy(t *testing.T) {
	gpu := gputest.New(t)
	pool := compositor.NewFramePool(gpu, 1, "test")
	defer pool.Close()
	tr := New(gpu, Config{})

	f := uploadFrame(t, pool, 8, 8)
	defer f.Done()
	if _, err := tr.Materialize(f); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	tr.Destroy()
	tr.Destroy()
	if _, err := tr.Materialize(f); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Materialize after Destroy = %v, want ErrDestroyed", err)
	}
}
