// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build gocv

// Package matconv converts captured frames to OpenCV matrices.
//
// It needs OpenCV and cgo and is only built with the gocv build tag:
//
//	go build -tags gocv ./...
package matconv

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/gogpu/screencap"
)

// Mat is an Adapter producing a CV_8UC4 BGRA gocv.Mat. On success the caller
// owns the Mat and must Close it.
type Mat struct{}

var _ screencap.Adapter[gocv.Mat] = Mat{}

// Convert implements screencap.Adapter.
func (Mat) Convert(f *screencap.Frame) (gocv.Mat, error) {
	return ToMat(f)
}

// ToMat copies f into a new BGRA matrix with packed rows. On error it
// returns the zero Mat, which holds no OpenCV memory and needs no Close.
func ToMat(f *screencap.Frame) (gocv.Mat, error) {
	tight := make([]byte, f.TightSize())
	if _, err := f.CopyTight(tight); err != nil {
		return gocv.Mat{}, err
	}
	view, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC4, tight)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("matconv: %w", err)
	}
	defer view.Close()

	// The view may alias tight; Clone gives the Mat its own storage.
	return view.Clone(), nil
}

// ToBGR converts f to a 3-channel CV_8UC3 matrix, the layout most OpenCV
// routines expect. Errors are reported as in ToMat.
func ToBGR(f *screencap.Frame) (gocv.Mat, error) {
	bgra, err := ToMat(f)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer bgra.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(bgra, &bgr, gocv.ColorBGRAToBGR)
	return bgr, nil
}
