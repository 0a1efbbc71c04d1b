// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package buffer

import (
	"errors"
	"fmt"
)

// image errors
var (
	ErrBadPixelFormat = errors.New("unsupported pixel format")
	ErrBadImageShape  = errors.New("image shape must be positive in both dimensions")
	ErrBadImageSize   = errors.New("image data size does not match shape and pixel format")
)

// PixelFormat identifies how camera peripherals pack pixel data on the wire.
type PixelFormat int

const (
	// Mono12p is monochrome 12-bit, packed two pixels into three bytes.
	Mono12p PixelFormat = iota + 1
	// Mono16 is monochrome 16-bit, two bytes per pixel.
	Mono16
)

// BitsPerPixel returns the packed width of one pixel.
func (f PixelFormat) BitsPerPixel() (int, error) {
	switch f {
	case Mono12p:
		return 12, nil
	case Mono16:
		return 16, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrBadPixelFormat, f)
	}
}

func (f PixelFormat) String() string {
	switch f {
	case Mono12p:
		return "mono12p"
	case Mono16:
		return "mono16"
	default:
		return "unknown"
	}
}

// RawImage is a 2D frame of possibly packed pixel data in a specified format,
// as delivered by an acquisition peripheral. Construction validates that the
// data length matches the shape and format; the image is immutable after.
type RawImage struct {
	data   []byte
	format PixelFormat
	rows   int
	cols   int
}

// NewRawImage validates data against the shape and pixel format.
func NewRawImage(data []byte, format PixelFormat, rows, cols int) (*RawImage, error) {
	bpp, err := format.BitsPerPixel()
	if err != nil {
		return nil, err
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadImageShape, rows, cols)
	}
	bits := rows * cols * bpp
	if bits%8 != 0 {
		return nil, fmt.Errorf("%w: %dx%d %s does not pack to whole bytes",
			ErrBadImageSize, rows, cols, format)
	}
	if len(data) != bits/8 {
		return nil, fmt.Errorf("%w: have %d bytes, want %d",
			ErrBadImageSize, len(data), bits/8)
	}
	return &RawImage{data: data, format: format, rows: rows, cols: cols}, nil
}

// Data returns the packed pixel bytes.
func (sf *RawImage) Data() []byte { return sf.data }

// Format returns the pixel format.
func (sf *RawImage) Format() PixelFormat { return sf.format }

// Rows returns the number of image rows.
func (sf *RawImage) Rows() int { return sf.rows }

// Cols returns the number of image columns.
func (sf *RawImage) Cols() int { return sf.cols }
