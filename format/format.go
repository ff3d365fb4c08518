// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package format describes the pixel formats a pixmap can be stored in.
//
// Multi-byte pixels are little endian, so an A8R8G8B8 pixel is stored in
// memory as B, G, R, A. Colors with alpha are premultiplied.
package format

import (
	"image"
	"image/color"
	"strings"

	"github.com/gogpu/gputypes"
)

// Format represents a pixel storage format.
type Format uint8

const (
	// A1 is a 1 bit alpha mask, least significant bit first.
	A1 Format = iota

	// A8 is an 8 bit alpha mask.
	A8

	// R5G6B5 is 16 bit color without alpha.
	R5G6B5

	// X8R8G8B8 is 32 bit color with an unused high byte.
	X8R8G8B8

	// A8R8G8B8 is 32 bit color with premultiplied alpha.
	// This is the standard format for most operations.
	A8R8G8B8

	formatCount
)

// Info contains metadata about a pixel format.
type Info struct {
	// BitsPerPixel is the storage size of one pixel.
	BitsPerPixel int

	// Depth is the number of significant bits per pixel.
	Depth int

	// HasAlpha indicates if the format has an alpha channel.
	HasAlpha bool

	// Texture is the matching GPU texture format, or
	// gputypes.TextureFormatUndefined if there is none.
	Texture gputypes.TextureFormat

	name string
}

var infoTable = [formatCount]Info{
	A1:       {BitsPerPixel: 1, Depth: 1, HasAlpha: true, Texture: gputypes.TextureFormatUndefined, name: "a1"},
	A8:       {BitsPerPixel: 8, Depth: 8, HasAlpha: true, Texture: gputypes.TextureFormatR8Unorm, name: "a8"},
	R5G6B5:   {BitsPerPixel: 16, Depth: 16, Texture: gputypes.TextureFormatUndefined, name: "r5g6b5"},
	X8R8G8B8: {BitsPerPixel: 32, Depth: 24, Texture: gputypes.TextureFormatBGRA8Unorm, name: "x8r8g8b8"},
	A8R8G8B8: {BitsPerPixel: 32, Depth: 32, HasAlpha: true, Texture: gputypes.TextureFormatBGRA8Unorm, name: "a8r8g8b8"},
}

// Info returns the Info for this format.
func (f Format) Info() Info {
	if f >= formatCount {
		return Info{}
	}
	return infoTable[f]
}

// IsValid returns true if the format is a valid known format.
func (f Format) IsValid() bool {
	return f < formatCount
}

// BitsPerPixel returns the storage size of one pixel in bits.
func (f Format) BitsPerPixel() int {
	return f.Info().BitsPerPixel
}

// Depth returns the number of significant bits per pixel.
func (f Format) Depth() int {
	return f.Info().Depth
}

// HasAlpha returns true if this format has an alpha channel.
func (f Format) HasAlpha() bool {
	return f.Info().HasAlpha
}

// TextureFormat returns the GPU texture format with the same memory layout.
func (f Format) TextureFormat() gputypes.TextureFormat {
	return f.Info().Texture
}

// RowBytes returns the number of bytes needed for a tightly packed row of
// the given width.
func (f Format) RowBytes(width int) int {
	return (width*f.BitsPerPixel() + 7) / 8
}

// ImageBytes returns the number of bytes needed for a tightly packed image.
func (f Format) ImageBytes(width, height int) int {
	return f.RowBytes(width) * height
}

// String returns a string representation of the format.
func (f Format) String() string {
	if !f.IsValid() {
		return "unknown"
	}
	return infoTable[f].name
}

// Parse returns the format with the given name, ignoring case.
func Parse(name string) (Format, bool) {
	name = strings.ToLower(name)
	for f := Format(0); f < formatCount; f++ {
		if infoTable[f].name == name {
			return f, true
		}
	}
	return 0, false
}

// ForDepth returns the format used for pixmaps of the given depth.
func ForDepth(depth int) (Format, bool) {
	switch depth {
	case 1:
		return A1, true
	case 8:
		return A8, true
	case 16:
		return R5G6B5, true
	case 24:
		return X8R8G8B8, true
	case 32:
		return A8R8G8B8, true
	}
	return 0, false
}

// Pack encodes c into the bytes of one pixel. A1 pixels are not byte
// addressable and yield 0.
func (f Format) Pack(c color.Color) uint32 {
	r, g, b, a := c.RGBA()
	switch f {
	case A8:
		return a >> 8
	case R5G6B5:
		return (r>>11)<<11 | (g>>10)<<5 | b>>11
	case X8R8G8B8:
		return 0xff<<24 | (r>>8)<<16 | (g>>8)<<8 | b>>8
	case A8R8G8B8:
		return (a>>8)<<24 | (r>>8)<<16 | (g>>8)<<8 | b>>8
	}
	return 0
}

// At decodes the pixel at (x, y) of a buffer with the given row pitch.
func (f Format) At(pix []byte, pitch, x, y int) color.RGBA {
	row := pix[y*pitch:]
	switch f {
	case A1:
		if row[x/8]&(1<<(x%8)) != 0 {
			return color.RGBA{A: 0xff}
		}
		return color.RGBA{}
	case A8:
		return color.RGBA{A: row[x]}
	case R5G6B5:
		v := uint16(row[2*x]) | uint16(row[2*x+1])<<8
		r := uint8(v>>11) << 3
		g := uint8(v>>5&0x3f) << 2
		b := uint8(v&0x1f) << 3
		return color.RGBA{R: r | r>>5, G: g | g>>6, B: b | b>>5, A: 0xff}
	case X8R8G8B8:
		p := row[4*x:]
		return color.RGBA{R: p[2], G: p[1], B: p[0], A: 0xff}
	case A8R8G8B8:
		p := row[4*x:]
		return color.RGBA{R: p[2], G: p[1], B: p[0], A: p[3]}
	}
	return color.RGBA{}
}

// ToRGBA converts a buffer in format f to an RGBA image.
func (f Format) ToRGBA(pix []byte, pitch, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, f.At(pix, pitch, x, y))
		}
	}
	return img
}
