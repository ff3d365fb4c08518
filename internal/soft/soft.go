// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package soft is a minimal software rasterizer for pixmap buffers. It
// backs the in-memory device and the fallback path of the engine.
package soft

import (
	"image"

	"github.com/gogpu/offscreen/driver"
)

// Image is a view of pixel memory.
type Image struct {
	Pix    []byte
	Pitch  int
	Width  int
	Height int

	// BitsPerPixel is 1, 8, 16 or 32.
	BitsPerPixel int

	// Opaque marks 32 bit images whose high byte is unused.
	Opaque bool
}

// Bounds returns the image rectangle.
func (m Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Pixel returns the raw pixel value at (x, y).
func (m Image) Pixel(x, y int) uint32 {
	row := m.Pix[y*m.Pitch:]
	switch m.BitsPerPixel {
	case 1:
		return uint32(row[x>>3]>>(x&7)) & 1
	case 8:
		return uint32(row[x])
	case 16:
		return uint32(row[2*x]) | uint32(row[2*x+1])<<8
	default:
		p := row[4*x:]
		return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
	}
}

// SetPixel stores a raw pixel value at (x, y).
func (m Image) SetPixel(x, y int, v uint32) {
	row := m.Pix[y*m.Pitch:]
	switch m.BitsPerPixel {
	case 1:
		bit := byte(1) << (x & 7)
		if v&1 != 0 {
			row[x>>3] |= bit
		} else {
			row[x>>3] &^= bit
		}
	case 8:
		row[x] = byte(v)
	case 16:
		row[2*x] = byte(v)
		row[2*x+1] = byte(v >> 8)
	default:
		p := row[4*x:]
		p[0] = byte(v)
		p[1] = byte(v >> 8)
		p[2] = byte(v >> 16)
		p[3] = byte(v >> 24)
	}
}

func (m Image) mask() uint32 {
	if m.BitsPerPixel >= 32 {
		return 0xffffffff
	}
	return 1<<m.BitsPerPixel - 1
}

func applyAlu(alu driver.Alu, src, dst, planeMask uint32) uint32 {
	var v uint32
	switch alu {
	case driver.AluClear:
		v = 0
	case driver.AluCopy:
		v = src
	case driver.AluXor:
		v = src ^ dst
	case driver.AluSet:
		v = 0xffffffff
	}
	return dst&^planeMask | v&planeMask
}

// Fill applies alu with the solid value fg to r, clipped to the image.
func Fill(dst Image, r image.Rectangle, alu driver.Alu, planeMask, fg uint32) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	planeMask &= dst.mask()
	fg &= dst.mask()

	if alu == driver.AluCopy && planeMask == dst.mask() && dst.BitsPerPixel >= 8 {
		fillCopy(dst, r, fg)
		return
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dst.SetPixel(x, y, applyAlu(alu, fg, dst.Pixel(x, y), planeMask))
		}
	}
}

// fillCopy writes the first row pixel by pixel and replicates it.
func fillCopy(dst Image, r image.Rectangle, fg uint32) {
	bpp := dst.BitsPerPixel / 8
	for x := r.Min.X; x < r.Max.X; x++ {
		dst.SetPixel(x, r.Min.Y, fg)
	}
	first := dst.Pix[r.Min.Y*dst.Pitch+r.Min.X*bpp : r.Min.Y*dst.Pitch+r.Max.X*bpp]
	for y := r.Min.Y + 1; y < r.Max.Y; y++ {
		off := y*dst.Pitch + r.Min.X*bpp
		copy(dst.Pix[off:off+len(first)], first)
	}
}

// Copy applies alu from the rectangle of src at sp to r in dst. When both
// are the same image the walk direction is chosen so that overlapping
// rectangles copy correctly.
func Copy(dst Image, r image.Rectangle, src Image, sp image.Point, alu driver.Alu, planeMask uint32) {
	dx, dy := 1, 1
	if sp.X < r.Min.X {
		dx = -1
	}
	if sp.Y < r.Min.Y {
		dy = -1
	}
	CopyDir(dst, r, src, sp, dx, dy, alu, planeMask)
}

// CopyDir is Copy with an explicit walk direction. Negative dx or dy walks
// columns or rows from the high end, which is required when src and dst
// share memory and the destination lies at a higher address.
func CopyDir(dst Image, r image.Rectangle, src Image, sp image.Point, dx, dy int, alu driver.Alu, planeMask uint32) {
	r, sp = clipCopy(dst, r, src, sp)
	if r.Empty() {
		return
	}
	planeMask &= dst.mask()

	w, h := r.Dx(), r.Dy()
	reverseY := dy < 0
	reverseX := dx < 0

	if alu == driver.AluCopy && planeMask == dst.mask() && dst.BitsPerPixel >= 8 {
		bpp := dst.BitsPerPixel / 8
		for i := 0; i < h; i++ {
			j := i
			if reverseY {
				j = h - 1 - i
			}
			so := (sp.Y+j)*src.Pitch + sp.X*bpp
			do := (r.Min.Y+j)*dst.Pitch + r.Min.X*bpp
			copy(dst.Pix[do:do+w*bpp], src.Pix[so:so+w*bpp])
		}
		return
	}

	for i := 0; i < h; i++ {
		j := i
		if reverseY {
			j = h - 1 - i
		}
		for k := 0; k < w; k++ {
			l := k
			if reverseX {
				l = w - 1 - k
			}
			s := src.Pixel(sp.X+l, sp.Y+j)
			d := dst.Pixel(r.Min.X+l, r.Min.Y+j)
			dst.SetPixel(r.Min.X+l, r.Min.Y+j, applyAlu(alu, s, d, planeMask))
		}
	}
}

// clipCopy clips r to dst and the source rectangle to src, keeping the two
// aligned.
func clipCopy(dst Image, r image.Rectangle, src Image, sp image.Point) (image.Rectangle, image.Point) {
	orig := r.Min
	r = r.Intersect(dst.Bounds())
	sp = sp.Add(r.Min.Sub(orig))

	sr := image.Rectangle{Min: sp, Max: sp.Add(r.Size())}.Intersect(src.Bounds())
	if sr.Empty() {
		return image.Rectangle{}, sp
	}
	r = image.Rectangle{Min: r.Min.Add(sr.Min.Sub(sp)), Max: r.Min.Add(sr.Max.Sub(sp))}
	return r, sr.Min
}

// CopyBytes copies h rows of rowBytes each between buffers with different
// pitches. It is the raw transfer used when no device upload or download
// hook is available.
func CopyBytes(dst []byte, dstPitch int, src []byte, srcPitch int, rowBytes, h int) {
	for y := 0; y < h; y++ {
		copy(dst[y*dstPitch:y*dstPitch+rowBytes], src[y*srcPitch:y*srcPitch+rowBytes])
	}
}
