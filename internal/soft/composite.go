// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package soft

import (
	"image"

	"github.com/gogpu/offscreen/driver"
)

// CanComposite reports whether Composite supports the given pixel sizes.
// Sources and destinations must be 8 or 32 bits per pixel; masks 8.
func CanComposite(src, dst int, mask int) bool {
	ok := func(bpp int) bool { return bpp == 8 || bpp == 32 }
	return ok(src) && ok(dst) && (mask == 0 || mask == 8)
}

// Composite blends src, optionally scaled by mask, into r of dst.
// Pixels are premultiplied. An 8 bit image holds alpha only; a 32 bit
// image with Opaque set has alpha forced to 0xff.
func Composite(op driver.CompositeOp, dst Image, r image.Rectangle, src Image, sp image.Point, mask *Image, mp image.Point) {
	orig := r.Min
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	sp = sp.Add(r.Min.Sub(orig))
	mp = mp.Add(r.Min.Sub(orig))

	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			s := src.argb(sp.X+x, sp.Y+y)
			if mask != nil {
				m := mask.argb(mp.X+x, mp.Y+y) >> 24
				s = scale(s, m)
			}
			dx, dy := r.Min.X+x, r.Min.Y+y
			var out uint32
			switch op {
			case driver.OpOver:
				out = over(s, dst.argb(dx, dy))
			default:
				out = s
			}
			dst.setARGB(dx, dy, out)
		}
	}
}

// argb returns the pixel at (x, y) as premultiplied ARGB, or transparent
// outside the image.
func (m Image) argb(x, y int) uint32 {
	if !image.Pt(x, y).In(m.Bounds()) {
		return 0
	}
	v := m.Pixel(x, y)
	switch m.BitsPerPixel {
	case 8:
		return v << 24
	case 32:
		if m.Opaque {
			return v | 0xff000000
		}
		return v
	}
	return 0
}

func (m Image) setARGB(x, y int, v uint32) {
	switch m.BitsPerPixel {
	case 8:
		m.SetPixel(x, y, v>>24)
	case 32:
		m.SetPixel(x, y, v)
	}
}

// scale multiplies every channel of v by a/255.
func scale(v, a uint32) uint32 {
	var out uint32
	for shift := 0; shift < 32; shift += 8 {
		c := v >> shift & 0xff
		out |= div255(c*a) << shift
	}
	return out
}

// over computes s OVER d for premultiplied pixels.
func over(s, d uint32) uint32 {
	inv := 255 - s>>24
	var out uint32
	for shift := 0; shift < 32; shift += 8 {
		c := s>>shift&0xff + div255((d>>shift&0xff)*inv)
		out |= min(c, 0xff) << shift
	}
	return out
}

// div255 divides by 255 with rounding.
func div255(v uint32) uint32 {
	v += 128
	return (v + v>>8) >> 8
}
