// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"image"
	"image/color"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/format"
	"github.com/gogpu/offscreen/internal/soft"
	"github.com/gogpu/offscreen/region"
)

// Drawing operations. Each one bounds its damage, runs the migration
// policy, tries the driver hooks on device copies and otherwise draws in
// software inside Fallback. Rectangles are clipped to the pixmaps.

// FillRect fills r of dst with a raw pixel value.
func (s *Screen) FillRect(dst *Pixmap, r image.Rectangle, alu driver.Alu, planeMask, pixel uint32) {
	s.mustOwn(dst)
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	dr := region.New(r)
	dst.damage.SetPending(dr)
	defer dst.damage.Commit()

	if s.accelerating() {
		req := MigrationRequest{Pixmap: dst, AsDst: true}
		if overwrites(dst, alu, planeMask) {
			req.Region = &dr
		}
		s.RunMigrationPolicy([]MigrationRequest{req}, dst.accelerable())

		if dst.HasGPUCopy() {
			sf := dst.surface()
			if s.drv.PrepareSolid(sf, alu, planeMask, pixel) {
				s.drv.Solid(sf, r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
				s.drv.DoneSolid(sf)
				s.markSync()
				s.stats.accelerated++
				return
			}
		}
	}

	s.Fallback([]Access{{Pixmap: dst, Role: driver.RoleDest}}, func() {
		soft.Fill(dst.cpuImage(), r, alu, planeMask, pixel)
	})
}

// Fill fills r of dst with c.
func (s *Screen) Fill(dst *Pixmap, r image.Rectangle, c color.Color) {
	s.FillRect(dst, r, driver.AluCopy, ^uint32(0), dst.format.Pack(c))
}

// CopyArea copies sr of src to dst at dp. Source and destination may be
// the same pixmap, with overlapping rectangles.
func (s *Screen) CopyArea(src, dst *Pixmap, sr image.Rectangle, dp image.Point, alu driver.Alu, planeMask uint32) error {
	s.mustOwn(src)
	s.mustOwn(dst)
	if src.bpp != dst.bpp {
		return errors.Wrapf(ErrUnsupported, "copy from %v to %v", src.format, dst.format)
	}

	sp := sr.Min
	dr := clipOperands(image.Rectangle{Min: dp, Max: dp.Add(sr.Size())}, dst.Bounds(),
		operand{origin: &sp, bounds: src.Bounds()})
	if dr.Empty() {
		return nil
	}
	srcRect := image.Rectangle{Min: sp, Max: sp.Add(dr.Size())}

	dx, dy := 1, 1
	if src == dst {
		if sp.X < dr.Min.X {
			dx = -1
		}
		if sp.Y < dr.Min.Y {
			dy = -1
		}
	}

	dreg, sreg := region.New(dr), region.New(srcRect)
	dst.damage.SetPending(dreg)
	defer dst.damage.Commit()

	if s.accelerating() {
		dreq := MigrationRequest{Pixmap: dst, AsDst: true}
		if overwrites(dst, alu, planeMask) {
			dreq.Region = &dreg
		}
		reqs := []MigrationRequest{dreq, {Pixmap: src, AsSrc: true, Region: &sreg}}
		s.RunMigrationPolicy(reqs, dst.accelerable() && src.accelerable())

		if dst.HasGPUCopy() && src.HasGPUCopy() {
			ssf, dsf := src.surface(), dst.surface()
			if s.drv.PrepareCopy(ssf, dsf, dx, dy, alu, planeMask) {
				s.drv.Copy(dsf, sp.X, sp.Y, dr.Min.X, dr.Min.Y, dr.Dx(), dr.Dy())
				s.drv.DoneCopy(dsf)
				s.markSync()
				s.stats.accelerated++
				return nil
			}
		}
	}

	access := []Access{{Pixmap: dst, Role: driver.RoleDest}}
	if src != dst {
		access = append(access, Access{Pixmap: src, Role: driver.RoleSrc, Region: &sreg})
	}
	s.Fallback(access, func() {
		soft.CopyDir(dst.cpuImage(), dr, src.cpuImage(), sp, dx, dy, alu, planeMask)
	})
	return nil
}

// PutImage writes pixels in the pixmap format from pix, with the given
// row pitch, to r of dst. The first pixel of pix lands at r.Min.
func (s *Screen) PutImage(dst *Pixmap, r image.Rectangle, pix []byte, pitch int) error {
	s.mustOwn(dst)
	if err := checkBuffer(dst.format, r.Dx(), r.Dy(), pix, pitch); err != nil {
		return err
	}
	sp := image.Point{}
	dr := clipOperands(r, dst.Bounds(), operand{origin: &sp, bounds: image.Rect(0, 0, r.Dx(), r.Dy())})
	if dr.Empty() {
		return nil
	}
	src := soft.Image{Pix: pix, Pitch: pitch, Width: r.Dx(), Height: r.Dy(), BitsPerPixel: dst.bpp}

	dreg := region.New(dr)
	dst.damage.SetPending(dreg)
	defer dst.damage.Commit()

	if s.accelerating() && s.up != nil {
		s.RunMigrationPolicy([]MigrationRequest{{Pixmap: dst, AsDst: true, Region: &dreg}}, dst.accelerable())

		if dst.HasGPUCopy() {
			off := sp.Y*pitch + sp.X*dst.bpp/8
			if s.up.UploadToScreen(dst.surface(), dr.Min.X, dr.Min.Y, dr.Dx(), dr.Dy(), pix[off:], pitch) {
				s.markSync()
				s.stats.uploads++
				s.stats.accelerated++
				return nil
			}
		}
	}

	s.Fallback([]Access{{Pixmap: dst, Role: driver.RoleDest}}, func() {
		soft.Copy(dst.cpuImage(), dr, src, sp, driver.AluCopy, ^uint32(0))
	})
	return nil
}

// GetImage reads r of src into pix, in the pixmap format, with the given
// row pitch. r must lie inside the pixmap.
func (s *Screen) GetImage(src *Pixmap, r image.Rectangle, pix []byte, pitch int) error {
	s.mustOwn(src)
	if r.Empty() || !r.In(src.Bounds()) {
		return errors.Wrapf(ErrInvalidDimensions, "rectangle %v outside %v", r, src.Bounds())
	}
	if err := checkBuffer(src.format, r.Dx(), r.Dy(), pix, pitch); err != nil {
		return err
	}

	sreg := region.New(r)
	if s.accelerating() {
		s.RunMigrationPolicy([]MigrationRequest{{Pixmap: src, AsSrc: true, Region: &sreg}},
			s.down != nil && src.accelerable())

		if s.down != nil && src.HasGPUCopy() {
			s.waitSync()
			if s.down.DownloadFromScreen(src.surface(), r.Min.X, r.Min.Y, r.Dx(), r.Dy(), pix, pitch) {
				s.stats.downloads++
				s.stats.accelerated++
				return nil
			}
		}
	}

	dst := soft.Image{Pix: pix, Pitch: pitch, Width: r.Dx(), Height: r.Dy(), BitsPerPixel: src.bpp}
	s.Fallback([]Access{{Pixmap: src, Role: driver.RoleSrc, Region: &sreg}}, func() {
		soft.Copy(dst, dst.Bounds(), src.cpuImage(), r.Min, driver.AluCopy, ^uint32(0))
	})
	return nil
}

// Composite blends src, scaled by the alpha of mask when mask is not nil,
// into dr of dst. sp and mp are the source and mask pixels drawn at
// dr.Min.
func (s *Screen) Composite(op driver.CompositeOp, src, mask, dst *Pixmap, sp, mp image.Point, dr image.Rectangle) error {
	s.mustOwn(src)
	s.mustOwn(dst)
	maskBpp := 0
	if mask != nil {
		s.mustOwn(mask)
		maskBpp = mask.bpp
	}
	if !soft.CanComposite(src.bpp, dst.bpp, maskBpp) {
		return errors.Wrapf(ErrUnsupported, "composite %v onto %v", src.format, dst.format)
	}
	if op != driver.OpSrc && op != driver.OpOver {
		return errors.Wrapf(ErrUnsupported, "composite operator %v", op)
	}

	operands := []operand{{origin: &sp, bounds: src.Bounds()}}
	if mask != nil {
		operands = append(operands, operand{origin: &mp, bounds: mask.Bounds()})
	}
	dr = clipOperands(dr, dst.Bounds(), operands...)
	if dr.Empty() {
		return nil
	}

	dreg := region.New(dr)
	sreg := region.New(image.Rectangle{Min: sp, Max: sp.Add(dr.Size())})
	mreg := region.New(image.Rectangle{Min: mp, Max: mp.Add(dr.Size())})
	dst.damage.SetPending(dreg)
	defer dst.damage.Commit()

	if s.accelerating() && s.comp != nil {
		dreq := MigrationRequest{Pixmap: dst, AsDst: true}
		if op == driver.OpSrc && mask == nil {
			dreq.Region = &dreg
		}
		reqs := []MigrationRequest{dreq, {Pixmap: src, AsSrc: true, Region: &sreg}}
		canAccel := dst.accelerable() && src.accelerable()
		if mask != nil {
			reqs = append(reqs, MigrationRequest{Pixmap: mask, AsSrc: true, Region: &mreg})
			canAccel = canAccel && mask.accelerable()
		}
		s.RunMigrationPolicy(reqs, canAccel)

		if dst.HasGPUCopy() && src.HasGPUCopy() && (mask == nil || mask.HasGPUCopy()) {
			dsf, ssf := dst.surface(), src.surface()
			var msf *driver.Surface
			if mask != nil {
				msf = mask.surface()
			}
			if s.comp.PrepareComposite(op, ssf, msf, dsf) {
				s.comp.Composite(dsf, sp.X, sp.Y, mp.X, mp.Y, dr.Min.X, dr.Min.Y, dr.Dx(), dr.Dy())
				s.comp.DoneComposite(dsf)
				s.markSync()
				s.stats.accelerated++
				return nil
			}
		}
	}

	access := []Access{{Pixmap: dst, Role: driver.RoleDest}}
	if src != dst {
		access = append(access, Access{Pixmap: src, Role: driver.RoleSrc, Region: &sreg})
	}
	if mask != nil && mask != dst && mask != src {
		access = append(access, Access{Pixmap: mask, Role: driver.RoleMask, Region: &mreg})
	}
	s.Fallback(access, func() {
		var mimg *soft.Image
		if mask != nil {
			m := mask.cpuImage()
			mimg = &m
		}
		soft.Composite(op, dst.cpuImage(), dr, src.cpuImage(), sp, mimg, mp)
	})
	return nil
}

// MarkDirty reports pixels of p changed outside the drawing operations,
// for example by a client writing through a CPU view.
func (s *Screen) MarkDirty(p *Pixmap, r region.Region) {
	s.mustOwn(p)
	p.damage.Add(r)
}

// ToImage returns a copy of the pixmap contents.
func (s *Screen) ToImage(p *Pixmap) (*image.RGBA, error) {
	pitch := p.format.RowBytes(p.width)
	pix := make([]byte, pitch*p.height)
	if err := s.GetImage(p, p.Bounds(), pix, pitch); err != nil {
		return nil, err
	}
	return p.format.ToRGBA(pix, pitch, p.width, p.height), nil
}

// accelerating reports whether operations may use device hooks.
func (s *Screen) accelerating() bool {
	return s.fallbackDepth == 0 && !s.swappedOut
}

// accelerable reports whether device hooks can draw to or from p.
func (p *Pixmap) accelerable() bool {
	return p.bpp >= 8 && p.accelBlocked == 0
}

// overwrites reports whether a fill or copy with alu and planeMask
// replaces destination pixels without reading them.
func overwrites(p *Pixmap, alu driver.Alu, planeMask uint32) bool {
	switch alu {
	case driver.AluClear, driver.AluCopy, driver.AluSet:
		return fullMask(p, planeMask)
	}
	return false
}

func fullMask(p *Pixmap, planeMask uint32) bool {
	var m uint32 = 0xffffffff
	if p.bpp < 32 {
		m = 1<<uint(p.bpp) - 1
	}
	return planeMask&m == m
}

// cpuImage returns the CPU view as a software image.
func (p *Pixmap) cpuImage() soft.Image {
	return soft.Image{
		Pix:          p.cpu,
		Pitch:        p.cpuPitch,
		Width:        p.width,
		Height:       p.height,
		BitsPerPixel: p.bpp,
		Opaque:       p.format == format.X8R8G8B8,
	}
}

// operand is a pixmap read by an operation, with its origin at the
// destination's top left corner.
type operand struct {
	origin *image.Point
	bounds image.Rectangle
}

// clipOperands clips dr to dst and to every operand, moving the operand
// origins by the amount dr.Min moved.
func clipOperands(dr, dst image.Rectangle, ops ...operand) image.Rectangle {
	orig := dr.Min
	dr = dr.Intersect(dst)
	for _, op := range ops {
		dr = dr.Intersect(op.bounds.Add(orig.Sub(*op.origin)))
	}
	if dr.Empty() {
		return image.Rectangle{}
	}
	shift := dr.Min.Sub(orig)
	for _, op := range ops {
		*op.origin = op.origin.Add(shift)
	}
	return dr
}

func checkBuffer(f format.Format, w, h int, pix []byte, pitch int) error {
	if w <= 0 || h <= 0 {
		return errors.Wrapf(ErrInvalidDimensions, "%dx%d", w, h)
	}
	row := f.RowBytes(w)
	if pitch < row || len(pix) < pitch*(h-1)+row {
		return errors.Wrapf(ErrBufferTooSmall, "%d bytes with pitch %d for %dx%d %v", len(pix), pitch, w, h, f)
	}
	return nil
}
