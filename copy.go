// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"image"

	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/internal/soft"
	"github.com/gogpu/offscreen/region"
)

const (
	// dstRectsLimit is the destination valid rectangle count above which
	// the pending damage bound is widened to the extents of both.
	dstRectsLimit = 10

	// srcRectsLimit is the source valid rectangle count above which pixels
	// already valid in the destination are dropped from the source set.
	srcRectsLimit = 20
)

// foldDamage moves accumulated damage into the valid set of the
// authoritative copy and out of the other one.
func (p *Pixmap) foldDamage() {
	dmg := p.damage.Take()
	if dmg.Empty() {
		return
	}
	if p.residency.deviceAuthoritative() {
		p.validFB = p.validFB.Union(dmg)
		p.validSys = p.validSys.Subtract(dmg)
	} else {
		p.validSys = p.validSys.Union(dmg)
		p.validFB = p.validFB.Subtract(dmg)
	}
}

// copyDirty brings the device copy (toDevice) or the system copy up to
// date with the other one, restricted by the request. It reports false
// when some rectangle could be copied by neither the transfer hooks nor
// the CPU.
func (s *Screen) copyDirty(req *MigrationRequest, toDevice bool) bool {
	p := req.Pixmap
	p.foldDamage()
	if !p.onDevice() || p.sys == nil {
		return true
	}

	validDst, validSrc := &p.validSys, &p.validFB
	if toDevice {
		validDst, validSrc = &p.validFB, &p.validSys
	}

	toCopy := validSrc.Subtract(*validDst)
	if req.AsDst {
		if s.opts.OptimizeMigration {
			pending := p.damage.Pending()
			if validDst.NumRects() > dstRectsLimit {
				toCopy = toCopy.Clip(validDst.Extents().Union(pending.Extents()))
			} else {
				toCopy = toCopy.Intersect(pending)
			}
		}
		if req.Region != nil {
			toCopy = toCopy.Subtract(*req.Region)
		}
	} else if req.Region != nil {
		toCopy = toCopy.Intersect(*req.Region)
	}

	var (
		copied      []image.Rectangle
		transferred bool
		dropped     bool
		raw         rawAccess
	)
	for _, r := range toCopy.Rects() {
		r = r.Intersect(p.Bounds())
		if r.Empty() {
			continue
		}
		if s.transfer(p, r, toDevice) {
			transferred = true
			copied = append(copied, r)
			continue
		}
		if raw.copy(s, p, r, toDevice) {
			copied = append(copied, r)
			continue
		}
		dropped = true
		s.stats.droppedRects++
		s.log.Debug("offscreen: dropped rectangle", "pixmap", p, "rect", r, "to_device", toDevice)
	}
	raw.finish(s, p)

	if validSrc.NumRects() > srcRectsLimit {
		*validSrc = validSrc.Subtract(*validDst)
	}
	*validDst = validDst.Union(region.FromRects(copied...))

	if transferred && !raw.open {
		if toDevice {
			s.markSync()
		} else {
			s.waitSync()
		}
	}
	return !dropped
}

// transfer runs the upload or download hook for one rectangle.
func (s *Screen) transfer(p *Pixmap, r image.Rectangle, toDevice bool) bool {
	off := r.Min.Y*p.sysPitch + r.Min.X*p.bpp/8
	if toDevice {
		if s.up == nil || !s.up.UploadToScreen(p.surface(), r.Min.X, r.Min.Y, r.Dx(), r.Dy(), p.sys[off:], p.sysPitch) {
			return false
		}
		s.stats.uploads++
		return true
	}
	if s.down == nil || !s.down.DownloadFromScreen(p.surface(), r.Min.X, r.Min.Y, r.Dx(), r.Dy(), p.sys[off:], p.sysPitch) {
		return false
	}
	s.stats.downloads++
	return true
}

// rawAccess is the device access bracket held while copying rectangles
// the transfer hooks declined.
type rawAccess struct {
	open   bool
	nested bool // p already held an access slot; no hooks were called
	failed bool
	role   driver.Role
}

// copy moves one rectangle between the copies with the CPU. The bracket
// is opened on first use and kept for the remaining rectangles. A pixmap
// inside an access bracket of its own is copied through that bracket,
// even when the driver refused it and the view is being moved out.
func (a *rawAccess) copy(s *Screen, p *Pixmap, r image.Rectangle, toDevice bool) bool {
	if a.failed {
		return false
	}
	if !a.open {
		a.role = driver.RoleSrc
		if toDevice {
			a.role = driver.RoleDest
		}
		s.waitSync()
		if s.accessing(p) {
			a.nested = true
		} else if !s.drv.PrepareAccess(p.surface(), a.role) {
			a.failed = true
			s.log.Warn("offscreen: driver refused raw access", "pixmap", p, "role", a.role)
			return false
		}
		a.open = true
	}

	bpp := p.bpp / 8
	rowBytes := r.Dx() * bpp
	sysOff := r.Min.Y*p.sysPitch + r.Min.X*bpp
	fbOff := p.fbOffset + r.Min.Y*p.fbPitch + r.Min.X*bpp
	mem := s.info.Memory
	if toDevice {
		soft.CopyBytes(mem[fbOff:], p.fbPitch, p.sys[sysOff:], p.sysPitch, rowBytes, r.Dy())
	} else {
		soft.CopyBytes(p.sys[sysOff:], p.sysPitch, mem[fbOff:], p.fbPitch, rowBytes, r.Dy())
	}
	s.stats.rawCopies++
	return true
}

func (a *rawAccess) finish(s *Screen, p *Pixmap) {
	if a.open && !a.nested {
		s.drv.FinishAccess(p.surface(), a.role)
	}
}
