// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/offscreen/arena"
	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/region"
)

// MoveIn gives the pixmap a device copy, if device memory allows, and makes
// it authoritative. Pixmaps that are pinned, below 8 bits per pixel or over
// device limits stay where they are, as does everything while device
// access is disabled. Callers test HasGPUCopy afterwards.
func (s *Screen) MoveIn(p *Pixmap) {
	s.mustOwn(p)
	s.moveIn(&MigrationRequest{Pixmap: p, AsSrc: true})
}

// MoveOut makes the system copy authoritative and up to date. The device
// copy stays allocated and may be evicted later.
func (s *Screen) MoveOut(p *Pixmap) {
	s.mustOwn(p)
	s.moveOut(&MigrationRequest{Pixmap: p, AsSrc: true})
}

func (s *Screen) moveIn(req *MigrationRequest) {
	p := req.Pixmap
	if s.swappedOut || s.arena == nil || p.Pinned() || p.bpp < 8 || p.accelBlocked != 0 {
		return
	}

	if !p.onDevice() {
		h, err := s.arena.Allocate(p.fbSize, s.info.PixmapOffsetAlign, false, s.pixmapSave, p)
		if err != nil {
			s.stats.moveInFails++
			s.log.Debug("offscreen: no device memory", "pixmap", p, "size", p.fbSize, "err", err)
			return
		}
		area, _ := s.arena.Lookup(h)
		p.area = h
		p.fbOffset = area.Offset
		p.residency = BothSystemAuthoritative
	}

	if !s.copyDirty(req, true) {
		s.log.Warn("offscreen: device copy incomplete, system copy stays authoritative", "pixmap", p)
		return
	}

	if p.residency == BothDeviceAuthoritative {
		return
	}
	p.residency = BothDeviceAuthoritative
	p.serial = s.nextSerial()
	s.stats.moveIns++
	s.log.Debug("offscreen: moved in", "pixmap", p, "offset", p.fbOffset, "dirty", p.isDirty())
}

func (s *Screen) moveOut(req *MigrationRequest) {
	p := req.Pixmap
	if p.area.IsZero() || p.Pinned() {
		return
	}

	if !s.copyDirty(req, false) {
		s.log.Warn("offscreen: system copy incomplete, device copy stays authoritative", "pixmap", p)
		return
	}

	if p.residency != BothDeviceAuthoritative {
		return
	}
	p.residency = BothSystemAuthoritative
	p.serial = s.nextSerial()
	s.stats.moveOuts++
	s.log.Debug("offscreen: moved out", "pixmap", p, "offset", p.fbOffset, "dirty", p.isDirty())
}

// pixmapSave is the arena save callback of pixmap areas. It runs before
// the area is evicted.
func (s *Screen) pixmapSave(h arena.Handle, owner any) {
	p, ok := owner.(*Pixmap)
	if !ok || p.area != h {
		panic(errors.AssertionFailedf("offscreen: save callback for foreign area %v", h))
	}
	if p.cpu != nil {
		panic(errors.AssertionFailedf("offscreen: evicting %v during CPU access", p))
	}
	s.moveOut(&MigrationRequest{Pixmap: p, AsSrc: true})
	if p.HasGPUCopy() {
		s.log.Error("offscreen: evicted device copy that could not be saved", "pixmap", p, "area", h)
	}

	p.area = arena.Handle{}
	p.residency = SystemOnly
	p.fbOffset = 0
	// Everything valid in system memory gets uploaded on the next MoveIn.
	p.validFB = region.Region{}
	s.log.Debug("offscreen: evicted", "pixmap", p, "area", h)
}

// frontSave is the save callback of a front buffer placed in the arena.
// The area is Locked, so it only runs when device memory is swapped out as
// a whole; the front buffer has no system copy to save to.
func (s *Screen) frontSave(h arena.Handle, owner any) {
	p, ok := owner.(*Pixmap)
	if !ok || p.area != h {
		panic(errors.AssertionFailedf("offscreen: save callback for foreign area %v", h))
	}
	p.area = arena.Handle{}
	p.residency = SystemOnly
	p.validFB = region.Region{}
	s.log.Warn("offscreen: front buffer contents discarded", "area", h)
}

// migrateTowardDevice raises the score of the pixmap and moves it in once
// it reaches ScoreMoveIn. A pixmap scored for the first time is moved in
// right away. The authoritative copy is then synchronized.
func (s *Screen) migrateTowardDevice(req *MigrationRequest) {
	p := req.Pixmap
	if p.Pinned() {
		return
	}
	if p.score == ScoreInit {
		s.moveIn(req)
		p.score = 0
	}
	if p.score < ScoreMax {
		p.score++
	}
	if p.score >= ScoreMoveIn && !p.HasGPUCopy() {
		s.moveIn(req)
	}
	s.syncAuthoritative(req)
}

// migrateTowardSystem lowers the score of the pixmap and moves it out once
// it reaches ScoreMoveOut. The authoritative copy is then synchronized.
func (s *Screen) migrateTowardSystem(req *MigrationRequest) {
	p := req.Pixmap
	if p.Pinned() {
		return
	}
	if p.score == ScoreInit {
		p.score = 0
	}
	if p.score > ScoreMin {
		p.score--
	}
	if p.score <= ScoreMoveOut && !p.area.IsZero() {
		s.moveOut(req)
	}
	s.syncAuthoritative(req)
}

// syncAuthoritative brings the authoritative copy up to date for the
// request and marks a device copy as recently used.
func (s *Screen) syncAuthoritative(req *MigrationRequest) {
	p := req.Pixmap
	if p.HasGPUCopy() {
		s.copyDirty(req, true)
		s.markUsed(p)
		return
	}
	s.copyDirty(req, false)
}

func (s *Screen) markUsed(p *Pixmap) {
	if !p.area.IsZero() {
		s.arena.MarkUsed(p.area)
	}
}

// isDirty reports whether the copies differ or changes are unfolded.
func (p *Pixmap) isDirty() bool {
	return !p.damage.Empty() || !p.validSys.Equal(p.validFB)
}

// shouldBeOnDevice reports whether the pixmap has seen more acceleration
// than fallbacks, or no migration at all yet.
func (p *Pixmap) shouldBeOnDevice() bool {
	return p.Pinned() || p.score >= 0
}

// assertNotDirty compares both copies over the pixels valid in each. On a
// mismatch it reports the differing rectangles as damage and returns false.
func (s *Screen) assertNotDirty(p *Pixmap) bool {
	if p.Pinned() || p.area.IsZero() {
		return true
	}
	valid := p.validFB.Intersect(p.validSys)
	if valid.Empty() {
		return true
	}

	s.waitSync()
	sf := p.surface()
	if !s.drv.PrepareAccess(sf, driver.RoleSrc) {
		return true
	}
	defer s.drv.FinishAccess(sf, driver.RoleSrc)

	ok := true
	cpp := p.bpp / 8
	mem := s.info.Memory
	for _, r := range valid.Rects() {
		r = r.Intersect(p.Bounds())
		rowBytes := r.Dx() * cpp
		for y := r.Min.Y; y < r.Max.Y; y++ {
			fb := p.fbOffset + y*p.fbPitch + r.Min.X*cpp
			sys := y*p.sysPitch + r.Min.X*cpp
			if !bytes.Equal(mem[fb:fb+rowBytes], p.sys[sys:sys+rowBytes]) {
				ok = false
				p.damage.AddRect(r)
				break
			}
		}
	}
	return ok
}
