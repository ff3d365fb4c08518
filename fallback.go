// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/region"
)

// Access names a pixmap used by software drawing.
type Access struct {
	Pixmap *Pixmap
	Role   driver.Role

	// Region limits the pixels a source is read from. Nil means the whole
	// pixmap. Destinations are bounded by their pending damage instead.
	Region *region.Region
}

// Fallback runs draw with CPU views of the given pixmaps. The
// authoritative copy of each pixmap is brought up to date first; no
// migration decisions are made while draw runs, including by operations
// draw itself issues.
func (s *Screen) Fallback(access []Access, draw func()) {
	for _, a := range access {
		s.mustOwn(a.Pixmap)
		s.settle(a)
	}

	s.fallbackDepth++
	s.stats.fallbacks++
	for _, a := range access {
		s.PrepareAccess(a.Pixmap, a.Role)
	}
	defer func() {
		for i := len(access) - 1; i >= 0; i-- {
			s.FinishAccess(access[i].Pixmap, access[i].Role)
		}
		s.fallbackDepth--
	}()

	draw()
}

// settle synchronizes the authoritative copy of a pixmap about to be
// accessed by the CPU.
func (s *Screen) settle(a Access) {
	p := a.Pixmap
	if !p.onDevice() || p.sys == nil || s.accessing(p) {
		return
	}
	req := MigrationRequest{Pixmap: p, Region: a.Region}
	if a.Role == driver.RoleDest || a.Role == driver.RoleAuxDest {
		req.AsDst, req.Region = true, nil
	} else {
		req.AsSrc = true
	}
	s.copyDirty(&req, p.HasGPUCopy())
}
