// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/offscreen/driver"
)

// PrepareAccess opens a CPU access bracket on the pixmap and exposes its
// pixels through Pixels. It reports whether the view is the device copy.
//
// Brackets nest: a pixmap already being accessed keeps its slot and view,
// and only the outermost FinishAccess closes it. The role picks the slot;
// when that slot is held by another pixmap the highest free slot is used.
//
// When the driver refuses access to a device copy, or the role is an Aux
// role the driver does not support, the pixmap is moved out and the system
// copy is exposed instead. Running out of slots, or a pinned pixmap the
// driver refuses, is a programming error and panics.
func (s *Screen) PrepareAccess(p *Pixmap, role driver.Role) bool {
	s.mustOwn(p)
	if role < 0 || role >= driver.NumRoles {
		panic(errors.AssertionFailedf("offscreen: invalid access role %d", int(role)))
	}

	for i := range s.slots {
		if s.slots[i].pixmap == p {
			s.slots[i].count++
			return s.slots[i].retval
		}
	}

	idx := int(role)
	if s.slots[idx].pixmap != nil {
		idx = -1
		for i := len(s.slots) - 1; i >= 0; i-- {
			if s.slots[i].pixmap == nil {
				idx = i
				break
			}
		}
		if idx < 0 {
			panic(errors.AssertionFailedf("offscreen: no free access slot for %v (%v)", p, role))
		}
	}

	if p.cpu != nil {
		panic(errors.AssertionFailedf("offscreen: %v has a CPU view outside an access bracket", p))
	}

	slot := &s.slots[idx]
	*slot = accessSlot{pixmap: p, count: 1}
	slot.retval, slot.device = s.prepareView(p, driver.Role(idx))
	return slot.retval
}

// prepareView binds the CPU view of p. It returns whether the view is the
// device copy and whether the driver hook accepted the bracket.
func (s *Screen) prepareView(p *Pixmap, role driver.Role) (onDevice, hooked bool) {
	if !p.HasGPUCopy() {
		p.cpu, p.cpuPitch = p.sys, p.sysPitch
		return false, false
	}

	s.waitSync()

	if role.IsAux() && !s.info.Flags.Has(driver.FlagSupportsPrepareAux) {
		if p.Pinned() {
			panic(errors.AssertionFailedf("offscreen: unsupported %v access on pinned %v", role, p))
		}
		s.forceSystemView(p)
		return false, false
	}

	if !s.drv.PrepareAccess(p.surface(), role) {
		if p.Pinned() {
			panic(errors.AssertionFailedf("offscreen: driver refused %v access on pinned %v", role, p))
		}
		s.log.Debug("offscreen: driver refused access", "pixmap", p, "role", role)
		s.forceSystemView(p)
		return false, false
	}

	p.cpu = s.info.Memory[p.fbOffset : p.fbOffset+p.fbSize]
	p.cpuPitch = p.fbPitch
	return true, true
}

func (s *Screen) forceSystemView(p *Pixmap) {
	s.moveOut(&MigrationRequest{Pixmap: p, AsSrc: true})
	p.cpu, p.cpuPitch = p.sys, p.sysPitch
}

// FinishAccess closes a bracket opened by PrepareAccess. The role is the
// one passed to PrepareAccess; the slot is found by pixmap. Finishing a
// pixmap that is not being accessed panics.
func (s *Screen) FinishAccess(p *Pixmap, role driver.Role) {
	s.mustOwn(p)

	idx := -1
	for i := range s.slots {
		if s.slots[i].pixmap == p {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(errors.AssertionFailedf("offscreen: FinishAccess(%v) without PrepareAccess on %v", role, p))
	}

	slot := &s.slots[idx]
	slot.count--
	if slot.count > 0 {
		return
	}

	hooked := slot.device
	*slot = accessSlot{}
	p.cpu, p.cpuPitch = nil, 0

	if !hooked {
		return
	}
	r := driver.Role(idx)
	if r.IsAux() && !s.info.Flags.Has(driver.FlagSupportsPrepareAux) {
		s.log.Warn("offscreen: FinishAccess with unsupported aux role", "pixmap", p, "role", r)
		return
	}
	s.drv.FinishAccess(p.surface(), r)
}

// accessing reports whether p is inside an access bracket.
func (s *Screen) accessing(p *Pixmap) bool {
	for i := range s.slots {
		if s.slots[i].pixmap == p {
			return true
		}
	}
	return false
}
