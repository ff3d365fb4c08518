// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"time"

	"github.com/gogpu/offscreen/arena"
	"github.com/gogpu/offscreen/driver"
)

// BlockHandler is called before the server waits for input. It schedules
// the next idle sweep and returns how long the wait may last before the
// sweep is due. It returns false when no sweep is needed.
func (s *Screen) BlockHandler(now time.Time) (time.Duration, bool) {
	if !s.sweepable() {
		return 0, false
	}
	delay := s.opts.IdleThreshold
	if next := s.lastSweep.Add(s.opts.SweepInterval).Sub(now); next > delay {
		delay = next
	}
	s.nextDefragment = now.Add(delay)
	return delay, true
}

// WakeupHandler is called after the wait. When the server stayed idle past
// the time scheduled by BlockHandler it sweeps device memory, at most once
// per SweepInterval. It reports whether a sweep ran.
func (s *Screen) WakeupHandler(now time.Time, idle bool) bool {
	if !idle || !s.sweepable() || s.nextDefragment.IsZero() || !now.After(s.nextDefragment) {
		return false
	}
	if !s.limiter.AllowN(now, 1) {
		return false
	}
	s.Sweep()
	s.lastSweep = now
	return true
}

func (s *Screen) sweepable() bool {
	return s.arena != nil && !s.swappedOut && s.arena.NumAvailable() > 1
}

// Sweep evicts areas idle for longer than EvictIdleAge, if set, and
// defragments device memory. It returns the size of the largest free
// block afterwards.
func (s *Screen) Sweep() int {
	if s.arena == nil || s.swappedOut {
		return 0
	}

	evicted := 0
	if age := s.opts.EvictIdleAge; age > 0 {
		clock := s.arena.Clock()
		evicted = s.arena.Evict(func(a arena.Area) bool {
			if a.State != arena.Removable {
				return false
			}
			p, ok := a.Owner.(*Pixmap)
			return ok && !s.accessing(p) && clock-a.LastUse > age
		})
	}

	largest := 0
	if h, ok := s.arena.Defragment(arena.RelocatorFunc(s.relocate)); ok {
		if a, ok := s.arena.Lookup(h); ok {
			largest = a.Size
		}
	}
	s.stats.sweeps++
	s.log.Info("offscreen: swept device memory", "evicted", evicted,
		"largest_free", largest, "available_areas", s.arena.NumAvailable())
	return largest
}

// relocate moves a pixmap's device copy with the driver copy hook. The
// copy runs back to front since the ranges may overlap.
func (s *Screen) relocate(owner any, src arena.Area, dstOffset int) bool {
	p, ok := owner.(*Pixmap)
	if !ok || p.area != src.Handle || s.accessing(p) {
		return false
	}

	from := p.surface()
	to := *from
	to.Offset = dstOffset + (p.fbOffset - src.Offset)
	if !s.drv.PrepareCopy(from, &to, -1, -1, driver.AluCopy, ^uint32(0)) {
		return false
	}
	s.drv.Copy(&to, 0, 0, 0, 0, p.width, p.height)
	s.drv.DoneCopy(&to)
	s.markSync()

	p.fbOffset = to.Offset
	s.stats.relocations++
	return true
}
