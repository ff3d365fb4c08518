// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/offscreen/arena"
)

// DisableDeviceAccess moves every offscreen pixmap out of device memory
// and keeps pixmaps out until the matching EnableDeviceAccess, for example
// while another client owns the device. Calls nest. Locked areas such as
// the front buffer stay in place.
func (s *Screen) DisableDeviceAccess() {
	s.disableDepth++
	if s.disableDepth > 1 {
		return
	}
	s.waitSync()
	evicted := 0
	if s.arena != nil {
		evicted = s.arena.Evict(func(a arena.Area) bool {
			return a.State == arena.Removable
		})
	}
	s.swappedOut = true
	s.log.Info("offscreen: device access disabled", "evicted", evicted)
}

// EnableDeviceAccess undoes one DisableDeviceAccess. Calling it more often
// than DisableDeviceAccess panics.
func (s *Screen) EnableDeviceAccess() {
	if s.disableDepth == 0 {
		panic(errors.AssertionFailedf("offscreen: EnableDeviceAccess without DisableDeviceAccess"))
	}
	s.disableDepth--
	if s.disableDepth > 0 {
		return
	}
	s.swappedOut = false
	s.log.Info("offscreen: device access enabled")
}

// DeviceAccessDisabled reports whether device access is disabled.
func (s *Screen) DeviceAccessDisabled() bool {
	return s.swappedOut
}
