// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

// markSync records that the device has work in flight.
func (s *Screen) markSync() {
	s.needSync = true
	if s.syncer != nil {
		s.lastMarker = s.syncer.MarkSync()
	}
}

// waitSync blocks until device work is done. While device access is
// disabled there is nothing to wait for.
func (s *Screen) waitSync() {
	if !s.needSync || s.swappedOut {
		return
	}
	if s.syncer != nil {
		s.syncer.WaitMarker(s.lastMarker)
	}
	s.needSync = false
}

// Sync waits for all device work submitted so far.
func (s *Screen) Sync() {
	s.waitSync()
}
