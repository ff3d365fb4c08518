// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"testing"
	"time"

	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/format"
)

func idleOptions() Options {
	opts := DefaultOptions()
	opts.SweepInterval = time.Second
	opts.IdleThreshold = 100 * time.Millisecond
	return opts
}

// fragment moves three 1 KiB pixmaps in and destroys the middle one,
// leaving two free blocks.
func fragment(t *testing.T, s *Screen) (first, last *Pixmap) {
	t.Helper()
	first = mustPixmap(t, s, 16, 16, format.A8R8G8B8)
	middle := mustPixmap(t, s, 16, 16, format.A8R8G8B8)
	last = mustPixmap(t, s, 16, 16, format.A8R8G8B8)
	s.FillRect(first, first.Bounds(), driver.AluCopy, ^uint32(0), 0xff0000ff)
	s.FillRect(middle, middle.Bounds(), driver.AluCopy, ^uint32(0), 0)
	s.FillRect(last, last.Bounds(), driver.AluCopy, ^uint32(0), 0xffff0000)
	s.DestroyPixmap(middle)
	if n := s.Arena().NumAvailable(); n != 2 {
		t.Fatalf("NumAvailable() = %d, want 2", n)
	}
	return first, last
}

func TestBlockHandlerNothingToDo(t *testing.T) {
	s, _ := newTestScreen(t, testConfig(1<<16), idleOptions())
	if _, ok := s.BlockHandler(time.Now()); ok {
		t.Error("BlockHandler scheduled a sweep of an unfragmented arena")
	}
	if s.WakeupHandler(time.Now().Add(time.Hour), true) {
		t.Error("WakeupHandler swept an unfragmented arena")
	}
}

func TestIdleSweepDefragments(t *testing.T) {
	s, dev := newTestScreen(t, testConfig(1<<16), idleOptions())
	first, last := fragment(t, s)

	t0 := time.Unix(1000, 0)
	delay, ok := s.BlockHandler(t0)
	if !ok || delay != 100*time.Millisecond {
		t.Fatalf("BlockHandler() = %v, %v, want 100ms, true", delay, ok)
	}

	tests := []struct {
		name  string
		at    time.Duration
		idle  bool
		swept bool
	}{
		{"busy", 150 * time.Millisecond, false, false},
		{"too early", 50 * time.Millisecond, true, false},
		{"idle", 150 * time.Millisecond, true, true},
	}
	for _, tt := range tests {
		if got := s.WakeupHandler(t0.Add(tt.at), tt.idle); got != tt.swept {
			t.Fatalf("%s: WakeupHandler() = %v, want %v", tt.name, got, tt.swept)
		}
	}

	if n := s.Arena().NumAvailable(); n != 1 {
		t.Errorf("NumAvailable() after sweep = %d, want 1", n)
	}
	if got := s.Stats().Relocations; got != 2 {
		t.Errorf("Relocations = %d, want 2", got)
	}
	if dev.Counters.Copies != 2 {
		t.Errorf("device copies = %d, want 2", dev.Counters.Copies)
	}
	size := s.Arena().Size()
	if off, _ := last.DeviceOffset(); off != size-1024 {
		t.Errorf("last offset = %d, want %d", off, size-1024)
	}
	if off, _ := first.DeviceOffset(); off != size-2048 {
		t.Errorf("first offset = %d, want %d", off, size-2048)
	}
	if err := s.Arena().Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if got := pixelAt(t, s, first, 15, 15); got != 0xff0000ff {
		t.Errorf("first pixel after relocation = %#x", got)
	}
	if got := pixelAt(t, s, last, 0, 0); got != 0xffff0000 {
		t.Errorf("last pixel after relocation = %#x", got)
	}
}

func TestIdleSweepRateLimited(t *testing.T) {
	s, _ := newTestScreen(t, testConfig(1<<16), idleOptions())
	fragment(t, s)

	t0 := time.Unix(1000, 0)
	s.BlockHandler(t0)
	if !s.WakeupHandler(t0.Add(150*time.Millisecond), true) {
		t.Fatal("first sweep did not run")
	}

	// Fragment again at the low end.
	a := mustPixmap(t, s, 16, 16, format.A8R8G8B8)
	b := mustPixmap(t, s, 16, 16, format.A8R8G8B8)
	s.MoveIn(a)
	s.MoveIn(b)
	s.DestroyPixmap(a)
	if n := s.Arena().NumAvailable(); n != 2 {
		t.Fatalf("NumAvailable() = %d, want 2", n)
	}

	if s.WakeupHandler(t0.Add(200*time.Millisecond), true) {
		t.Error("sweep ran twice within one interval")
	}

	delay, ok := s.BlockHandler(t0.Add(300 * time.Millisecond))
	if !ok || delay != 850*time.Millisecond {
		t.Errorf("BlockHandler() = %v, %v, want 850ms, true", delay, ok)
	}
	if s.WakeupHandler(t0.Add(400*time.Millisecond), true) {
		t.Error("sweep ran before the scheduled time")
	}
	if !s.WakeupHandler(t0.Add(1200*time.Millisecond), true) {
		t.Error("sweep did not run after the interval")
	}
	if got := s.Stats().Sweeps; got != 2 {
		t.Errorf("Sweeps = %d, want 2", got)
	}
}

func TestSweepEvictsIdleAreas(t *testing.T) {
	opts := idleOptions()
	opts.EvictIdleAge = 1
	s, _ := newTestScreen(t, testConfig(1<<16), opts)
	old := mustPixmap(t, s, 16, 16, format.A8R8G8B8)
	recent := mustPixmap(t, s, 16, 16, format.A8R8G8B8)
	s.MoveIn(old)
	s.MoveIn(recent)

	s.Sweep()
	if old.HasGPUCopy() {
		t.Error("idle pixmap kept its device copy")
	}
	if !recent.HasGPUCopy() {
		t.Error("recently used pixmap was evicted")
	}
}

func TestSweepSkipsAccessedPixmaps(t *testing.T) {
	s, _ := newTestScreen(t, testConfig(1<<16), idleOptions())
	first, last := fragment(t, s)
	offLast, _ := last.DeviceOffset()

	s.PrepareAccess(last, driver.RoleSrc)
	s.Sweep()
	s.FinishAccess(last, driver.RoleSrc)

	if off, _ := last.DeviceOffset(); off != offLast {
		t.Errorf("accessed pixmap moved from %d to %d", offLast, off)
	}
	// The free block between the two still lets the lower one move up.
	if off, _ := first.DeviceOffset(); off != 1024 {
		t.Errorf("first offset = %d, want 1024", off)
	}
	if got := s.Stats().Relocations; got != 1 {
		t.Errorf("Relocations = %d, want 1", got)
	}
	if err := s.Arena().Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestSweepWhileDisabled(t *testing.T) {
	s, _ := newTestScreen(t, testConfig(1<<16), idleOptions())
	s.DisableDeviceAccess()
	defer s.EnableDeviceAccess()
	if got := s.Sweep(); got != 0 {
		t.Errorf("Sweep() = %d while device access is disabled", got)
	}
	if _, ok := s.BlockHandler(time.Now()); ok {
		t.Error("BlockHandler scheduled a sweep while device access is disabled")
	}
}
