// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/gogpu/offscreen/arena"
	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/internal/sysmem"
)

// Options configures a Screen.
type Options struct {
	// Policy selects the migration heuristic.
	Policy Policy

	// OptimizeMigration skips copying pixels that the pending operation
	// is about to overwrite.
	OptimizeMigration bool

	// GreedyThrashGuard makes the Greedy policy keep all participants in
	// system memory when none of them has a device copy yet.
	GreedyThrashGuard bool

	// CheckDirtyCorrectness compares both copies of clean pixmaps before
	// migrating them. It is slow and meant for debugging drivers.
	CheckDirtyCorrectness bool

	// SweepInterval is the minimum time between idle sweeps.
	SweepInterval time.Duration

	// IdleThreshold is how long the screen must be idle before a sweep.
	IdleThreshold time.Duration

	// EvictIdleAge evicts removable areas not used for this many clock
	// ticks during a sweep. Zero disables idle eviction.
	EvictIdleAge uint32

	// PoolBuffers is the number of system buffers of each size kept for
	// reuse. Negative disables pooling.
	PoolBuffers int

	// Logger overrides the package logger for this screen.
	Logger *slog.Logger
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Policy:            PolicyAlways,
		OptimizeMigration: true,
		SweepInterval:     time.Second,
		IdleThreshold:     100 * time.Millisecond,
		PoolBuffers:       8,
	}
}

// accessSlot tracks one CPU access role.
type accessSlot struct {
	pixmap *Pixmap
	count  int
	retval bool

	// device is set when the driver PrepareAccess hook accepted the
	// bracket and must see the matching FinishAccess.
	device bool
}

// counters are the engine statistics not kept by the arena.
type counters struct {
	moveIns       uint64
	moveOuts      uint64
	moveInFails   uint64
	uploads       uint64
	downloads     uint64
	rawCopies     uint64
	droppedRects  uint64
	accelerated   uint64
	fallbacks     uint64
	sweeps        uint64
	relocations   uint64
	dirtyMismatch uint64
}

// Screen is the per-device context: it owns the offscreen arena, the
// access slots and every pixmap created on it.
//
// A Screen is not safe for concurrent use. Independent screens may be
// used from different goroutines.
type Screen struct {
	drv    driver.Driver
	info   driver.Info
	comp   driver.Compositor
	up     driver.Uploader
	down   driver.Downloader
	syncer driver.Syncer

	arena *arena.Arena
	opts  Options
	log   *slog.Logger
	pool  *sysmem.Pool

	pixmaps map[*Pixmap]struct{}
	front   *Pixmap

	slots [driver.NumRoles]accessSlot

	fallbackDepth int
	disableDepth  int
	swappedOut    bool

	needSync   bool
	lastMarker int

	limiter        *rate.Limiter
	nextDefragment time.Time
	lastSweep      time.Time

	serial uint64
	stats  counters
	closed bool
}

// NewScreen creates a screen on top of drv. Offscreen pixmaps are enabled
// when the driver sets FlagOffscreenPixmaps and leaves device memory above
// OffscreenBase.
func NewScreen(drv driver.Driver, opts Options) (*Screen, error) {
	if drv == nil {
		return nil, ErrNilDriver
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions().SweepInterval
	}
	if opts.IdleThreshold < 0 {
		opts.IdleThreshold = 0
	}

	info := drv.Info()
	if info.PixmapOffsetAlign <= 0 {
		info.PixmapOffsetAlign = 1
	}
	if info.PixmapPitchAlign <= 0 {
		info.PixmapPitchAlign = 1
	}
	if info.MaxX <= 0 || info.MaxY <= 0 {
		return nil, errors.Newf("offscreen: driver %q reports limits %dx%d", drv.Name(), info.MaxX, info.MaxY)
	}
	if info.MaxPitchPixels == 0 && info.MaxPitchBytes == 0 {
		info.MaxPitchPixels = info.MaxX
	}

	log := opts.Logger
	if log == nil {
		log = Logger()
	}

	s := &Screen{
		drv:     drv,
		info:    info,
		opts:    opts,
		log:     log,
		pool:    sysmem.NewPool(opts.PoolBuffers),
		pixmaps: make(map[*Pixmap]struct{}),
		limiter: rate.NewLimiter(rate.Every(opts.SweepInterval), 1),
	}
	s.comp, _ = drv.(driver.Compositor)
	s.up, _ = drv.(driver.Uploader)
	s.down, _ = drv.(driver.Downloader)
	s.syncer, _ = drv.(driver.Syncer)
	propagateLogger(drv, log)

	if info.Flags.Has(driver.FlagOffscreenPixmaps) && info.OffscreenBase < len(info.Memory) {
		a, err := arena.New(info.OffscreenBase, len(info.Memory)-info.OffscreenBase,
			arena.WithLogger(log),
			arena.WithOverlappingMoves(info.Flags.Has(driver.FlagSupportsOffscreenOverlaps)))
		if err != nil {
			return nil, errors.Wrap(err, "offscreen: creating arena")
		}
		s.arena = a
	}

	log.Info("offscreen: screen initialized",
		"driver", drv.Name(),
		"memory", len(info.Memory),
		"offscreen_base", info.OffscreenBase,
		"offscreen", s.arena != nil,
		"policy", opts.Policy,
		"compositor", s.comp != nil,
		"uploader", s.up != nil,
		"downloader", s.down != nil)
	return s, nil
}

// Driver returns the driver the screen was created with.
func (s *Screen) Driver() driver.Driver { return s.drv }

// Info returns the device description, with defaults filled in.
func (s *Screen) Info() driver.Info { return s.info }

// Options returns the screen options.
func (s *Screen) Options() Options { return s.opts }

// Arena returns the offscreen arena, or nil when offscreen pixmaps are
// disabled.
func (s *Screen) Arena() *arena.Arena { return s.arena }

// FrontBuffer returns the front buffer, or nil if none was created.
func (s *Screen) FrontBuffer() *Pixmap { return s.front }

// NumPixmaps returns the number of live pixmaps.
func (s *Screen) NumPixmaps() int { return len(s.pixmaps) }

// Close moves every pixmap out of device memory and releases the arena.
// Pixmaps stay usable from system memory; the front buffer is destroyed.
func (s *Screen) Close() error {
	if s.closed {
		return nil
	}
	for i := range s.slots {
		if s.slots[i].pixmap != nil {
			return errors.Newf("offscreen: close with %v access open", driver.Role(i))
		}
	}
	if s.front != nil {
		s.DestroyPixmap(s.front)
	}
	if s.arena != nil {
		n := s.arena.SwapOut()
		s.log.Info("offscreen: screen closed", "evicted", n)
	}
	s.waitSync()
	s.arena = nil
	s.closed = true
	return nil
}

func (s *Screen) nextSerial() uint64 {
	s.serial++
	return s.serial
}

// Stats is a snapshot of screen statistics.
type Stats struct {
	// Arena is the zero value when offscreen pixmaps are disabled.
	Arena arena.Stats

	Pixmaps       int
	DevicePixmaps int

	MoveIns      uint64
	MoveOuts     uint64
	MoveInFails  uint64
	Uploads      uint64
	Downloads    uint64
	RawCopies    uint64
	DroppedRects uint64

	Accelerated uint64
	Fallbacks   uint64

	Sweeps        uint64
	Relocations   uint64
	DirtyMismatch uint64

	PoolHits   uint64
	PoolMisses uint64

	SwappedOut bool
}

// Stats returns current statistics.
func (s *Screen) Stats() Stats {
	st := Stats{
		Pixmaps:       len(s.pixmaps),
		MoveIns:       s.stats.moveIns,
		MoveOuts:      s.stats.moveOuts,
		MoveInFails:   s.stats.moveInFails,
		Uploads:       s.stats.uploads,
		Downloads:     s.stats.downloads,
		RawCopies:     s.stats.rawCopies,
		DroppedRects:  s.stats.droppedRects,
		Accelerated:   s.stats.accelerated,
		Fallbacks:     s.stats.fallbacks,
		Sweeps:        s.stats.sweeps,
		Relocations:   s.stats.relocations,
		DirtyMismatch: s.stats.dirtyMismatch,
		SwappedOut:    s.swappedOut,
	}
	if s.arena != nil {
		st.Arena = s.arena.Stats()
	}
	for p := range s.pixmaps {
		if p.onDevice() {
			st.DevicePixmaps++
		}
	}
	st.PoolHits, st.PoolMisses = s.pool.Stats()
	return st
}
