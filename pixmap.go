// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import (
	"fmt"
	"image"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/offscreen/arena"
	"github.com/gogpu/offscreen/damage"
	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/format"
	"github.com/gogpu/offscreen/region"
)

// MaxDimension is the largest supported pixmap width or height.
const MaxDimension = 32767

// sysPitchAlign is the row alignment of system copies.
const sysPitchAlign = 4

// Residency describes where a pixmap's pixels live.
type Residency uint8

const (
	// SystemOnly pixmaps have no device copy.
	SystemOnly Residency = iota

	// DeviceOnly pixmaps have no system copy, like the front buffer.
	DeviceOnly

	// BothSystemAuthoritative pixmaps have both copies; rendering goes to
	// the system copy.
	BothSystemAuthoritative

	// BothDeviceAuthoritative pixmaps have both copies; rendering goes to
	// the device copy.
	BothDeviceAuthoritative
)

// String returns a string representation of the residency.
func (r Residency) String() string {
	switch r {
	case SystemOnly:
		return "system"
	case DeviceOnly:
		return "device"
	case BothSystemAuthoritative:
		return "both/system"
	case BothDeviceAuthoritative:
		return "both/device"
	default:
		return fmt.Sprintf("Residency(%d)", uint8(r))
	}
}

// deviceAuthoritative reports whether rendering goes to the device copy.
func (r Residency) deviceAuthoritative() bool {
	return r == DeviceOnly || r == BothDeviceAuthoritative
}

// AccelBlock flags the device limits a pixmap exceeds.
type AccelBlock uint8

const (
	BlockedPitch AccelBlock = 1 << iota
	BlockedWidth
	BlockedHeight
)

// Pixmap is a rectangular pixel buffer managed by a Screen. It may have a
// copy in system memory, a copy in device memory, or both; the valid
// regions record which pixels of each copy are current.
//
// A Pixmap belongs to one Screen and shares its threading rules.
type Pixmap struct {
	screen *Screen

	width  int
	height int
	format format.Format
	bpp    int

	sys      []byte
	sysPitch int
	external bool

	// residency is the only record of which copies exist and which one
	// is authoritative. A device copy is bound through area or, for the
	// front buffer, below the offscreen range.
	residency Residency
	area      arena.Handle
	fbOffset  int
	fbPitch   int
	fbSize    int

	score        int
	accelBlocked AccelBlock
	front        bool

	validSys region.Region
	validFB  region.Region
	damage   *damage.Tracker

	// cpu is non-nil only between PrepareAccess and FinishAccess.
	cpu      []byte
	cpuPitch int

	priv      any
	serial    uint64
	destroyed bool
}

// PixmapOption configures CreatePixmap.
type PixmapOption func(*pixmapConfig)

type pixmapConfig struct {
	pix   []byte
	pitch int
	priv  any
}

// WithExternalStorage makes the pixmap use pix, with the given row pitch,
// as its system copy. Such pixmaps are pinned in system memory.
func WithExternalStorage(pix []byte, pitch int) PixmapOption {
	return func(c *pixmapConfig) {
		c.pix = pix
		c.pitch = pitch
	}
}

// WithDriverPrivate attaches a driver payload, passed to hooks as
// Surface.Priv.
func WithDriverPrivate(priv any) PixmapOption {
	return func(c *pixmapConfig) {
		c.priv = priv
	}
}

// CreatePixmap creates a pixmap whose pixels start out zero and valid in
// system memory.
func (s *Screen) CreatePixmap(width, height int, f format.Format, opts ...PixmapOption) (*Pixmap, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}
	if !f.IsValid() {
		return nil, errors.Wrapf(ErrInvalidFormat, "format %d", f)
	}

	var cfg pixmapConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pixmap{
		screen: s,
		width:  width,
		height: height,
		format: f,
		bpp:    f.BitsPerPixel(),
		score:  ScoreInit,
		priv:   cfg.priv,
	}

	if cfg.pix != nil {
		if cfg.pitch < f.RowBytes(width) || len(cfg.pix) < cfg.pitch*(height-1)+f.RowBytes(width) {
			return nil, errors.Wrapf(ErrBufferTooSmall, "%d bytes with pitch %d for %dx%d %v",
				len(cfg.pix), cfg.pitch, width, height, f)
		}
		p.sys = cfg.pix
		p.sysPitch = cfg.pitch
		p.external = true
		p.score = ScorePinned
	} else {
		p.sysPitch = alignUp(f.RowBytes(width), sysPitchAlign)
		p.sys = s.pool.Get(p.sysPitch * height)
	}

	s.setDeviceGeometry(p)
	p.validSys = region.New(p.Bounds())
	p.damage = damage.New(p.Bounds())
	p.serial = s.nextSerial()

	s.pixmaps[p] = struct{}{}
	s.log.Debug("offscreen: pixmap created", "width", width, "height", height,
		"format", f, "fb_size", p.fbSize, "blocked", p.accelBlocked)
	return p, nil
}

// CreateFrontBuffer creates the visible screen pixmap. It lives only in
// device memory and is pinned there: below the offscreen range when the
// driver reserved enough room, otherwise in a Locked area.
func (s *Screen) CreateFrontBuffer(width, height int, f format.Format) (*Pixmap, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.front != nil {
		return nil, ErrFrontBufferExists
	}
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}
	if !f.IsValid() || f.BitsPerPixel() < 8 {
		return nil, errors.Wrapf(ErrInvalidFormat, "front buffer format %v", f)
	}

	p := &Pixmap{
		screen: s,
		width:  width,
		height: height,
		format: f,
		bpp:    f.BitsPerPixel(),
		score:  ScorePinned,
		front:  true,
	}
	s.setDeviceGeometry(p)
	if p.accelBlocked != 0 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "front buffer %dx%d exceeds device limits", width, height)
	}

	switch {
	case s.info.OffscreenBase >= p.fbSize:
		p.fbOffset = 0
	case s.arena != nil:
		h, err := s.arena.Allocate(p.fbSize, s.info.PixmapOffsetAlign, true, s.frontSave, p)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "offscreen: front buffer"), ErrNoDeviceMemory)
		}
		area, _ := s.arena.Lookup(h)
		p.area = h
		p.fbOffset = area.Offset
	default:
		return nil, errors.Wrapf(ErrNoDeviceMemory, "front buffer needs %d bytes", p.fbSize)
	}
	p.residency = DeviceOnly
	p.validFB = region.New(p.Bounds())
	p.damage = damage.New(p.Bounds())
	p.serial = s.nextSerial()

	s.front = p
	s.pixmaps[p] = struct{}{}
	s.log.Info("offscreen: front buffer created", "width", width, "height", height,
		"offset", p.fbOffset, "pitch", p.fbPitch)
	return p, nil
}

// DestroyPixmap releases the pixmap and its device memory. The device copy
// is discarded without being saved. Destroying a pixmap inside an access
// bracket is a programming error and panics.
func (s *Screen) DestroyPixmap(p *Pixmap) {
	s.mustOwn(p)
	if p.cpu != nil {
		panic(errors.AssertionFailedf("offscreen: destroying pixmap %p during CPU access", p))
	}
	s.releaseDevice(p)
	if !p.external && p.sys != nil {
		s.pool.Put(p.sys)
	}
	p.sys = nil
	p.destroyed = true
	if s.front == p {
		s.front = nil
	}
	delete(s.pixmaps, p)
}

// ResizePixmap changes the pixmap size. Contents become zero and valid in
// system memory, any device copy is dropped, and device limits are
// checked again. Pinned pixmaps cannot be resized.
func (s *Screen) ResizePixmap(p *Pixmap, width, height int) error {
	s.mustOwn(p)
	if p.Pinned() {
		return errors.Wrap(ErrUnsupported, "offscreen: resize of a pinned pixmap")
	}
	if p.cpu != nil {
		panic(errors.AssertionFailedf("offscreen: resizing pixmap %p during CPU access", p))
	}
	if err := checkDimensions(width, height); err != nil {
		return err
	}

	s.releaseDevice(p)
	s.pool.Put(p.sys)

	p.width, p.height = width, height
	p.sysPitch = alignUp(p.format.RowBytes(width), sysPitchAlign)
	p.sys = s.pool.Get(p.sysPitch * height)
	p.score = ScoreInit
	s.setDeviceGeometry(p)
	p.validSys = region.New(p.Bounds())
	p.validFB = region.Region{}
	p.damage.Reset(p.Bounds())
	p.serial = s.nextSerial()
	return nil
}

// releaseDevice frees the device copy without saving it.
func (s *Screen) releaseDevice(p *Pixmap) {
	if !p.area.IsZero() {
		s.arena.Free(p.area)
		p.area = arena.Handle{}
	}
	p.residency = SystemOnly
	p.fbOffset = 0
	p.validFB = region.Region{}
}

// setDeviceGeometry computes the device pitch, size and accel block flags.
func (s *Screen) setDeviceGeometry(p *Pixmap) {
	w := p.width
	if s.info.Flags.Has(driver.FlagAlignPOT) && w != 1 {
		w = nextPowerOfTwo(w)
	}
	p.fbPitch = alignUp((w*p.bpp+7)/8, s.info.PixmapPitchAlign)
	p.fbSize = p.fbPitch * p.height

	p.accelBlocked = 0
	if s.info.MaxPitchPixels > 0 && p.fbPitch > s.info.MaxPitchPixels*((p.bpp+7)/8) {
		p.accelBlocked |= BlockedPitch
	}
	if s.info.MaxPitchBytes > 0 && p.fbPitch > s.info.MaxPitchBytes {
		p.accelBlocked |= BlockedPitch
	}
	if p.width > s.info.MaxX {
		p.accelBlocked |= BlockedWidth
	}
	if p.height > s.info.MaxY {
		p.accelBlocked |= BlockedHeight
	}
}

func (s *Screen) mustOwn(p *Pixmap) {
	if p == nil || p.screen != s || p.destroyed {
		panic(errors.AssertionFailedf("offscreen: pixmap %p does not belong to this screen or was destroyed", p))
	}
}

// surface returns the hook view of the device copy.
func (p *Pixmap) surface() *driver.Surface {
	return &driver.Surface{
		Offset:       p.fbOffset,
		Pitch:        p.fbPitch,
		Width:        p.width,
		Height:       p.height,
		BitsPerPixel: p.bpp,
		Format:       p.format,
		Priv:         p.priv,
	}
}

// Width returns the width of the pixmap.
func (p *Pixmap) Width() int { return p.width }

// Height returns the height of the pixmap.
func (p *Pixmap) Height() int { return p.height }

// Bounds returns the pixmap rectangle, anchored at the origin.
func (p *Pixmap) Bounds() image.Rectangle { return image.Rect(0, 0, p.width, p.height) }

// Format returns the pixel format.
func (p *Pixmap) Format() format.Format { return p.format }

// Score returns the migration score.
func (p *Pixmap) Score() int { return p.score }

// Pinned reports whether the pixmap may not migrate.
func (p *Pixmap) Pinned() bool { return p.score == ScorePinned }

// AccelBlocked returns the device limits the pixmap exceeds.
func (p *Pixmap) AccelBlocked() AccelBlock { return p.accelBlocked }

// HasGPUCopy reports whether the device copy is bound and authoritative,
// so that acceleration can target it.
func (p *Pixmap) HasGPUCopy() bool { return p.residency.deviceAuthoritative() }

// Residency reports where the pixels live.
func (p *Pixmap) Residency() Residency { return p.residency }

// onDevice reports whether a device copy is bound.
func (p *Pixmap) onDevice() bool { return p.residency != SystemOnly }

// ValidSys returns the pixels known current in the system copy.
func (p *Pixmap) ValidSys() region.Region { return p.validSys }

// ValidFB returns the pixels known current in the device copy.
func (p *Pixmap) ValidFB() region.Region { return p.validFB }

// Damage returns the accumulated, not yet synchronized damage.
func (p *Pixmap) Damage() region.Region { return p.damage.Region() }

// DeviceOffset returns the offset of the device copy and false if there is
// none.
func (p *Pixmap) DeviceOffset() (int, bool) { return p.fbOffset, p.onDevice() }

// DevicePitch returns the row pitch the device copy uses or would use.
func (p *Pixmap) DevicePitch() int { return p.fbPitch }

// DeviceSize returns the number of bytes the device copy needs.
func (p *Pixmap) DeviceSize() int { return p.fbSize }

// SysPitch returns the row pitch of the system copy.
func (p *Pixmap) SysPitch() int { return p.sysPitch }

// Serial changes every time the authoritative copy moves.
func (p *Pixmap) Serial() uint64 { return p.serial }

// DriverPrivate returns the driver payload.
func (p *Pixmap) DriverPrivate() any { return p.priv }

// SetDriverPrivate sets the driver payload.
func (p *Pixmap) SetDriverPrivate(v any) { p.priv = v }

// Pixels returns the CPU view and its row pitch. The view is nil outside a
// PrepareAccess/FinishAccess bracket.
func (p *Pixmap) Pixels() ([]byte, int) { return p.cpu, p.cpuPitch }

// String returns a short description of the pixmap.
func (p *Pixmap) String() string {
	return fmt.Sprintf("pixmap(%dx%d %v %v score=%d)", p.width, p.height, p.format, p.Residency(), p.score)
}

func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return errors.Wrapf(ErrInvalidDimensions, "%dx%d", width, height)
	}
	return nil
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

func nextPowerOfTwo(v int) int {
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}
