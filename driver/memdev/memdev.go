// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package memdev implements an in-memory device backend.
//
// Device memory is a plain byte slice and every hook is executed with the
// software rasterizer, so results are exact and deterministic. Hooks can be
// told to decline or fail in order to exercise fallback paths. The backend
// registers itself as "memory" with the driver registry.
package memdev

import (
	"image"
	"log/slog"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/offscreen/driver"
	"github.com/gogpu/offscreen/format"
	"github.com/gogpu/offscreen/internal/soft"
)

// Name is the registry name of the backend.
const Name = "memory"

// DefaultMemorySize is used when no size is configured.
const DefaultMemorySize = 16 << 20

// ErrInvalidConfig is returned by New for an unusable configuration.
var ErrInvalidConfig = errors.New("memdev: invalid configuration")

// Config describes the simulated device.
type Config struct {
	// MemorySize is the total device memory in bytes.
	MemorySize int

	// OffscreenBase reserves [0, OffscreenBase) for the front buffer.
	OffscreenBase int

	OffsetAlign int
	PitchAlign  int

	MaxX           int
	MaxY           int
	MaxPitchPixels int
	MaxPitchBytes  int

	AlignPOT bool

	// Overlaps advertises support for overlapping device copies.
	Overlaps bool

	// NoAux withholds support for the Aux access roles.
	NoAux bool

	// FrontFormat is the format of the front buffer.
	FrontFormat format.Format
}

// DefaultConfig returns a 16 MiB device with 64 byte alignment.
func DefaultConfig() Config {
	return Config{
		MemorySize:  DefaultMemorySize,
		OffsetAlign: 64,
		PitchAlign:  64,
		MaxX:        8192,
		MaxY:        8192,
		FrontFormat: format.X8R8G8B8,
	}
}

// Counters records how often each hook ran successfully.
type Counters struct {
	Solids          int
	Copies          int
	Composites      int
	Uploads         int
	Downloads       int
	PrepareAccesses int
	FinishAccesses  int
	Marks           int
	Waits           int
}

// Device is an in-memory driver.Driver. It implements every optional
// capability interface.
//
// The exported knobs make hooks decline; they may be changed between
// operations.
type Device struct {
	// FailUpload and FailDownload make the transfer hooks decline.
	FailUpload   bool
	FailDownload bool

	// FailPrepareAccess makes PrepareAccess decline.
	FailPrepareAccess bool

	DeclineSolid     bool
	DeclineCopy      bool
	DeclineComposite bool

	// Counters is updated by every hook.
	Counters Counters

	cfg  Config
	mem  []byte
	log  *slog.Logger
	name string

	marker    int
	completed int

	solid struct {
		alu       driver.Alu
		planeMask uint32
		fg        uint32
	}
	cp struct {
		src       *driver.Surface
		dx, dy    int
		alu       driver.Alu
		planeMask uint32
	}
	comp struct {
		op        driver.CompositeOp
		src, mask *driver.Surface
	}
}

var (
	_ driver.Driver     = (*Device)(nil)
	_ driver.Compositor = (*Device)(nil)
	_ driver.Uploader   = (*Device)(nil)
	_ driver.Downloader = (*Device)(nil)
	_ driver.Syncer     = (*Device)(nil)
)

// New creates a device with zeroed memory.
func New(cfg Config) (*Device, error) {
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = DefaultMemorySize
	}
	if cfg.OffsetAlign <= 0 {
		cfg.OffsetAlign = 1
	}
	if cfg.PitchAlign <= 0 {
		cfg.PitchAlign = 1
	}
	if cfg.OffscreenBase < 0 || cfg.OffscreenBase >= cfg.MemorySize {
		return nil, errors.Wrapf(ErrInvalidConfig, "offscreen base %d outside memory of %d bytes",
			cfg.OffscreenBase, cfg.MemorySize)
	}
	if cfg.MaxX <= 0 || cfg.MaxY <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "limits %dx%d", cfg.MaxX, cfg.MaxY)
	}
	if !cfg.FrontFormat.IsValid() {
		cfg.FrontFormat = format.X8R8G8B8
	}
	return &Device{
		cfg:  cfg,
		mem:  make([]byte, cfg.MemorySize),
		log:  slog.New(slog.DiscardHandler),
		name: Name,
	}, nil
}

// SetLogger sets the logger for hook diagnostics.
func (d *Device) SetLogger(l *slog.Logger) {
	if l != nil {
		d.log = l
	}
}

// Config returns the configuration the device was created with.
func (d *Device) Config() Config {
	return d.cfg
}

// Memory returns device memory.
func (d *Device) Memory() []byte {
	return d.mem
}

// Name returns the driver name.
func (d *Device) Name() string {
	return d.name
}

// Info returns the device description.
func (d *Device) Info() driver.Info {
	flags := driver.FlagOffscreenPixmaps
	if d.cfg.AlignPOT {
		flags |= driver.FlagAlignPOT
	}
	if !d.cfg.NoAux {
		flags |= driver.FlagSupportsPrepareAux
	}
	if d.cfg.Overlaps {
		flags |= driver.FlagSupportsOffscreenOverlaps
	}
	return driver.Info{
		Memory:            d.mem,
		OffscreenBase:     d.cfg.OffscreenBase,
		PixmapOffsetAlign: d.cfg.OffsetAlign,
		PixmapPitchAlign:  d.cfg.PitchAlign,
		MaxX:              d.cfg.MaxX,
		MaxY:              d.cfg.MaxY,
		MaxPitchPixels:    d.cfg.MaxPitchPixels,
		MaxPitchBytes:     d.cfg.MaxPitchBytes,
		Flags:             flags,
	}
}

// image returns a view of the device copy described by s.
func (d *Device) image(s *driver.Surface) soft.Image {
	return soft.Image{
		Pix:          d.mem[s.Offset:],
		Pitch:        s.Pitch,
		Width:        s.Width,
		Height:       s.Height,
		BitsPerPixel: s.BitsPerPixel,
		Opaque:       s.Format == format.X8R8G8B8,
	}
}

func (d *Device) inBounds(s *driver.Surface) bool {
	if s == nil || s.Offset < 0 || s.Pitch <= 0 {
		return false
	}
	end := s.Offset + s.Pitch*(s.Height-1) + (s.Width*s.BitsPerPixel+7)/8
	return end <= len(d.mem)
}

// PrepareSolid starts solid fills.
func (d *Device) PrepareSolid(dst *driver.Surface, alu driver.Alu, planeMask, fg uint32) bool {
	if d.DeclineSolid || !d.inBounds(dst) || dst.BitsPerPixel < 8 {
		return false
	}
	d.solid.alu, d.solid.planeMask, d.solid.fg = alu, planeMask, fg
	return true
}

// Solid fills [x1, x2) x [y1, y2).
func (d *Device) Solid(dst *driver.Surface, x1, y1, x2, y2 int) {
	soft.Fill(d.image(dst), image.Rect(x1, y1, x2, y2), d.solid.alu, d.solid.planeMask, d.solid.fg)
	d.Counters.Solids++
}

// DoneSolid ends solid fills.
func (d *Device) DoneSolid(*driver.Surface) {}

// PrepareCopy starts copies from src to dst.
func (d *Device) PrepareCopy(src, dst *driver.Surface, dx, dy int, alu driver.Alu, planeMask uint32) bool {
	if d.DeclineCopy || !d.inBounds(src) || !d.inBounds(dst) ||
		src.BitsPerPixel != dst.BitsPerPixel || dst.BitsPerPixel < 8 {
		return false
	}
	d.cp.src, d.cp.dx, d.cp.dy = src, dx, dy
	d.cp.alu, d.cp.planeMask = alu, planeMask
	return true
}

// Copy copies a rectangle.
func (d *Device) Copy(dst *driver.Surface, srcX, srcY, dstX, dstY, width, height int) {
	r := image.Rect(dstX, dstY, dstX+width, dstY+height)
	soft.CopyDir(d.image(dst), r, d.image(d.cp.src), image.Pt(srcX, srcY),
		d.cp.dx, d.cp.dy, d.cp.alu, d.cp.planeMask)
	d.Counters.Copies++
}

// DoneCopy ends copies.
func (d *Device) DoneCopy(*driver.Surface) {
	d.cp.src = nil
}

// PrepareComposite starts compositing. Only Src and Over on 8 and 32 bit
// surfaces are supported.
func (d *Device) PrepareComposite(op driver.CompositeOp, src, mask, dst *driver.Surface) bool {
	if d.DeclineComposite || !d.inBounds(src) || !d.inBounds(dst) {
		return false
	}
	maskBpp := 0
	if mask != nil {
		if !d.inBounds(mask) {
			return false
		}
		maskBpp = mask.BitsPerPixel
	}
	if op != driver.OpSrc && op != driver.OpOver {
		return false
	}
	if !soft.CanComposite(src.BitsPerPixel, dst.BitsPerPixel, maskBpp) {
		return false
	}
	d.comp.op, d.comp.src, d.comp.mask = op, src, mask
	return true
}

// Composite blends one rectangle.
func (d *Device) Composite(dst *driver.Surface, srcX, srcY, maskX, maskY, dstX, dstY, width, height int) {
	var mask *soft.Image
	if d.comp.mask != nil {
		m := d.image(d.comp.mask)
		mask = &m
	}
	soft.Composite(d.comp.op, d.image(dst), image.Rect(dstX, dstY, dstX+width, dstY+height),
		d.image(d.comp.src), image.Pt(srcX, srcY), mask, image.Pt(maskX, maskY))
	d.Counters.Composites++
}

// DoneComposite ends compositing.
func (d *Device) DoneComposite(*driver.Surface) {
	d.comp.src, d.comp.mask = nil, nil
}

// UploadToScreen copies from system memory into the device copy.
func (d *Device) UploadToScreen(dst *driver.Surface, x, y, width, height int, src []byte, srcPitch int) bool {
	if d.FailUpload || !d.inBounds(dst) || dst.BitsPerPixel < 8 {
		return false
	}
	bpp := dst.BitsPerPixel / 8
	off := dst.Offset + y*dst.Pitch + x*bpp
	soft.CopyBytes(d.mem[off:], dst.Pitch, src, srcPitch, width*bpp, height)
	d.Counters.Uploads++
	return true
}

// DownloadFromScreen copies from the device copy into system memory.
func (d *Device) DownloadFromScreen(src *driver.Surface, x, y, width, height int, dst []byte, dstPitch int) bool {
	if d.FailDownload || !d.inBounds(src) || src.BitsPerPixel < 8 {
		return false
	}
	bpp := src.BitsPerPixel / 8
	off := src.Offset + y*src.Pitch + x*bpp
	soft.CopyBytes(dst, dstPitch, d.mem[off:], src.Pitch, width*bpp, height)
	d.Counters.Downloads++
	return true
}

// MarkSync returns a marker for the work submitted so far. Work completes
// when it is waited for.
func (d *Device) MarkSync() int {
	d.marker++
	d.Counters.Marks++
	return d.marker
}

// WaitMarker waits for the work identified by marker.
func (d *Device) WaitMarker(marker int) {
	if marker > d.completed {
		d.completed = marker
	}
	d.Counters.Waits++
}

// Pending reports whether marked work has not been waited for.
func (d *Device) Pending() bool {
	return d.completed < d.marker
}

// PrepareAccess allows CPU access to a device copy.
func (d *Device) PrepareAccess(s *driver.Surface, role driver.Role) bool {
	if d.FailPrepareAccess || (role.IsAux() && d.cfg.NoAux) {
		d.log.Debug("memdev: declined access", "offset", s.Offset, "role", role)
		return false
	}
	d.Counters.PrepareAccesses++
	return true
}

// FinishAccess ends CPU access.
func (d *Device) FinishAccess(_ *driver.Surface, _ driver.Role) {
	d.Counters.FinishAccesses++
}

// formatFromTexture maps a host surface format to a front buffer format.
func formatFromTexture(tf gputypes.TextureFormat) (format.Format, bool) {
	for _, f := range []format.Format{format.X8R8G8B8, format.A8} {
		if f.TextureFormat() == tf {
			return f, true
		}
	}
	return 0, false
}

// ConfigFromOptions builds a Config from registry options. The front buffer
// occupies the low end of memory, unless the offscreen_base param places
// the offscreen range itself; its format follows the host surface format
// when a device provider is given and no front_format param overrides it.
func ConfigFromOptions(opts driver.Options) (Config, error) {
	cfg := DefaultConfig()
	if opts.MemorySize > 0 {
		cfg.MemorySize = opts.MemorySize
	}
	if opts.Device != nil {
		if f, ok := formatFromTexture(opts.Device.SurfaceFormat()); ok {
			cfg.FrontFormat = f
		}
	}

	ints := map[string]*int{
		"offscreen_base":   &cfg.OffscreenBase,
		"offset_align":     &cfg.OffsetAlign,
		"pitch_align":      &cfg.PitchAlign,
		"max_x":            &cfg.MaxX,
		"max_y":            &cfg.MaxY,
		"max_pitch_pixels": &cfg.MaxPitchPixels,
		"max_pitch_bytes":  &cfg.MaxPitchBytes,
	}
	bools := map[string]*bool{
		"align_pot": &cfg.AlignPOT,
		"overlaps":  &cfg.Overlaps,
		"no_aux":    &cfg.NoAux,
	}
	for k, v := range opts.Params {
		switch {
		case k == "front_format":
			f, ok := format.Parse(v)
			if !ok || f.BitsPerPixel() < 8 {
				return Config{}, errors.Wrapf(ErrInvalidConfig, "param %s=%q", k, v)
			}
			cfg.FrontFormat = f
		case ints[k] != nil:
			n, err := strconv.Atoi(v)
			if err != nil {
				return Config{}, errors.Wrapf(ErrInvalidConfig, "param %s=%q", k, v)
			}
			*ints[k] = n
		case bools[k] != nil:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return Config{}, errors.Wrapf(ErrInvalidConfig, "param %s=%q", k, v)
			}
			*bools[k] = b
		default:
			return Config{}, errors.Wrapf(ErrInvalidConfig, "unknown param %q", k)
		}
	}

	if opts.FrontWidth > 0 && opts.FrontHeight > 0 && cfg.OffscreenBase == 0 {
		pitch := alignUp(cfg.FrontFormat.RowBytes(opts.FrontWidth), cfg.PitchAlign)
		cfg.OffscreenBase = alignUp(pitch*opts.FrontHeight, max(cfg.OffsetAlign, 1))
	}
	return cfg, nil
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

func init() {
	driver.Register(Name, 10, func(opts driver.Options) (driver.Driver, error) {
		cfg, err := ConfigFromOptions(opts)
		if err != nil {
			return nil, err
		}
		d, err := New(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	}, nil)
}
