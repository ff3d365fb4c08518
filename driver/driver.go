// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package driver

import (
	"fmt"

	"github.com/gogpu/offscreen/format"
)

// Role identifies why a pixmap is being accessed by the CPU. Each role
// has its own access slot; the Aux roles cover the second operand set of
// nested operations.
type Role int

const (
	RoleDest Role = iota
	RoleSrc
	RoleMask
	RoleAuxDest
	RoleAuxSrc
	RoleAuxMask

	// NumRoles is the number of access slots.
	NumRoles
)

// IsAux reports whether r is one of the auxiliary roles.
func (r Role) IsAux() bool {
	return r >= RoleAuxDest && r < NumRoles
}

// String returns a string representation of the role.
func (r Role) String() string {
	switch r {
	case RoleDest:
		return "dest"
	case RoleSrc:
		return "src"
	case RoleMask:
		return "mask"
	case RoleAuxDest:
		return "aux-dest"
	case RoleAuxSrc:
		return "aux-src"
	case RoleAuxMask:
		return "aux-mask"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Alu is the raster operation applied by solid fills and copies.
type Alu uint8

const (
	AluClear Alu = iota
	AluCopy
	AluXor
	AluSet
)

// CompositeOp is a Porter-Duff compositing operator.
type CompositeOp uint8

const (
	OpSrc CompositeOp = iota
	OpOver
)

// String returns a string representation of the operator.
func (op CompositeOp) String() string {
	switch op {
	case OpSrc:
		return "src"
	case OpOver:
		return "over"
	default:
		return fmt.Sprintf("CompositeOp(%d)", uint8(op))
	}
}

// Surface describes a pixmap's device copy as seen by driver hooks.
type Surface struct {
	// Offset is the byte offset of the first pixel in device memory.
	Offset int

	// Pitch is the byte distance between rows.
	Pitch int

	Width  int
	Height int

	BitsPerPixel int
	Format       format.Format

	// Priv is the driver-private payload attached to the pixmap.
	Priv any
}

// Flags describes device capabilities.
type Flags uint32

const (
	// FlagOffscreenPixmaps enables device residency for pixmaps.
	FlagOffscreenPixmaps Flags = 1 << iota

	// FlagAlignPOT requires power-of-two pixmap pitches.
	FlagAlignPOT

	// FlagSupportsPrepareAux means PrepareAccess accepts the Aux roles.
	FlagSupportsPrepareAux

	// FlagSupportsOffscreenOverlaps means Copy handles overlapping
	// source and destination ranges within device memory.
	FlagSupportsOffscreenOverlaps
)

// Has reports whether all flags in f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Info describes device memory and limits. It is read once when a screen
// is created.
type Info struct {
	// Memory is the CPU mapping of device memory. Its length is the total
	// device memory size.
	Memory []byte

	// OffscreenBase is the offset at which memory managed for offscreen
	// pixmaps begins. Memory below it belongs to the front buffer.
	OffscreenBase int

	// PixmapOffsetAlign is the required alignment of pixmap offsets.
	PixmapOffsetAlign int

	// PixmapPitchAlign is the required alignment of pixmap pitches.
	PixmapPitchAlign int

	// MaxX and MaxY bound the coordinates the device can address.
	MaxX int
	MaxY int

	// MaxPitchPixels and MaxPitchBytes bound pixmap pitches. Zero means
	// the limit is MaxX.
	MaxPitchPixels int
	MaxPitchBytes  int

	Flags Flags
}

// Driver is the set of hooks a device must implement.
//
// Hooks return false to decline an operation; the caller then falls back
// to software. Prepare and Done calls bracket one or more operations on
// the same destination.
type Driver interface {
	// Name returns the driver name.
	Name() string

	// Info returns the device description.
	Info() Info

	PrepareSolid(dst *Surface, alu Alu, planeMask, fg uint32) bool
	Solid(dst *Surface, x1, y1, x2, y2 int)
	DoneSolid(dst *Surface)

	// PrepareCopy starts copies from src to dst. dx and dy give the
	// direction of travel, negative when copying from high to low
	// addresses is required for overlapping rectangles.
	PrepareCopy(src, dst *Surface, dx, dy int, alu Alu, planeMask uint32) bool
	Copy(dst *Surface, srcX, srcY, dstX, dstY, width, height int)
	DoneCopy(dst *Surface)

	// PrepareAccess is called before the CPU reads or writes the device
	// copy of s. Returning false makes the caller migrate the pixmap to
	// system memory instead.
	PrepareAccess(s *Surface, role Role) bool
	FinishAccess(s *Surface, role Role)
}

// Compositor is implemented by drivers that accelerate compositing.
type Compositor interface {
	PrepareComposite(op CompositeOp, src, mask, dst *Surface) bool
	Composite(dst *Surface, srcX, srcY, maskX, maskY, dstX, dstY, width, height int)
	DoneComposite(dst *Surface)
}

// Uploader is implemented by drivers with a fast path for system to device
// transfers.
type Uploader interface {
	UploadToScreen(dst *Surface, x, y, width, height int, src []byte, srcPitch int) bool
}

// Downloader is implemented by drivers with a fast path for device to
// system transfers.
type Downloader interface {
	DownloadFromScreen(src *Surface, x, y, width, height int, dst []byte, dstPitch int) bool
}

// Syncer is implemented by drivers that execute asynchronously.
type Syncer interface {
	// MarkSync returns a marker for all work submitted so far.
	MarkSync() int

	// WaitMarker blocks until the work identified by marker is complete.
	WaitMarker(marker int)
}
