// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package offscreen

import "github.com/cockroachdb/errors"

// Common errors for screen and pixmap operations.
var (
	// ErrNilDriver is returned by NewScreen when no driver is given.
	ErrNilDriver = errors.New("offscreen: nil driver")

	// ErrInvalidDimensions is returned when width or height is not
	// positive or exceeds the supported range.
	ErrInvalidDimensions = errors.New("offscreen: invalid dimensions")

	// ErrInvalidFormat is returned when the pixel format is not known.
	ErrInvalidFormat = errors.New("offscreen: invalid format")

	// ErrBufferTooSmall is returned when caller supplied pixel memory
	// cannot hold the requested rectangle.
	ErrBufferTooSmall = errors.New("offscreen: buffer too small")

	// ErrUnsupported is returned for operations the pixmap formats
	// involved do not allow.
	ErrUnsupported = errors.New("offscreen: unsupported operation")

	// ErrFrontBufferExists is returned when a screen already has a front
	// buffer.
	ErrFrontBufferExists = errors.New("offscreen: front buffer already created")

	// ErrNoDeviceMemory is returned when device memory cannot hold a
	// pixmap that must live there.
	ErrNoDeviceMemory = errors.New("offscreen: insufficient device memory")

	// ErrClosed is returned when using a closed screen.
	ErrClosed = errors.New("offscreen: screen closed")
)
