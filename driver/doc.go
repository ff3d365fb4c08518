// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package driver defines the contract between the offscreen engine and a
// device backend.
//
// A backend implements Driver and may implement any of the optional
// capability interfaces (Compositor, Uploader, Downloader, Syncer). The
// engine checks for them with type assertions and falls back to software
// paths when they are absent or when a hook declines.
//
// Backends register a Factory with Register, usually from an init
// function, and are opened by name or by priority with Open:
//
//	import _ "github.com/gogpu/offscreen/driver/memdev"
//
//	drv, err := driver.Open("", driver.Options{MemorySize: 8 << 20})
package driver
