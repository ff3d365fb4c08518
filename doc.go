// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package offscreen manages pixmaps that live in system memory, in device
// memory, or in both.
//
// # Overview
//
// A 2D acceleration driver can only draw into memory the device can
// address, and that memory is small. offscreen decides, operation by
// operation, which pixmaps deserve a device copy, allocates device memory
// for them from a linear arena with cost based eviction, and keeps the two
// copies of every pixmap consistent through per-copy valid regions.
//
// # Quick Start
//
//	dev, _ := memdev.New(memdev.DefaultConfig())
//	scr, _ := offscreen.NewScreen(dev, offscreen.DefaultOptions())
//	defer scr.Close()
//
//	p, _ := scr.CreatePixmap(256, 256, format.A8R8G8B8)
//	scr.Fill(p, image.Rect(0, 0, 128, 128), color.RGBA{R: 0xff, A: 0xff})
//	img, _ := scr.ToImage(p)
//
// # Architecture
//
// The package is organized into:
//   - Screen: the per-device context owning the arena, the access slots
//     and the pixmaps
//   - Pixmap: the dual-copy record with its valid regions and damage
//   - migration: MoveIn, MoveOut and the Always, Greedy and Smart policies
//   - access: reference counted PrepareAccess/FinishAccess brackets
//   - operations: FillRect, CopyArea, PutImage, GetImage and Composite,
//     which accelerate through the driver and fall back to software
//
// Related packages: arena (device memory allocator), region (pixel sets),
// damage (change tracking), driver (hook interfaces and registry) and
// driver/memdev (in-memory reference device).
//
// # Idle Work
//
// Servers call BlockHandler before waiting for input and WakeupHandler
// after. Once the screen has been idle long enough, device memory is swept:
// stale areas are evicted and the rest is defragmented.
//
// # Thread Safety
//
// A Screen and its pixmaps must be used from one goroutine at a time.
// SetLogger and Logger are safe for concurrent use.
package offscreen
