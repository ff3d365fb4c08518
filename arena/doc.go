// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package arena manages a linear range of device memory for offscreen
// pixmaps.
//
// The range is kept as an address-ordered list of areas that tile it
// exactly. Each area is Available, Removable or Locked. Allocation is first
// fit; when no free area is large enough, the arena evicts the cheapest run
// of Removable areas, where the cost of an area is its size divided by the
// time since it was last used. Neighbouring free areas are always merged.
//
// # Usage
//
//	a, err := arena.New(0, 1<<20)
//	if err != nil {
//	    return err
//	}
//	h, err := a.Allocate(4096, 64, false, saveFn, owner)
//	if errors.Is(err, arena.ErrNoSpace) {
//	    // stay in system memory
//	}
//	area, _ := a.Lookup(h)
//	_ = area.Offset
//
// Areas are referred to by Handle values. Handles are generation checked so
// that a handle held across a merge or eviction is detected as stale rather
// than aliasing an unrelated area.
//
// Defragment moves Removable areas toward the high end of the range to
// coalesce free space. The caller supplies a Relocator that performs the
// device copy and updates the owner.
//
// An Arena is not safe for concurrent use.
package arena
