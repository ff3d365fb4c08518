// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package region implements pixel regions: sets of pixels represented as
// lists of non-overlapping rectangles in canonical y-x banded form.
//
// Regions track which parts of a pixmap are valid in each of its copies and
// which parts were damaged since the last synchronization. Union, Intersect
// and Subtract are the only set operations the migration engine needs.
//
//	valid := region.New(image.Rect(0, 0, 64, 64))
//	dirty := region.New(image.Rect(16, 16, 32, 32))
//	stale := valid.Subtract(dirty) // 64x64 with a hole
package region
