// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package damage accumulates the pixels of a drawable that changed since
// they were last observed.
//
// A Tracker holds two regions. The accumulated region collects reported
// changes until the owner takes them with Take. The pending region is the
// bound of an operation that is about to run: it is set before rendering
// starts, so that migration can skip pixels the operation will overwrite,
// and folded into the accumulated region by Commit once rendering is done.
package damage

import (
	"image"

	"github.com/gogpu/offscreen/region"
)

// Tracker records damage for one drawable. The zero value tracks nothing
// until bounds are set with Reset.
type Tracker struct {
	bounds  image.Rectangle
	acc     region.Region
	pending region.Region
}

// New returns a tracker clipping all damage to bounds.
func New(bounds image.Rectangle) *Tracker {
	return &Tracker{bounds: bounds}
}

// Bounds returns the clip rectangle.
func (t *Tracker) Bounds() image.Rectangle {
	return t.bounds
}

// Reset drops all damage and sets new bounds.
func (t *Tracker) Reset(bounds image.Rectangle) {
	t.bounds = bounds
	t.acc = region.Region{}
	t.pending = region.Region{}
}

// Add reports changed pixels.
func (t *Tracker) Add(r region.Region) {
	t.acc = t.acc.Union(r.Clip(t.bounds))
}

// AddRect reports a changed rectangle.
func (t *Tracker) AddRect(r image.Rectangle) {
	t.Add(region.New(r))
}

// Region returns the accumulated damage.
func (t *Tracker) Region() region.Region {
	return t.acc
}

// Empty reports whether no damage has accumulated.
func (t *Tracker) Empty() bool {
	return t.acc.Empty()
}

// Take returns the accumulated damage and clears it.
func (t *Tracker) Take() region.Region {
	r := t.acc
	t.acc = region.Region{}
	return r
}

// SetPending records the bound of the operation about to run. It replaces
// any previous pending region.
func (t *Tracker) SetPending(r region.Region) {
	t.pending = r.Clip(t.bounds)
}

// Pending returns the pending bound.
func (t *Tracker) Pending() region.Region {
	return t.pending
}

// ClearPending drops the pending bound without reporting it.
func (t *Tracker) ClearPending() {
	t.pending = region.Region{}
}

// Commit reports the pending bound as damage and clears it.
func (t *Tracker) Commit() {
	if t.pending.Empty() {
		return
	}
	t.acc = t.acc.Union(t.pending)
	t.pending = region.Region{}
}
