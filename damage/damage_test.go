// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package damage

import (
	"image"
	"testing"

	"github.com/gogpu/offscreen/region"
)

func TestTrackerClipsToBounds(t *testing.T) {
	tr := New(image.Rect(0, 0, 16, 16))
	tr.AddRect(image.Rect(-4, -4, 8, 8))

	want := region.New(image.Rect(0, 0, 8, 8))
	if !tr.Region().Equal(want) {
		t.Errorf("Region = %v, want %v", tr.Region(), want)
	}
}

func TestTrackerTake(t *testing.T) {
	tr := New(image.Rect(0, 0, 16, 16))
	if !tr.Empty() {
		t.Fatal("new tracker should be empty")
	}
	tr.AddRect(image.Rect(0, 0, 4, 4))
	tr.AddRect(image.Rect(4, 0, 8, 4))

	got := tr.Take()
	if got.NumRects() != 1 || got.Area() != 32 {
		t.Errorf("Take = %v, want one 8x4 rect", got)
	}
	if !tr.Empty() {
		t.Error("tracker should be empty after Take")
	}
}

func TestTrackerPendingCommit(t *testing.T) {
	tr := New(image.Rect(0, 0, 10, 10))
	tr.SetPending(region.New(image.Rect(2, 2, 20, 20)))

	if got, want := tr.Pending().Extents(), image.Rect(2, 2, 10, 10); got != want {
		t.Errorf("Pending extents = %v, want %v", got, want)
	}
	if !tr.Empty() {
		t.Error("pending damage must not be reported before Commit")
	}

	tr.Commit()
	if !tr.Pending().Empty() {
		t.Error("Commit should clear pending")
	}
	if got := tr.Region().Area(); got != 64 {
		t.Errorf("committed area = %d, want 64", got)
	}

	tr.SetPending(region.New(image.Rect(0, 0, 1, 1)))
	tr.ClearPending()
	tr.Commit()
	if got := tr.Region().Area(); got != 64 {
		t.Errorf("cleared pending leaked into damage: area %d", got)
	}
}

func TestTrackerReset(t *testing.T) {
	tr := New(image.Rect(0, 0, 4, 4))
	tr.AddRect(image.Rect(0, 0, 4, 4))
	tr.Reset(image.Rect(0, 0, 8, 8))
	if !tr.Empty() || tr.Bounds() != image.Rect(0, 0, 8, 8) {
		t.Errorf("Reset left %v with bounds %v", tr.Region(), tr.Bounds())
	}
}
