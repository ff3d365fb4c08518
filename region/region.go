// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package region

import (
	"fmt"
	"image"
	"slices"
	"strings"
)

// Region is a set of pixels described by non-overlapping rectangles.
//
// Rectangles are kept in y-x banded form: sorted by top edge and then by left
// edge, every rectangle of a band shares the same vertical extent, spans in a
// band neither overlap nor touch, and vertically adjacent bands with equal
// spans are merged. Two regions covering the same pixels therefore have
// identical rectangle lists.
//
// Region is a value type. Operations return new regions and never modify
// their operands. The zero value is the empty region.
type Region struct {
	rects []image.Rectangle
}

// New returns the region covering r.
func New(r image.Rectangle) Region {
	r = r.Canon()
	if r.Empty() {
		return Region{}
	}
	return Region{rects: []image.Rectangle{r}}
}

// FromRects returns the union of the given rectangles.
// The rectangles may overlap and may be in any order.
func FromRects(rs ...image.Rectangle) Region {
	canon := make([]image.Rectangle, 0, len(rs))
	for _, r := range rs {
		r = r.Canon()
		if !r.Empty() {
			canon = append(canon, r)
		}
	}
	return combine(canon, nil, opUnion)
}

// Empty reports whether the region contains no pixels.
func (r Region) Empty() bool {
	return len(r.rects) == 0
}

// NumRects returns the number of rectangles in the banded representation.
func (r Region) NumRects() int {
	return len(r.rects)
}

// Rects returns a copy of the banded rectangle list.
func (r Region) Rects() []image.Rectangle {
	return slices.Clone(r.rects)
}

// Extents returns the bounding box of the region, or the zero rectangle when
// the region is empty.
func (r Region) Extents() image.Rectangle {
	if len(r.rects) == 0 {
		return image.Rectangle{}
	}
	ext := r.rects[0]
	for _, rect := range r.rects[1:] {
		ext = ext.Union(rect)
	}
	return ext
}

// Area returns the number of pixels in the region.
func (r Region) Area() int {
	n := 0
	for _, rect := range r.rects {
		n += rect.Dx() * rect.Dy()
	}
	return n
}

// Contains reports whether the pixel at p is in the region.
func (r Region) Contains(p image.Point) bool {
	for _, rect := range r.rects {
		if p.In(rect) {
			return true
		}
	}
	return false
}

// Equal reports whether both regions cover the same pixels.
func (r Region) Equal(o Region) bool {
	return slices.Equal(r.rects, o.rects)
}

// Union returns r ∪ o.
func (r Region) Union(o Region) Region {
	switch {
	case o.Empty():
		return r
	case r.Empty():
		return o
	}
	return combine(r.rects, o.rects, opUnion)
}

// Intersect returns r ∩ o.
func (r Region) Intersect(o Region) Region {
	if r.Empty() || o.Empty() {
		return Region{}
	}
	return combine(r.rects, o.rects, opIntersect)
}

// Subtract returns r − o.
func (r Region) Subtract(o Region) Region {
	if r.Empty() || o.Empty() {
		return r
	}
	return combine(r.rects, o.rects, opSubtract)
}

// Clip returns the part of the region inside rect.
func (r Region) Clip(rect image.Rectangle) Region {
	return r.Intersect(New(rect))
}

// Translate returns the region moved by d.
func (r Region) Translate(d image.Point) Region {
	if r.Empty() {
		return r
	}
	out := make([]image.Rectangle, len(r.rects))
	for i, rect := range r.rects {
		out[i] = rect.Add(d)
	}
	return Region{rects: out}
}

// String returns a compact description such as "{[0,0 10x10] [10,0 5x5]}".
func (r Region) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, rect := range r.rects {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "[%d,%d %dx%d]", rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy())
	}
	b.WriteByte('}')
	return b.String()
}

type setOp uint8

const (
	opUnion setOp = iota
	opIntersect
	opSubtract
)

func (op setOp) keep(inA, inB bool) bool {
	switch op {
	case opUnion:
		return inA || inB
	case opIntersect:
		return inA && inB
	default:
		return inA && !inB
	}
}

// span is a half-open horizontal interval [x0, x1).
type span struct {
	x0, x1 int
}

// combine sweeps the horizontal slabs delimited by every rectangle edge of
// both operands and applies op to the spans covering each slab. Inputs need
// not be banded; the output always is. Each slab only looks at the
// rectangles active in it, so banded inputs cost about one pass over their
// rectangles per slab they span.
func combine(a, b []image.Rectangle, op setOp) Region {
	ys := make([]int, 0, 2*(len(a)+len(b)))
	for _, r := range a {
		ys = append(ys, r.Min.Y, r.Max.Y)
	}
	for _, r := range b {
		ys = append(ys, r.Min.Y, r.Max.Y)
	}
	slices.Sort(ys)
	ys = slices.Compact(ys)

	activeA, activeB := newSweep(a), newSweep(b)
	var (
		out       []image.Rectangle
		prevBand  []span
		bandStart int
		sa, sb    []span
	)
	for i := 0; i+1 < len(ys); i++ {
		y0, y1 := ys[i], ys[i+1]
		sa = spansAt(sa[:0], activeA.advance(y0), y0, y1)
		sb = spansAt(sb[:0], activeB.advance(y0), y0, y1)
		band := mergeSpans(sa, sb, op)
		if len(band) == 0 {
			prevBand = nil
			continue
		}

		if prevBand != nil && out[len(out)-1].Max.Y == y0 && slices.Equal(prevBand, band) {
			for j := bandStart; j < len(out); j++ {
				out[j].Max.Y = y1
			}
			continue
		}

		bandStart = len(out)
		for _, s := range band {
			out = append(out, image.Rect(s.x0, y0, s.x1, y1))
		}
		prevBand = band
	}
	return Region{rects: out}
}

// sweep tracks the rectangles that start at or above a scanline and end
// below it, for scanlines visited in increasing order.
type sweep struct {
	byTop  []image.Rectangle
	next   int
	active []image.Rectangle
}

func newSweep(rs []image.Rectangle) *sweep {
	byTop := slices.Clone(rs)
	slices.SortStableFunc(byTop, func(p, q image.Rectangle) int { return p.Min.Y - q.Min.Y })
	return &sweep{byTop: byTop}
}

// advance returns the rectangles active at scanline y.
func (w *sweep) advance(y int) []image.Rectangle {
	for w.next < len(w.byTop) && w.byTop[w.next].Min.Y <= y {
		w.active = append(w.active, w.byTop[w.next])
		w.next++
	}
	w.active = slices.DeleteFunc(w.active, func(r image.Rectangle) bool { return r.Max.Y <= y })
	return w.active
}

// spansAt appends to dst the sorted, merged spans of every rectangle in rs
// that covers the slab [y0, y1). Slab boundaries include every rectangle
// edge, so a rectangle either covers the whole slab or misses it.
func spansAt(dst []span, rs []image.Rectangle, y0, y1 int) []span {
	for _, r := range rs {
		if r.Min.Y <= y0 && r.Max.Y >= y1 {
			dst = append(dst, span{r.Min.X, r.Max.X})
		}
	}
	if len(dst) < 2 {
		return dst
	}
	slices.SortFunc(dst, func(p, q span) int { return p.x0 - q.x0 })
	merged := dst[:1]
	for _, s := range dst[1:] {
		last := &merged[len(merged)-1]
		if s.x0 <= last.x1 {
			last.x1 = max(last.x1, s.x1)
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// mergeSpans applies op to two sorted disjoint span lists.
func mergeSpans(a, b []span, op setOp) []span {
	xs := make([]int, 0, 2*(len(a)+len(b)))
	for _, s := range a {
		xs = append(xs, s.x0, s.x1)
	}
	for _, s := range b {
		xs = append(xs, s.x0, s.x1)
	}
	slices.Sort(xs)
	xs = slices.Compact(xs)

	var out []span
	ia, ib := 0, 0
	for k := 0; k+1 < len(xs); k++ {
		x := xs[k]
		for ia < len(a) && a[ia].x1 <= x {
			ia++
		}
		for ib < len(b) && b[ib].x1 <= x {
			ib++
		}
		inA := ia < len(a) && a[ia].x0 <= x
		inB := ib < len(b) && b[ib].x0 <= x
		if !op.keep(inA, inB) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].x1 == x {
			out[n-1].x1 = xs[k+1]
			continue
		}
		out = append(out, span{x, xs[k+1]})
	}
	return out
}
