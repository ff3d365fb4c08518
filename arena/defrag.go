// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package arena

import "github.com/cockroachdb/errors"

// Relocator moves the contents of an allocated area during defragmentation.
type Relocator interface {
	// Relocate copies the data of src, starting at src.Offset, to dstOffset
	// and updates the owner to point at the new location. It returns false
	// if the area cannot be moved; the arena is then left unchanged for
	// that area.
	Relocate(owner any, src Area, dstOffset int) bool
}

// RelocatorFunc adapts a function to the Relocator interface.
type RelocatorFunc func(owner any, src Area, dstOffset int) bool

// Relocate calls f.
func (f RelocatorFunc) Relocate(owner any, src Area, dstOffset int) bool {
	return f(owner, src, dstOffset)
}

// Defragment walks the arena from the highest address downward and moves
// Removable areas up into the free block directly above them, so that free
// space bubbles toward the low end and merges. Adjacent Available areas met
// on the way are merged. Locked areas are never moved.
//
// Defragment returns the largest Available area it observed and false if
// there was none.
func (a *Arena) Defragment(r Relocator) (Handle, bool) {
	largest := int32(nilIndex)
	largestSize := 0

	area := a.tail
	for area != a.head {
		prev := a.nodes[area].prev

		if a.nodes[area].state != Available || a.nodes[prev].state == Locked {
			area = prev
			continue
		}

		if a.nodes[prev].state == Available {
			if area == largest {
				largest = prev
				largestSize += a.nodes[prev].size
			}
			area = prev
			a.merge(area)
			continue
		}

		if a.nodes[area].size > largestSize {
			largest = area
			largestSize = a.nodes[area].size
		}

		pn := &a.nodes[prev]
		an := &a.nodes[area]
		src := pn.offset
		dst := an.baseOffset + an.size - pn.size + pn.baseOffset - pn.offset
		if pn.align > 1 {
			dst -= dst % pn.align
		}
		if dst <= src {
			area = prev
			continue
		}
		if !a.overlapMoves && src+pn.size > dst {
			area = prev
			continue
		}
		if !r.Relocate(pn.owner, a.snapshot(prev), dst) {
			area = prev
			continue
		}
		a.stats.relocations++
		a.log.Debug("arena: relocated", "from", src, "to", dst)

		pn = &a.nodes[prev]
		an = &a.nodes[area]
		an.baseOffset = pn.baseOffset
		an.offset = an.baseOffset
		pn.offset = dst
		pn.baseOffset = dst
		if an.next != nilIndex {
			pn.size = a.nodes[an.next].baseOffset - pn.baseOffset
		} else {
			pn.size = a.base + a.size - pn.baseOffset
		}
		an.size = pn.baseOffset - an.baseOffset
		if an.size <= 0 || pn.size <= 0 {
			panic(errors.AssertionFailedf("arena: relocation produced sizes %d/%d", an.size, pn.size))
		}
		a.swapWithPrev(area)
	}

	if a.nodes[area].state == Available && a.nodes[area].size > largestSize {
		largest = area
	}
	if largest == nilIndex {
		return Handle{}, false
	}
	return a.handle(largest), true
}

// swapWithPrev exchanges idx with the area before it in the list.
func (a *Arena) swapWithPrev(idx int32) {
	prev := a.nodes[idx].prev
	pp := a.nodes[prev].prev
	next := a.nodes[idx].next

	if next != nilIndex {
		a.nodes[next].prev = prev
	} else {
		a.tail = prev
	}
	if pp != nilIndex {
		a.nodes[pp].next = idx
	} else {
		a.head = idx
	}
	a.nodes[prev].next = next
	a.nodes[prev].prev = idx
	a.nodes[idx].next = prev
	a.nodes[idx].prev = pp
}
