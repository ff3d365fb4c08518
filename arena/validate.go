// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package arena

import (
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
)

// ErrCorrupt is wrapped by every violation reported by Validate.
var ErrCorrupt = errors.New("arena: layout corrupt")

// Validate checks that the areas tile the managed range exactly, that list
// links are consistent, that no two Available areas are adjacent and that
// offsets respect their alignment. It returns every violation found, or nil.
func (a *Arena) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, errors.Wrapf(ErrCorrupt, format, args...))
	}

	if a.head == nilIndex || a.tail == nilIndex {
		fail("empty area list")
		return result.ErrorOrNil()
	}
	if p := a.nodes[a.head].prev; p != nilIndex {
		fail("head has prev link %d", p)
	}

	expect := a.base
	avail := 0
	prev := int32(nilIndex)
	seen := 0
	for i := a.head; i != nilIndex; i = a.nodes[i].next {
		n := &a.nodes[i]
		seen++
		if seen > len(a.nodes) {
			fail("cycle in area list")
			break
		}
		if !n.live {
			fail("released node %d still linked", i)
		}
		if n.prev != prev {
			fail("area at %d: prev link %d, want %d", n.baseOffset, n.prev, prev)
		}
		if n.baseOffset != expect {
			fail("area at %d: expected to start at %d", n.baseOffset, expect)
		}
		if n.size <= 0 {
			fail("area at %d: non-positive size %d", n.baseOffset, n.size)
		}
		if n.offset < n.baseOffset || n.offset > n.baseOffset+n.size {
			fail("area at %d: offset %d outside area", n.baseOffset, n.offset)
		}
		if n.state != Available && n.align > 1 && n.offset%n.align != 0 {
			fail("area at %d: offset %d not aligned to %d", n.baseOffset, n.offset, n.align)
		}
		if n.state == Available {
			avail++
			if prev != nilIndex && a.nodes[prev].state == Available {
				fail("adjacent available areas at %d and %d", a.nodes[prev].baseOffset, n.baseOffset)
			}
		}
		expect = n.baseOffset + n.size
		prev = i
	}
	if prev != a.tail {
		fail("tail is %d, last linked area is %d", a.tail, prev)
	}
	if expect != a.base+a.size {
		fail("areas end at %d, want %d", expect, a.base+a.size)
	}
	if avail != a.numAvailable {
		fail("counted %d available areas, tracked %d", avail, a.numAvailable)
	}
	return result.ErrorOrNil()
}
