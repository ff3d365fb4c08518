// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package arena

import "math"

// maxAge caps the age used for cost computation so that clock wraparound
// cannot make a recently used area look ancient.
const maxAge = math.MaxUint32 / 2

// updateCost refreshes the eviction cost of an allocated area. Available
// areas cost nothing.
func (a *Arena) updateCost(idx int32) {
	n := &a.nodes[idx]
	if n.state == Available {
		n.evictionCost = 0
		return
	}
	age := a.clock - n.lastUse
	if age > maxAge {
		age = maxAge
	}
	if age == 0 {
		age = 1
	}
	n.evictionCost = uint32(n.size / int(age))
}

// findAreaToEvict slides a window over maximal runs of non-Locked areas and
// returns the first area of the cheapest window covering size bytes at the
// given alignment, or nilIndex. Windows restart after every Locked area.
func (a *Arena) findAreaToEvict(size, align int) int32 {
	var (
		best     = int32(nilIndex)
		bestCost = uint64(math.MaxUint64)
		avail    int
		cost     uint64
	)
	begin, end := a.head, a.head

	for end != nilIndex {
		for begin != nilIndex && a.nodes[begin].state == Locked {
			begin = a.nodes[begin].next
			end = begin
		}
		if begin == nilIndex {
			break
		}

		realSize := size + alignPad(a.nodes[begin].baseOffset, align)

		restart := false
		for avail < realSize && end != nilIndex {
			if a.nodes[end].state == Locked {
				avail, cost = 0, 0
				begin = end
				restart = true
				break
			}
			a.updateCost(end)
			avail += a.nodes[end].size
			cost += uint64(a.nodes[end].evictionCost)
			end = a.nodes[end].next
		}
		if restart {
			continue
		}

		if avail >= realSize && cost < bestCost {
			best = begin
			bestCost = cost
		}

		avail -= a.nodes[begin].size
		cost -= uint64(a.nodes[begin].evictionCost)
		begin = a.nodes[begin].next
	}
	return best
}
