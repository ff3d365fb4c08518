// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package arena

// counters are cumulative event counts.
type counters struct {
	allocations   uint64
	allocFailures uint64
	frees         uint64
	evictions     uint64
	relocations   uint64
}

// Stats describes the arena layout and its cumulative activity.
type Stats struct {
	Size         int
	FreeBytes    int
	LargestFree  int
	NumAreas     int
	NumAvailable int
	NumRemovable int
	NumLocked    int

	Allocations   uint64
	AllocFailures uint64
	Frees         uint64
	Evictions     uint64
	Relocations   uint64
}

// UsedBytes returns the number of bytes held by allocated areas.
func (s Stats) UsedBytes() int {
	return s.Size - s.FreeBytes
}

// Stats walks the area list and returns a snapshot.
func (a *Arena) Stats() Stats {
	s := Stats{
		Size:          a.size,
		Allocations:   a.stats.allocations,
		AllocFailures: a.stats.allocFailures,
		Frees:         a.stats.frees,
		Evictions:     a.stats.evictions,
		Relocations:   a.stats.relocations,
	}
	for i := a.head; i != nilIndex; i = a.nodes[i].next {
		n := &a.nodes[i]
		s.NumAreas++
		switch n.state {
		case Available:
			s.NumAvailable++
			s.FreeBytes += n.size
			s.LargestFree = max(s.LargestFree, n.size)
		case Removable:
			s.NumRemovable++
		case Locked:
			s.NumLocked++
		}
	}
	return s
}
