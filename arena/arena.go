// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package arena

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/cockroachdb/errors"
)

// Common errors for arena operations.
var (
	// ErrInvalidSize is returned when an allocation of zero or negative size
	// is requested.
	ErrInvalidSize = errors.New("arena: invalid allocation size")

	// ErrTooLarge is returned when a request exceeds the whole managed range.
	ErrTooLarge = errors.New("arena: allocation larger than arena")

	// ErrNoSpace is returned when free plus evictable space cannot satisfy
	// a request.
	ErrNoSpace = errors.New("arena: insufficient free or evictable space")
)

// State is the allocation state of an Area.
type State uint8

const (
	// Available areas are free.
	Available State = iota

	// Removable areas are allocated and may be evicted to make room.
	Removable

	// Locked areas are allocated and never evicted.
	Locked
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case Removable:
		return "removable"
	case Locked:
		return "locked"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// SaveFunc is called right before an area is evicted. It receives the
// area's handle and owner and must copy out whatever it needs; the area is
// freed when it returns. It must not allocate from or free into the same
// arena.
type SaveFunc func(h Handle, owner any)

// Handle refers to an area. Handles are generation checked: a handle to an
// area that has since been merged away or reused is stale and Lookup reports
// it as missing. The zero Handle is never valid.
type Handle struct {
	index int32
	gen   uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

// String returns a string representation of the handle.
func (h Handle) String() string {
	if h.IsZero() {
		return "area(none)"
	}
	return fmt.Sprintf("area(%d#%d)", h.index, h.gen)
}

// Area is a snapshot of one range of device memory.
type Area struct {
	Handle Handle

	// BaseOffset is where the area starts.
	BaseOffset int

	// Offset is BaseOffset rounded up to Align; usable data starts here.
	Offset int

	// Size is the number of bytes covered, starting at BaseOffset.
	Size int

	// Align is the alignment requested at allocation time.
	Align int

	State State

	// LastUse is the logical clock value of the last allocation or use.
	LastUse uint32

	// EvictionCost is size divided by age, refreshed by eviction searches.
	EvictionCost uint32

	// Owner is the payload given to Allocate.
	Owner any
}

// End returns the first offset past the area.
func (a Area) End() int {
	return a.BaseOffset + a.Size
}

const nilIndex = -1

// node is the slab entry behind a Handle.
type node struct {
	baseOffset   int
	offset       int
	size         int
	align        int
	state        State
	lastUse      uint32
	evictionCost uint32
	owner        any
	save         SaveFunc

	prev, next int32
	gen        uint32
	live       bool
}

// Arena manages a linear range of device memory as an address-ordered list
// of areas that exactly tile the range.
//
// Arena is not safe for concurrent use.
type Arena struct {
	base int
	size int

	nodes    []node
	freeList []int32
	head     int32
	tail     int32

	clock        uint32
	numAvailable int
	overlapMoves bool

	log   *slog.Logger
	stats counters
}

// Option configures an Arena.
type Option func(*Arena)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(a *Arena) {
		if l != nil {
			a.log = l
		}
	}
}

// WithOverlappingMoves allows Defragment to relocate an area onto a range
// that overlaps its current one. Only enable it when the device copy
// handles overlapping source and destination.
func WithOverlappingMoves(ok bool) Option {
	return func(a *Arena) {
		a.overlapMoves = ok
	}
}

// New creates an arena managing [base, base+size) as a single Available
// area.
func New(base, size int, opts ...Option) (*Arena, error) {
	if base < 0 || size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "managed range [%d, %d)", base, base+size)
	}
	a := &Arena{
		base: base,
		size: size,
		log:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}

	i := a.newNode()
	n := &a.nodes[i]
	n.baseOffset = base
	n.offset = base
	n.size = size
	n.state = Available
	a.head, a.tail = i, i
	a.clock = 1
	a.numAvailable = 1
	return a, nil
}

// Base returns the first offset managed by the arena.
func (a *Arena) Base() int { return a.base }

// Size returns the number of bytes managed by the arena.
func (a *Arena) Size() int { return a.size }

// Clock returns the current value of the logical use clock.
func (a *Arena) Clock() uint32 { return a.clock }

// NumAvailable returns the number of Available areas.
func (a *Arena) NumAvailable() int { return a.numAvailable }

// Allocate reserves size bytes whose Offset is a multiple of align.
//
// A free area is chosen first fit. When none fits, the cheapest run of
// non-Locked areas large enough for the request is evicted: each area's
// save callback runs and the area is freed. locked areas are never evicted.
// save and owner are stored on the new area.
func (a *Arena) Allocate(size, align int, locked bool, save SaveFunc, owner any) (Handle, error) {
	if size <= 0 {
		return Handle{}, errors.Wrapf(ErrInvalidSize, "size %d", size)
	}
	if size > a.size {
		return Handle{}, errors.Wrapf(ErrTooLarge, "size %d, arena %d", size, a.size)
	}
	if align <= 0 {
		align = 1
	}

	idx := int32(nilIndex)
	realSize := 0
	for i := a.head; i != nilIndex; i = a.nodes[i].next {
		n := &a.nodes[i]
		if n.state != Available {
			continue
		}
		realSize = size + alignPad(n.baseOffset, align)
		if realSize <= n.size {
			idx = i
			break
		}
	}

	if idx == nilIndex {
		idx = a.findAreaToEvict(size, align)
		if idx == nilIndex {
			a.stats.allocFailures++
			a.log.Debug("arena: allocation failed", "size", size, "align", align)
			return Handle{}, errors.Wrapf(ErrNoSpace, "size %d align %d", size, align)
		}

		if a.nodes[idx].state != Available {
			idx = a.kickOut(idx)
		}
		realSize = size + alignPad(a.nodes[idx].baseOffset, align)
		for a.nodes[idx].size < realSize {
			next := a.nodes[idx].next
			if next == nilIndex || a.nodes[next].state != Removable {
				panic(errors.AssertionFailedf("arena: eviction run ended early at offset %d", a.nodes[idx].baseOffset))
			}
			a.kickOut(next)
		}
	}

	n := &a.nodes[idx]
	if realSize < n.size {
		a.splitAfter(idx, realSize)
	} else {
		a.numAvailable--
	}

	n = &a.nodes[idx]
	if locked {
		n.state = Locked
	} else {
		n.state = Removable
	}
	n.owner = owner
	n.save = save
	n.lastUse = a.clock
	a.clock++
	n.offset = n.baseOffset + alignPad(n.baseOffset, align)
	n.align = align

	a.stats.allocations++
	a.log.Debug("arena: allocated", "size", size, "base", n.baseOffset, "offset", n.offset, "locked", locked)
	return a.handle(idx), nil
}

// Free releases an area and merges it with Available neighbours. The save
// callback is not called. Free returns the handle of the resulting,
// possibly merged, Available area.
//
// Freeing a stale handle is a programming error and panics.
func (a *Arena) Free(h Handle) Handle {
	idx := a.mustIndex(h)
	return a.handle(a.free(idx))
}

// MarkUsed stamps the area with the next clock value so that eviction
// considers it recently used. Stale handles are ignored.
func (a *Arena) MarkUsed(h Handle) {
	idx, ok := a.index(h)
	if !ok {
		return
	}
	a.nodes[idx].lastUse = a.clock
	a.clock++
}

// Lookup returns a snapshot of the area h refers to.
func (a *Arena) Lookup(h Handle) (Area, bool) {
	idx, ok := a.index(h)
	if !ok {
		return Area{}, false
	}
	return a.snapshot(idx), true
}

// Areas returns snapshots of every area in address order.
func (a *Arena) Areas() []Area {
	var out []Area
	for i := a.head; i != nilIndex; i = a.nodes[i].next {
		out = append(out, a.snapshot(i))
	}
	return out
}

// Evict kicks out every non-Available area for which match returns true,
// calling its save callback first. Locked areas are included only if match
// accepts them. Evict returns the number of areas evicted.
func (a *Arena) Evict(match func(Area) bool) int {
	count := 0
	for {
		victim := int32(nilIndex)
		for i := a.head; i != nilIndex; i = a.nodes[i].next {
			if a.nodes[i].state != Available && match(a.snapshot(i)) {
				victim = i
				break
			}
		}
		if victim == nilIndex {
			return count
		}
		a.kickOut(victim)
		count++
	}
}

// SwapOut evicts every allocated area, locked ones included, leaving a
// single Available area spanning the arena.
func (a *Arena) SwapOut() int {
	return a.Evict(func(Area) bool { return true })
}

func (a *Arena) kickOut(idx int32) int32 {
	n := &a.nodes[idx]
	h := a.handle(idx)
	if save := n.save; save != nil {
		save(h, n.owner)
	}
	if !a.nodes[idx].live || a.nodes[idx].gen != h.gen {
		panic(errors.AssertionFailedf("arena: save callback released %s", h))
	}
	a.stats.evictions++
	return a.free(idx)
}

func (a *Arena) free(idx int32) int32 {
	n := &a.nodes[idx]
	if n.state == Available {
		panic(errors.AssertionFailedf("arena: double free of area at offset %d", n.baseOffset))
	}
	a.log.Debug("arena: free", "size", n.size, "base", n.baseOffset)

	n.state = Available
	n.save = nil
	n.owner = nil
	n.lastUse = 0
	n.evictionCost = 0
	n.offset = n.baseOffset
	n.align = 0
	a.numAvailable++

	prev := n.prev
	if next := n.next; next != nilIndex && a.nodes[next].state == Available {
		a.merge(idx)
	}
	if prev != nilIndex && a.nodes[prev].state == Available {
		idx = prev
		a.merge(idx)
	}
	a.stats.frees++
	return idx
}

// merge absorbs the area after idx into idx.
func (a *Arena) merge(idx int32) {
	n := &a.nodes[idx]
	next := n.next
	nn := &a.nodes[next]

	n.size += nn.size
	n.next = nn.next
	if n.next != nilIndex {
		a.nodes[n.next].prev = idx
	} else {
		a.tail = idx
	}
	a.releaseNode(next)
	a.numAvailable--
}

// splitAfter shrinks idx to size bytes and inserts a new Available area for
// the remainder right after it.
func (a *Arena) splitAfter(idx int32, size int) {
	rest := a.newNode()
	n := &a.nodes[idx]
	r := &a.nodes[rest]

	r.baseOffset = n.baseOffset + size
	r.offset = r.baseOffset
	r.size = n.size - size
	r.state = Available
	r.prev = idx
	r.next = n.next
	if n.next != nilIndex {
		a.nodes[n.next].prev = rest
	} else {
		a.tail = rest
	}
	n.next = rest
	n.size = size
}

func (a *Arena) newNode() int32 {
	var idx int32
	if k := len(a.freeList); k > 0 {
		idx = a.freeList[k-1]
		a.freeList = a.freeList[:k-1]
	} else {
		if len(a.nodes) >= math.MaxInt32 {
			panic(errors.AssertionFailedf("arena: too many areas"))
		}
		a.nodes = append(a.nodes, node{})
		idx = int32(len(a.nodes) - 1)
	}
	gen := a.nodes[idx].gen + 1
	if gen == 0 {
		gen = 1
	}
	a.nodes[idx] = node{prev: nilIndex, next: nilIndex, gen: gen, live: true}
	return idx
}

func (a *Arena) releaseNode(idx int32) {
	n := &a.nodes[idx]
	n.live = false
	n.owner = nil
	n.save = nil
	a.freeList = append(a.freeList, idx)
}

func (a *Arena) handle(idx int32) Handle {
	return Handle{index: idx, gen: a.nodes[idx].gen}
}

func (a *Arena) index(h Handle) (int32, bool) {
	if h.IsZero() || h.index < 0 || int(h.index) >= len(a.nodes) {
		return 0, false
	}
	n := &a.nodes[h.index]
	if !n.live || n.gen != h.gen {
		return 0, false
	}
	return h.index, true
}

func (a *Arena) mustIndex(h Handle) int32 {
	idx, ok := a.index(h)
	if !ok {
		panic(errors.AssertionFailedf("arena: stale or invalid %s", h))
	}
	return idx
}

func (a *Arena) snapshot(idx int32) Area {
	n := &a.nodes[idx]
	return Area{
		Handle:       a.handle(idx),
		BaseOffset:   n.baseOffset,
		Offset:       n.offset,
		Size:         n.size,
		Align:        n.align,
		State:        n.state,
		LastUse:      n.lastUse,
		EvictionCost: n.evictionCost,
		Owner:        n.owner,
	}
}

// alignPad returns the number of bytes needed to round offset up to align.
func alignPad(offset, align int) int {
	if r := offset % align; r != 0 {
		return align - r
	}
	return 0
}
