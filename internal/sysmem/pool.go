// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package sysmem provides reusable system-memory backing for pixmaps.
package sysmem

import "sync"

// Pool is a thread-safe pool for reusing pixel buffers.
//
// Pool groups buffers by their exact byte size, which for pixmaps is
// pitch times height. Pixmaps of a common size are created and destroyed
// constantly, so reuse keeps GC pressure down.
//
// Thread safety: All methods are safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	buckets map[int][][]byte
	maxSize int // max buffers per bucket

	hits   uint64
	misses uint64
}

// NewPool creates a pool retaining at most maxPerBucket buffers of each
// size. A maxPerBucket of 0 means unlimited; a negative value disables
// pooling.
func NewPool(maxPerBucket int) *Pool {
	return &Pool{
		buckets: make(map[int][][]byte),
		maxSize: maxPerBucket,
	}
}

// Get returns a zeroed buffer of exactly size bytes.
func (p *Pool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}

	p.mu.Lock()
	bucket := p.buckets[size]
	if len(bucket) > 0 {
		buf := bucket[len(bucket)-1]
		p.buckets[size] = bucket[:len(bucket)-1]
		p.hits++
		p.mu.Unlock()

		clear(buf)
		return buf
	}
	p.misses++
	p.mu.Unlock()

	return make([]byte, size)
}

// Put returns a buffer to the pool. Buffers are bucketed by length;
// a nil buffer or one arriving at a full bucket is discarded.
func (p *Pool) Put(buf []byte) {
	if len(buf) == 0 || p.maxSize < 0 {
		return
	}
	size := len(buf)

	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.buckets[size]
	if p.maxSize > 0 && len(bucket) >= p.maxSize {
		return
	}
	p.buckets[size] = append(bucket, buf[:size:size])
}

// Stats returns the number of Get calls served from the pool and the
// number that allocated.
func (p *Pool) Stats() (hits, misses uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits, p.misses
}
