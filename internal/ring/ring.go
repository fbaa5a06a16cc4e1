// Package ring implements the bounded, wrap-around byte buffer used to
// capture a daemon's stdout/stderr. Reads are addressed by a monotonic
// logical offset (the coordinate space is "total bytes ever written"), not
// by a physical offset into the backing array, because stat(2) reports
// st_size as that logical length and filesystem reads may arrive with
// arbitrary offsets after the buffer has wrapped.
package ring

import "sync"

// Buffer is a fixed-capacity, wrap-around byte buffer with a monotonic
// write counter. It is safe for concurrent use.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	len  uint64 // total bytes written since creation or the last Resize
}

// New returns a Buffer with the given capacity. A capacity of 0 is legal:
// it discards everything written and always reads back empty.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Len returns the total number of bytes written (the logical length
// reported as st_size). Resize resets it to the number of bytes it kept.
func (b *Buffer) Len() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.len
}

// Cap returns the current capacity.
func (b *Buffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// validRange returns the logical [start, end) range currently retained.
// Caller must hold b.mu.
func (b *Buffer) validRange() (start, end uint64) {
	end = b.len
	capacity := uint64(len(b.data))
	if b.len > capacity {
		start = b.len - capacity
	}
	return
}

// Write appends buf, wrapping over the oldest bytes once capacity is
// exceeded. It never fails and always returns len(buf).
func (b *Buffer) Write(buf []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(buf)
	capacity := len(b.data)
	if capacity == 0 {
		b.len += uint64(n)
		return n
	}

	// Only the final `capacity` bytes of buf can possibly survive; skip the
	// rest without ever writing it, matching write()'s "older bytes are
	// overwritten" rule for a single oversized chunk.
	if n > capacity {
		b.len += uint64(n - capacity)
		buf = buf[n-capacity:]
	}

	for len(buf) > 0 {
		cursor := int(b.len % uint64(capacity))
		free := capacity - cursor
		chunk := len(buf)
		if chunk > free {
			chunk = free
		}
		copy(b.data[cursor:cursor+chunk], buf[:chunk])
		buf = buf[chunk:]
		b.len += uint64(chunk)
	}

	return n
}

// ReadAt copies the part of the requested logical range
// [offset, offset+len(out)) that lies inside the currently valid range
// [start, end) to the front of out, returning the number of bytes copied.
// It returns 0 if the two ranges do not overlap.
func (b *Buffer) ReadAt(offset uint64, out []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	start, end := b.validRange()
	if offset < start {
		skip := start - offset
		if skip >= uint64(len(out)) {
			return 0
		}
		out = out[:uint64(len(out))-skip]
		offset = start
	}
	if offset >= end || len(out) == 0 {
		return 0
	}

	capacity := uint64(len(b.data))
	want := end - offset
	if want > uint64(len(out)) {
		want = uint64(len(out))
	}

	// Physical position of the byte at `offset`.
	physStart := offset % capacity
	first := capacity - physStart
	if first > want {
		first = want
	}
	copy(out[:first], b.data[physStart:physStart+first])
	remaining := want - first
	if remaining > 0 {
		copy(out[first:first+remaining], b.data[:remaining])
	}

	return int(want)
}

// Resize reallocates the buffer to newCap, preserving up to newCap of the
// most recently written bytes as a prefix of the new buffer. len becomes
// the number of bytes copied.
func (b *Buffer) Resize(newCap int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start, end := b.validRange()
	total := end - start
	if uint64(newCap) < total {
		start = end - uint64(newCap)
		total = uint64(newCap)
	}

	newData := make([]byte, newCap)
	if total > 0 {
		capacity := uint64(len(b.data))
		physStart := start % capacity
		first := capacity - physStart
		if first > total {
			first = total
		}
		copy(newData[:first], b.data[physStart:physStart+first])
		if total-first > 0 {
			copy(newData[first:total], b.data[:total-first])
		}
	}

	b.data = newData
	b.len = total
}
