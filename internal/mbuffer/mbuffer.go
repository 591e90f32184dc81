// Package mbuffer implements the growable byte buffer used as the queue
// element of the buffered writer (spec §3, §9): a contiguous buffer with
// separate read and write cursors, a fill pointer marking the last
// successfully flushed position, and the ability to chain a prior buffer
// (typically a meta/header buffer) ahead of this one for a single write.
//
// A Buffer is move-only: the writer that owns it for flushing must be its
// sole reader for the duration of that flush. Sharing a Buffer between
// goroutines without external synchronization is a bug, not a feature.
package mbuffer

// Buffer is a growable byte buffer with explicit read/write/fill cursors.
type Buffer struct {
	data  []byte
	rd    int // next unflushed byte
	fill  int // last position confirmed flushed to the sink
	prior *Buffer
}

// New allocates a Buffer with the given initial capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Write appends p to the buffer, growing the backing array if needed.
// Always accepts the full write; callers enforcing a capacity limit (the
// writer package's queue bound) must check that themselves before calling.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.Grow(len(p))
	b.data = append(b.data, p...)
	return len(p), nil
}

// Grow ensures at least n more bytes can be appended without a further
// reallocation beyond this one.
func (b *Buffer) Grow(n int) {
	if cap(b.data)-len(b.data) >= n {
		return
	}
	newCap := cap(b.data) * 2
	if newCap < len(b.data)+n {
		newCap = len(b.data) + n
	}
	nd := make([]byte, len(b.data), newCap)
	copy(nd, b.data)
	b.data = nd
}

// Length returns the number of unflushed bytes currently buffered.
func (b *Buffer) Length() int { return len(b.data) - b.rd }

// WriteRemaining returns how many bytes can be appended before Write must
// reallocate.
func (b *Buffer) WriteRemaining() int { return cap(b.data) - len(b.data) }

// Fill returns the last position confirmed flushed to the sink.
func (b *Buffer) Fill() int { return b.fill }

// Unread returns the slice of bytes not yet confirmed flushed. The slice
// aliases the buffer's backing array and is only valid until the next
// Write, Grow, or Reset call.
func (b *Buffer) Unread() []byte { return b.data[b.rd:] }

// MarkFlushed records that n bytes starting at the current read cursor
// were successfully written to the sink, advancing both the read cursor
// and the fill pointer. Used by the drain loop after a (possibly partial)
// successful write, so a subsequent retry resumes at the right offset
// (spec §4.1: "on partial write, retain the unwritten suffix").
func (b *Buffer) MarkFlushed(n int) {
	b.rd += n
	if b.rd > b.fill {
		b.fill = b.rd
	}
}

// Chain logically prepends prior ahead of b for the duration of one flush,
// e.g. a meta/header buffer ahead of a data buffer. It does not copy bytes.
func (b *Buffer) Chain(prior *Buffer) { b.prior = prior }

// Segments returns the buffer's unflushed bytes as an ordered list of
// slices, with any chained prior buffer's segments first. Callers that can
// issue vectored writes (writev, net.Buffers) use this to avoid copying a
// chained header and body together.
func (b *Buffer) Segments() [][]byte {
	var segs [][]byte
	if b.prior != nil {
		segs = append(segs, b.prior.Segments()...)
	}
	if u := b.Unread(); len(u) > 0 {
		segs = append(segs, u)
	}
	return segs
}

// Reset clears the buffer for reuse, dropping any chained prior buffer.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.rd = 0
	b.fill = 0
	b.prior = nil
}
