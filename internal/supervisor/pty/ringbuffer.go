// Package pty implements the three-process PTY execution mode:
// parent, monitor, and command, coordinated over the backchannel.
package pty

import "io"

// ringCap is the fixed I/O buffer size, 8 KiB per direction.
const ringCap = 8192

// RingBuffer is a fixed-capacity byte queue used for both directions
// of the TTY<->PTY copy. It is deliberately not io.Copy: the caller
// needs to observe Full()/Empty() between partial Fill/Drain calls so
// it can remove a direction from its poll set under backpressure
// without losing already-buffered bytes: when full, the
// reading half of that direction is removed from the poll set until
// the writer drains.
type RingBuffer struct {
	buf [ringCap]byte
	r   int // next byte to drain
	w   int // next free slot to fill
	n   int // bytes currently buffered
}

func NewRingBuffer() *RingBuffer { return &RingBuffer{} }

func (b *RingBuffer) Len() int    { return b.n }
func (b *RingBuffer) Free() int   { return ringCap - b.n }
func (b *RingBuffer) Full() bool  { return b.n == ringCap }
func (b *RingBuffer) Empty() bool { return b.n == 0 }

// Fill reads as much as fits into the buffer's free space from r in
// one call, without wrapping past the end of the backing array (a
// second Fill call picks up the wrapped remainder). It returns 0,nil
// if the buffer is already full rather than blocking.
func (b *RingBuffer) Fill(r io.Reader) (int, error) {
	if b.Full() {
		return 0, nil
	}
	end := b.w + b.Free()
	if end > ringCap {
		end = ringCap
	}
	n, err := r.Read(b.buf[b.w:end])
	b.w = (b.w + n) % ringCap
	b.n += n
	return n, err
}

// Drain writes as much buffered data to w as is contiguous from the
// read cursor in one call. It returns 0,nil if the buffer is already
// empty rather than blocking.
func (b *RingBuffer) Drain(w io.Writer) (int, error) {
	if b.Empty() {
		return 0, nil
	}
	end := b.r + b.n
	if end > ringCap {
		end = ringCap
	}
	n, err := w.Write(b.buf[b.r:end])
	b.r = (b.r + n) % ringCap
	b.n -= n
	return n, err
}
