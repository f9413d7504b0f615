package session

// Buffer is a growable byte buffer with a read cursor, letting a parser
// consume only part of what's been filled while more bytes accumulate
// behind it. Unlike bytes.Buffer, Spare() exposes write-target capacity
// directly so Fill can read into it without an intermediate copy.
//
// Exported so internal/proxy's backend connections, which read
// responses and write requests rather than the reverse, can reuse the
// same buffering without a second copy of this algorithm.
type Buffer struct {
	data []byte
	// r is the read cursor: bytes before r have been consumed by a
	// successful parse and are logically gone.
	r int
	// w is the write cursor: bytes in [r:w) are buffered and unparsed.
	w int

	initSize uint32
	maxSize  uint32
}

func NewBuffer(initSize, maxSize uint32) *Buffer {
	return &Buffer{data: make([]byte, initSize), initSize: initSize, maxSize: maxSize}
}

// Unread returns the buffered, unparsed bytes.
func (b *Buffer) Unread() []byte { return b.data[b.r:b.w] }

// Remaining reports how many unparsed bytes are buffered.
func (b *Buffer) Remaining() int { return b.w - b.r }

// Consume advances the read cursor by n bytes, compacting the buffer
// back to the start once fully drained so it doesn't creep forward
// forever.
func (b *Buffer) Consume(n int) {
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}

// Spare grows the buffer (up to maxSize) if needed and returns the
// slice a Fill should read into.
func (b *Buffer) Spare() []byte {
	if b.w == len(b.data) {
		b.grow()
	}
	return b.data[b.w:]
}

// Produced advances the write cursor by n bytes after a Fill.
func (b *Buffer) Produced(n int) { b.w += n }

// Full reports whether the buffer has hit its configured maximum size
// while still holding unparsed bytes — the session should be closed
// rather than grown further (a pathologically large request).
func (b *Buffer) Full() bool {
	return uint32(len(b.data)) >= b.maxSize && b.w == len(b.data)
}

func (b *Buffer) grow() {
	// Compact first: unparsed bytes may not need a larger backing array
	// at all, only room freed up by already-consumed ones.
	if b.r > 0 {
		copy(b.data, b.data[b.r:b.w])
		b.w -= b.r
		b.r = 0
	}
	if b.w < len(b.data) {
		return
	}
	newSize := uint32(len(b.data)) * 2
	if newSize == 0 {
		newSize = b.initSize
	}
	if newSize > b.maxSize {
		newSize = b.maxSize
	}
	if newSize <= uint32(len(b.data)) {
		return
	}
	grown := make([]byte, newSize)
	copy(grown, b.data[:b.w])
	b.data = grown
}

// WriteBuffer is a plain FIFO byte buffer for outbound bytes: Append
// queues composed bytes, Pending reports what flush still owes the
// wire, and Advance drops bytes the OS has accepted. Exported for the
// same reason as Buffer.
type WriteBuffer struct {
	data []byte
	off  int
}

func (wb *WriteBuffer) Append(p []byte) {
	wb.data = append(wb.data, p...)
}

func (wb *WriteBuffer) Pending() []byte { return wb.data[wb.off:] }

func (wb *WriteBuffer) Advance(n int) {
	wb.off += n
	if wb.off == len(wb.data) {
		wb.data = wb.data[:0]
		wb.off = 0
	}
}

func (wb *WriteBuffer) Len() int { return len(wb.data) - wb.off }
