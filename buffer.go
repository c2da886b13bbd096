package reactor

import (
	"golang.org/x/sys/unix"
)

// cheapPrepend is the size, in bytes, reserved at the front of every Buffer
// for in-place header prepending (length-prefix framing and similar).
const cheapPrepend = 8

// initialBufferSize is the default capacity of the readable/writable region
// of a freshly allocated Buffer, not counting cheapPrepend.
const initialBufferSize = 1024

// extraScatterSize is the size of the on-stack segment used by ReadFromFD to
// absorb reads larger than the buffer's current writable tail in a single
// syscall.
const extraScatterSize = 65536

// Buffer is a growable byte FIFO with a cheap-prepend region, used as the
// per-connection input and output buffer. It is not safe for concurrent
// use; callers must only touch a Connection's buffers from its owning Loop.
//
// Layout: [0, cheapPrepend) is reserved prepend space, [readerIndex,
// writerIndex) is the readable region, and [writerIndex, len(buf)) is the
// writable region. The invariant 0 <= readerIndex <= writerIndex <=
// len(buf) holds at all times.
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
}

// NewBuffer returns a Buffer with cheapPrepend bytes reserved up front and
// initialBufferSize bytes of writable capacity.
func NewBuffer() *Buffer {
	return &Buffer{
		buf:         make([]byte, cheapPrepend+initialBufferSize),
		readerIndex: cheapPrepend,
		writerIndex: cheapPrepend,
	}
}

// ReadableBytes returns the number of bytes available to Peek/Retrieve.
func (b *Buffer) ReadableBytes() int {
	return b.writerIndex - b.readerIndex
}

// WritableBytes returns the number of bytes that can be Append-ed without
// growing the backing array.
func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writerIndex
}

// PrependableBytes returns the number of bytes currently free at the front
// of the buffer, including the reserved cheapPrepend region.
func (b *Buffer) PrependableBytes() int {
	return b.readerIndex
}

// Peek returns the readable region without copying or advancing the read
// cursor. The returned slice is only valid until the next mutating call.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readerIndex:b.writerIndex]
}

// Retrieve advances the read cursor by n bytes. If n is greater than or
// equal to ReadableBytes, both cursors reset to the start of the readable
// region, reclaiming all prependable space.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readerIndex += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll resets both cursors, discarding all readable bytes.
func (b *Buffer) RetrieveAll() {
	b.readerIndex = cheapPrepend
	b.writerIndex = cheapPrepend
}

// RetrieveAllAsString drains the entire readable region into a string.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// RetrieveAsString copies the first n readable bytes into a string and
// advances the read cursor past them.
func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.buf[b.readerIndex : b.readerIndex+n])
	b.Retrieve(n)
	return s
}

// EnsureWritable grows or compacts the buffer so at least n bytes can be
// Append-ed without a further call to EnsureWritable.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// Append copies data onto the end of the readable region, growing the
// buffer if necessary.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.writerIndex:], data)
	b.writerIndex += len(data)
}

// makeSpace reclaims the prepend-sized hole by shifting the readable region
// left; only if that is still insufficient does it grow the backing array.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+(b.PrependableBytes()-cheapPrepend) < n {
		grown := make([]byte, b.writerIndex+n)
		copy(grown, b.buf[:b.writerIndex])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf[cheapPrepend:], b.buf[b.readerIndex:b.writerIndex])
	b.readerIndex = cheapPrepend
	b.writerIndex = cheapPrepend + readable
}

// ReadFromFD performs a single scatter read (readv) into the buffer's
// writable tail and a 64 KiB on-stack extra segment, so one syscall can
// drain a socket burst larger than the buffer without growing it up front.
// It returns the number of bytes read (0 at end of stream) or, on failure,
// -1 and the errno that caused it.
func (b *Buffer) ReadFromFD(fd int) (n int, errno error) {
	var extra [extraScatterSize]byte
	writable := b.WritableBytes()

	bufs := make([][]byte, 0, 2)
	bufs = append(bufs, b.buf[b.writerIndex:len(b.buf):len(b.buf)])
	if writable < len(extra) {
		bufs = append(bufs, extra[:])
	}

	got, err := unix.Readv(fd, bufs)
	if err != nil {
		return -1, err
	}

	if got <= writable {
		b.writerIndex += got
	} else {
		b.writerIndex = len(b.buf)
		b.Append(extra[:got-writable])
	}
	return got, nil
}

// WriteToFD performs a single non-blocking write of the readable region.
// The caller (Connection) decides whether to retry on EAGAIN via
// write-readiness notification; WriteToFD never retries internally.
func (b *Buffer) WriteToFD(fd int) (n int, errno error) {
	written, err := unix.Write(fd, b.Peek())
	if err != nil {
		return 0, err
	}
	return written, nil
}
