// Package buffer implements ByteBuffer, a growable byte container with
// explicit offset/length bookkeeping so producers and consumers can share
// the same backing array without copying.
package buffer

import "io"

// ByteBuffer holds an internal array of bytes that can be dynamically
// resized, filled, and emptied. Valid bytes occupy [offset, offset+length);
// [offset+length, capacity) is free space available for append.
//
// A ByteBuffer is not safe for concurrent use; callers serialize access.
type ByteBuffer struct {
	data   []byte
	offset int
	length int
	owns   bool
}

// New creates an empty ByteBuffer with the given starting capacity.
func New(capacity int) *ByteBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &ByteBuffer{data: make([]byte, capacity), owns: true}
}

// Wrap creates a ByteBuffer over externally owned storage. If owns is true,
// the buffer assumes ownership of b's backing array (subsequent resizes
// always own their storage regardless).
func Wrap(b []byte, offset, length int, owns bool) *ByteBuffer {
	return &ByteBuffer{data: b, offset: offset, length: length, owns: owns}
}

// Capacity returns the total capacity of the underlying storage.
func (b *ByteBuffer) Capacity() int { return len(b.data) }

// Length returns the number of valid bytes.
func (b *ByteBuffer) Length() int { return b.length }

// Offset returns the current valid-data offset.
func (b *ByteBuffer) Offset() int { return b.offset }

// FreeSpace returns the number of bytes available at the tail without
// resizing or defragmenting.
func (b *ByteBuffer) FreeSpace() int {
	return len(b.data) - (b.offset + b.length)
}

// IsEmpty reports whether there are no valid bytes.
func (b *ByteBuffer) IsEmpty() bool { return b.length == 0 }

// IsManaged reports whether destruction (i.e. letting this value be
// collected) will free the storage — true once the buffer owns its bytes.
func (b *ByteBuffer) IsManaged() bool { return b.owns }

// Data returns a slice view of the valid bytes, [offset, offset+length).
// The slice aliases the buffer's storage; callers must not retain it across
// further mutating calls.
func (b *ByteBuffer) Data() []byte {
	return b.data[b.offset : b.offset+b.length]
}

// End returns a slice view of the free space at the tail,
// [offset+length, capacity).
func (b *ByteBuffer) End() []byte {
	return b.data[b.offset+b.length:]
}

// Bytes returns the full underlying storage, regardless of validity range.
func (b *ByteBuffer) Bytes() []byte { return b.data }

// Clear discards k bytes from the front of the valid range without moving
// any bytes: it advances the offset and shrinks the length by k.
func (b *ByteBuffer) Clear(k int) int {
	k = clampNonNeg(k, b.length)
	b.offset += k
	b.length -= k
	return k
}

// AdvanceOffset moves the offset forward by up to k bytes without touching
// any bytes, discarding them from the front of the valid range (the length
// shrinks by the same amount, as with Clear).
func (b *ByteBuffer) AdvanceOffset(k int) {
	k = clampNonNeg(k, b.length)
	b.offset += k
	b.length -= k
}

// Trim shrinks the valid length by up to k bytes from the tail.
func (b *ByteBuffer) Trim(k int) int {
	k = clampNonNeg(k, b.length)
	b.length -= k
	return k
}

// Extend grows the valid length by up to k bytes, bounded by free space.
func (b *ByteBuffer) Extend(k int) int {
	k = clampNonNeg(k, b.FreeSpace())
	b.length += k
	return k
}

// Reset moves the offset backward by up to k bytes (never below zero),
// extending the valid range to include previously-cleared bytes.
func (b *ByteBuffer) Reset(k int) int {
	k = clampNonNeg(k, b.offset)
	b.offset -= k
	b.length += k
	return k
}

// Resize reallocates the buffer to the given capacity, preserving as many
// valid bytes (from the front of the valid range) as fit. The buffer always
// owns its storage after a resize.
func (b *ByteBuffer) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	keep := b.length
	if keep > capacity {
		keep = capacity
	}
	next := make([]byte, capacity)
	copy(next, b.data[b.offset:b.offset+keep])
	b.data = next
	b.offset = 0
	b.length = keep
	b.owns = true
}

// AllocateSpace makes at least min(n, freeSpace()+offset) bytes of
// contiguous tail space available. If resize is true and that isn't
// enough, it grows capacity geometrically until n bytes fit. If resize is
// false, it defragments in place: valid bytes always slide to offset 0 (when
// offset > 0), since the space recovered from the old offset is exactly what
// FreeSpace() fails to count as already available.
func (b *ByteBuffer) AllocateSpace(n int, resize bool) {
	if n < 0 {
		n = 0
	}
	if resize {
		if b.FreeSpace() >= n {
			return
		}
		needed := b.offset + b.length + n
		capacity := len(b.data)
		if capacity == 0 {
			capacity = needed
		}
		for capacity < needed {
			capacity *= 2
		}
		b.Resize(capacity)
		return
	}
	// Defragment: slide valid bytes to offset 0. Unconditional on offset > 0
	// rather than gated on n, because the caller may be asking for exactly
	// the free space already at the tail (e.g. AllocateSpace(FreeSpace(),
	// false)) specifically to reclaim the space living before the offset.
	if b.offset > 0 {
		copy(b.data, b.data[b.offset:b.offset+b.length])
		b.offset = 0
	}
}

// Put appends up to n bytes from src. If resize is true, capacity grows
// geometrically to fit all n bytes; if false, the buffer first tries to
// defragment and writes only as many bytes as fit in the resulting free
// space. Returns the number of bytes actually written.
func (b *ByteBuffer) Put(src []byte, n int, resize bool) int {
	if n > len(src) {
		n = len(src)
	}
	if n <= 0 {
		return 0
	}
	b.AllocateSpace(n, resize)
	avail := b.FreeSpace()
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return 0
	}
	copy(b.End()[:n], src[:n])
	b.length += n
	return n
}

// PutByte appends a single byte repeated n times, subject to the same
// resize/defragment policy as Put.
func (b *ByteBuffer) PutByte(value byte, n int, resize bool) int {
	if n <= 0 {
		return 0
	}
	b.AllocateSpace(n, resize)
	avail := b.FreeSpace()
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return 0
	}
	tail := b.End()[:n]
	for i := range tail {
		tail[i] = value
	}
	b.length += n
	return n
}

// PutFrom reads up to maxN bytes from r and appends them, growing capacity
// as needed, returning after any progress (a single Read call worth).
func (b *ByteBuffer) PutFrom(r io.Reader, maxN int) (int, error) {
	if maxN <= 0 {
		return 0, nil
	}
	b.AllocateSpace(maxN, true)
	avail := b.FreeSpace()
	if maxN > avail {
		maxN = avail
	}
	n, err := r.Read(b.End()[:maxN])
	if n > 0 {
		b.length += n
	}
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

// Fill blocks (looping Read) until exactly n bytes have been read from r,
// r reports end-of-stream, or the buffer has no more free space.
func (b *ByteBuffer) Fill(r io.Reader, n int) (int, error) {
	total := 0
	for total < n {
		remaining := n - total
		if b.FreeSpace() < remaining {
			b.AllocateSpace(remaining, true)
		}
		avail := b.FreeSpace()
		if avail == 0 {
			break
		}
		want := remaining
		if want > avail {
			want = avail
		}
		read, err := r.Read(b.End()[:want])
		if read > 0 {
			b.length += read
			total += read
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
		if read == 0 {
			break
		}
	}
	return total, nil
}

// Get copies up to n valid bytes into dst, consuming them from the front of
// the valid range. Returns the number of bytes copied.
func (b *ByteBuffer) Get(dst []byte, n int) int {
	if n > b.length {
		n = b.length
	}
	if n > len(dst) {
		n = len(dst)
	}
	if n <= 0 {
		return 0
	}
	copy(dst[:n], b.data[b.offset:b.offset+n])
	b.offset += n
	b.length -= n
	return n
}

// GetAll writes every valid byte to w, consuming them.
func (b *ByteBuffer) GetAll(w io.Writer) (int, error) {
	if b.length == 0 {
		return 0, nil
	}
	n, err := w.Write(b.Data())
	b.offset += n
	b.length -= n
	return n, err
}

func clampNonNeg(k, max int) int {
	if k < 0 {
		return 0
	}
	if k > max {
		return max
	}
	return k
}
