// Package memorymap presents several independently allocated byte buffers
// as one contiguous, fixed-length, mutable byte sequence without copying.
//
// Reassembled IPv4 payloads are built this way: each fragment keeps a view
// into its own captured frame and the reassembled datagram is a Map over
// those views, so rewriting a byte through the Map rewrites the frame that
// will be written back to disk.
package memorymap

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

var (
	// ErrOutOfRange is returned for an index outside [-Len, Len).
	ErrOutOfRange = errors.New("memorymap: index out of range")

	// ErrSizeChange is returned by any operation that would change the
	// length of a Map.
	ErrSizeChange = errors.New("memorymap: size change not permitted")
)

// Part is anything a Map can be assembled from: a Buffer or another *Map.
type Part interface {
	appendSegments(dst []segment) []segment
}

// Buffer is a raw byte buffer used as a Map segment. The Map references the
// buffer's backing array.
type Buffer []byte

func (b Buffer) appendSegments(dst []segment) []segment {
	if len(b) == 0 {
		return dst
	}
	return append(dst, segment{mem: b})
}

// segment is a window onto caller storage. A reversed segment is read back
// to front.
type segment struct {
	mem      []byte
	reversed bool
}

func (s segment) at(i int) *byte {
	if s.reversed {
		return &s.mem[len(s.mem)-1-i]
	}
	return &s.mem[i]
}

// sub returns the logical sub-range [a, b) of the segment.
func (s segment) sub(a, b int) segment {
	if s.reversed {
		n := len(s.mem)
		return segment{mem: s.mem[n-b : n-a], reversed: true}
	}
	return segment{mem: s.mem[a:b]}
}

// Map is a logical concatenation of segments. Its length never changes after
// construction; only byte values can be modified.
type Map struct {
	segs []segment
	ends []int // cumulative end offset of each segment
}

// New builds a Map over parts in order. Segments of *Map parts are adopted
// as they are, without copying. Empty parts are skipped.
func New(parts ...Part) *Map {
	var segs []segment
	for _, p := range parts {
		if p == nil {
			continue
		}
		segs = p.appendSegments(segs)
	}
	return fromSegments(segs)
}

// Of returns a single-segment Map over b.
func Of(b []byte) *Map {
	return New(Buffer(b))
}

func fromSegments(segs []segment) *Map {
	m := &Map{segs: segs, ends: make([]int, len(segs))}
	total := 0
	for i, s := range segs {
		total += len(s.mem)
		m.ends[i] = total
	}
	return m
}

func (m *Map) appendSegments(dst []segment) []segment {
	if m == nil {
		return dst
	}
	return append(dst, m.segs...)
}

// Len returns the total number of bytes in the map.
func (m *Map) Len() int {
	if m == nil || len(m.ends) == 0 {
		return 0
	}
	return m.ends[len(m.ends)-1]
}

// Segments returns the number of segments backing the map.
func (m *Map) Segments() int {
	if m == nil {
		return 0
	}
	return len(m.segs)
}

// locate resolves a non-negative logical offset to a segment index and the
// offset within that segment.
func (m *Map) locate(i int) (int, int) {
	k := sort.Search(len(m.ends), func(k int) bool { return m.ends[k] > i })
	start := 0
	if k > 0 {
		start = m.ends[k-1]
	}
	return k, i - start
}

func (m *Map) index(i int) (int, error) {
	n := m.Len()
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("%w: %d (length %d)", ErrOutOfRange, i, n)
	}
	return i, nil
}

// At returns the byte at logical offset i. Negative offsets count from the
// end.
func (m *Map) At(i int) (byte, error) {
	i, err := m.index(i)
	if err != nil {
		return 0, err
	}
	k, off := m.locate(i)
	return *m.segs[k].at(off), nil
}

// Set stores b at logical offset i. Negative offsets count from the end.
func (m *Map) Set(i int, b byte) error {
	i, err := m.index(i)
	if err != nil {
		return err
	}
	k, off := m.locate(i)
	*m.segs[k].at(off) = b
	return nil
}

// bounds normalizes a half-open range the way sequence slicing does:
// negative values count from the end and out of range values are clamped.
func (m *Map) bounds(start, stop int) (int, int) {
	n := m.Len()
	clamp := func(v int) int {
		if v < 0 {
			v += n
		}
		if v < 0 {
			return 0
		}
		if v > n {
			return n
		}
		return v
	}
	start, stop = clamp(start), clamp(stop)
	if stop < start {
		stop = start
	}
	return start, stop
}

// Slice returns a view of [start, stop) sharing storage with m. The range is
// normalized like a sequence slice, so it never fails.
func (m *Map) Slice(start, stop int) *Map {
	start, stop = m.bounds(start, stop)
	if start == stop {
		return &Map{}
	}

	var segs []segment
	k, off := m.locate(start)
	remaining := stop - start
	for ; remaining > 0; k++ {
		s := m.segs[k]
		end := len(s.mem)
		if end-off > remaining {
			end = off + remaining
		}
		segs = append(segs, s.sub(off, end))
		remaining -= end - off
		off = 0
	}
	return fromSegments(segs)
}

// Reverse returns a back-to-front view of m sharing storage with it.
func (m *Map) Reverse() *Map {
	segs := make([]segment, len(m.segs))
	for i, s := range m.segs {
		segs[len(m.segs)-1-i] = segment{mem: s.mem, reversed: !s.reversed}
	}
	return fromSegments(segs)
}

// SetSlice overwrites [start, stop) with val. The replacement must have
// exactly the length of the normalized range.
func (m *Map) SetSlice(start, stop int, val []byte) error {
	start, stop = m.bounds(start, stop)
	if len(val) != stop-start {
		return fmt.Errorf("%w: assigning %d bytes to a %d byte range", ErrSizeChange, len(val), stop-start)
	}
	m.Slice(start, stop).copyIn(val)
	return nil
}

// Delete always fails: a Map cannot shrink.
func (m *Map) Delete(start, stop int) error {
	return ErrSizeChange
}

// Insert always fails: a Map cannot grow.
func (m *Map) Insert(i int, val []byte) error {
	return ErrSizeChange
}

// copyOut fills dst from the start of m and returns the number of bytes copied.
func (m *Map) copyOut(dst []byte) int {
	n := 0
	for _, s := range m.segs {
		if n == len(dst) {
			break
		}
		if !s.reversed {
			n += copy(dst[n:], s.mem)
			continue
		}
		for j := len(s.mem) - 1; j >= 0 && n < len(dst); j-- {
			dst[n] = s.mem[j]
			n++
		}
	}
	return n
}

func (m *Map) copyIn(src []byte) int {
	n := 0
	for _, s := range m.segs {
		if n == len(src) {
			break
		}
		if !s.reversed {
			n += copy(s.mem, src[n:])
			continue
		}
		for j := len(s.mem) - 1; j >= 0 && n < len(src); j-- {
			s.mem[j] = src[n]
			n++
		}
	}
	return n
}

// Bytes returns a copy of the whole map.
func (m *Map) Bytes() []byte {
	out := make([]byte, m.Len())
	m.copyOut(out)
	return out
}

// Range returns a copy of the normalized range [start, stop).
func (m *Map) Range(start, stop int) []byte {
	return m.Slice(start, stop).Bytes()
}

// ReadAt implements io.ReaderAt.
func (m *Map) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, off)
	}
	if off >= int64(m.Len()) {
		return 0, io.EOF
	}
	n := m.Slice(int(off), m.Len()).copyOut(p)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Writes never extend the map; a write past
// the end fails without modifying anything.
func (m *Map) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(m.Len()) {
		return 0, fmt.Errorf("%w: write of %d bytes at %d (length %d)", ErrOutOfRange, len(p), off, m.Len())
	}
	return m.Slice(int(off), int(off)+len(p)).copyIn(p), nil
}

var (
	_ io.ReaderAt = (*Map)(nil)
	_ io.WriterAt = (*Map)(nil)
)
