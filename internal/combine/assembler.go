package combine

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring"
	"github.com/tanq16/stitch/internal/manifest"
)

// BufferKind tells how a target's bytes are held.
type BufferKind int

const (
	// BufferUnallocated: nothing landed yet for a single-piece target.
	BufferUnallocated BufferKind = iota
	// BufferAllocated: a zeroed buffer of the target size that pieces are copied into.
	BufferAllocated
	// BufferAdopted: the single piece's payload became the target's bytes.
	BufferAdopted
)

func (k BufferKind) String() string {
	switch k {
	case BufferAllocated:
		return "allocated"
	case BufferAdopted:
		return "adopted"
	default:
		return "unallocated"
	}
}

type buffer struct {
	kind BufferKind
	data []byte
}

// assembly is the mutable state of the target currently being built.
// It is only touched from the orchestrating goroutine.
type assembly struct {
	target        *manifest.Target
	buf           buffer
	lastRequested int
	landed        *roaring.Bitmap
	lengths       []int64
}

// DefaultMaxTargetSize caps the declared size of a target when the
// combiner is not configured with its own limit.
const DefaultMaxTargetSize int64 = 16 << 30

// newAssembly prepares the buffer for t. Targets declaring more than limit
// bytes are rejected before anything is allocated; limit <= 0 means
// DefaultMaxTargetSize.
func newAssembly(t *manifest.Target, limit int64) (*assembly, error) {
	if t.Size < 0 {
		return nil, &Fault{Target: t.Name, Err: fmt.Errorf("%w: negative declared size %d", ErrUnexpectedSize, t.Size)}
	}
	if limit <= 0 {
		limit = DefaultMaxTargetSize
	}
	if t.Size > limit || uint64(t.Size) > math.MaxInt {
		return nil, &Fault{Target: t.Name, Err: fmt.Errorf("%w: declared size %d exceeds limit %d", ErrUnexpectedSize, t.Size, limit)}
	}
	a := &assembly{
		target:        t,
		lastRequested: -1,
		landed:        roaring.New(),
		lengths:       make([]int64, len(t.Pieces)),
	}
	if len(t.Pieces) > 1 {
		a.buf = buffer{kind: BufferAllocated, data: make([]byte, t.Size)}
	}
	return a, nil
}

func (a *assembly) pieceName(index int) string {
	if index >= 0 && index < len(a.target.Pieces) {
		return a.target.Pieces[index].Name
	}
	return fmt.Sprintf("#%d", index)
}

func (a *assembly) fault(index int, err error) error {
	return &Fault{Target: a.target.Name, Piece: a.pieceName(index), Err: err}
}

// claim records that piece index is about to be requested. Requests must be
// issued one index at a time in ascending order.
func (a *assembly) claim(index int) error {
	switch {
	case index <= a.lastRequested:
		return a.fault(index, fmt.Errorf("%w: index %d, last requested %d", ErrOutOfOrder, index, a.lastRequested))
	case index >= len(a.target.Pieces):
		return a.fault(index, fmt.Errorf("%w: index %d of %d", ErrPieceIndex, index, len(a.target.Pieces)))
	case index > a.lastRequested+1:
		return a.fault(index, fmt.Errorf("%w: index %d, last requested %d", ErrPieceSkipped, index, a.lastRequested))
	}
	a.lastRequested = index
	return nil
}

// nextUnrequested is the index the sliding window issues next, or -1.
func (a *assembly) nextUnrequested() int {
	next := a.lastRequested + 1
	if next < len(a.target.Pieces) {
		return next
	}
	return -1
}

// copyIn places a landed piece into the target buffer at its declared offset.
func (a *assembly) copyIn(index int, data []byte) error {
	if index < 0 || index >= len(a.target.Pieces) {
		return a.fault(index, ErrPieceIndex)
	}
	if index > a.lastRequested {
		return a.fault(index, fmt.Errorf("%w: index %d was never requested", ErrPieceSkipped, index))
	}
	if a.landed.Contains(uint32(index)) {
		return a.fault(index, ErrDuplicatePiece)
	}
	if a.buf.kind == BufferAllocated {
		start := a.target.Pieces[index].Offset
		size := int64(len(a.buf.data))
		n := int64(len(data))
		if start < 0 {
			return a.fault(index, fmt.Errorf("%w: offset %d", ErrBufferUnderflow, start))
		}
		if start > size || n > size-start {
			return a.fault(index, fmt.Errorf("%w: %d bytes at offset %d exceed buffer length %d", ErrBufferOverflow, n, start, size))
		}
		copy(a.buf.data[start:start+n], data)
	} else {
		a.buf = buffer{kind: BufferAdopted, data: data}
	}
	a.lengths[index] = int64(len(data))
	a.landed.Add(uint32(index))
	return nil
}

func (a *assembly) loaded() int {
	return int(a.landed.GetCardinality())
}

func (a *assembly) complete() bool {
	return a.loaded() == len(a.target.Pieces)
}

// finalize checks size conservation and piece ordering, then hands the
// buffer out. The assembly keeps no reference to the returned bytes.
func (a *assembly) finalize() ([]byte, error) {
	var actual int64
	for _, n := range a.lengths {
		actual += n
	}
	if actual != a.target.Size {
		return nil, &Fault{Target: a.target.Name, Err: fmt.Errorf("%w: declared %d bytes, received %d", ErrUnexpectedSize, a.target.Size, actual)}
	}

	var data []byte
	switch a.buf.kind {
	case BufferAllocated:
		if err := a.checkSegments(); err != nil {
			return nil, err
		}
		data = a.buf.data
	case BufferAdopted:
		data = a.buf.data
	default:
		// Only a target without pieces finalizes unallocated.
		data = []byte{}
	}
	a.buf = buffer{}
	return data, nil
}

// checkSegments verifies that every piece ends at or before the start of
// the next one. Gaps are rejected by the size check and the buffer bounds.
func (a *assembly) checkSegments() error {
	pieces := a.target.Pieces
	for i := range pieces {
		start := pieces[i].Offset
		if i > 0 {
			prev := pieces[i-1]
			if overruns(prev.Offset, a.lengths[i-1], start) {
				return a.fault(i, fmt.Errorf("%w: previous piece at %d (%d bytes) runs past %d", ErrSegmentUnderflow, prev.Offset, a.lengths[i-1], start))
			}
		}
		if i < len(pieces)-1 {
			if next := pieces[i+1]; overruns(start, a.lengths[i], next.Offset) {
				return a.fault(i, fmt.Errorf("%w: piece at %d (%d bytes) runs past next start %d", ErrSegmentOverflow, start, a.lengths[i], next.Offset))
			}
		}
	}
	return nil
}

// overruns reports whether n bytes at offset reach past limit, without
// computing offset+n.
func overruns(offset, n, limit int64) bool {
	if offset > limit {
		return true
	}
	return n > limit-offset
}
