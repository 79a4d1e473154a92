package combine

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/tanq16/stitch/internal/manifest"
)

func claimAll(t *testing.T, a *assembly) {
	t.Helper()
	for i := range a.target.Pieces {
		if err := a.claim(i); err != nil {
			t.Fatalf("claim(%d): %v", i, err)
		}
	}
}

func TestSinglePieceAdoptsPayload(t *testing.T) {
	target := &manifest.Target{Name: "game.data", Size: 5, Pieces: []manifest.Piece{{Name: "game.data0", Offset: 0}}}
	a, err := newAssembly(target, 0)
	if err != nil {
		t.Fatal(err)
	}
	if a.buf.kind != BufferUnallocated {
		t.Fatalf("buffer kind = %s, want unallocated", a.buf.kind)
	}
	claimAll(t, a)
	payload := []byte("hello")
	if err := a.copyIn(0, payload); err != nil {
		t.Fatal(err)
	}
	if a.buf.kind != BufferAdopted {
		t.Fatalf("buffer kind = %s, want adopted", a.buf.kind)
	}
	got, err := a.finalize()
	if err != nil {
		t.Fatal(err)
	}
	if &got[0] != &payload[0] {
		t.Error("single piece target copied its payload")
	}
}

func TestTilingPiecesConcatenate(t *testing.T) {
	target := &manifest.Target{Name: "t", Size: 9, Pieces: []manifest.Piece{
		{Name: "a", Offset: 0}, {Name: "b", Offset: 3}, {Name: "c", Offset: 6},
	}}
	a, err := newAssembly(target, 0)
	if err != nil {
		t.Fatal(err)
	}
	if a.buf.kind != BufferAllocated || len(a.buf.data) != 9 {
		t.Fatalf("expected a 9 byte allocated buffer, got %s/%d", a.buf.kind, len(a.buf.data))
	}
	claimAll(t, a)
	// Arrival order differs from request order.
	for _, i := range []int{2, 0, 1} {
		if err := a.copyIn(i, bytes.Repeat([]byte{byte('a' + i)}, 3)); err != nil {
			t.Fatalf("copyIn(%d): %v", i, err)
		}
	}
	if !a.complete() {
		t.Fatal("assembly should be complete")
	}
	got, err := a.finalize()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "aaabbbccc" {
		t.Errorf("got %q", got)
	}
}

func TestSizeMismatchIsIntegrityFault(t *testing.T) {
	target := &manifest.Target{Name: "t", Size: 100, Pieces: []manifest.Piece{{Name: "a", Offset: 0}, {Name: "b", Offset: 50}}}
	a, _ := newAssembly(target, 0)
	claimAll(t, a)
	if err := a.copyIn(0, make([]byte, 50)); err != nil {
		t.Fatal(err)
	}
	if err := a.copyIn(1, make([]byte, 40)); err != nil {
		t.Fatal(err)
	}
	_, err := a.finalize()
	if !errors.Is(err, ErrUnexpectedSize) || !errors.Is(err, ErrIntegrity) {
		t.Fatalf("got %v, want unexpected size integrity fault", err)
	}
	var fault *Fault
	if !errors.As(err, &fault) || fault.Target != "t" {
		t.Errorf("fault does not name the target: %v", err)
	}
}

func TestCopyBeyondBufferIsBoundsFault(t *testing.T) {
	target := &manifest.Target{Name: "t", Size: 10, Pieces: []manifest.Piece{{Name: "a", Offset: 0}, {Name: "b", Offset: 5}}}
	a, _ := newAssembly(target, 0)
	claimAll(t, a)
	err := a.copyIn(1, make([]byte, 6))
	if !errors.Is(err, ErrBufferOverflow) || !errors.Is(err, ErrBounds) {
		t.Fatalf("got %v, want buffer overflow", err)
	}
	if a.complete() {
		t.Error("target must not be complete after a rejected copy")
	}
}

func TestNegativeOffsetIsBoundsFault(t *testing.T) {
	target := &manifest.Target{Name: "t", Size: 10, Pieces: []manifest.Piece{{Name: "a", Offset: -1}, {Name: "b", Offset: 5}}}
	a, _ := newAssembly(target, 0)
	claimAll(t, a)
	if err := a.copyIn(0, make([]byte, 2)); !errors.Is(err, ErrBufferUnderflow) {
		t.Fatalf("got %v, want buffer underflow", err)
	}
}

func TestClaimSequencing(t *testing.T) {
	target := &manifest.Target{Name: "t", Size: 3, Pieces: []manifest.Piece{{Name: "a"}, {Name: "b", Offset: 1}, {Name: "c", Offset: 2}}}
	a, _ := newAssembly(target, 0)

	if err := a.claim(1); !errors.Is(err, ErrPieceSkipped) || !errors.Is(err, ErrSequence) {
		t.Fatalf("claim(1) before claim(0): got %v", err)
	}
	if err := a.claim(0); err != nil {
		t.Fatal(err)
	}
	if err := a.claim(0); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("claim(0) twice: got %v", err)
	}
	if err := a.claim(1); err != nil {
		t.Fatal(err)
	}
	if err := a.claim(0); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("claim(0) after claim(1): got %v", err)
	}
	if err := a.claim(5); !errors.Is(err, ErrPieceIndex) {
		t.Fatalf("claim(5): got %v", err)
	}
	if a.nextUnrequested() != 2 {
		t.Errorf("next unrequested = %d, want 2", a.nextUnrequested())
	}
}

func TestCopyInRejectsUnrequestedAndDuplicate(t *testing.T) {
	target := &manifest.Target{Name: "t", Size: 2, Pieces: []manifest.Piece{{Name: "a"}, {Name: "b", Offset: 1}}}
	a, _ := newAssembly(target, 0)
	if err := a.claim(0); err != nil {
		t.Fatal(err)
	}
	if err := a.copyIn(1, []byte{1}); !errors.Is(err, ErrPieceSkipped) {
		t.Fatalf("unrequested copy: got %v", err)
	}
	if err := a.copyIn(0, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := a.copyIn(0, []byte{1}); !errors.Is(err, ErrDuplicatePiece) {
		t.Fatalf("duplicate copy: got %v", err)
	}
}

func TestSegmentChecks(t *testing.T) {
	tests := []struct {
		name    string
		offsets []int64
		lengths []int
		want    error
	}{
		// Piece 0 spills into piece 1; the total still matches the size.
		{"overlap into next", []int64{0, 2, 6}, []int{3, 3, 2}, ErrSegmentOverflow},
		{"last pair overlap", []int64{0, 4, 6}, []int{4, 3, 1}, ErrSegmentOverflow},
		{"exact tiling", []int64{0, 3, 6}, []int{3, 3, 2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var size int64
			pieces := make([]manifest.Piece, len(tt.offsets))
			for i, off := range tt.offsets {
				pieces[i] = manifest.Piece{Name: string(rune('a' + i)), Offset: off}
				size += int64(tt.lengths[i])
			}
			target := &manifest.Target{Name: "t", Size: size, Pieces: pieces}
			a, _ := newAssembly(target, 0)
			claimAll(t, a)
			for i, n := range tt.lengths {
				if err := a.copyIn(i, make([]byte, n)); err != nil {
					t.Fatalf("copyIn(%d): %v", i, err)
				}
			}
			_, err := a.finalize()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) || !errors.Is(err, ErrIntegrity) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDescendingOffsetsFailFinalize(t *testing.T) {
	// Piece 1 starts before piece 0 ends.
	target := &manifest.Target{Name: "t", Size: 4, Pieces: []manifest.Piece{{Name: "a", Offset: 2}, {Name: "b", Offset: 0}}}
	a, _ := newAssembly(target, 0)
	claimAll(t, a)
	if err := a.copyIn(0, make([]byte, 2)); err != nil {
		t.Fatal(err)
	}
	if err := a.copyIn(1, make([]byte, 2)); err != nil {
		t.Fatal(err)
	}
	_, err := a.finalize()
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("got %v, want integrity fault", err)
	}
}

func TestZeroPieceTarget(t *testing.T) {
	a, err := newAssembly(&manifest.Target{Name: "empty"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !a.complete() {
		t.Fatal("zero piece target should be complete")
	}
	got, err := a.finalize()
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("finalize = %v, %v", got, err)
	}
}

func TestHugeOffsetIsBoundsFault(t *testing.T) {
	target := &manifest.Target{Name: "t", Size: 4, Pieces: []manifest.Piece{{Name: "a", Offset: 0}, {Name: "b", Offset: math.MaxInt64}}}
	a, err := newAssembly(target, 0)
	if err != nil {
		t.Fatal(err)
	}
	claimAll(t, a)
	if err := a.copyIn(1, []byte{1, 2}); !errors.Is(err, ErrBufferOverflow) || !errors.Is(err, ErrBounds) {
		t.Fatalf("got %v, want buffer overflow", err)
	}
	if err := a.copyIn(0, []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if a.complete() {
		t.Error("target must not be complete after a rejected copy")
	}
}

func TestOverrunsDoesNotOverflow(t *testing.T) {
	tests := []struct {
		offset, n, limit int64
		want             bool
	}{
		{0, 3, 3, false},
		{0, 4, 3, true},
		{5, 0, 3, true},
		{math.MaxInt64 - 1, 2, math.MaxInt64, true},
		{1, math.MaxInt64, math.MaxInt64, true},
		{1, math.MaxInt64 - 1, math.MaxInt64, false},
	}
	for _, tt := range tests {
		if got := overruns(tt.offset, tt.n, tt.limit); got != tt.want {
			t.Errorf("overruns(%d, %d, %d) = %v, want %v", tt.offset, tt.n, tt.limit, got, tt.want)
		}
	}
}

func TestOversizedTargetRejectedBeforeAllocation(t *testing.T) {
	pieces := []manifest.Piece{{Name: "a", Offset: 0}, {Name: "b", Offset: 1}}
	tests := []struct {
		name  string
		size  int64
		limit int64
	}{
		{"max int64 with default limit", math.MaxInt64, 0},
		{"above configured limit", 1025, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newAssembly(&manifest.Target{Name: "big", Size: tt.size, Pieces: pieces}, tt.limit)
			if !errors.Is(err, ErrUnexpectedSize) || !errors.Is(err, ErrIntegrity) {
				t.Fatalf("got %v, want unexpected size fault", err)
			}
			var fault *Fault
			if !errors.As(err, &fault) || fault.Target != "big" {
				t.Errorf("fault does not name the target: %v", err)
			}
		})
	}
	if _, err := newAssembly(&manifest.Target{Name: "ok", Size: 1024, Pieces: pieces}, 1024); err != nil {
		t.Errorf("size at the limit rejected: %v", err)
	}
}
