package combine

import (
	"errors"
	"fmt"
)

// Fault classes. Every fault returned by Process wraps exactly one of them.
var (
	ErrProtocol  = errors.New("protocol fault")
	ErrSequence  = errors.New("sequencing fault")
	ErrBounds    = errors.New("bounds fault")
	ErrIntegrity = errors.New("integrity fault")
	ErrTransport = errors.New("transport fault")
)

var (
	ErrOutOfOrder     = fmt.Errorf("%w: request out of order", ErrSequence)
	ErrPieceSkipped   = fmt.Errorf("%w: piece requested before its predecessor", ErrSequence)
	ErrPieceIndex     = fmt.Errorf("%w: piece index out of range", ErrSequence)
	ErrDuplicatePiece = fmt.Errorf("%w: piece delivered twice", ErrSequence)

	ErrBufferUnderflow = fmt.Errorf("%w: buffer underflow", ErrBounds)
	ErrBufferOverflow  = fmt.Errorf("%w: buffer overflow", ErrBounds)

	ErrUnexpectedSize   = fmt.Errorf("%w: unexpected data size", ErrIntegrity)
	ErrSegmentUnderflow = fmt.Errorf("%w: segment underflow", ErrIntegrity)
	ErrSegmentOverflow  = fmt.Errorf("%w: segment overflow", ErrIntegrity)
)

var (
	ErrInvalidListener = errors.New("combine: invalid callback registration")
	ErrBusy            = errors.New("combine: a run is already in progress")
	ErrDiscarded       = errors.New("combine: run discarded by cleanup")
)

// Fault attaches the target and piece a failure was detected on.
type Fault struct {
	Target string
	Piece  string
	Err    error
}

func (f *Fault) Error() string {
	switch {
	case f.Piece != "":
		return fmt.Sprintf("target %s, piece %s: %v", f.Target, f.Piece, f.Err)
	case f.Target != "":
		return fmt.Sprintf("target %s: %v", f.Target, f.Err)
	default:
		return f.Err.Error()
	}
}

func (f *Fault) Unwrap() error {
	return f.Err
}
