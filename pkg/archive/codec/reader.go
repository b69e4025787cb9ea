package codec

import (
	"io"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/pkg/errors"
)

// State is the position of a driver in the codec state machine.
type State uint8

const (
	StateInitial State = iota
	StateHeaderExpected
	StateBodyStreaming
	StateExhausted
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateHeaderExpected:
		return "header-expected"
	case StateBodyStreaming:
		return "body-streaming"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reader drives a Decoder.
type Reader struct {
	dec       Decoder
	state     State
	entry     *archtype.Entry
	remaining int64
	err       error
}

// NewReader returns a driver positioned before the first header.
func NewReader(dec Decoder) *Reader {
	return &Reader{
		dec:   dec,
		state: StateHeaderExpected,
	}
}

// State returns the current state.
func (r *Reader) State() State {
	return r.state
}

// Err returns the error that made the reader fail, if any.
func (r *Reader) Err() error {
	return r.err
}

// ReadNextHeader advances to the next member. A body left unread is
// discarded. It returns io.EOF at the end of the archive, and keeps doing so
// on later calls.
func (r *Reader) ReadNextHeader() (*archtype.Entry, error) {
	switch r.state {
	case StateFailed:
		return nil, r.err
	case StateExhausted:
		return nil, io.EOF
	case StateClosed:
		return nil, archtype.Errorf(archtype.CodeInvalidState, "read header", "reader is closed")
	}

	r.entry = nil
	r.remaining = 0
	e, err := r.dec.Next()
	if errors.Is(err, io.EOF) {
		r.state = StateExhausted
		return nil, io.EOF
	} else if err != nil {
		err = archtype.Wrap(archtype.CodeCorruptHeader, "read header", err)
		if archtype.CodeOf(err) == archtype.CodeDecryptionFailed {
			// Another passphrase may still unlock this member.
			r.state = StateHeaderExpected
			return nil, err
		}
		return nil, r.fail(err)
	}

	e.Normalize()
	r.entry = e
	if e.HasBody() {
		r.state = StateBodyStreaming
		r.remaining = e.Size
	} else {
		r.state = StateHeaderExpected
	}
	return e, nil
}

// ReadBodyChunk reads up to len(p) bytes of the current body. It returns
// io.EOF once the declared size has been delivered, and for members without
// a body.
func (r *Reader) ReadBodyChunk(p []byte) (int, error) {
	switch r.state {
	case StateFailed:
		return 0, r.err
	case StateInitial, StateClosed:
		return 0, archtype.Errorf(archtype.CodeInvalidState, "read body", "no current entry")
	case StateHeaderExpected, StateExhausted:
		if r.entry == nil && r.state == StateExhausted {
			return 0, io.EOF
		}
		if r.entry == nil {
			return 0, archtype.Errorf(archtype.CodeInvalidState, "read body", "no current entry")
		}
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.dec.Read(p)
	r.remaining -= int64(n)
	if archtype.CodeOf(err) == 0 && errors.Is(err, io.ErrUnexpectedEOF) {
		// The stream ended inside the body; nothing after it can be read.
		return n, r.fail(archtype.WrapPath(archtype.CodeCorruptData, "read body", r.entry.Path, err))
	} else if err != nil && !errors.Is(err, io.EOF) {
		r.state = StateHeaderExpected
		return n, archtype.WrapPath(archtype.CodeCorruptData, "read body", r.entry.Path, err)
	}
	if errors.Is(err, io.EOF) && r.remaining > 0 {
		return n, r.fail(archtype.Errorf(archtype.CodeCorruptData, "read body",
			"%s: body truncated, %d bytes missing", r.entry.Path, r.remaining))
	}
	if r.remaining == 0 {
		r.state = StateHeaderExpected
		if err := r.verifyEnd(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// verifyEnd reads past the declared size so the decoder checks integrity
// trailers such as CRCs.
func (r *Reader) verifyEnd() error {
	var scratch [1]byte
	n, err := r.dec.Read(scratch[:])
	if n > 0 {
		return archtype.Errorf(archtype.CodeSizeMismatch, "read body", "%s: body longer than declared size %d", r.entry.Path, r.entry.Size)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return archtype.WrapPath(archtype.CodeCorruptData, "read body", r.entry.Path, err)
	}
	return nil
}

// SkipBody abandons the rest of the current body.
func (r *Reader) SkipBody() error {
	switch r.state {
	case StateFailed:
		return r.err
	case StateInitial, StateClosed:
		return archtype.Errorf(archtype.CodeInvalidState, "skip body", "no current entry")
	case StateBodyStreaming:
		r.state = StateHeaderExpected
		r.remaining = 0
	}
	return nil
}

// Close releases the decoder. Further calls fail with InvalidState.
func (r *Reader) Close() error {
	if r.state == StateClosed {
		return nil
	}
	r.state = StateClosed
	r.entry = nil
	return archtype.Wrap(archtype.CodeIOError, "close decoder", r.dec.Close())
}

func (r *Reader) fail(err error) error {
	r.state = StateFailed
	r.err = err
	return err
}
