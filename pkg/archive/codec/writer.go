package codec

import (
	"github.com/crazy-max/archivist/internal/archtype"
)

const padChunkSize = 32 << 10

// Writer drives an Encoder.
//
// Call sequence errors fail fast with InvalidState and leave the state
// unchanged. A body is never allowed to grow past its declared size; a body
// that ends short is padded with zeros by FinishEntry, which then reports
// SizeMismatch.
type Writer struct {
	enc     Encoder
	state   State
	entry   *archtype.Entry
	written int64
	err     error
}

// NewWriter returns a driver ready for the first header.
func NewWriter(enc Encoder) *Writer {
	return &Writer{
		enc:   enc,
		state: StateHeaderExpected,
	}
}

// State returns the current state.
func (w *Writer) State() State {
	return w.state
}

// Err returns the error that made the writer fail, if any.
func (w *Writer) Err() error {
	return w.err
}

// SetPassphrase sets the passphrase protecting the members written next.
func (w *Writer) SetPassphrase(passphrase string) error {
	if err := w.check("set passphrase"); err != nil {
		return err
	}
	ps, ok := w.enc.(PassphraseSetter)
	if !ok {
		return archtype.Errorf(archtype.CodeUnsupportedFormat, "set passphrase", "format does not support encryption")
	}
	return ps.SetPassphrase(passphrase)
}

// WriteHeader starts a new member.
func (w *Writer) WriteHeader(e *archtype.Entry) error {
	if err := w.check("write header"); err != nil {
		return err
	}
	if w.state == StateBodyStreaming {
		return archtype.Errorf(archtype.CodeInvalidState, "write header", "entry %q is not finished", w.entry.Path)
	}
	if err := validateEntry(e); err != nil {
		return err
	}

	ne := e.Clone()
	ne.Normalize()
	if err := w.enc.WriteHeader(ne); err != nil {
		if archtype.CodeOf(err) == archtype.CodeIOError {
			return w.fail(err)
		}
		return archtype.WrapPath(archtype.CodeCorruptHeader, "write header", ne.Path, err)
	}
	w.entry = ne
	w.written = 0
	if ne.HasBody() {
		w.state = StateBodyStreaming
	} else {
		w.state = StateHeaderExpected
	}
	return nil
}

func validateEntry(e *archtype.Entry) error {
	switch {
	case e == nil:
		return archtype.Errorf(archtype.CodeInvalidState, "write header", "nil entry")
	case e.Path == "":
		return archtype.Errorf(archtype.CodeInvalidState, "write header", "entry has no path")
	case e.Kind < archtype.KindFile || e.Kind > archtype.KindSpecial:
		return archtype.Errorf(archtype.CodeInvalidState, "write header", "entry %q has no valid kind", e.Path)
	case e.Kind == archtype.KindFile && e.Size < 0:
		return archtype.Errorf(archtype.CodeSizeMismatch, "write header", "entry %q has negative size %d", e.Path, e.Size)
	case (e.Kind == archtype.KindSymlink || e.Kind == archtype.KindHardLink) && e.LinkTarget == "":
		return archtype.Errorf(archtype.CodeInvalidState, "write header", "%s %q has no target", e.Kind, e.Path)
	}
	return nil
}

// WriteBodyChunk appends p to the current body. Bytes past the declared size
// are rejected with SizeMismatch; the returned count tells how many were
// accepted.
func (w *Writer) WriteBodyChunk(p []byte) (int, error) {
	if err := w.check("write body"); err != nil {
		return 0, err
	}
	if w.state != StateBodyStreaming {
		return 0, archtype.Errorf(archtype.CodeInvalidState, "write body", "no entry body in progress")
	}

	room := w.entry.Size - w.written
	over := int64(len(p)) > room
	if over {
		p = p[:room]
	}
	n, err := w.enc.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, w.fail(archtype.WrapIO("write body", err))
	}
	if over {
		return n, archtype.Errorf(archtype.CodeSizeMismatch, "write body",
			"%s: write exceeds declared size %d", w.entry.Path, w.entry.Size)
	}
	return n, nil
}

// FinishEntry completes the current body.
func (w *Writer) FinishEntry() error {
	if err := w.check("finish entry"); err != nil {
		return err
	}
	if w.state != StateBodyStreaming {
		return archtype.Errorf(archtype.CodeInvalidState, "finish entry", "no entry body in progress")
	}

	missing := w.entry.Size - w.written
	if missing > 0 {
		if err := w.pad(missing); err != nil {
			return w.fail(err)
		}
	}
	if err := w.enc.FinishEntry(); err != nil {
		return w.fail(archtype.WrapIO("finish entry", err))
	}
	w.state = StateHeaderExpected
	if missing > 0 {
		return archtype.Errorf(archtype.CodeSizeMismatch, "finish entry",
			"%s: wrote %d of %d declared bytes", w.entry.Path, w.entry.Size-missing, w.entry.Size)
	}
	return nil
}

func (w *Writer) pad(n int64) error {
	zeros := make([]byte, min(n, padChunkSize))
	for n > 0 {
		c := min(n, int64(len(zeros)))
		if _, err := w.enc.Write(zeros[:c]); err != nil {
			return archtype.WrapIO("pad body", err)
		}
		n -= c
	}
	return nil
}

// Close finishes a body left in progress and writes the format trailer. A
// second Close is a no-op.
func (w *Writer) Close() error {
	if w.state == StateClosed {
		return nil
	}
	var finishErr error
	if w.state == StateBodyStreaming {
		finishErr = w.FinishEntry()
	}
	if w.state == StateFailed {
		w.state = StateClosed
		return w.err
	}
	w.state = StateClosed
	if err := w.enc.Close(); err != nil {
		return archtype.WrapIO("write trailer", err)
	}
	return finishErr
}

func (w *Writer) check(op string) error {
	switch w.state {
	case StateClosed:
		return archtype.Errorf(archtype.CodeInvalidState, op, "writer is closed")
	case StateFailed:
		return w.err
	}
	return nil
}

func (w *Writer) fail(err error) error {
	w.state = StateFailed
	w.err = err
	return err
}
