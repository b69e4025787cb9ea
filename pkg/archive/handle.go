package archive

import (
	"fmt"
	"strings"

	"github.com/crazy-max/archivist/internal/archtype"
)

// Handle is implemented by *Reader and *Writer only.
type Handle interface {
	// Err returns the last error reported by the handle, or nil.
	Err() error

	// ErrorString returns the message of Err, or an empty string.
	ErrorString() string

	// Errno returns the OS error code carried by Err, or 0.
	Errno() int

	// FormatName returns the container format name.
	FormatName() string

	// FilterNames returns the filter chain names, "none" when there is none.
	FilterNames() []string

	Close() error

	handle()
}

var (
	_ Handle = (*Reader)(nil)
	_ Handle = (*Writer)(nil)
)

func (r *Reader) handle() {}
func (w *Writer) handle() {}

func (r *Reader) Err() error { return r.lastErr }
func (w *Writer) Err() error { return w.lastErr }

func (r *Reader) ErrorString() string { return errorString(r.lastErr) }
func (w *Writer) ErrorString() string { return errorString(w.lastErr) }

func (r *Reader) Errno() int { return archtype.ErrnoOf(r.lastErr) }
func (w *Writer) Errno() int { return archtype.ErrnoOf(w.lastErr) }

func (r *Reader) FormatName() string { return r.format.String() }
func (w *Writer) FormatName() string { return w.format.String() }

func (r *Reader) FilterNames() []string { return r.Filters().Names() }
func (w *Writer) FilterNames() []string { return w.chain.Names() }

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Describe summarizes a handle, e.g. "tar reader (gzip): <last error>".
func Describe(h Handle) string {
	var kind string
	switch h.(type) {
	case *Reader:
		kind = "reader"
	case *Writer:
		kind = "writer"
	}
	s := fmt.Sprintf("%s %s (%s)", h.FormatName(), kind, strings.Join(h.FilterNames(), ","))
	if msg := h.ErrorString(); msg != "" {
		s += ": " + msg
	}
	return s
}
