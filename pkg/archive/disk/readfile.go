package disk

import (
	"bytes"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/crazy-max/archivist/pkg/archive"
	"github.com/pkg/errors"
)

// ReadFile returns the body of the member named name in the archive read
// from source. source is closed when it is an io.Closer.
func ReadFile(source io.Reader, name string, opts ...Option) ([]byte, error) {
	o := newOptions(opts)
	r, err := archive.OpenReader(source, o.readerOptions()...)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := CopyEntry(&buf, r, name); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CopyEntry advances r to the member named name and copies its body to w.
// Symlinks and hard links are not followed. The error matches fs.ErrNotExist
// when no member has that name.
func CopyEntry(w io.Writer, r *archive.Reader, name string) (int64, error) {
	want := cleanName(name)
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return 0, archtype.WrapPath(archtype.CodeOpenFailed, "read file", name, fs.ErrNotExist)
		} else if err != nil {
			return 0, err
		}
		if cleanName(e.Path) != want {
			continue
		}
		if !e.IsFile() {
			return 0, archtype.Errorf(archtype.CodeOpenFailed, "read file", "%s is a %s, not a file", name, e.Kind)
		}
		return io.Copy(w, r)
	}
}

func cleanName(name string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(name, "./")), "/")
}
