package codec

import (
	"io"
	"os"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/hashicorp/go-multierror"
)

// spool copies r into a temporary file in dir so it can be read at random.
func spool(r io.Reader, dir string) (*os.File, int64, error) {
	f, err := os.CreateTemp(dir, "archivist-*.spool")
	if err != nil {
		return nil, 0, archtype.Wrap(archtype.CodeIOError, "create spool file", err)
	}
	// Only Read is used: some decoders misbehave in WriteTo after a Read.
	n, err := io.Copy(f, struct{ io.Reader }{r})
	if err != nil {
		_ = removeSpool(f)
		return nil, 0, archtype.WrapIO("spool archive", err)
	}
	return f, n, nil
}

func removeSpool(f *os.File) error {
	var result *multierror.Error
	if err := f.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := os.Remove(f.Name()); err != nil {
		result = multierror.Append(result, err)
	}
	return archtype.Wrap(archtype.CodeIOError, "remove spool file", result.ErrorOrNil())
}
