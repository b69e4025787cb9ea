package filter

import (
	"io"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/mholt/archives"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/sorairolake/lzip-go"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// NewReader wraps source with a decompressing reader of the given kind.
// Closing the returned reader releases decoder resources but never closes
// source.
func NewReader(source io.Reader, k Kind) (io.ReadCloser, error) {
	if !k.Valid() {
		return nil, archtype.Errorf(archtype.CodeUnsupportedFilter, "open filter", "unknown filter %d", uint8(k))
	}
	r, err := newReader(source, k)
	if err != nil {
		return nil, archtype.Wrap(archtype.CodeUnsupportedFilter, "open "+k.String()+" reader", err)
	}
	return r, nil
}

func newReader(source io.Reader, k Kind) (io.ReadCloser, error) {
	switch k {
	case None:
		return io.NopCloser(source), nil
	case Gzip:
		return gzip.NewReader(source)
	case Bzip2:
		return bzip2.NewReader(source, nil)
	case Xz:
		xr, err := xz.NewReader(source)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case Lzma:
		lr, err := lzma.NewReader(source)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(lr), nil
	case Zstd:
		zr, err := zstd.NewReader(source)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case Lz4:
		return io.NopCloser(readOnly{lz4.NewReader(source)}), nil
	case Lzip:
		lr, err := lzip.NewReader(source)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(lr), nil
	case Brotli:
		return archives.Brotli{}.OpenReader(source)
	case MinLZ:
		mr, err := archives.MinLZ{}.OpenReader(source)
		if err != nil {
			return nil, err
		}
		return readCloser{readOnly{mr}, mr}, nil
	}
	return nil, errors.Errorf("filter %s has no reader", k)
}

// readOnly hides WriteTo. The lz4 and minlz decoders do not support WriteTo
// once Read has been called on them.
type readOnly struct {
	io.Reader
}

type readCloser struct {
	io.Reader
	io.Closer
}
