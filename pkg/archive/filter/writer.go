package filter

import (
	"io"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/mholt/archives"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/sorairolake/lzip-go"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

const brotliDefaultQuality = 6

var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1,
	lz4.Level2,
	lz4.Level3,
	lz4.Level4,
	lz4.Level5,
	lz4.Level6,
	lz4.Level7,
	lz4.Level8,
	lz4.Level9,
}

// NewWriter wraps sink with a compressing writer of the given kind. Closing
// the returned writer flushes the filter trailer but never closes sink.
func NewWriter(sink io.Writer, k Kind, opts Options) (io.WriteCloser, error) {
	if !k.Valid() {
		return nil, archtype.Errorf(archtype.CodeUnsupportedFilter, "open filter", "unknown filter %d", uint8(k))
	}
	if err := opts.Validate(k); err != nil {
		return nil, err
	}
	w, err := newWriter(sink, k, opts)
	if err != nil {
		return nil, archtype.Wrap(archtype.CodeOpenFailed, "open "+k.String()+" writer", err)
	}
	return w, nil
}

func newWriter(sink io.Writer, k Kind, opts Options) (io.WriteCloser, error) {
	switch k {
	case None:
		return nopWriteCloser{sink}, nil
	case Gzip:
		level := opts.int(OptionLevel, gzip.DefaultCompression)
		if threads := opts.int(OptionThreads, 1); threads > 1 {
			pw, err := pgzip.NewWriterLevel(sink, level)
			if err != nil {
				return nil, err
			}
			if err := pw.SetConcurrency(1<<20, threads); err != nil {
				return nil, err
			}
			return pw, nil
		}
		return gzip.NewWriterLevel(sink, level)
	case Bzip2:
		return bzip2.NewWriter(sink, &bzip2.WriterConfig{
			Level: opts.int(OptionLevel, bzip2.DefaultCompression),
		})
	case Xz:
		if opts.has(OptionDictSize) {
			return xz.WriterConfig{DictCap: opts.int(OptionDictSize, 0)}.NewWriter(sink)
		}
		return xz.NewWriter(sink)
	case Lzma:
		if opts.has(OptionDictSize) {
			return lzma.WriterConfig{DictCap: opts.int(OptionDictSize, 0)}.NewWriter(sink)
		}
		return lzma.NewWriter(sink)
	case Zstd:
		zopts := []zstd.EOption{
			zstd.WithEncoderConcurrency(opts.int(OptionThreads, 1)),
		}
		if opts.has(OptionLevel) {
			zopts = append(zopts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.int(OptionLevel, 3))))
		}
		return zstd.NewWriter(sink, zopts...)
	case Lz4:
		lw := lz4.NewWriter(sink)
		lopts := []lz4.Option{
			lz4.ConcurrencyOption(opts.int(OptionThreads, 1)),
		}
		if opts.has(OptionLevel) {
			lopts = append(lopts, lz4.CompressionLevelOption(lz4Levels[opts.int(OptionLevel, 0)]))
		}
		if err := lw.Apply(lopts...); err != nil {
			return nil, err
		}
		return lw, nil
	case Lzip:
		if opts.has(OptionDictSize) {
			return lzip.NewWriterOptions(sink, &lzip.WriterOptions{
				DictSize: uint32(opts.int(OptionDictSize, lzip.DefaultDictSize)),
			})
		}
		return lzip.NewWriter(sink), nil
	case Brotli:
		return archives.Brotli{Quality: opts.int(OptionLevel, brotliDefaultQuality)}.OpenWriter(sink)
	case MinLZ:
		return archives.MinLZ{}.OpenWriter(sink)
	}
	return nil, errors.Errorf("filter %s has no writer", k)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
