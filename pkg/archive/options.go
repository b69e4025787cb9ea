package archive

import (
	"maps"

	"github.com/crazy-max/archivist/pkg/archive/filter"
	"github.com/rs/zerolog"
)

type readerOptions struct {
	chain       filter.Chain
	explicit    bool
	format      Format
	passphrases []string
	blockSize   int
	holes       bool
	tempDir     string
	logger      zerolog.Logger
}

func defaultReaderOptions() readerOptions {
	return readerOptions{
		blockSize: DefaultBlockSize,
		holes:     true,
		logger:    zerolog.Nop(),
	}
}

// ReaderOption configures a Reader.
type ReaderOption func(*readerOptions)

// WithFilters disables filter auto-detection and inverts the given chain,
// listed in writer order. An empty chain means the source is not
// compressed.
func WithFilters(chain ...filter.Kind) ReaderOption {
	return func(o *readerOptions) {
		o.chain = filter.Chain(chain).Compact()
		o.explicit = true
	}
}

// WithFormat disables format detection.
func WithFormat(f Format) ReaderOption {
	return func(o *readerOptions) {
		o.format = f
	}
}

// WithPassphrase adds a passphrase tried on encrypted members.
func WithPassphrase(passphrase string) ReaderOption {
	return func(o *readerOptions) {
		if passphrase != "" {
			o.passphrases = append(o.passphrases, passphrase)
		}
	}
}

// WithBlockSize sets the maximum size of the blocks returned by ReadBlock.
func WithBlockSize(size int) ReaderOption {
	return func(o *readerOptions) {
		if size > 0 {
			o.blockSize = size
		}
	}
}

// WithHoles controls whether ReadBlock reports all-zero blocks as holes.
// It is enabled by default.
func WithHoles(enabled bool) ReaderOption {
	return func(o *readerOptions) {
		o.holes = enabled
	}
}

// WithTempDir sets where streaming zip sources are spooled.
func WithTempDir(dir string) ReaderOption {
	return func(o *readerOptions) {
		o.tempDir = dir
	}
}

// WithLogger sets the logger of a Reader.
func WithLogger(logger zerolog.Logger) ReaderOption {
	return func(o *readerOptions) {
		o.logger = logger
	}
}

type writerOptions struct {
	filterOpts map[filter.Kind]filter.Options
	formatOpts map[string]string
	passphrase string
	logger     zerolog.Logger
}

func defaultWriterOptions() writerOptions {
	return writerOptions{
		filterOpts: make(map[filter.Kind]filter.Options),
		formatOpts: make(map[string]string),
		logger:     zerolog.Nop(),
	}
}

// WriterOption configures a Writer.
type WriterOption func(*writerOptions)

// WithFilterOptions sets options of one filter of the chain.
func WithFilterOptions(k filter.Kind, opts filter.Options) WriterOption {
	return func(o *writerOptions) {
		fo := o.filterOpts[k]
		if fo == nil {
			fo = make(filter.Options)
			o.filterOpts[k] = fo
		}
		maps.Copy(fo, opts)
	}
}

// WithFormatOptions sets format options, such as the zip compression method.
func WithFormatOptions(opts map[string]string) WriterOption {
	return func(o *writerOptions) {
		maps.Copy(o.formatOpts, opts)
	}
}

// WithWriterPassphrase encrypts every member with passphrase.
func WithWriterPassphrase(passphrase string) WriterOption {
	return func(o *writerOptions) {
		o.passphrase = passphrase
	}
}

// WithWriterLogger sets the logger of a Writer.
func WithWriterLogger(logger zerolog.Logger) WriterOption {
	return func(o *writerOptions) {
		o.logger = logger
	}
}
