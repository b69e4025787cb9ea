package disk

import (
	"github.com/crazy-max/archivist/pkg/archive"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
)

type options struct {
	logger        zerolog.Logger
	abortOnError  bool
	preservePerms bool
	preserveTimes bool
	passphrases   []string
	readerOpts    []archive.ReaderOption
	writerOpts    []archive.WriterOption
	digest        digest.Algorithm
	onEntry       func(e *archive.Entry, target string)
}

func newOptions(opts []Option) options {
	o := options{
		logger:        zerolog.Nop(),
		preservePerms: true,
		preserveTimes: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// readerOptions returns the options used when a function opens the source
// itself. Options given with WithReaderOptions are applied last.
func (o options) readerOptions() []archive.ReaderOption {
	ro := []archive.ReaderOption{archive.WithLogger(o.logger)}
	for _, p := range o.passphrases {
		ro = append(ro, archive.WithPassphrase(p))
	}
	return append(ro, o.readerOpts...)
}

func (o options) writerOptions() []archive.WriterOption {
	return append([]archive.WriterOption{archive.WithWriterLogger(o.logger)}, o.writerOpts...)
}

// Option configures the disk operations. Options that do not apply to an
// operation are ignored by it.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithAbortOnError makes extraction stop at the first failing entry instead
// of skipping it and reporting every failure at the end.
func WithAbortOnError(abort bool) Option {
	return func(o *options) {
		o.abortOnError = abort
	}
}

// WithPreservePermissions controls whether extracted entries get their
// archived permission bits. Enabled by default.
func WithPreservePermissions(preserve bool) Option {
	return func(o *options) {
		o.preservePerms = preserve
	}
}

// WithPreserveTimes controls whether extracted entries get their archived
// modification time. Enabled by default.
func WithPreserveTimes(preserve bool) Option {
	return func(o *options) {
		o.preserveTimes = preserve
	}
}

// WithPassphrases adds passphrases tried on encrypted members.
func WithPassphrases(passphrases ...string) Option {
	return func(o *options) {
		o.passphrases = append(o.passphrases, passphrases...)
	}
}

// WithReaderOptions passes options to the archive reader opened on the
// source.
func WithReaderOptions(opts ...archive.ReaderOption) Option {
	return func(o *options) {
		o.readerOpts = append(o.readerOpts, opts...)
	}
}

// WithWriterOptions passes options to the archive writer created on the
// sink.
func WithWriterOptions(opts ...archive.WriterOption) Option {
	return func(o *options) {
		o.writerOpts = append(o.writerOpts, opts...)
	}
}

// WithDigest makes listing compute a digest of every regular file body.
func WithDigest(alg digest.Algorithm) Option {
	return func(o *options) {
		o.digest = alg
	}
}

// WithOnEntry registers a callback invoked after each entry is written to
// disk, with the path it was written to.
func WithOnEntry(fn func(e *archive.Entry, target string)) Option {
	return func(o *options) {
		o.onEntry = fn
	}
}
