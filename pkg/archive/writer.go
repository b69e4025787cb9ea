package archive

import (
	"bytes"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/crazy-max/archivist/pkg/archive/codec"
	"github.com/crazy-max/archivist/pkg/archive/filter"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Writer builds an archive onto a sink.
//
// Filters and the format encoder are created on the first WriteHeader (or
// Close), so SetOptions may still change them until then.
type Writer struct {
	sink   io.Writer
	owned  io.Closer
	format Format
	chain  filter.Chain
	opts   writerOptions
	log    zerolog.Logger

	filters *filter.ChainWriter
	codec   *codec.Writer
	entries int

	lastErr error
	closed  bool
}

// NewWriter returns a writer of format f compressed with chain, listed in
// the order filters are applied. Close closes sink when it is an io.Closer.
func NewWriter(sink io.Writer, f Format, chain filter.Chain, opts ...WriterOption) (*Writer, error) {
	if sink == nil {
		return nil, archtype.Errorf(CodeOpenFailed, "open writer", "nil sink")
	}
	if !f.Valid() {
		return nil, archtype.Errorf(CodeUnsupportedFormat, "open writer", "unknown format %d", uint8(f))
	}
	if !f.Traits().Writable {
		return nil, archtype.Errorf(CodeUnsupportedFormat, "open writer", "format %s cannot be written", f)
	}
	chain = chain.Compact()
	for _, k := range chain {
		if !k.Valid() {
			return nil, archtype.Errorf(CodeUnsupportedFilter, "open writer", "unknown filter %d", uint8(k))
		}
	}

	w := &Writer{
		sink:   sink,
		format: f,
		chain:  chain,
		opts:   defaultWriterOptions(),
	}
	for _, opt := range opts {
		opt(&w.opts)
	}
	w.log = w.opts.logger
	if err := w.validateOptions(); err != nil {
		return nil, err
	}
	if w.opts.passphrase != "" && !f.Traits().Encryption {
		return nil, archtype.Errorf(CodeUnsupportedFormat, "open writer", "format %s does not support encryption", f)
	}
	if c, ok := sink.(io.Closer); ok {
		w.owned = c
	}
	return w, nil
}

// CreateFile creates or truncates name and returns a writer over it.
func CreateFile(name string, f Format, chain filter.Chain, opts ...WriterOption) (*Writer, error) {
	file, err := os.Create(name)
	if err != nil {
		return nil, archtype.WrapPath(CodeOpenFailed, "open writer", name, err)
	}
	w, err := NewWriter(file, f, chain, opts...)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(name)
		return nil, err
	}
	return w, nil
}

// NewMemoryWriter returns a writer whose output accumulates in the returned
// buffer. The buffer is complete once Close returns.
func NewMemoryWriter(f Format, chain filter.Chain, opts ...WriterOption) (*Writer, *bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	w, err := NewWriter(buf, f, chain, opts...)
	if err != nil {
		return nil, nil, err
	}
	return w, buf, nil
}

func (w *Writer) validateOptions() error {
	for k, o := range w.opts.filterOpts {
		if !slices.Contains(w.chain, k) {
			return archtype.Errorf(CodeUnsupportedOption, "open writer", "filter %s is not in the chain", k)
		}
		if err := o.Validate(k); err != nil {
			return err
		}
	}
	for key := range w.opts.formatOpts {
		if !slices.Contains(codec.FormatOptionKeys[w.format], key) {
			return archtype.Errorf(CodeUnsupportedOption, "open writer", "format %s has no option %q", w.format, key)
		}
	}
	return nil
}

// SetOptions applies an option string of comma separated key=value pairs.
// A key may be prefixed with a filter or format name and a colon to target
// that module only, e.g. "gzip:compression-level=9,zip:compression=store".
// Unprefixed keys apply to every module accepting them. Options can only be
// set before the first entry.
func (w *Writer) SetOptions(s string) error {
	if err := w.check("set options"); err != nil {
		return err
	}
	if w.codec != nil {
		return w.record(archtype.Errorf(CodeInvalidState, "set options", "options must be set before the first entry"))
	}

	next := defaultWriterOptions()
	for k, o := range w.opts.filterOpts {
		next.filterOpts[k] = maps.Clone(o)
	}
	next.formatOpts = maps.Clone(w.opts.formatOpts)

	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		module, kv, found := strings.Cut(item, ":")
		if !found {
			kv, module = module, ""
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return w.record(archtype.Errorf(CodeUnsupportedOption, "set options", "malformed option %q", item))
		}
		if err := w.applyOption(&next, module, key, value); err != nil {
			return w.record(err)
		}
	}

	prev := w.opts
	w.opts.filterOpts, w.opts.formatOpts = next.filterOpts, next.formatOpts
	if err := w.validateOptions(); err != nil {
		w.opts = prev
		return w.record(err)
	}
	return nil
}

func (w *Writer) applyOption(o *writerOptions, module, key, value string) error {
	applied := false
	setFilter := func(k filter.Kind) {
		if o.filterOpts[k] == nil {
			o.filterOpts[k] = make(filter.Options)
		}
		o.filterOpts[k][key] = value
		applied = true
	}

	if module != "" {
		if f, err := archtype.ParseFormat(module); err == nil {
			if f != w.format {
				return archtype.Errorf(CodeUnsupportedOption, "set options", "writer format is %s, not %s", w.format, f)
			}
			o.formatOpts[key] = value
			return nil
		}
		k, err := filter.ParseKind(module)
		if err != nil {
			return archtype.Errorf(CodeUnsupportedOption, "set options", "unknown option module %q", module)
		}
		if !slices.Contains(w.chain, k) {
			return archtype.Errorf(CodeUnsupportedOption, "set options", "filter %s is not in the chain", k)
		}
		setFilter(k)
		return nil
	}

	for _, k := range w.chain {
		if slices.Contains(k.Keys(), key) {
			setFilter(k)
		}
	}
	if slices.Contains(codec.FormatOptionKeys[w.format], key) {
		o.formatOpts[key] = value
		applied = true
	}
	if !applied {
		return archtype.Errorf(CodeUnsupportedOption, "set options", "no module accepts option %q", key)
	}
	return nil
}

// SetPassphrase sets the passphrase encrypting the entries written next.
func (w *Writer) SetPassphrase(passphrase string) error {
	if err := w.check("set passphrase"); err != nil {
		return err
	}
	if !w.format.Traits().Encryption {
		return w.record(archtype.Errorf(CodeUnsupportedFormat, "set passphrase", "format %s does not support encryption", w.format))
	}
	w.opts.passphrase = passphrase
	if w.codec != nil {
		return w.record(w.codec.SetPassphrase(passphrase))
	}
	return nil
}

func (w *Writer) start() error {
	if w.codec != nil {
		return nil
	}
	filters, err := filter.NewChainWriter(w.sink, w.chain, w.opts.filterOpts)
	if err != nil {
		return err
	}
	enc, err := codec.NewEncoder(w.format, filters, codec.EncoderOptions{
		Options: w.opts.formatOpts,
		Logger:  w.log,
	})
	if err != nil {
		_ = filters.Close()
		return err
	}
	cw := codec.NewWriter(enc)
	if w.opts.passphrase != "" {
		if err := cw.SetPassphrase(w.opts.passphrase); err != nil {
			return err
		}
	}
	w.filters, w.codec = filters, cw
	w.log.Debug().
		Str("format", w.format.String()).
		Strs("filters", w.chain.Names()).
		Msg("Started archive")
	return nil
}

// WriteHeader starts a new entry. Entries with a body must be followed by
// Write calls totalling e.Size bytes and a FinishEntry.
func (w *Writer) WriteHeader(e *Entry) error {
	if err := w.check("write header"); err != nil {
		return err
	}
	if err := w.start(); err != nil {
		return w.record(err)
	}
	if err := w.codec.WriteHeader(e); err != nil {
		return w.record(err)
	}
	w.entries++
	w.log.Trace().Str("path", e.Path).Str("kind", e.Kind.String()).Int64("size", e.Size).Msg("Wrote entry header")
	return nil
}

// Write appends p to the body of the current entry.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.check("write data"); err != nil {
		return 0, err
	}
	if w.codec == nil {
		return 0, w.record(archtype.Errorf(CodeInvalidState, "write data", "no entry body in progress"))
	}
	n, err := w.codec.WriteBodyChunk(p)
	return n, w.record(err)
}

// FinishEntry completes the current entry body.
func (w *Writer) FinishEntry() error {
	if err := w.check("finish entry"); err != nil {
		return err
	}
	if w.codec == nil {
		return w.record(archtype.Errorf(CodeInvalidState, "finish entry", "no entry body in progress"))
	}
	return w.record(w.codec.FinishEntry())
}

// Close finishes a body in progress, writes the format trailer, flushes the
// filters and closes the sink if it is an io.Closer. Every call after the
// first is a no-op; other operations then fail with InvalidState.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var result *multierror.Error
	if err := w.start(); err != nil {
		result = multierror.Append(result, err)
	}
	if w.codec != nil {
		if err := w.codec.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if w.filters != nil {
		if err := w.filters.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if w.owned != nil {
		if err := w.owned.Close(); err != nil {
			result = multierror.Append(result, archtype.Wrap(CodeIOError, "close sink", err))
		}
	}
	w.log.Debug().Int("entries", w.entries).Msg("Closed archive")
	return w.record(result.ErrorOrNil())
}

// Format returns the container format being written.
func (w *Writer) Format() Format {
	return w.format
}

// Filters returns the filter chain, in the order filters are applied.
func (w *Writer) Filters() filter.Chain {
	return w.chain
}

func (w *Writer) check(op string) error {
	if w.closed {
		return w.record(archtype.Errorf(CodeInvalidState, op, "writer is closed"))
	}
	return nil
}

func (w *Writer) record(err error) error {
	if err != nil {
		w.lastErr = err
	}
	return err
}
