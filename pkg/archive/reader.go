package archive

import (
	"bytes"
	"io"
	"os"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/crazy-max/archivist/pkg/archive/codec"
	"github.com/crazy-max/archivist/pkg/archive/filter"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Block is a chunk of an entry body returned by ReadBlock. Offset is the
// position of Data in the uncompressed body; bytes skipped between two
// blocks are zeros.
type Block struct {
	Data   []byte
	Offset int64
}

// Reader iterates the entries of an archive.
type Reader struct {
	source io.Reader
	owned  io.Closer
	opts   readerOptions
	log    zerolog.Logger

	stream *filter.Stream
	format Format
	at     io.ReaderAt
	size   int64

	codec  *codec.Reader
	entry  *Entry
	offset int64
	block  []byte
	// bodyErr fails further reads of the current body.
	bodyErr error

	lastErr error
	closed  bool
}

// OpenReader opens an archive read from source. Filters and format are
// detected unless set with WithFilters and WithFormat. Close closes source
// when it is an io.Closer.
func OpenReader(source io.Reader, opts ...ReaderOption) (*Reader, error) {
	if source == nil {
		return nil, archtype.Errorf(CodeOpenFailed, "open reader", "nil source")
	}
	r := &Reader{
		source: source,
		opts:   defaultReaderOptions(),
	}
	for _, opt := range opts {
		opt(&r.opts)
	}
	r.log = r.opts.logger
	if c, ok := source.(io.Closer); ok {
		r.owned = c
	}
	if err := r.open(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// OpenFile opens the archive stored at name.
func OpenFile(name string, opts ...ReaderOption) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, archtype.WrapPath(CodeOpenFailed, "open reader", name, err)
	}
	return OpenReader(f, opts...)
}

// OpenBytes opens an archive held in memory.
func OpenBytes(data []byte, opts ...ReaderOption) (*Reader, error) {
	return OpenReader(bytes.NewReader(data), opts...)
}

func (r *Reader) open() error {
	// Random access must be captured before sniffing moves the offset.
	at, size, seekable := sectionOf(r.source)

	var err error
	if r.opts.explicit {
		r.stream, err = filter.NewChainReader(r.source, r.opts.chain)
	} else {
		r.stream, err = filter.NewAutoReader(r.source)
	}
	if err != nil {
		return err
	}
	if seekable && len(r.stream.Chain) == 0 {
		r.at, r.size = at, size
	}

	r.format = r.opts.format
	if r.format == 0 {
		if r.format, err = codec.Detect(r.stream.Reader); err != nil {
			return err
		}
	} else if !r.format.Valid() {
		return archtype.Errorf(CodeUnsupportedFormat, "open reader", "unknown format %d", uint8(r.format))
	}

	r.log.Debug().
		Str("format", r.format.String()).
		Strs("filters", r.stream.Chain.Names()).
		Bool("random_access", r.at != nil).
		Msg("Opened archive")
	return nil
}

// sectionOf returns a random access view of source from its current offset
// to its end when source supports it.
func sectionOf(source io.Reader) (io.ReaderAt, int64, bool) {
	ra, ok := source.(io.ReaderAt)
	if !ok {
		return nil, 0, false
	}
	seeker, ok := source.(io.Seeker)
	if !ok {
		return nil, 0, false
	}
	cur, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, false
	}
	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, false
	}
	if _, err := seeker.Seek(cur, io.SeekStart); err != nil {
		return nil, 0, false
	}
	return io.NewSectionReader(ra, cur, end-cur), end - cur, true
}

func (r *Reader) decoder() error {
	if r.codec != nil {
		return nil
	}
	src := codec.Source{
		Reader:   r.stream,
		ReaderAt: r.at,
		Size:     r.size,
	}
	dec, err := codec.NewDecoder(r.format, src, codec.DecoderOptions{
		Passphrases: func() []string { return r.opts.passphrases },
		TempDir:     r.opts.tempDir,
		Logger:      r.log,
	})
	if err != nil {
		return err
	}
	r.codec = codec.NewReader(dec)
	return nil
}

// Next advances to the next entry and returns it. The previous entry's body
// can no longer be read. Next returns io.EOF at the end of the archive and
// on every call after that.
func (r *Reader) Next() (*Entry, error) {
	if r.closed {
		return nil, r.record(archtype.Errorf(CodeInvalidState, "next entry", "reader is closed"))
	}
	if err := r.decoder(); err != nil {
		return nil, r.record(err)
	}

	r.entry = nil
	r.bodyErr = nil
	e, err := r.codec.ReadNextHeader()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	} else if err != nil {
		return nil, r.record(err)
	}
	r.entry = e
	r.offset = 0
	r.log.Trace().
		Str("path", e.Path).
		Str("kind", e.Kind.String()).
		Int64("size", e.Size).
		Msg("Read entry header")
	return e, nil
}

// Read reads the body of the current entry. It returns io.EOF at the end of
// the body. Once a read fails, every later read of the same body returns the
// same error.
func (r *Reader) Read(p []byte) (int, error) {
	if err := r.bodyState("read data"); err != nil {
		return 0, err
	}
	if r.bodyErr != nil {
		return 0, r.bodyErr
	}
	n, err := r.codec.ReadBodyChunk(p)
	r.offset += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		r.bodyErr = err
		return n, r.record(err)
	}
	return n, err
}

// ReadBlock returns the next block of the current body. When holes are
// enabled, blocks made only of zeros are skipped, so Offset may jump. It
// returns io.EOF at the end of the body. A block whose data came with an
// error, such as a checksum mismatch at the end of the body, is not returned.
// Block data is only valid until the next call.
func (r *Reader) ReadBlock() (Block, error) {
	if err := r.bodyState("read block"); err != nil {
		return Block{}, err
	}
	if r.bodyErr != nil {
		return Block{}, r.bodyErr
	}
	if r.block == nil {
		r.block = make([]byte, r.opts.blockSize)
	}
	for {
		n, err := r.fill(r.block)
		if err != nil {
			return Block{}, err
		}
		off := r.offset
		r.offset += int64(n)
		if r.opts.holes && n == len(r.block) && isZero(r.block) {
			continue
		}
		return Block{Data: r.block[:n], Offset: off}, nil
	}
}

// fill reads until buf is full or the body ends.
func (r *Reader) fill(buf []byte) (int, error) {
	var read int
	for read < len(buf) {
		n, err := r.codec.ReadBodyChunk(buf[read:])
		read += n
		if errors.Is(err, io.EOF) {
			if read > 0 {
				return read, nil
			}
			return 0, io.EOF
		} else if err != nil {
			r.bodyErr = err
			return read, r.record(err)
		}
	}
	return read, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Skip discards the rest of the current body.
func (r *Reader) Skip() error {
	if err := r.bodyState("skip data"); err != nil {
		return err
	}
	return r.record(r.codec.SkipBody())
}

func (r *Reader) bodyState(op string) error {
	if r.closed {
		return r.record(archtype.Errorf(CodeInvalidState, op, "reader is closed"))
	}
	if r.codec == nil {
		return r.record(archtype.Errorf(CodeInvalidState, op, "no current entry"))
	}
	return nil
}

// AddPassphrase registers another passphrase for encrypted members. It
// applies to members not yet returned by Next.
func (r *Reader) AddPassphrase(passphrase string) error {
	if r.closed {
		return r.record(archtype.Errorf(CodeInvalidState, "add passphrase", "reader is closed"))
	}
	if passphrase == "" {
		return r.record(archtype.Errorf(CodeUnsupportedOption, "add passphrase", "empty passphrase"))
	}
	if !r.format.Traits().Encryption {
		r.log.Debug().Str("format", r.format.String()).Msg("Passphrase added to a format without encryption")
	}
	r.opts.passphrases = append(r.opts.passphrases, passphrase)
	return nil
}

// Entry returns the current entry or nil.
func (r *Reader) Entry() *Entry {
	return r.entry
}

// Format returns the container format being read.
func (r *Reader) Format() Format {
	return r.format
}

// Filters returns the filters applied to the source, in writer order.
func (r *Reader) Filters() filter.Chain {
	if r.stream == nil {
		return nil
	}
	return r.stream.Chain
}

// Close releases the reader and closes the source if it is an io.Closer.
// Calling Close again is a no-op.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.entry = nil

	var result *multierror.Error
	if r.codec != nil {
		if err := r.codec.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if r.stream != nil {
		if err := r.stream.Close(); err != nil {
			result = multierror.Append(result, archtype.Wrap(CodeIOError, "close filters", err))
		}
	}
	if r.owned != nil {
		if err := r.owned.Close(); err != nil {
			result = multierror.Append(result, archtype.Wrap(CodeIOError, "close source", err))
		}
	}
	return r.record(result.ErrorOrNil())
}

func (r *Reader) record(err error) error {
	if err != nil {
		r.lastErr = err
	}
	return err
}
