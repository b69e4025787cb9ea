package codec

import (
	"hash"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/dsnet/compress/bzip2"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/mholt/archives"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

const (
	// OptionZipCompression selects the member compression method: store,
	// deflate (default), bzip2, zstd or xz.
	OptionZipCompression = "compression"

	// OptionZipLevel sets the deflate level, -2 (huffman only) to 9.
	OptionZipLevel = "compression-level"
)

const (
	zipFlagEncrypted      = 0x1
	zipFlagDataDescriptor = 0x8
	zipFlagUTF8           = 0x800

	zipVersion20   = 20
	zipExtTimeID   = 0x5455
	maxSymlinkSize = 64 << 10
)

var zipMethods = map[string]uint16{
	"store":   zip.Store,
	"deflate": zip.Deflate,
	"bzip2":   archives.ZipMethodBzip2,
	"zstd":    archives.ZipMethodZstd,
	"xz":      archives.ZipMethodXz,
}

func zipCompressor(method uint16, level int) zip.Compressor {
	switch method {
	case zip.Store:
		return func(out io.Writer) (io.WriteCloser, error) {
			return nopWriteCloser{out}, nil
		}
	case zip.Deflate:
		return func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		}
	case archives.ZipMethodBzip2:
		return func(out io.Writer) (io.WriteCloser, error) {
			return bzip2.NewWriter(out, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		}
	case archives.ZipMethodZstd:
		return func(out io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(out)
		}
	case archives.ZipMethodXz:
		return func(out io.Writer) (io.WriteCloser, error) {
			return &lazyXZWriter{out: out}, nil
		}
	}
	return nil
}

// lazyXZWriter defers the xz stream header until the first write, since zip
// builds the compressor before it writes the local file header.
type lazyXZWriter struct {
	out io.Writer
	w   *xz.Writer
}

func (l *lazyXZWriter) init() error {
	if l.w != nil {
		return nil
	}
	w, err := xz.NewWriter(l.out)
	if err != nil {
		return err
	}
	l.w = w
	return nil
}

func (l *lazyXZWriter) Write(p []byte) (int, error) {
	if err := l.init(); err != nil {
		return 0, err
	}
	return l.w.Write(p)
}

func (l *lazyXZWriter) Close() error {
	if err := l.init(); err != nil {
		return err
	}
	return l.w.Close()
}

func zipDecompressor(method uint16) func(io.Reader) (io.ReadCloser, error) {
	switch method {
	case zip.Store:
		return func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		}
	case zip.Deflate:
		return func(r io.Reader) (io.ReadCloser, error) {
			return flate.NewReader(r), nil
		}
	case archives.ZipMethodBzip2:
		return func(r io.Reader) (io.ReadCloser, error) {
			return bzip2.NewReader(r, nil)
		}
	case archives.ZipMethodZstd:
		return func(r io.Reader) (io.ReadCloser, error) {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return zr.IOReadCloser(), nil
		}
	case archives.ZipMethodXz:
		return func(r io.Reader) (io.ReadCloser, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(xr), nil
		}
	}
	return nil
}

// asZipDecompressor adapts a fallible constructor to zip.Decompressor, which
// cannot return an error.
func asZipDecompressor(fn func(io.Reader) (io.ReadCloser, error)) zip.Decompressor {
	return func(r io.Reader) io.ReadCloser {
		rc, err := fn(r)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return rc
	}
}

type errReader struct {
	err error
}

func (e errReader) Read([]byte) (int, error) {
	return 0, e.err
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type zipDecoder struct {
	zr      *zip.Reader
	opts    DecoderOptions
	idx     int
	file    *zip.File
	cur     io.ReadCloser
	spooled *os.File
}

func newZipDecoder(src Source, opts DecoderOptions) (*zipDecoder, error) {
	d := &zipDecoder{opts: opts}
	ra, size := src.ReaderAt, src.Size
	if ra == nil {
		f, n, err := spool(src.Reader, opts.TempDir)
		if err != nil {
			return nil, err
		}
		opts.Logger.Debug().Str("path", f.Name()).Int64("size", n).Msg("Spooled zip stream")
		d.spooled = f
		ra, size = f, n
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		_ = d.Close()
		return nil, archtype.Wrap(archtype.CodeCorruptHeader, "read zip directory", err)
	}
	for _, m := range []uint16{archives.ZipMethodBzip2, archives.ZipMethodZstd, archives.ZipMethodXz} {
		zr.RegisterDecompressor(m, asZipDecompressor(zipDecompressor(m)))
	}
	d.zr = zr
	return d, nil
}

func (d *zipDecoder) Next() (*archtype.Entry, error) {
	if err := d.closeCurrent(); err != nil {
		return nil, err
	}
	if d.idx >= len(d.zr.File) {
		return nil, io.EOF
	}
	f := d.zr.File[d.idx]
	d.idx++

	mode := f.Mode()
	e := &archtype.Entry{
		Path:      f.Name,
		Perm:      mode & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky),
		ModTime:   f.Modified,
		Encrypted: f.Flags&zipFlagEncrypted != 0,
	}
	switch {
	case mode.IsDir():
		e.Kind = archtype.KindDirectory
	case mode&fs.ModeSymlink != 0:
		e.Kind = archtype.KindSymlink
		target, err := d.readSymlink(f)
		if err != nil {
			return nil, err
		}
		e.LinkTarget = target
	case mode.IsRegular():
		e.Kind = archtype.KindFile
		e.Size = int64(f.UncompressedSize64)
		d.file = f
	default:
		e.Kind = archtype.KindSpecial
	}
	return e, nil
}

func (d *zipDecoder) readSymlink(f *zip.File) (string, error) {
	rc, err := d.open(f)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxSymlinkSize))
	if err != nil {
		return "", d.classify(f, "read symlink", err)
	}
	return string(b), nil
}

func (d *zipDecoder) open(f *zip.File) (io.ReadCloser, error) {
	if f.Flags&zipFlagEncrypted != 0 {
		return d.openEncrypted(f)
	}
	rc, err := f.Open()
	if errors.Is(err, zip.ErrAlgorithm) {
		return nil, archtype.WrapPath(archtype.CodeUnsupportedFormat, "open zip member", f.Name, err)
	} else if err != nil {
		return nil, archtype.WrapPath(archtype.CodeCorruptHeader, "open zip member", f.Name, err)
	}
	return rc, nil
}

func (d *zipDecoder) openEncrypted(f *zip.File) (io.ReadCloser, error) {
	newDecompressor := zipDecompressor(f.Method)
	if newDecompressor == nil {
		return nil, archtype.Errorf(archtype.CodeUnsupportedFormat, "open zip member", "%s: compression method %d", f.Name, f.Method)
	}
	raw, err := f.OpenRaw()
	if err != nil {
		return nil, archtype.WrapPath(archtype.CodeCorruptHeader, "open zip member", f.Name, err)
	}
	header := make([]byte, zipCryptoHeaderLen)
	if _, err := io.ReadFull(raw, header); err != nil {
		return nil, archtype.WrapPath(archtype.CodeCorruptData, "read encryption header", f.Name, err)
	}

	check := byte(f.CRC32 >> 24)
	if f.Flags&zipFlagDataDescriptor != 0 {
		check = byte(f.ModifiedTime >> 8)
	}
	passphrases := d.opts.passphrases()
	keys, ok := unlockZipCrypto(header, check, passphrases)
	if !ok {
		if len(passphrases) == 0 {
			return nil, archtype.Errorf(archtype.CodeDecryptionFailed, "open zip member", "%s: passphrase required", f.Name)
		}
		return nil, archtype.Errorf(archtype.CodeDecryptionFailed, "open zip member", "%s: no passphrase matches", f.Name)
	}

	dc, err := newDecompressor(&zipCryptoReader{r: raw, keys: keys})
	if err != nil {
		return nil, archtype.WrapPath(archtype.CodeDecryptionFailed, "open zip member", f.Name, err)
	}
	return &crcReader{
		rc:   dc,
		hash: crc32.NewIEEE(),
		want: f.CRC32,
		size: f.UncompressedSize64,
	}, nil
}

func (d *zipDecoder) Read(p []byte) (int, error) {
	if d.file == nil {
		return 0, io.EOF
	}
	if d.cur == nil {
		rc, err := d.open(d.file)
		if err != nil {
			return 0, err
		}
		d.cur = rc
	}
	n, err := d.cur.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, d.classify(d.file, "read zip member", err)
	}
	return n, err
}

// classify maps a body error. Garbage produced by a passphrase that passed
// the one byte header check surfaces here as corrupt data.
func (d *zipDecoder) classify(f *zip.File, op string, err error) error {
	if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, io.ErrUnexpectedEOF) {
		if f.Flags&zipFlagEncrypted != 0 {
			return archtype.WrapPath(archtype.CodeDecryptionFailed, op, f.Name, err)
		}
		return archtype.WrapPath(archtype.CodeCorruptData, op, f.Name, err)
	}
	if f.Flags&zipFlagEncrypted != 0 && archtype.CodeOf(err) == 0 {
		return archtype.WrapPath(archtype.CodeDecryptionFailed, op, f.Name, err)
	}
	return archtype.WrapPath(archtype.CodeCorruptData, op, f.Name, err)
}

func (d *zipDecoder) closeCurrent() error {
	d.file = nil
	if d.cur == nil {
		return nil
	}
	err := d.cur.Close()
	d.cur = nil
	if err != nil && !errors.Is(err, zip.ErrChecksum) {
		return archtype.Wrap(archtype.CodeIOError, "close zip member", err)
	}
	return nil
}

func (d *zipDecoder) Close() error {
	var result *multierror.Error
	if err := d.closeCurrent(); err != nil {
		result = multierror.Append(result, err)
	}
	if d.spooled != nil {
		if err := removeSpool(d.spooled); err != nil {
			result = multierror.Append(result, err)
		}
		d.spooled = nil
	}
	return result.ErrorOrNil()
}

// crcReader verifies the CRC of a body decoded outside of zip.File.Open.
type crcReader struct {
	rc    io.ReadCloser
	hash  hash.Hash32
	want  uint32
	size  uint64
	nread uint64
}

func (c *crcReader) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.hash.Write(p[:n])
	c.nread += uint64(n)
	if c.nread > c.size {
		return n, zip.ErrFormat
	}
	if errors.Is(err, io.EOF) {
		if c.nread != c.size {
			return n, io.ErrUnexpectedEOF
		}
		if c.hash.Sum32() != c.want {
			return n, zip.ErrChecksum
		}
	}
	return n, err
}

func (c *crcReader) Close() error {
	return c.rc.Close()
}

type zipEncoder struct {
	zw         *zip.Writer
	method     uint16
	level      int
	passphrase string
	cur        io.Writer
	sealed     *sealedEntry
}

// sealedEntry is an encrypted member being written raw. Its sizes and CRC
// are patched into the header before the next member starts.
type sealedEntry struct {
	fh   *zip.FileHeader
	comp io.WriteCloser
	crc  hash.Hash32
	raw  *countWriter
	size uint64
}

func newZipEncoder(w io.Writer, opts EncoderOptions) (*zipEncoder, error) {
	if err := checkOptionKeys(archtype.FormatZip, opts.Options); err != nil {
		return nil, err
	}
	z := &zipEncoder{
		method: zip.Deflate,
		level:  flate.DefaultCompression,
	}
	if name, ok := opts.Options[OptionZipCompression]; ok {
		m, ok := zipMethods[strings.ToLower(name)]
		if !ok {
			return nil, archtype.Errorf(archtype.CodeUnsupportedOption, "open encoder", "unknown zip compression %q", name)
		}
		z.method = m
	}
	if v, ok := opts.Options[OptionZipLevel]; ok {
		level, err := strconv.Atoi(v)
		if err != nil || level < flate.HuffmanOnly || level > flate.BestCompression {
			return nil, archtype.Errorf(archtype.CodeUnsupportedOption, "open encoder", "invalid zip compression level %q", v)
		}
		z.level = level
	}

	z.zw = zip.NewWriter(w)
	for _, m := range []uint16{zip.Deflate, archives.ZipMethodBzip2, archives.ZipMethodZstd, archives.ZipMethodXz} {
		z.zw.RegisterCompressor(m, zipCompressor(m, z.level))
	}
	return z, nil
}

func (z *zipEncoder) SetPassphrase(passphrase string) error {
	z.passphrase = passphrase
	return nil
}

func (z *zipEncoder) WriteHeader(e *archtype.Entry) error {
	// Members without a body never see FinishEntry.
	if err := z.FinishEntry(); err != nil {
		return archtype.WrapPath(archtype.CodeIOError, "finish zip member", e.Path, err)
	}
	fh := &zip.FileHeader{
		Name:     e.Path,
		Method:   z.method,
		Modified: e.ModTime,
	}
	fh.SetMode(e.FileMode())

	switch e.Kind {
	case archtype.KindFile:
		if z.passphrase != "" {
			return z.writeSealedHeader(fh, e)
		}
	case archtype.KindDirectory:
		if !strings.HasSuffix(fh.Name, "/") {
			fh.Name += "/"
		}
		fh.Method = zip.Store
	case archtype.KindSymlink:
		fh.Method = zip.Store
	default:
		return archtype.Errorf(archtype.CodeUnsupportedFormat, "write zip header", "cannot write %s member %q", e.Kind, e.Path)
	}

	w, err := z.zw.CreateHeader(fh)
	if err != nil {
		return archtype.WrapPath(archtype.CodeIOError, "write zip header", e.Path, err)
	}
	if e.Kind == archtype.KindSymlink {
		if _, err := io.WriteString(w, e.LinkTarget); err != nil {
			return archtype.WrapPath(archtype.CodeIOError, "write symlink target", e.Path, err)
		}
		return nil
	}
	z.cur = w
	return nil
}

func (z *zipEncoder) writeSealedHeader(fh *zip.FileHeader, e *archtype.Entry) error {
	fh.Flags |= zipFlagEncrypted | zipFlagDataDescriptor
	if !isASCII(fh.Name) {
		fh.Flags |= zipFlagUTF8
	}
	fh.CreatorVersion = fh.CreatorVersion&0xff00 | zipVersion20
	fh.ReaderVersion = zipVersion20
	if !e.ModTime.IsZero() {
		fh.ModifiedDate, fh.ModifiedTime = msDosTime(e.ModTime)
		fh.Extra = append(fh.Extra, extTimeExtra(e.ModTime)...)
	}

	newCompressor := zipCompressor(fh.Method, z.level)
	if newCompressor == nil {
		return archtype.Errorf(archtype.CodeUnsupportedFormat, "write zip header", "compression method %d", fh.Method)
	}
	rw, err := z.zw.CreateRaw(fh)
	if err != nil {
		return archtype.WrapPath(archtype.CodeIOError, "write zip header", e.Path, err)
	}
	raw := &countWriter{w: rw}
	cw, err := newZipCryptoWriter(raw, z.passphrase, byte(fh.ModifiedTime>>8))
	if err != nil {
		return archtype.WrapPath(archtype.CodeIOError, "write encryption header", e.Path, err)
	}
	comp, err := newCompressor(cw)
	if err != nil {
		return archtype.WrapPath(archtype.CodeIOError, "write zip header", e.Path, err)
	}
	z.sealed = &sealedEntry{
		fh:   fh,
		comp: comp,
		crc:  crc32.NewIEEE(),
		raw:  raw,
	}
	z.cur = z.sealed
	return nil
}

func (s *sealedEntry) Write(p []byte) (int, error) {
	n, err := s.comp.Write(p)
	s.crc.Write(p[:n])
	s.size += uint64(n)
	return n, err
}

func (s *sealedEntry) finish() error {
	if err := s.comp.Close(); err != nil {
		return err
	}
	s.fh.CRC32 = s.crc.Sum32()
	s.fh.CompressedSize64 = s.raw.n
	s.fh.UncompressedSize64 = s.size
	s.fh.CompressedSize = uint32(min(s.raw.n, uint32Max))
	s.fh.UncompressedSize = uint32(min(s.size, uint32Max))
	return nil
}

func (z *zipEncoder) Write(p []byte) (int, error) {
	if z.cur == nil {
		return 0, errors.New("no member open")
	}
	return z.cur.Write(p)
}

func (z *zipEncoder) FinishEntry() error {
	z.cur = nil
	if z.sealed == nil {
		return nil
	}
	err := z.sealed.finish()
	z.sealed = nil
	return err
}

func (z *zipEncoder) Close() error {
	if err := z.FinishEntry(); err != nil {
		return err
	}
	return z.zw.Close()
}

const uint32Max = 1<<32 - 1

type countWriter struct {
	w io.Writer
	n uint64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func msDosTime(t time.Time) (date uint16, clock uint16) {
	if t.Year() < 1980 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	clock = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return date, clock
}

func extTimeExtra(t time.Time) []byte {
	mt := uint32(t.Unix())
	return []byte{
		byte(zipExtTimeID & 0xff), byte(zipExtTimeID >> 8),
		5, 0, // size
		1, // flags: mtime
		byte(mt), byte(mt >> 8), byte(mt >> 16), byte(mt >> 24),
	}
}
