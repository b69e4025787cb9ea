package archive

import (
	"bytes"
	"io"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/crazy-max/archivist/pkg/archive/filter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	entry Entry
	body  []byte
}

var mtime = time.Date(2022, 11, 5, 8, 15, 45, 0, time.UTC)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/13)
	}
	return b
}

func sparseBody() []byte {
	b := bytes.Repeat([]byte{'a'}, 5000)
	b = append(b, make([]byte, 2*DefaultBlockSize)...)
	return append(b, bytes.Repeat([]byte{'b'}, 100)...)
}

func fixture() []item {
	return []item{
		{entry: Entry{Path: "root/", Kind: KindDirectory, Perm: 0o755, ModTime: mtime}},
		{entry: Entry{Path: "root/hello.txt", Kind: KindFile, Size: 13, Perm: 0o644, ModTime: mtime}, body: []byte("hello, world\n")},
		{entry: Entry{Path: "root/data.bin", Kind: KindFile, Size: 70000, Perm: 0o600, ModTime: mtime}, body: pattern(70000)},
		{entry: Entry{Path: "root/sparse.img", Kind: KindFile, Size: int64(len(sparseBody())), Perm: 0o640, ModTime: mtime}, body: sparseBody()},
		{entry: Entry{Path: "root/empty", Kind: KindFile, Perm: 0o644, ModTime: mtime}},
		{entry: Entry{Path: "root/link", Kind: KindSymlink, Perm: 0o777, ModTime: mtime, LinkTarget: "hello.txt"}},
	}
}

func writeArchive(t *testing.T, f Format, chain filter.Chain, items []item, opts ...WriterOption) []byte {
	t.Helper()
	w, buf, err := NewMemoryWriter(f, chain, opts...)
	require.NoError(t, err)
	for _, it := range items {
		e := it.entry
		require.NoError(t, w.WriteHeader(&e))
		if e.HasBody() {
			_, err := w.Write(it.body)
			require.NoError(t, err)
			require.NoError(t, w.FinishEntry())
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readAll(t *testing.T, r *Reader) []item {
	t.Helper()
	var items []item
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return items
		}
		require.NoError(t, err)
		body, err := io.ReadAll(r)
		require.NoError(t, err)
		if len(body) == 0 {
			body = nil
		}
		items = append(items, item{entry: *e, body: body})
	}
}

func readBlocks(t *testing.T, r *Reader) map[string][]byte {
	t.Helper()
	bodies := make(map[string][]byte)
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return bodies
		}
		require.NoError(t, err)
		if !e.HasBody() {
			continue
		}
		body := make([]byte, e.Size)
		var last int64 = -1
		for {
			b, err := r.ReadBlock()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			require.Greater(t, b.Offset, last)
			last = b.Offset
			copy(body[b.Offset:], b.Data)
		}
		bodies[e.Path] = body
	}
}

func assertItems(t *testing.T, want, got []item) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		w, g := want[i].entry, got[i].entry
		assert.Equal(t, w.Path, g.Path)
		assert.Equal(t, w.Kind, g.Kind, w.Path)
		assert.Equal(t, w.Size, g.Size, w.Path)
		assert.Equal(t, w.Perm, g.Perm, w.Path)
		assert.Equal(t, w.LinkTarget, g.LinkTarget, w.Path)
		assert.Equal(t, w.ModTime.Unix(), g.ModTime.Unix(), w.Path)
		assert.True(t, bytes.Equal(want[i].body, got[i].body), w.Path)
	}
}

func TestReadWriteScenario(t *testing.T) {
	w, buf, err := NewMemoryWriter(FormatTar, nil)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&Entry{Path: "a.txt", Kind: KindFile, Size: 5}))
	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, w.FinishEntry())
	require.NoError(t, w.Close())

	r, err := OpenBytes(buf.Bytes())
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, FormatTar, r.Format())
	assert.Empty(t, r.Filters())

	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a.txt", e.Path)
	assert.Equal(t, int64(5), e.Size)

	data := make([]byte, 5)
	n, err = io.ReadFull(r, data)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(data))

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRoundTrip(t *testing.T) {
	chains := []filter.Chain{
		nil,
		{filter.Gzip},
		{filter.Bzip2},
		{filter.Xz},
		{filter.Lzma},
		{filter.Zstd},
		{filter.Lz4},
		{filter.Lzip},
		{filter.Brotli},
		{filter.MinLZ},
		{filter.Gzip, filter.Xz},
	}
	for _, f := range []Format{FormatTar, FormatZip} {
		for _, chain := range chains {
			t.Run(f.String()+"/"+chain.String(), func(t *testing.T) {
				items := fixture()
				data := writeArchive(t, f, chain, items)

				var opts []ReaderOption
				if chain.String() == "brotli" {
					opts = append(opts, WithFilters(chain...))
				}
				r, err := OpenBytes(data, opts...)
				require.NoError(t, err)
				assert.Equal(t, f, r.Format())
				assert.Equal(t, chain.Compact(), r.Filters().Compact())
				got := readAll(t, r)
				require.NoError(t, r.Close())
				assertItems(t, items, got)

				r, err = OpenBytes(data, WithFilters(chain...), WithFormat(f))
				require.NoError(t, err)
				blocks := readBlocks(t, r)
				require.NoError(t, r.Close())
				for _, it := range items {
					if it.entry.HasBody() {
						assert.True(t, bytes.Equal(it.body, blocks[it.entry.Path]), it.entry.Path)
					}
				}
			})
		}
	}
}

func TestReadBlockConcatenation(t *testing.T) {
	body := pattern(3*DefaultBlockSize + 17)
	data := writeArchive(t, FormatTar, filter.Chain{filter.Zstd}, []item{
		{entry: Entry{Path: "f", Kind: KindFile, Size: int64(len(body))}, body: body},
	})
	r, err := OpenBytes(data, WithBlockSize(4096))
	require.NoError(t, err)
	defer r.Close()
	_, err = r.Next()
	require.NoError(t, err)

	var concat []byte
	var next int64
	for {
		b, err := r.ReadBlock()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, next, b.Offset)
		assert.LessOrEqual(t, len(b.Data), 4096)
		next = b.Offset + int64(len(b.Data))
		concat = append(concat, b.Data...)
	}
	assert.Equal(t, body, concat)
}

func TestReadBlockHoles(t *testing.T) {
	body := sparseBody()
	data := writeArchive(t, FormatTar, nil, []item{
		{entry: Entry{Path: "s", Kind: KindFile, Size: int64(len(body))}, body: body},
	})

	r, err := OpenBytes(data)
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	var offsets []int64
	for {
		b, err := r.ReadBlock()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		offsets = append(offsets, b.Offset)
	}
	require.NoError(t, r.Close())
	assert.Equal(t, []int64{0, 2 * DefaultBlockSize}, offsets)

	r, err = OpenBytes(data, WithHoles(false))
	require.NoError(t, err)
	defer r.Close()
	_, err = r.Next()
	require.NoError(t, err)
	offsets = nil
	for {
		b, err := r.ReadBlock()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		offsets = append(offsets, b.Offset)
	}
	assert.Equal(t, []int64{0, DefaultBlockSize, 2 * DefaultBlockSize}, offsets)
}

func TestReadBlockChecksumMismatch(t *testing.T) {
	body := []byte("Hello world, this is the body")
	data := writeArchive(t, FormatZip, nil, []item{
		{entry: Entry{Path: "f.txt", Kind: KindFile, Size: int64(len(body)), Perm: 0o644, ModTime: mtime}, body: body},
	}, WithFormatOptions(map[string]string{"compression": "store"}))
	i := bytes.Index(data, body)
	require.GreaterOrEqual(t, i, 0)
	data[i] ^= 0x02

	r, err := OpenBytes(data)
	require.NoError(t, err)
	defer r.Close()
	_, err = r.Next()
	require.NoError(t, err)

	b, err := r.ReadBlock()
	assert.ErrorIs(t, err, ErrCorruptData)
	assert.Empty(t, b.Data)

	// The failure sticks to the body instead of turning into a clean end.
	_, err = r.ReadBlock()
	assert.ErrorIs(t, err, ErrCorruptData)
	_, err = r.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrCorruptData)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReadChecksumMismatch(t *testing.T) {
	body := []byte("another stored member body")
	data := writeArchive(t, FormatZip, nil, []item{
		{entry: Entry{Path: "g.txt", Kind: KindFile, Size: int64(len(body)), Perm: 0o644, ModTime: mtime}, body: body},
	}, WithFormatOptions(map[string]string{"compression": "store"}))
	data[bytes.Index(data, body)+3] ^= 0x40

	r, err := OpenBytes(data)
	require.NoError(t, err)
	defer r.Close()
	_, err = r.Next()
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ErrCorruptData)
}

func TestNextAfterEndOfArchive(t *testing.T) {
	data := writeArchive(t, FormatZip, nil, fixture())
	r, err := OpenBytes(data)
	require.NoError(t, err)
	defer r.Close()
	readAll(t, r)
	for i := 0; i < 3; i++ {
		e, err := r.Next()
		assert.Nil(t, e)
		assert.Equal(t, io.EOF, err)
	}
	assert.NoError(t, r.Err())
}

func TestSkip(t *testing.T) {
	data := writeArchive(t, FormatTar, filter.Chain{filter.Gzip}, fixture())
	r, err := OpenBytes(data)
	require.NoError(t, err)
	defer r.Close()

	var paths []string
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		paths = append(paths, e.Path)
		if e.Path == "root/data.bin" {
			buf := make([]byte, 10)
			_, err := r.Read(buf)
			require.NoError(t, err)
		}
		require.NoError(t, r.Skip())
	}
	assert.Len(t, paths, len(fixture()))
}

func TestWriterSizeMismatch(t *testing.T) {
	w, buf, err := NewMemoryWriter(FormatTar, filter.Chain{filter.Gzip})
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&Entry{Path: "short", Kind: KindFile, Size: 10}))
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	err = w.FinishEntry()
	assert.True(t, errors.Is(err, ErrSizeMismatch))
	assert.Equal(t, err, w.Err())
	assert.Contains(t, Describe(w), "tar writer (gzip)")

	require.NoError(t, w.WriteHeader(&Entry{Path: "long", Kind: KindFile, Size: 2}))
	n, err := w.Write([]byte("abc"))
	assert.Equal(t, 2, n)
	assert.True(t, errors.Is(err, ErrSizeMismatch))
	require.NoError(t, w.FinishEntry())
	require.NoError(t, w.Close())

	r, err := OpenBytes(buf.Bytes())
	require.NoError(t, err)
	defer r.Close()
	got := readAll(t, r)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("abc\x00\x00\x00\x00\x00\x00\x00"), got[0].body)
	assert.Equal(t, []byte("ab"), got[1].body)
}

func TestWriterAfterClose(t *testing.T) {
	w, _, err := NewMemoryWriter(FormatZip, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.True(t, errors.Is(w.WriteHeader(&Entry{Path: "a", Kind: KindFile}), ErrInvalidState))
	_, err = w.Write([]byte("a"))
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.True(t, errors.Is(w.FinishEntry(), ErrInvalidState))
	assert.True(t, errors.Is(w.SetPassphrase("x"), ErrInvalidState))
	assert.True(t, errors.Is(w.SetOptions("compression=store"), ErrInvalidState))
}

func TestEmptyArchives(t *testing.T) {
	for _, f := range []Format{FormatTar, FormatZip} {
		t.Run(f.String(), func(t *testing.T) {
			w, buf, err := NewMemoryWriter(f, filter.Chain{filter.Xz})
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := OpenBytes(buf.Bytes())
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, f, r.Format())
			_, err = r.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestZipPassphrase(t *testing.T) {
	items := fixture()
	data := writeArchive(t, FormatZip, nil, items, WithWriterPassphrase("open sesame"))

	r, err := OpenBytes(data, WithPassphrase("nope"))
	require.NoError(t, err)
	require.NoError(t, r.AddPassphrase("open sesame"))
	got := readAll(t, r)
	require.NoError(t, r.Close())
	assertItems(t, items, got)

	r, err = OpenBytes(data)
	require.NoError(t, err)
	defer r.Close()
	var failed error
	for failed == nil {
		e, err := r.Next()
		require.NoError(t, err)
		if !e.HasBody() {
			continue
		}
		assert.True(t, e.Encrypted)
		_, failed = io.ReadAll(r)
	}
	assert.True(t, errors.Is(failed, ErrDecryptionFailed), failed.Error())
	assert.Equal(t, failed, r.Err())
}

func TestSetPassphraseUnsupported(t *testing.T) {
	w, _, err := NewMemoryWriter(FormatTar, nil)
	require.NoError(t, err)
	assert.True(t, errors.Is(w.SetPassphrase("x"), ErrUnsupportedFormat))
	_, _, err = NewMemoryWriter(FormatTar, nil, WithWriterPassphrase("x"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestSetOptions(t *testing.T) {
	items := fixture()[:3]

	w, buf, err := NewMemoryWriter(FormatZip, filter.Chain{filter.Gzip})
	require.NoError(t, err)
	require.NoError(t, w.SetOptions("gzip:compression-level=9, zip:compression=store"))
	require.NoError(t, w.SetOptions("compression-level=1"))
	for _, it := range items {
		e := it.entry
		require.NoError(t, w.WriteHeader(&e))
		if e.HasBody() {
			_, err := w.Write(it.body)
			require.NoError(t, err)
			require.NoError(t, w.FinishEntry())
		}
	}
	assert.True(t, errors.Is(w.SetOptions("compression-level=2"), ErrInvalidState))
	require.NoError(t, w.Close())

	r, err := OpenBytes(buf.Bytes())
	require.NoError(t, err)
	defer r.Close()
	assertItems(t, items, readAll(t, r))

	testCases := []struct {
		desc string
		opts string
	}{
		{desc: "unknown key", opts: "bogus=1"},
		{desc: "filter not in chain", opts: "xz:dict-size=65536"},
		{desc: "other format", opts: "tar:format=pax"},
		{desc: "unknown module", opts: "lha:level=1"},
		{desc: "malformed", opts: "gzip:"},
		{desc: "out of range", opts: "gzip:compression-level=42"},
	}
	for _, tt := range testCases {
		t.Run(tt.desc, func(t *testing.T) {
			w, _, err := NewMemoryWriter(FormatZip, filter.Chain{filter.Gzip})
			require.NoError(t, err)
			err = w.SetOptions(tt.opts)
			assert.True(t, errors.Is(err, ErrUnsupportedOption), err)
		})
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := OpenBytes([]byte("definitely not an archive, just text"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	data := writeArchive(t, FormatTar, filter.Chain{filter.Bzip2}, fixture())
	_, err = OpenBytes(data, WithFilters(filter.Gzip))
	assert.True(t, errors.Is(err, ErrUnsupportedFilter))

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.tar"))
	assert.True(t, errors.Is(err, ErrOpenFailed))
	assert.Equal(t, int(syscall.ENOENT), archtype.ErrnoOf(err))

	_, err = OpenReader(nil)
	assert.True(t, errors.Is(err, ErrOpenFailed))

	_, _, err = NewMemoryWriter(FormatRar, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, _, err = NewMemoryWriter(FormatTar, filter.Chain{filter.Gzip}, WithFilterOptions(filter.Gzip, filter.Options{"level": "9"}))
	assert.True(t, errors.Is(err, ErrUnsupportedOption))
}

func TestFileRoundTrip(t *testing.T) {
	name := filepath.Join(t.TempDir(), "out.tar.zst")
	f, chain, err := FormatFromPath(name)
	require.NoError(t, err)

	w, err := CreateFile(name, f, chain, WithFilterOptions(filter.Zstd, filter.Options{filter.OptionLevel: "19"}))
	require.NoError(t, err)
	items := fixture()
	for _, it := range items {
		e := it.entry
		require.NoError(t, w.WriteHeader(&e))
		if e.HasBody() {
			_, err := io.Copy(w, bytes.NewReader(it.body))
			require.NoError(t, err)
			require.NoError(t, w.FinishEntry())
		}
	}
	require.NoError(t, w.Close())

	r, err := OpenFile(name)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "tar", r.FormatName())
	assert.Equal(t, []string{"zstd"}, r.FilterNames())
	assertItems(t, items, readAll(t, r))
}

func TestFormatFromPath(t *testing.T) {
	testCases := []struct {
		name   string
		format Format
		chain  filter.Chain
	}{
		{name: "a.tar", format: FormatTar},
		{name: "a.zip", format: FormatZip},
		{name: "dir/a.tar.gz", format: FormatTar, chain: filter.Chain{filter.Gzip}},
		{name: "a.TGZ", format: FormatTar, chain: filter.Chain{filter.Gzip}},
		{name: "a.tar.gz.xz", format: FormatTar, chain: filter.Chain{filter.Gzip, filter.Xz}},
		{name: "a.zip.zst", format: FormatZip, chain: filter.Chain{filter.Zstd}},
		{name: "a.txz", format: FormatTar, chain: filter.Chain{filter.Xz}},
		{name: "a.rar", format: FormatRar},
	}
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			f, chain, err := FormatFromPath(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.format, f)
			assert.Equal(t, tt.chain, chain)
		})
	}

	_, _, err := FormatFromPath("notes.txt")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}
