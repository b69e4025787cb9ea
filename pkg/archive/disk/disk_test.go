package disk

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crazy-max/archivist/pkg/archive"
	"github.com/crazy-max/archivist/pkg/archive/filter"
	"github.com/hashicorp/go-multierror"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type member struct {
	entry archive.Entry
	body  []byte
}

var mtime = time.Date(2023, 3, 14, 15, 9, 26, 0, time.UTC)

func file(name, body string, perm fs.FileMode) member {
	return member{
		entry: archive.Entry{Path: name, Kind: archive.KindFile, Size: int64(len(body)), Perm: perm, ModTime: mtime},
		body:  []byte(body),
	}
}

func dir(name string, perm fs.FileMode) member {
	return member{entry: archive.Entry{Path: name, Kind: archive.KindDirectory, Perm: perm, ModTime: mtime}}
}

func link(name, target string, kind archive.Kind) member {
	return member{entry: archive.Entry{Path: name, Kind: kind, Perm: 0o777, ModTime: mtime, LinkTarget: target}}
}

func build(t *testing.T, f archive.Format, members ...member) []byte {
	t.Helper()
	w, buf, err := archive.NewMemoryWriter(f, nil)
	require.NoError(t, err)
	for _, m := range members {
		e := m.entry
		require.NoError(t, w.WriteHeader(&e))
		if e.HasBody() {
			_, err := w.Write(m.body)
			require.NoError(t, err)
			require.NoError(t, w.FinishEntry())
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func extract(t *testing.T, data []byte, dest string, opts ...Option) error {
	t.Helper()
	return ExtractAll(context.Background(), bytes.NewReader(data), dest, opts...)
}

func TestExtractOrder(t *testing.T) {
	dest := t.TempDir()
	data := build(t, archive.FormatTar,
		dir("sub/", 0o755),
		file("sub/f.txt", "hello", 0o644),
	)

	var targets []string
	err := extract(t, data, dest, WithOnEntry(func(e *archive.Entry, target string) {
		targets = append(targets, target)
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dest, "sub"),
		filepath.Join(dest, "sub", "f.txt"),
	}, targets)

	b, err := os.ReadFile(filepath.Join(dest, "sub", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestExtractMetadata(t *testing.T) {
	dest := t.TempDir()
	data := build(t, archive.FormatTar,
		dir("d/", 0o750),
		file("d/secret", "s3cr3t", 0o600),
		file("d/run.sh", "#!/bin/sh\n", 0o755),
	)
	require.NoError(t, extract(t, data, dest))

	for name, perm := range map[string]fs.FileMode{
		"d":        0o750,
		"d/secret": 0o600,
		"d/run.sh": 0o755,
	} {
		fi, err := os.Stat(filepath.Join(dest, name))
		require.NoError(t, err, name)
		assert.Equal(t, perm, fi.Mode().Perm(), name)
		assert.True(t, fi.ModTime().Equal(mtime), "%s: %s", name, fi.ModTime())
	}
}

func TestExtractNoPreserve(t *testing.T) {
	dest := t.TempDir()
	data := build(t, archive.FormatTar, file("f", "x", 0o600))
	require.NoError(t, extract(t, data, dest, WithPreservePermissions(false), WithPreserveTimes(false)))

	fi, err := os.Stat(filepath.Join(dest, "f"))
	require.NoError(t, err)
	assert.False(t, fi.ModTime().Equal(mtime))
}

func TestExtractZipFallbackPerms(t *testing.T) {
	dest := t.TempDir()
	data := build(t, archive.FormatZip,
		dir("d/", 0o700),
		file("d/f.txt", "zip", 0o600),
	)
	require.NoError(t, extract(t, data, dest))

	fi, err := os.Stat(filepath.Join(dest, "d"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o755), fi.Mode().Perm())

	fi, err = os.Stat(filepath.Join(dest, "d", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o644), fi.Mode().Perm())
}

func TestExtractLinks(t *testing.T) {
	dest := t.TempDir()
	data := build(t, archive.FormatTar,
		file("a/data.txt", "payload", 0o644),
		link("a/sym", "data.txt", archive.KindSymlink),
		link("b/up", "../a/data.txt", archive.KindSymlink),
		link("a/hard", "a/data.txt", archive.KindHardLink),
	)
	require.NoError(t, extract(t, data, dest))

	target, err := os.Readlink(filepath.Join(dest, "a", "sym"))
	require.NoError(t, err)
	assert.Equal(t, "data.txt", target)

	for _, name := range []string{"a/sym", "b/up", "a/hard"} {
		b, err := os.ReadFile(filepath.Join(dest, name))
		require.NoError(t, err, name)
		assert.Equal(t, "payload", string(b), name)
	}

	orig, err := os.Stat(filepath.Join(dest, "a", "data.txt"))
	require.NoError(t, err)
	hard, err := os.Stat(filepath.Join(dest, "a", "hard"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(orig, hard))
}

func TestExtractUnsafe(t *testing.T) {
	base := t.TempDir()
	dest := filepath.Join(base, "x", "y", "dest")
	data := build(t, archive.FormatTar,
		file("../../etc/passwd", "root::0:0", 0o644),
		file("/abs.txt", "abs", 0o644),
		link("evil", "../../../outside", archive.KindSymlink),
		link("abs-link", "/etc/passwd", archive.KindSymlink),
		link("hard", "../../etc/shadow", archive.KindHardLink),
		file("ok.txt", "fine", 0o644),
	)

	err := extract(t, data, dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, archive.ErrUnsafePath)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 5)
	for _, e := range merr.Errors {
		assert.ErrorIs(t, e, archive.ErrUnsafePath)
	}

	b, err := os.ReadFile(filepath.Join(dest, "ok.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fine", string(b))

	assert.NoFileExists(t, filepath.Join(base, "x", "etc", "passwd"))
	assert.NoFileExists(t, filepath.Join(dest, "abs.txt"))
	_, err = os.Lstat(filepath.Join(dest, "evil"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestExtractAbortOnError(t *testing.T) {
	dest := t.TempDir()
	data := build(t, archive.FormatTar,
		file("first.txt", "1", 0o644),
		file("../escape.txt", "2", 0o644),
		file("last.txt", "3", 0o644),
	)

	err := extract(t, data, dest, WithAbortOnError(true))
	require.Error(t, err)
	assert.ErrorIs(t, err, archive.ErrUnsafePath)

	var merr *multierror.Error
	assert.False(t, errors.As(err, &merr))
	assert.FileExists(t, filepath.Join(dest, "first.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "last.txt"))
}

func TestExtractSparse(t *testing.T) {
	dest := t.TempDir()
	body := append(bytes.Repeat([]byte{'x'}, 100), make([]byte, 4*archive.DefaultBlockSize)...)
	body = append(body, 'y')
	trailing := make([]byte, 3*archive.DefaultBlockSize)
	data := build(t, archive.FormatTar,
		member{entry: archive.Entry{Path: "disk.img", Kind: archive.KindFile, Size: int64(len(body)), Perm: 0o644}, body: body},
		member{entry: archive.Entry{Path: "zeros", Kind: archive.KindFile, Size: int64(len(trailing)), Perm: 0o644}, body: trailing},
	)
	require.NoError(t, extract(t, data, dest))

	b, err := os.ReadFile(filepath.Join(dest, "disk.img"))
	require.NoError(t, err)
	assert.Equal(t, body, b)

	b, err = os.ReadFile(filepath.Join(dest, "zeros"))
	require.NoError(t, err)
	assert.Equal(t, trailing, b)
}

func TestExtractReplaces(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "f"), []byte("old content that is longer"), 0o644))
	require.NoError(t, os.Symlink("f", filepath.Join(dest, "l")))

	data := build(t, archive.FormatTar,
		file("f", "new", 0o644),
		file("l", "was a link", 0o644),
	)
	require.NoError(t, extract(t, data, dest))

	b, err := os.ReadFile(filepath.Join(dest, "f"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))

	fi, err := os.Lstat(filepath.Join(dest, "l"))
	require.NoError(t, err)
	assert.True(t, fi.Mode().IsRegular())
}

func TestExtractCorruptBody(t *testing.T) {
	dest := t.TempDir()
	data := build(t, archive.FormatTar, file("big", string(bytes.Repeat([]byte{'z'}, 20000)), 0o644))
	err := extract(t, data[:5000], dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, archive.ErrCorruptData)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 1)
}

func TestExtractChecksumMismatch(t *testing.T) {
	dest := t.TempDir()
	body := "Hello world, this is the body"
	w, buf, err := archive.NewMemoryWriter(archive.FormatZip, nil, archive.WithFormatOptions(map[string]string{"compression": "store"}))
	require.NoError(t, err)
	e := file("f.txt", body, 0o644).entry
	require.NoError(t, w.WriteHeader(&e))
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.FinishEntry())
	require.NoError(t, w.Close())

	data := buf.Bytes()
	i := bytes.Index(data, []byte(body))
	require.GreaterOrEqual(t, i, 0)
	data[i] = 'J'

	err = extract(t, data, dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, archive.ErrCorruptData)

	b, _ := os.ReadFile(filepath.Join(dest, "f.txt"))
	assert.NotEqual(t, "Jello world, this is the body", string(b))
}

func TestExtractMissingPerms(t *testing.T) {
	dest := t.TempDir()
	data := build(t, archive.FormatTar,
		dir("d/", 0),
		file("d/f.txt", "no mode", 0),
	)
	require.NoError(t, extract(t, data, dest))

	for _, name := range []string{"d", "d/f.txt"} {
		fi, err := os.Stat(filepath.Join(dest, name))
		require.NoError(t, err, name)
		assert.NotZero(t, fi.Mode().Perm()&0o600, "%s: %s", name, fi.Mode())
	}
	b, err := os.ReadFile(filepath.Join(dest, "d", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "no mode", string(b))
}

func TestExtractCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data := build(t, archive.FormatTar, file("f", "x", 0o644))
	err := ExtractAll(ctx, bytes.NewReader(data), t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestList(t *testing.T) {
	data := build(t, archive.FormatTar,
		dir("d/", 0o755),
		file("d/a.txt", "alpha", 0o644),
		file("d/empty", "", 0o644),
		link("d/l", "a.txt", archive.KindSymlink),
	)

	items, err := ListAll(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.True(t, items[1].ModTime.Equal(mtime))
	items[1].ModTime = mtime
	assert.Equal(t, Item{Path: "d/a.txt", Size: 5, Kind: archive.KindFile, ModTime: mtime}, items[1])
	assert.Equal(t, "a.txt", items[3].LinkTarget)
	for _, it := range items {
		assert.Empty(t, it.Digest)
	}

	items, err = ListAll(context.Background(), bytes.NewReader(data), WithDigest(digest.SHA256))
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Empty(t, items[0].Digest)
	assert.Equal(t, digest.FromString("alpha"), items[1].Digest)
	assert.Equal(t, digest.FromBytes(nil), items[2].Digest)
	assert.Empty(t, items[3].Digest)
}

func TestListUnavailableDigest(t *testing.T) {
	data := build(t, archive.FormatTar, file("f", "x", 0o644))
	_, err := ListAll(context.Background(), bytes.NewReader(data), WithDigest("md4"))
	assert.ErrorIs(t, err, archive.ErrUnsupportedOption)
}

func TestReadFile(t *testing.T) {
	data := build(t, archive.FormatZip,
		dir("docs/", 0o755),
		file("docs/readme.md", "# title\n", 0o644),
	)

	b, err := ReadFile(bytes.NewReader(data), "./docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "# title\n", string(b))

	_, err = ReadFile(bytes.NewReader(data), "docs/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = ReadFile(bytes.NewReader(data), "docs")
	assert.ErrorIs(t, err, archive.ErrOpenFailed)
}

func TestCreateFromPaths(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "tree", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "tree", "small.txt"), []byte("small"), 0o644))
	big := bytes.Repeat([]byte("0123456789abcdef"), 3*ChunkSize/16+7)
	require.NoError(t, os.WriteFile(filepath.Join(src, "tree", "nested", "big.bin"), big, 0o600))
	require.NoError(t, os.Symlink("small.txt", filepath.Join(src, "tree", "link")))
	require.NoError(t, os.WriteFile(filepath.Join(src, "tree", "nested", ".keep"), nil, 0o644))
	t.Chdir(src)

	var out bytes.Buffer
	err := CreateFromPaths(context.Background(), &out, archive.FormatTar, filter.Chain{filter.Gzip}, []string{"tree"})
	require.NoError(t, err)

	items, err := ListAll(context.Background(), bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	kinds := make(map[string]archive.Kind)
	for _, it := range items {
		kinds[it.Path] = it.Kind
	}
	assert.Equal(t, map[string]archive.Kind{
		"tree/":               archive.KindDirectory,
		"tree/link":           archive.KindSymlink,
		"tree/nested/":        archive.KindDirectory,
		"tree/nested/.keep":   archive.KindFile,
		"tree/nested/big.bin": archive.KindFile,
		"tree/small.txt":      archive.KindFile,
	}, kinds)

	dest := t.TempDir()
	require.NoError(t, extract(t, out.Bytes(), dest))
	b, err := os.ReadFile(filepath.Join(dest, "tree", "nested", "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, big, b)
	fi, err := os.Stat(filepath.Join(dest, "tree", "nested", ".keep"))
	require.NoError(t, err)
	assert.Zero(t, fi.Size())
	target, err := os.Readlink(filepath.Join(dest, "tree", "link"))
	require.NoError(t, err)
	assert.Equal(t, "small.txt", target)
}

func TestCreateMissingPath(t *testing.T) {
	var out bytes.Buffer
	err := CreateFromPaths(context.Background(), &out, archive.FormatZip, nil, []string{filepath.Join(t.TempDir(), "nope")})
	assert.ErrorIs(t, err, archive.ErrOpenFailed)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemberPath(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "a/b.txt", want: "a/b.txt"},
		{name: "./a//b/", want: "a/b"},
		{name: "a/../b", want: "b"},
		{name: "./", want: "."},
		{name: "", wantErr: true},
		{name: "/etc/passwd", wantErr: true},
		{name: "../x", wantErr: true},
		{name: "a/../../x", wantErr: true},
		{name: "..", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := memberPath(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, archive.ErrUnsafePath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSymlinkTarget(t *testing.T) {
	assert.NoError(t, symlinkTarget("a/b/l", "../c"))
	assert.NoError(t, symlinkTarget("l", "a/../b"))
	assert.ErrorIs(t, symlinkTarget("a/l", "../../c"), archive.ErrUnsafePath)
	assert.ErrorIs(t, symlinkTarget("l", "/etc"), archive.ErrUnsafePath)
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "tmp/x", archiveName("/tmp/x"))
	assert.Equal(t, "x/y", archiveName("../../x/y"))
	assert.Equal(t, "a", archiveName("./a/"))
	assert.Equal(t, ".", archiveName("."))
}
