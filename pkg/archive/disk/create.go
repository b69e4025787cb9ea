package disk

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/crazy-max/archivist/pkg/archive"
	"github.com/crazy-max/archivist/pkg/archive/filter"
	"github.com/pkg/errors"
)

// ChunkSize is the size of the writes used to copy file bodies.
const ChunkSize = 8 << 10

// CreateFromPaths writes an archive of format f compressed with chain to
// sink, holding paths and, for directories, everything below them on the
// same device. sink is closed when it is an io.Closer.
func CreateFromPaths(ctx context.Context, sink io.Writer, f archive.Format, chain filter.Chain, paths []string, opts ...Option) error {
	o := newOptions(opts)
	w, err := archive.NewWriter(sink, f, chain, o.writerOptions()...)
	if err != nil {
		return err
	}
	err = AddPaths(ctx, w, paths, opts...)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}

// AddPaths appends paths to w. Directories are walked without crossing
// mount points. Symlinks are stored as links; fifos and devices are skipped.
func AddPaths(ctx context.Context, w *archive.Writer, paths []string, opts ...Option) error {
	a := &adder{
		ctx:  ctx,
		w:    w,
		opts: newOptions(opts),
		buf:  make([]byte, ChunkSize),
	}
	for _, p := range paths {
		if err := a.add(p); err != nil {
			return err
		}
	}
	return nil
}

type adder struct {
	ctx  context.Context
	w    *archive.Writer
	opts options
	buf  []byte
}

func (a *adder) add(root string) error {
	fi, err := os.Lstat(root)
	if err != nil {
		return archtype.WrapPath(archtype.CodeOpenFailed, "add path", root, err)
	}
	if !fi.IsDir() {
		return a.addOne(root, fi)
	}

	dev, err := deviceID(root)
	if err != nil {
		return archtype.WrapPath(archtype.CodeOpenFailed, "add path", root, err)
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return archtype.WrapPath(archtype.CodeIOError, "add path", p, err)
		}
		if err := a.ctx.Err(); err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return archtype.WrapPath(archtype.CodeIOError, "add path", p, err)
		}
		if err := a.addOne(p, fi); err != nil {
			return err
		}
		if d.IsDir() && p != root {
			if id, err := deviceID(p); err == nil && id != dev {
				a.opts.logger.Debug().Str("path", p).Msg("Not crossing mount point")
				return filepath.SkipDir
			}
		}
		return nil
	})
}

func (a *adder) addOne(p string, fi fs.FileInfo) error {
	e := &archive.Entry{
		Path:    archiveName(p),
		Perm:    fi.Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky),
		ModTime: fi.ModTime(),
	}
	switch mode := fi.Mode(); {
	case mode.IsDir():
		if e.Path == "." {
			return nil
		}
		e.Kind = archive.KindDirectory
		e.Path += "/"
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(p)
		if err != nil {
			return archtype.WrapPath(archtype.CodeIOError, "add path", p, err)
		}
		e.Kind = archive.KindSymlink
		e.LinkTarget = filepath.ToSlash(target)
	case mode.IsRegular():
		e.Kind = archive.KindFile
		e.Size = fi.Size()
	default:
		a.opts.logger.Debug().Str("path", p).Str("mode", mode.String()).Msg("Skipping special file")
		return nil
	}

	if err := a.w.WriteHeader(e); err != nil {
		return err
	}
	a.opts.logger.Debug().Msgf("Adding %s", e.Path)
	if !e.HasBody() {
		return nil
	}
	if err := a.copyFile(p, e.Size); err != nil {
		return err
	}
	return a.w.FinishEntry()
}

// copyFile streams at most size bytes of p. A file that shrank meanwhile is
// reported by FinishEntry.
func (a *adder) copyFile(p string, size int64) error {
	f, err := os.Open(p)
	if err != nil {
		return archtype.WrapPath(archtype.CodeOpenFailed, "add path", p, err)
	}
	defer f.Close()

	r := readerContext(a.ctx, io.LimitReader(f, size))
	for {
		n, err := r.Read(a.buf)
		if n > 0 {
			if _, werr := a.w.Write(a.buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return archtype.WrapPath(archtype.CodeIOError, "add path", p, err)
		}
	}
}
