// Package disk moves archives between the filesystem and pkg/archive
// readers and writers.
package disk

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/crazy-max/archivist/pkg/archive"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	fallbackDirPerm  fs.FileMode = 0o755
	fallbackFilePerm fs.FileMode = 0o644
)

// ExtractAll opens source as an archive and extracts it under destDir.
// source is closed when it is an io.Closer.
func ExtractAll(ctx context.Context, source io.Reader, destDir string, opts ...Option) error {
	o := newOptions(opts)
	r, err := archive.OpenReader(source, o.readerOptions()...)
	if err != nil {
		return err
	}
	defer r.Close()
	return Extract(ctx, r, destDir, opts...)
}

// Extract writes every remaining entry of r under destDir, creating it if
// needed.
//
// Entries with an absolute path, or with a path or link target leaving
// destDir, fail with ErrUnsafePath. A failing entry is skipped and the walk
// goes on; the failures are returned together at the end unless
// WithAbortOnError is set. Directory permissions and times are applied once
// every entry has been written.
func Extract(ctx context.Context, r *archive.Reader, destDir string, opts ...Option) error {
	o := newOptions(opts)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return archtype.WrapPath(archtype.CodeIOError, "extract", destDir, err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return archtype.WrapPath(archtype.CodeIOError, "extract", destDir, err)
	}
	defer root.Close()

	x := &extractor{
		ctx:      ctx,
		r:        r,
		root:     root,
		dest:     destDir,
		opts:     o,
		log:      o.logger.With().Str("dest", destDir).Logger(),
		reliable: r.Format().Traits().ReliablePerms,
	}
	return x.run()
}

type dirFixup struct {
	entry  *archive.Entry
	target string
}

type extractor struct {
	ctx      context.Context
	r        *archive.Reader
	root     *os.Root
	dest     string
	opts     options
	log      zerolog.Logger
	reliable bool
	dirs     []dirFixup
}

func (x *extractor) run() error {
	x.log.Info().Str("format", x.r.FormatName()).Msg("Extracting archive")

	var result *multierror.Error
	var last error
	var count int
	for {
		if err := x.ctx.Err(); err != nil {
			if !errors.Is(result.ErrorOrNil(), err) {
				result = multierror.Append(result, err)
			}
			break
		}
		e, err := x.r.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			// A failed body is reported again by Next.
			if err != last {
				result = multierror.Append(result, err)
			}
			break
		}
		if err := x.extract(e); err != nil {
			if x.opts.abortOnError {
				return err
			}
			x.log.Warn().Err(err).Str("path", e.Path).Msg("Skipping entry")
			result = multierror.Append(result, err)
			last = err
			continue
		}
		count++
	}

	if err := x.finishDirs(); err != nil {
		result = multierror.Append(result, err)
	}
	x.log.Debug().Int("entries", count).Msg("Archive extracted")
	return result.ErrorOrNil()
}

func (x *extractor) extract(e *archive.Entry) error {
	name, err := memberPath(e.Path)
	if err != nil {
		return err
	}
	if name == "." {
		if e.IsDir() {
			return nil
		}
		return unsafePath(e.Path, "entry resolves to the destination itself")
	}
	target := filepath.FromSlash(name)

	if dir := filepath.Dir(target); dir != "." {
		if err := x.root.MkdirAll(dir, 0o777); err != nil {
			return x.ioError(e, err)
		}
	}

	switch e.Kind {
	case archive.KindDirectory:
		x.log.Trace().Msgf("Extracting %s", e.Path)
		err = x.dir(e, target)
	case archive.KindFile:
		x.log.Debug().Msgf("Extracting %s", e.Path)
		err = x.file(e, target)
	case archive.KindSymlink:
		x.log.Debug().Msgf("Linking %s to %s", e.Path, e.LinkTarget)
		err = x.symlink(e, name, target)
	case archive.KindHardLink:
		x.log.Debug().Msgf("Linking %s to %s", e.Path, e.LinkTarget)
		err = x.hardlink(e, target)
	default:
		x.log.Debug().Str("path", e.Path).Str("kind", e.Kind.String()).Msg("Skipping special entry")
		return nil
	}
	if err != nil {
		return err
	}

	if x.opts.onEntry != nil {
		x.opts.onEntry(e, filepath.Join(x.dest, target))
	}
	return nil
}

func (x *extractor) dir(e *archive.Entry, target string) error {
	if fi, err := x.root.Lstat(target); err == nil && !fi.IsDir() {
		if err := x.root.Remove(target); err != nil {
			return x.ioError(e, err)
		}
	}
	if err := x.root.MkdirAll(target, 0o777); err != nil {
		return x.ioError(e, err)
	}
	x.dirs = append(x.dirs, dirFixup{entry: e.Clone(), target: target})
	return nil
}

func (x *extractor) file(e *archive.Entry, target string) error {
	if err := x.replace(target); err != nil {
		return x.ioError(e, err)
	}
	f, err := x.root.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return x.ioError(e, err)
	}
	err = x.copyBody(f, e)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return x.ioError(e, err)
	}
	return x.restore(e, target)
}

// copyBody writes the blocks at their offsets so holes stay unwritten, then
// sets the final length.
func (x *extractor) copyBody(f *os.File, e *archive.Entry) error {
	for {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		b, err := x.r.ReadBlock()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}
		if _, err := f.WriteAt(b.Data, b.Offset); err != nil {
			return err
		}
	}
	return f.Truncate(e.Size)
}

func (x *extractor) symlink(e *archive.Entry, name, target string) error {
	if err := symlinkTarget(name, e.LinkTarget); err != nil {
		return err
	}
	if err := x.replace(target); err != nil {
		return x.ioError(e, err)
	}
	if err := x.root.Symlink(filepath.FromSlash(e.LinkTarget), target); err != nil {
		return x.ioError(e, err)
	}
	if x.opts.preserveTimes && !e.ModTime.IsZero() {
		if err := lchtimes(x.root, target, e.ModTime); err != nil {
			x.log.Debug().Err(err).Str("path", e.Path).Msg("Cannot set symlink time")
		}
	}
	return nil
}

func (x *extractor) hardlink(e *archive.Entry, target string) error {
	src, err := memberPath(e.LinkTarget)
	if err != nil {
		return unsafePath(e.Path, "link target "+e.LinkTarget+" escapes the destination")
	}
	if err := x.replace(target); err != nil {
		return x.ioError(e, err)
	}
	if err := x.root.Link(filepath.FromSlash(src), target); err != nil {
		return x.ioError(e, err)
	}
	return nil
}

// replace removes whatever is stored at target. Non-empty directories are
// left alone and reported.
func (x *extractor) replace(target string) error {
	if _, err := x.root.Lstat(target); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	return x.root.Remove(target)
}

// perm returns the mode to apply to e. It reports false when the archive
// records no permissions for e, which keeps the mode given at creation.
func (x *extractor) perm(e *archive.Entry) (fs.FileMode, bool) {
	if !x.reliable {
		if e.IsDir() {
			return fallbackDirPerm, true
		}
		return fallbackFilePerm, true
	}
	return e.Perm, e.Perm != 0
}

func (x *extractor) restore(e *archive.Entry, target string) error {
	if mode, ok := x.perm(e); x.opts.preservePerms && ok {
		if err := x.root.Chmod(target, mode); err != nil {
			return x.ioError(e, err)
		}
	}
	if x.opts.preserveTimes && !e.ModTime.IsZero() {
		if err := x.root.Chtimes(target, e.ModTime, e.ModTime); err != nil {
			return x.ioError(e, err)
		}
	}
	return nil
}

// finishDirs applies directory metadata in reverse archive order, after
// their contents are written.
func (x *extractor) finishDirs() error {
	var result *multierror.Error
	for i := len(x.dirs) - 1; i >= 0; i-- {
		d := x.dirs[i]
		if err := x.restore(d.entry, d.target); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (x *extractor) ioError(e *archive.Entry, err error) error {
	return archtype.WrapPath(archtype.CodeIOError, "extract", e.Path, err)
}
