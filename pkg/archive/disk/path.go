package disk

import (
	"context"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/pkg/errors"
)

// memberPath cleans an archive path and rejects paths that are absolute or
// climb above the extraction root. The root itself is returned as ".".
func memberPath(name string) (string, error) {
	name = filepath.ToSlash(name)
	if name == "" {
		return "", unsafePath(name, "empty path")
	}
	if path.IsAbs(name) || filepath.VolumeName(filepath.FromSlash(name)) != "" {
		return "", unsafePath(name, "absolute path")
	}
	clean := path.Clean(name)
	if escapes(clean) {
		return "", unsafePath(name, "path escapes the destination")
	}
	return clean, nil
}

// symlinkTarget checks that a symlink stored at member resolves inside the
// extraction root.
func symlinkTarget(member, target string) error {
	target = filepath.ToSlash(target)
	if path.IsAbs(target) || filepath.VolumeName(filepath.FromSlash(target)) != "" {
		return unsafePath(member, "absolute link target "+target)
	}
	if escapes(path.Join(path.Dir(member), target)) {
		return unsafePath(member, "link target "+target+" escapes the destination")
	}
	return nil
}

func escapes(clean string) bool {
	return clean == ".." || strings.HasPrefix(clean, "../")
}

func unsafePath(name, reason string) error {
	return archtype.WrapPath(archtype.CodeUnsafePath, "extract", name, errors.New(reason))
}

// archiveName turns a filesystem path into the member name it is stored
// under: slash separated, relative, without leading "..".
func archiveName(p string) string {
	name := path.Clean(filepath.ToSlash(p))
	if vol := filepath.VolumeName(p); vol != "" {
		name = strings.TrimPrefix(name, filepath.ToSlash(vol))
	}
	name = strings.TrimLeft(name, "/")
	for name == ".." || strings.HasPrefix(name, "../") {
		name = strings.TrimPrefix(strings.TrimPrefix(name, ".."), "/")
	}
	if name == "" {
		return "."
	}
	return name
}

type reader struct {
	ctx context.Context
	r   io.Reader
}

func readerContext(ctx context.Context, r io.Reader) io.Reader {
	return reader{ctx, r}
}

func (r reader) Read(p []byte) (int, error) {
	err := r.ctx.Err()
	if err != nil {
		return 0, err
	}
	n, err := r.r.Read(p)
	if err != nil {
		return n, err
	}
	return n, r.ctx.Err()
}
