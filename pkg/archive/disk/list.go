package disk

import (
	"context"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"io"
	"time"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/crazy-max/archivist/pkg/archive"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// Item describes one listed entry.
type Item struct {
	Path       string
	Size       int64
	Kind       archive.Kind
	ModTime    time.Time
	LinkTarget string `json:",omitempty"`
	Encrypted  bool   `json:",omitempty"`

	// Digest is only set for regular files and when WithDigest is given.
	Digest digest.Digest `json:",omitempty"`
}

// ListAll opens source as an archive and lists its entries. source is
// closed when it is an io.Closer.
func ListAll(ctx context.Context, source io.Reader, opts ...Option) ([]Item, error) {
	o := newOptions(opts)
	r, err := archive.OpenReader(source, o.readerOptions()...)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return List(ctx, r, opts...)
}

// List returns the remaining entries of r. Bodies are skipped unless a
// digest is requested. On error, the entries listed so far are returned with
// it.
func List(ctx context.Context, r *archive.Reader, opts ...Option) ([]Item, error) {
	o := newOptions(opts)
	if o.digest != "" && !o.digest.Available() {
		return nil, archtype.Errorf(archtype.CodeUnsupportedOption, "list", "digest algorithm %q is not available", o.digest)
	}

	var items []Item
	for {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return items, nil
		} else if err != nil {
			return items, err
		}
		item := Item{
			Path:       e.Path,
			Size:       e.Size,
			Kind:       e.Kind,
			ModTime:    e.ModTime,
			LinkTarget: e.LinkTarget,
			Encrypted:  e.Encrypted,
		}
		if o.digest != "" && e.IsFile() {
			dg := o.digest.Digester()
			if _, err := io.Copy(dg.Hash(), readerContext(ctx, r)); err != nil {
				return items, err
			}
			item.Digest = dg.Digest()
		}
		o.logger.Trace().Str("path", item.Path).Str("digest", item.Digest.String()).Msg("Listed entry")
		items = append(items, item)
	}
}
