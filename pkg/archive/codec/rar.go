package codec

import (
	"io"
	"io/fs"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/nwaples/rardecode/v2"
	"github.com/pkg/errors"
)

type rarDecoder struct {
	rr *rardecode.Reader
}

func newRarDecoder(src Source, opts DecoderOptions) (*rarDecoder, error) {
	var ropts []rardecode.Option
	// rardecode takes a single password; the first added passphrase wins.
	if p := opts.passphrases(); len(p) > 0 {
		ropts = append(ropts, rardecode.Password(p[0]))
	}
	rr, err := rardecode.NewReader(src, ropts...)
	if err != nil {
		return nil, classifyRar("open rar", err)
	}
	return &rarDecoder{rr: rr}, nil
}

func classifyRar(op string, err error) error {
	switch {
	case errors.Is(err, rardecode.ErrBadPassword),
		errors.Is(err, rardecode.ErrArchiveEncrypted),
		errors.Is(err, rardecode.ErrArchivedFileEncrypted):
		return archtype.Wrap(archtype.CodeDecryptionFailed, op, err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return archtype.Wrap(archtype.CodeCorruptHeader, op, err)
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return archtype.Wrap(archtype.CodeIOError, op, err)
	}
	return archtype.Wrap(archtype.CodeCorruptHeader, op, err)
}

func (d *rarDecoder) Next() (*archtype.Entry, error) {
	h, err := d.rr.Next()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	} else if err != nil {
		return nil, classifyRar("read rar header", err)
	}

	mode := h.Mode()
	e := &archtype.Entry{
		Path:      h.Name,
		Perm:      mode & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky),
		ModTime:   h.ModificationTime,
		Encrypted: h.Encrypted,
	}
	switch {
	case h.IsDir:
		e.Kind = archtype.KindDirectory
	case mode&fs.ModeSymlink != 0:
		e.Kind = archtype.KindSymlink
		target, err := io.ReadAll(io.LimitReader(d.rr, maxSymlinkSize))
		if err != nil {
			return nil, classifyRar("read symlink", err)
		}
		e.LinkTarget = string(target)
	case mode.IsRegular():
		e.Kind = archtype.KindFile
		e.Size = h.UnPackedSize
	default:
		e.Kind = archtype.KindSpecial
	}
	return e, nil
}

func (d *rarDecoder) Read(p []byte) (int, error) {
	n, err := d.rr.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, classifyRar("read rar member", err)
	}
	return n, err
}

func (d *rarDecoder) Close() error {
	return nil
}
