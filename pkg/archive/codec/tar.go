package codec

import (
	"archive/tar"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/pkg/errors"
)

// OptionTarFormat selects the tar header flavour: pax (default), ustar or gnu.
const OptionTarFormat = "format"

var tarFormats = map[string]tar.Format{
	"pax":   tar.FormatPAX,
	"ustar": tar.FormatUSTAR,
	"gnu":   tar.FormatGNU,
}

type tarDecoder struct {
	tr *tar.Reader
}

func newTarDecoder(src Source) *tarDecoder {
	return &tarDecoder{tr: tar.NewReader(src)}
}

func (d *tarDecoder) Next() (*archtype.Entry, error) {
	for {
		hdr, err := d.tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		} else if err != nil {
			var pe *fs.PathError
			if errors.As(err, &pe) {
				return nil, archtype.Wrap(archtype.CodeIOError, "read tar header", err)
			}
			return nil, archtype.Wrap(archtype.CodeCorruptHeader, "read tar header", err)
		}

		e := &archtype.Entry{
			Path:    hdr.Name,
			Perm:    archtype.PermFromUnix(hdr.Mode),
			ModTime: hdr.ModTime,
		}
		switch hdr.Typeflag {
		case tar.TypeXGlobalHeader:
			continue
		case tar.TypeReg, tar.TypeGNUSparse, tar.TypeCont, '\x00':
			e.Kind = archtype.KindFile
			e.Size = hdr.Size
		case tar.TypeDir:
			e.Kind = archtype.KindDirectory
		case tar.TypeSymlink:
			e.Kind = archtype.KindSymlink
			e.LinkTarget = hdr.Linkname
		case tar.TypeLink:
			e.Kind = archtype.KindHardLink
			e.LinkTarget = hdr.Linkname
		default:
			e.Kind = archtype.KindSpecial
		}
		return e, nil
	}
}

func (d *tarDecoder) Read(p []byte) (int, error) {
	return d.tr.Read(p)
}

func (d *tarDecoder) Close() error {
	return nil
}

type tarEncoder struct {
	tw     *tar.Writer
	sink   *stickyWriter
	format tar.Format
}

func newTarEncoder(w io.Writer, opts EncoderOptions) (*tarEncoder, error) {
	if err := checkOptionKeys(archtype.FormatTar, opts.Options); err != nil {
		return nil, err
	}
	format := tar.FormatPAX
	if name, ok := opts.Options[OptionTarFormat]; ok {
		f, ok := tarFormats[strings.ToLower(name)]
		if !ok {
			return nil, archtype.Errorf(archtype.CodeUnsupportedOption, "open encoder", "unknown tar format %q", name)
		}
		format = f
	}
	sink := &stickyWriter{w: w}
	return &tarEncoder{
		tw:     tar.NewWriter(sink),
		sink:   sink,
		format: format,
	}, nil
}

func (t *tarEncoder) WriteHeader(e *archtype.Entry) error {
	hdr := &tar.Header{
		Name:    e.Path,
		Mode:    e.UnixMode(),
		ModTime: e.ModTime,
		Format:  t.format,
	}
	if hdr.ModTime.IsZero() {
		hdr.ModTime = time.Unix(0, 0)
	}
	if t.format != tar.FormatPAX {
		hdr.ModTime = hdr.ModTime.Truncate(time.Second)
	}
	switch e.Kind {
	case archtype.KindFile:
		hdr.Typeflag = tar.TypeReg
		hdr.Size = e.Size
	case archtype.KindDirectory:
		hdr.Typeflag = tar.TypeDir
	case archtype.KindSymlink:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = e.LinkTarget
	case archtype.KindHardLink:
		hdr.Typeflag = tar.TypeLink
		hdr.Linkname = e.LinkTarget
	default:
		return archtype.Errorf(archtype.CodeUnsupportedFormat, "write tar header", "cannot write %s member %q", e.Kind, e.Path)
	}
	if err := t.tw.WriteHeader(hdr); err != nil {
		if t.sink.err != nil {
			return archtype.WrapPath(archtype.CodeIOError, "write tar header", e.Path, err)
		}
		return archtype.WrapPath(archtype.CodeCorruptHeader, "write tar header", e.Path, err)
	}
	return nil
}

func (t *tarEncoder) Write(p []byte) (int, error) {
	return t.tw.Write(p)
}

func (t *tarEncoder) FinishEntry() error {
	return t.tw.Flush()
}

func (t *tarEncoder) Close() error {
	return t.tw.Close()
}

// stickyWriter remembers the first error of the underlying writer so
// encoding errors can be told apart from sink failures.
type stickyWriter struct {
	w   io.Writer
	err error
}

func (s *stickyWriter) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.w.Write(p)
	if err != nil {
		s.err = err
	}
	return n, err
}
