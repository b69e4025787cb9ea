// Package archive reads and writes tar, zip and rar archives over a stack of
// compression filters, one entry at a time.
//
// A Reader pulls entries lazily from any io.Reader:
//
//	r, err := archive.OpenFile("backup.tar.zst")
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//	for {
//		e, err := r.Next()
//		if errors.Is(err, io.EOF) {
//			break
//		} else if err != nil {
//			return err
//		}
//		fmt.Println(e.Path, e.Size)
//	}
//
// A Writer accepts entries and their bodies and frames them onto a sink.
// Neither is safe for concurrent use.
package archive

import (
	"path"
	"strings"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/crazy-max/archivist/pkg/archive/filter"
)

type (
	// Entry is the metadata of one archive member.
	Entry = archtype.Entry

	// Kind is the type of an archive member.
	Kind = archtype.Kind

	// Format identifies a container format.
	Format = archtype.Format

	// Error is the error type returned by every operation.
	Error = archtype.Error

	// Code classifies errors.
	Code = archtype.Code
)

const (
	KindFile      = archtype.KindFile
	KindDirectory = archtype.KindDirectory
	KindSymlink   = archtype.KindSymlink
	KindHardLink  = archtype.KindHardLink
	KindSpecial   = archtype.KindSpecial
)

const (
	FormatTar = archtype.FormatTar
	FormatZip = archtype.FormatZip
	FormatRar = archtype.FormatRar
)

const (
	CodeOpenFailed        = archtype.CodeOpenFailed
	CodeUnsupportedFormat = archtype.CodeUnsupportedFormat
	CodeUnsupportedFilter = archtype.CodeUnsupportedFilter
	CodeUnsupportedOption = archtype.CodeUnsupportedOption
	CodeCorruptHeader     = archtype.CodeCorruptHeader
	CodeCorruptData       = archtype.CodeCorruptData
	CodeSizeMismatch      = archtype.CodeSizeMismatch
	CodeDecryptionFailed  = archtype.CodeDecryptionFailed
	CodeUnsafePath        = archtype.CodeUnsafePath
	CodeInvalidState      = archtype.CodeInvalidState
	CodeIOError           = archtype.CodeIOError
)

var (
	ErrOpenFailed        = archtype.ErrOpenFailed
	ErrUnsupportedFormat = archtype.ErrUnsupportedFormat
	ErrUnsupportedFilter = archtype.ErrUnsupportedFilter
	ErrUnsupportedOption = archtype.ErrUnsupportedOption
	ErrCorruptHeader     = archtype.ErrCorruptHeader
	ErrCorruptData       = archtype.ErrCorruptData
	ErrSizeMismatch      = archtype.ErrSizeMismatch
	ErrDecryptionFailed  = archtype.ErrDecryptionFailed
	ErrUnsafePath        = archtype.ErrUnsafePath
	ErrInvalidState      = archtype.ErrInvalidState
	ErrIOError           = archtype.ErrIOError
)

// DefaultBlockSize is the ReadBlock size used when none is configured.
const DefaultBlockSize = 10240

// ParseFormat returns the format matching name.
func ParseFormat(name string) (Format, error) {
	return archtype.ParseFormat(name)
}

var shortExts = map[string]struct {
	format Format
	chain  filter.Chain
}{
	".tgz":  {FormatTar, filter.Chain{filter.Gzip}},
	".taz":  {FormatTar, filter.Chain{filter.Gzip}},
	".tbz":  {FormatTar, filter.Chain{filter.Bzip2}},
	".tbz2": {FormatTar, filter.Chain{filter.Bzip2}},
	".txz":  {FormatTar, filter.Chain{filter.Xz}},
	".tlz":  {FormatTar, filter.Chain{filter.Lzma}},
	".tzst": {FormatTar, filter.Chain{filter.Zstd}},
	".tlz4": {FormatTar, filter.Chain{filter.Lz4}},
}

// FormatFromPath guesses the format and filter chain from a file name such
// as "backup.tar.zst" or "site.tgz".
func FormatFromPath(name string) (Format, filter.Chain, error) {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if s, ok := shortExts[path.Ext(base)]; ok {
		return s.format, s.chain, nil
	}

	var chain filter.Chain
	for {
		ext := path.Ext(base)
		if ext == "" {
			break
		}
		if f, err := archtype.ParseFormat(ext); err == nil {
			return f, chain, nil
		}
		k, err := filter.ParseKind(ext)
		if err != nil || k == filter.None {
			break
		}
		// Outer extensions are applied last.
		chain = append(filter.Chain{k}, chain...)
		base = strings.TrimSuffix(base, ext)
	}
	return 0, nil, archtype.Errorf(CodeUnsupportedFormat, "guess format", "cannot guess archive format of %q", name)
}
