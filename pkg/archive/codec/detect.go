package codec

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/mholt/archives"
	"github.com/pkg/errors"
)

const tarBlockSize = 512

var (
	zipMagics = [][]byte{
		[]byte("PK\x03\x04"),
		[]byte("PK\x05\x06"),
		[]byte("PK\x07\x08"),
	}
	rarMagic = []byte("Rar!\x1a\x07")
)

// Detect sniffs the container format at the head of br. Sniffed bytes stay
// buffered. An empty stream is an empty tar archive.
func Detect(br *bufio.Reader) (archtype.Format, error) {
	b, err := br.Peek(tarBlockSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return 0, archtype.WrapIO("detect format", err)
	}
	for _, m := range zipMagics {
		if bytes.HasPrefix(b, m) {
			return archtype.FormatZip, nil
		}
	}
	if bytes.HasPrefix(b, rarMagic) {
		return archtype.FormatRar, nil
	}
	if len(b) == 0 || isTarHeader(b) {
		return archtype.FormatTar, nil
	}
	if name := identify(b); name != "" {
		return 0, archtype.Errorf(archtype.CodeUnsupportedFormat, "detect format", "%s archives are not supported", name)
	}
	return 0, archtype.Errorf(archtype.CodeUnsupportedFormat, "detect format", "unrecognized archive format")
}

// isTarHeader accepts a ustar magic, a valid v7 header checksum, or the
// zero block of an empty archive.
func isTarHeader(b []byte) bool {
	if len(b) < tarBlockSize {
		return false
	}
	if string(b[257:262]) == "ustar" {
		return true
	}
	if bytes.Count(b, []byte{0}) == tarBlockSize {
		return true
	}
	want, err := strconv.ParseUint(strings.Trim(string(b[148:156]), " \x00"), 8, 64)
	if err != nil {
		return false
	}
	var unsigned uint64
	for i, c := range b {
		if i >= 148 && i < 156 {
			c = ' '
		}
		unsigned += uint64(c)
	}
	return unsigned == want
}

// identify names the format of b when mholt/archives knows it.
func identify(b []byte) string {
	format, _, err := archives.Identify(context.Background(), "", bytes.NewReader(b))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(format.Extension(), ".")
}
