package filter

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math/bits"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/pkg/errors"
)

// MaxAutoDepth bounds how many filters auto-detection stacks on a source.
const MaxAutoDepth = 4

// PeekSize is the read-ahead buffer size used while sniffing.
const PeekSize = 64 << 10

const lzmaHeaderSize = 13

type magic struct {
	kind  Kind
	match func(b []byte) bool
}

func prefix(p string) func(b []byte) bool {
	return func(b []byte) bool {
		return bytes.HasPrefix(b, []byte(p))
	}
}

var kindMagic = map[Kind]string{
	Gzip:  "\x1f\x8b\x08",
	Bzip2: "BZh",
	Xz:    "\xfd7zXZ\x00",
	Zstd:  "\x28\xb5\x2f\xfd",
	Lz4:   "\x04\x22\x4d\x18",
	Lzip:  "LZIP",
	MinLZ: "\xff\x06\x00\x00MinLz",
}

// Magic returns the leading bytes of a stream written by filter k, or nil
// when k has no fixed signature.
func (k Kind) Magic() []byte {
	if m, ok := kindMagic[k]; ok {
		return []byte(m)
	}
	return nil
}

// Detection precedence. Brotli has no magic and is never detected.
var magics = []magic{
	{Gzip, prefix(kindMagic[Gzip])},
	{Bzip2, func(b []byte) bool {
		return len(b) >= 4 && bytes.HasPrefix(b, []byte(kindMagic[Bzip2])) && b[3] >= '1' && b[3] <= '9'
	}},
	{Xz, prefix(kindMagic[Xz])},
	{Zstd, prefix(kindMagic[Zstd])},
	{Lz4, prefix(kindMagic[Lz4])},
	{Lzip, prefix(kindMagic[Lzip])},
	{MinLZ, prefix(kindMagic[MinLZ])},
	{Lzma, isLzma},
}

// isLzma recognizes the legacy .lzma header: the default properties byte, a
// dictionary size of 2^n or 2^n+2^(n-1), and either an unknown or a plausible
// uncompressed size.
func isLzma(b []byte) bool {
	if len(b) < lzmaHeaderSize || b[0] != 0x5d {
		return false
	}
	dict := binary.LittleEndian.Uint32(b[1:5])
	if dict < 1<<12 {
		return false
	}
	if bits.OnesCount32(dict) != 1 {
		low := dict & -dict
		if dict != low|low<<1 {
			return false
		}
	}
	size := binary.LittleEndian.Uint64(b[5:13])
	return size == ^uint64(0) || size < 1<<40
}

// Detect sniffs the next bytes of br and returns the matching filter, or
// None when nothing matches. Sniffed bytes stay buffered in br.
func Detect(br *bufio.Reader) (Kind, error) {
	b, err := br.Peek(lzmaHeaderSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return None, archtype.WrapIO("detect filter", err)
	}
	for _, m := range magics {
		if m.match(b) {
			return m.kind, nil
		}
	}
	return None, nil
}
