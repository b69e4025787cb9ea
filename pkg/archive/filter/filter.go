// Package filter implements the stackable compression layer of the archive
// engine. A filter wraps a sink for writing or a source for reading; chains
// of filters compose by wrapping each other.
package filter

import (
	"strings"

	"github.com/crazy-max/archivist/internal/archtype"
)

// Kind identifies a filter.
type Kind uint8

const (
	None Kind = iota
	Gzip
	Bzip2
	Xz
	Lzma
	Zstd
	Lz4
	Lzip
	Brotli
	MinLZ
)

var kindNames = map[Kind]string{
	None:   "none",
	Gzip:   "gzip",
	Bzip2:  "bzip2",
	Xz:     "xz",
	Lzma:   "lzma",
	Zstd:   "zstd",
	Lz4:    "lz4",
	Lzip:   "lzip",
	Brotli: "brotli",
	MinLZ:  "minlz",
}

var kindAliases = map[string]Kind{
	"":     None,
	"gz":   Gzip,
	"bz2":  Bzip2,
	"zst":  Zstd,
	"lz":   Lzip,
	"br":   Brotli,
	"mz":   MinLZ,
	"raw":  None,
	"tgz":  Gzip,
	"tbz2": Bzip2,
	"txz":  Xz,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether k is a known filter.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind returns the filter matching name or one of its usual aliases.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "."))
	if k, ok := kindAliases[name]; ok {
		return k, nil
	}
	for k, s := range kindNames {
		if s == name {
			return k, nil
		}
	}
	return 0, archtype.Errorf(archtype.CodeUnsupportedFilter, "parse filter", "unknown filter %q", name)
}

// Chain is an ordered filter sequence. On write Chain[0] is applied first to
// the archive bytes and the last filter touches the sink. A reader given the
// same chain inverts it outermost first.
type Chain []Kind

// ParseChain parses a comma separated list of filter names.
func ParseChain(s string) (Chain, error) {
	var chain Chain
	for _, name := range strings.Split(s, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		chain = append(chain, k)
	}
	return chain.Compact(), nil
}

// Compact drops None filters, which are no-ops in any position.
func (c Chain) Compact() Chain {
	out := make(Chain, 0, len(c))
	for _, k := range c {
		if k != None {
			out = append(out, k)
		}
	}
	return out
}

// Names returns the filter names in chain order. An empty chain is reported
// as a single "none".
func (c Chain) Names() []string {
	if len(c) == 0 {
		return []string{None.String()}
	}
	names := make([]string, len(c))
	for i, k := range c {
		names[i] = k.String()
	}
	return names
}

func (c Chain) String() string {
	return strings.Join(c.Names(), ",")
}

func (c Chain) validate() error {
	for _, k := range c {
		if !k.Valid() {
			return archtype.Errorf(archtype.CodeUnsupportedFilter, "filter chain", "unknown filter %d", uint8(k))
		}
	}
	return nil
}
