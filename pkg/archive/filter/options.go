package filter

import (
	"slices"
	"strconv"

	"github.com/crazy-max/archivist/internal/archtype"
)

// Option keys understood by the filters.
const (
	OptionLevel    = "compression-level"
	OptionThreads  = "threads"
	OptionDictSize = "dict-size"
)

// Options is a flat string-keyed filter configuration.
type Options map[string]string

type intRange struct {
	min, max int
}

var supportedOptions = map[Kind]map[string]intRange{
	Gzip: {
		OptionLevel:   {-2, 9},
		OptionThreads: {1, 256},
	},
	Bzip2: {
		OptionLevel: {1, 9},
	},
	Xz: {
		OptionDictSize: {4096, 1 << 30},
	},
	Lzma: {
		OptionDictSize: {4096, 1 << 30},
	},
	Zstd: {
		OptionLevel:   {1, 22},
		OptionThreads: {1, 256},
	},
	Lz4: {
		OptionLevel:   {0, 9},
		OptionThreads: {1, 256},
	},
	Lzip: {
		OptionDictSize: {4096, 1 << 29},
	},
	Brotli: {
		OptionLevel: {0, 11},
	},
}

// Keys returns the option keys supported by k, sorted.
func (k Kind) Keys() []string {
	keys := make([]string, 0, len(supportedOptions[k]))
	for key := range supportedOptions[k] {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Validate checks every key and value of opts against what k understands.
func (o Options) Validate(k Kind) error {
	keys := make([]string, 0, len(o))
	for key := range o {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		r, ok := supportedOptions[k][key]
		if !ok {
			return archtype.Errorf(archtype.CodeUnsupportedOption, "filter options", "%s: unknown option %q", k, key)
		}
		v, err := strconv.Atoi(o[key])
		if err != nil {
			return archtype.Errorf(archtype.CodeUnsupportedOption, "filter options", "%s: option %q: %q is not an integer", k, key, o[key])
		}
		if v < r.min || v > r.max {
			return archtype.Errorf(archtype.CodeUnsupportedOption, "filter options", "%s: option %q: %d out of range [%d, %d]", k, key, v, r.min, r.max)
		}
	}
	return nil
}

// int returns the integer value of key, or def when unset. Values are
// expected to have been validated.
func (o Options) int(key string, def int) int {
	s, ok := o[key]
	if !ok {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func (o Options) has(key string) bool {
	_, ok := o[key]
	return ok
}
