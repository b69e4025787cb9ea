package archtype

import (
	"strings"
)

// Format identifies a container format.
type Format uint8

const (
	FormatTar Format = iota + 1
	FormatZip
	FormatRar
)

// Traits describes the capabilities and quirks of a container format.
type Traits struct {
	Name string

	// Writable is false for formats the engine can only read.
	Writable bool

	// ReliablePerms is false when the format does not reliably carry POSIX
	// permission bits, so extraction must not trust the stored value.
	ReliablePerms bool

	// Encryption is true when members can be protected by a passphrase.
	Encryption bool

	// RandomAccess is true when decoding needs an io.ReaderAt.
	RandomAccess bool
}

var formatTraits = map[Format]Traits{
	FormatTar: {
		Name:          "tar",
		Writable:      true,
		ReliablePerms: true,
	},
	FormatZip: {
		Name:         "zip",
		Writable:     true,
		Encryption:   true,
		RandomAccess: true,
	},
	FormatRar: {
		Name:       "rar",
		Encryption: true,
	},
}

// Traits returns the traits of the format. Unknown formats have zero traits.
func (f Format) Traits() Traits {
	return formatTraits[f]
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	_, ok := formatTraits[f]
	return ok
}

func (f Format) String() string {
	if t, ok := formatTraits[f]; ok {
		return t.Name
	}
	return "unknown"
}

// ParseFormat returns the format matching name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "tar", "pax", "ustar", "gnutar":
		return FormatTar, nil
	case "zip":
		return FormatZip, nil
	case "rar":
		return FormatRar, nil
	}
	return 0, Errorf(CodeUnsupportedFormat, "parse format", "unknown archive format %q", name)
}
