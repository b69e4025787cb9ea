// Package archtype defines the types shared by the archive engine packages.
// It exists to avoid import cycles between the root archive package, the
// codecs and the disk layer; everything here is re-exported by pkg/archive.
package archtype

import (
	"io/fs"
	"time"
)

// Kind identifies the type of an archive member.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectory
	KindSymlink
	KindHardLink
	// KindSpecial covers fifos and device nodes. They carry no body and are
	// never materialized on disk.
	KindSpecial
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "dir"
	case KindSymlink:
		return "symlink"
	case KindHardLink:
		return "hardlink"
	case KindSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

const permMask = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// Entry is the metadata of one archive member.
type Entry struct {
	// Path is archive-relative and slash separated. It is not normalized on
	// read and may contain ".." segments.
	Path string

	// Size is the declared uncompressed body length. It is authoritative for
	// regular files and ignored for every other kind.
	Size int64

	Kind Kind

	// Perm holds the permission bits, including setuid, setgid and sticky.
	// It is zero when the format did not store any.
	Perm fs.FileMode

	// ModTime is the zero time when absent.
	ModTime time.Time

	// LinkTarget is set iff Kind is KindSymlink or KindHardLink.
	LinkTarget string

	// Encrypted is set by readers when the member body is encrypted.
	Encrypted bool
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool { return e.Kind == KindDirectory }

// IsFile reports whether the entry is a regular file.
func (e *Entry) IsFile() bool { return e.Kind == KindFile }

// IsSymlink reports whether the entry is a symbolic link.
func (e *Entry) IsSymlink() bool { return e.Kind == KindSymlink }

// IsHardLink reports whether the entry is a hard link.
func (e *Entry) IsHardLink() bool { return e.Kind == KindHardLink }

// HasBody reports whether data calls are valid for the entry.
func (e *Entry) HasBody() bool {
	return e.Kind == KindFile && e.Size > 0
}

// FileMode returns the permission bits combined with the fs type bits
// matching Kind.
func (e *Entry) FileMode() fs.FileMode {
	m := e.Perm & permMask
	switch e.Kind {
	case KindDirectory:
		m |= fs.ModeDir
	case KindSymlink:
		m |= fs.ModeSymlink
	case KindSpecial:
		m |= fs.ModeIrregular
	}
	return m
}

// UnixMode returns Perm as traditional unix mode bits.
func (e *Entry) UnixMode() int64 {
	m := int64(e.Perm.Perm())
	if e.Perm&fs.ModeSetuid != 0 {
		m |= 0o4000
	}
	if e.Perm&fs.ModeSetgid != 0 {
		m |= 0o2000
	}
	if e.Perm&fs.ModeSticky != 0 {
		m |= 0o1000
	}
	return m
}

// PermFromUnix converts unix mode bits to the Perm representation.
func PermFromUnix(mode int64) fs.FileMode {
	p := fs.FileMode(mode).Perm()
	if mode&0o4000 != 0 {
		p |= fs.ModeSetuid
	}
	if mode&0o2000 != 0 {
		p |= fs.ModeSetgid
	}
	if mode&0o1000 != 0 {
		p |= fs.ModeSticky
	}
	return p
}

// Clone returns an independent copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	return &c
}

// Clear resets every field so the entry can be reused by a writer caller.
func (e *Entry) Clear() {
	*e = Entry{}
}

// Normalize fixes up fields that must not carry data for the entry kind.
func (e *Entry) Normalize() {
	if e.Kind != KindFile {
		e.Size = 0
	}
	if e.Kind != KindSymlink && e.Kind != KindHardLink {
		e.LinkTarget = ""
	}
}
