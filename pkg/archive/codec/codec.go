// Package codec implements the container formats of the archive engine and
// the state machines that drive them.
//
// A Decoder or Encoder only knows how to frame entries for one format. The
// Reader and Writer drivers wrap them with the state machine and check call
// ordering and body sizes.
package codec

import (
	"io"
	"slices"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/rs/zerolog"
)

// Decoder parses one container format from a decompressed stream.
type Decoder interface {
	// Next discards whatever is left of the current body and returns the
	// next member. It returns io.EOF at the format terminator.
	Next() (*archtype.Entry, error)

	// Read reads from the body of the current member and returns io.EOF at
	// its end.
	Read(p []byte) (int, error)

	Close() error
}

// Encoder frames members of one container format onto a stream.
type Encoder interface {
	// WriteHeader starts a member. The entry is already normalized.
	WriteHeader(e *archtype.Entry) error

	// Write appends to the body of the current member.
	Write(p []byte) (int, error)

	// FinishEntry completes the body of the current member, including any
	// format specific padding.
	FinishEntry() error

	// Close writes the format trailer. It never closes the underlying
	// stream.
	Close() error
}

// PassphraseSetter is implemented by encoders supporting encryption.
type PassphraseSetter interface {
	SetPassphrase(passphrase string) error
}

// Source is the decompressed archive stream handed to a decoder.
type Source struct {
	io.Reader

	// ReaderAt is an optional random access view of the same bytes,
	// starting at the archive start. Size is its length.
	ReaderAt io.ReaderAt
	Size     int64
}

// DecoderOptions configure a decoder.
type DecoderOptions struct {
	// Passphrases returns the passphrases added so far, in order.
	Passphrases func() []string

	// TempDir is where streaming sources of random access formats are
	// spooled. Empty means os.TempDir.
	TempDir string

	Logger zerolog.Logger
}

func (o DecoderOptions) passphrases() []string {
	if o.Passphrases == nil {
		return nil
	}
	return o.Passphrases()
}

// EncoderOptions configure an encoder.
type EncoderOptions struct {
	// Options are format specific key/value settings.
	Options map[string]string

	Logger zerolog.Logger
}

// NewDecoder returns a decoder of format f over src.
func NewDecoder(f archtype.Format, src Source, opts DecoderOptions) (Decoder, error) {
	switch f {
	case archtype.FormatTar:
		return newTarDecoder(src), nil
	case archtype.FormatZip:
		return newZipDecoder(src, opts)
	case archtype.FormatRar:
		return newRarDecoder(src, opts)
	}
	return nil, archtype.Errorf(archtype.CodeUnsupportedFormat, "open decoder", "no decoder for format %s", f)
}

// NewEncoder returns an encoder of format f writing to w.
func NewEncoder(f archtype.Format, w io.Writer, opts EncoderOptions) (Encoder, error) {
	if !f.Traits().Writable {
		return nil, archtype.Errorf(archtype.CodeUnsupportedFormat, "open encoder", "format %s cannot be written", f)
	}
	switch f {
	case archtype.FormatTar:
		return newTarEncoder(w, opts)
	case archtype.FormatZip:
		return newZipEncoder(w, opts)
	}
	return nil, archtype.Errorf(archtype.CodeUnsupportedFormat, "open encoder", "no encoder for format %s", f)
}

// FormatOptionKeys lists the option keys each writable format accepts.
var FormatOptionKeys = map[archtype.Format][]string{
	archtype.FormatTar: {OptionTarFormat},
	archtype.FormatZip: {OptionZipCompression, OptionZipLevel},
}

func checkOptionKeys(f archtype.Format, opts map[string]string) error {
	for key := range opts {
		if !slices.Contains(FormatOptionKeys[f], key) {
			return archtype.Errorf(archtype.CodeUnsupportedOption, "open encoder", "format %s has no option %q", f, key)
		}
	}
	return nil
}
