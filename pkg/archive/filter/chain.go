package filter

import (
	"bufio"
	"io"

	"github.com/crazy-max/archivist/internal/archtype"
	"github.com/hashicorp/go-multierror"
)

// Stream is the decompressed view of a source after its filter chain has
// been applied. Peeking on it never drops bytes.
type Stream struct {
	*bufio.Reader

	// Chain lists the applied filters in writer order.
	Chain Chain

	closers []io.Closer
}

// Close releases every decoder, innermost first.
func (s *Stream) Close() error {
	var result *multierror.Error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.closers = nil
	return result.ErrorOrNil()
}

// NewChainReader inverts an explicit chain over source.
func NewChainReader(source io.Reader, chain Chain) (*Stream, error) {
	chain = chain.Compact()
	if err := chain.validate(); err != nil {
		return nil, err
	}
	s := &Stream{Chain: chain}
	r := source
	for i := len(chain) - 1; i >= 0; i-- {
		rc, err := NewReader(r, chain[i])
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.closers = append(s.closers, rc)
		r = rc
	}
	s.Reader = bufio.NewReaderSize(r, PeekSize)
	return s, nil
}

// NewAutoReader detects and stacks filters over source until no known magic
// matches, up to MaxAutoDepth filters.
func NewAutoReader(source io.Reader) (*Stream, error) {
	s := &Stream{}
	br := bufio.NewReaderSize(source, PeekSize)
	for len(s.Chain) < MaxAutoDepth {
		k, err := Detect(br)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		if k == None {
			break
		}
		rc, err := NewReader(br, k)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.closers = append(s.closers, rc)
		// Writer order is the reverse of detection order.
		s.Chain = append(Chain{k}, s.Chain...)
		br = bufio.NewReaderSize(rc, PeekSize)
	}
	s.Reader = br
	return s, nil
}

// ChainWriter is the compressing side of a chain.
type ChainWriter struct {
	io.Writer

	writers []io.WriteCloser
	closed  bool
}

// NewChainWriter builds the chain over sink. Per-kind options are looked up
// in opts; kinds without an entry use their defaults.
func NewChainWriter(sink io.Writer, chain Chain, opts map[Kind]Options) (*ChainWriter, error) {
	chain = chain.Compact()
	if err := chain.validate(); err != nil {
		return nil, err
	}
	for k, o := range opts {
		if err := o.Validate(k); err != nil {
			return nil, err
		}
	}
	cw := &ChainWriter{}
	w := sink
	for i := len(chain) - 1; i >= 0; i-- {
		fw, err := NewWriter(w, chain[i], opts[chain[i]])
		if err != nil {
			return nil, err
		}
		// writers is kept innermost first so Close flushes in the right order.
		cw.writers = append([]io.WriteCloser{fw}, cw.writers...)
		w = fw
	}
	cw.Writer = w
	return cw, nil
}

// Close flushes every filter, innermost first. The sink is left open.
func (cw *ChainWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	for _, w := range cw.writers {
		if err := w.Close(); err != nil {
			return archtype.WrapIO("close filter", err)
		}
	}
	return nil
}
