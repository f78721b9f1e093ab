package mutate

import (
	"io"

	"github.com/r3e-labs/modest/pkg/buffer"
)

// InputStream wraps an underlying io.Reader U so reads see the Algorithm's
// transformed output instead of U's raw bytes.
type InputStream struct {
	algorithm Algorithm
	upstream  io.Reader
	source    *buffer.ByteBuffer
	dest      *buffer.ByteBuffer

	complete  bool
	truncated bool
	appending bool
	upstreamEOF bool
}

// NewInputStream builds an InputStream over upstream using algorithm, with
// internally owned source/destination buffers.
func NewInputStream(algorithm Algorithm, upstream io.Reader) *InputStream {
	return NewInputStreamWithBuffers(algorithm, upstream, buffer.New(4096), buffer.New(4096))
}

// NewInputStreamWithBuffers is like NewInputStream but injects externally
// owned buffers, enabling zero-copy interop with a peer that already holds
// the data.
func NewInputStreamWithBuffers(algorithm Algorithm, upstream io.Reader, source, dest *buffer.ByteBuffer) *InputStream {
	return &InputStream{algorithm: algorithm, upstream: upstream, source: source, dest: dest}
}

// Read implements io.Reader. Once the algorithm reports CompleteAppend,
// subsequent reads bypass it and forward source bytes unchanged. Once it
// reports CompleteTruncate, subsequent reads return io.EOF.
func (s *InputStream) Read(p []byte) (int, error) {
	if s.truncated {
		return 0, io.EOF
	}

	for {
		if s.dest.Length() > 0 {
			return s.dest.Get(p, len(p)), nil
		}

		if s.appending {
			if s.source.Length() == 0 {
				return s.pullUpstream(p)
			}
			return s.source.Get(p, len(p)), nil
		}

		if s.complete {
			return 0, io.EOF
		}

		if s.source.Length() == 0 && !s.upstreamEOF {
			n, err := s.source.PutFrom(s.upstream, 4096)
			if n == 0 {
				if err != nil {
					return 0, err
				}
				s.upstreamEOF = true
			}
		}

		result, err := s.algorithm.Mutate(s.source, s.dest, s.upstreamEOF)
		if err != nil {
			return 0, err
		}

		switch result {
		case NeedsData:
			if s.upstreamEOF {
				// Upstream is exhausted and the algorithm still wants more:
				// nothing further will ever arrive.
				return 0, io.EOF
			}
			continue
		case Stepped:
			continue
		case CompleteAppend:
			s.complete = true
			s.appending = true
			continue
		case CompleteTruncate:
			s.complete = true
			s.truncated = true
			return 0, io.EOF
		case Error:
			return 0, io.ErrUnexpectedEOF
		default:
			continue
		}
	}
}

func (s *InputStream) pullUpstream(p []byte) (int, error) {
	if s.upstreamEOF {
		return 0, io.EOF
	}
	n, err := s.upstream.Read(p)
	if err == io.EOF {
		s.upstreamEOF = true
	}
	return n, err
}
