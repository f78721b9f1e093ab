package mutate

import (
	"io"

	"github.com/r3e-labs/modest/pkg/buffer"
)

// OutputStream wraps an underlying io.Writer D so writes push the
// Algorithm's transformed output to D instead of the raw bytes written in.
type OutputStream struct {
	algorithm Algorithm
	downstream io.Writer
	source    *buffer.ByteBuffer
	dest      *buffer.ByteBuffer
	finished  bool
}

// NewOutputStream builds an OutputStream over downstream using algorithm,
// with internally owned source/destination buffers.
func NewOutputStream(algorithm Algorithm, downstream io.Writer) *OutputStream {
	return NewOutputStreamWithBuffers(algorithm, downstream, buffer.New(4096), buffer.New(4096))
}

// NewOutputStreamWithBuffers is like NewOutputStream but injects externally
// owned buffers.
func NewOutputStreamWithBuffers(algorithm Algorithm, downstream io.Writer, source, dest *buffer.ByteBuffer) *OutputStream {
	return &OutputStream{algorithm: algorithm, downstream: downstream, source: source, dest: dest}
}

// Write implements io.Writer: it puts src into the source buffer and drives
// the algorithm until it needs more data or completes, flushing the
// destination buffer to downstream whenever it fills.
func (s *OutputStream) Write(src []byte) (int, error) {
	if s.finished {
		return 0, io.ErrClosedPipe
	}

	written := s.source.Put(src, len(src), true)
	if err := s.pump(false); err != nil {
		return written, err
	}
	return written, nil
}

// Finish drives the algorithm with finish=true and flushes any remaining
// destination bytes to downstream. It must be called exactly once, after
// the last Write.
func (s *OutputStream) Finish() error {
	if s.finished {
		return nil
	}
	s.finished = true
	return s.pump(true)
}

func (s *OutputStream) pump(finish bool) error {
	for {
		result, err := s.algorithm.Mutate(s.source, s.dest, finish)
		if err != nil {
			return err
		}

		if s.dest.Length() > 0 {
			if _, err := s.dest.GetAll(s.downstream); err != nil {
				return err
			}
		}

		switch result {
		case NeedsData:
			return nil
		case Stepped:
			continue
		case CompleteAppend:
			if s.source.Length() > 0 {
				if _, err := s.source.GetAll(s.downstream); err != nil {
					return err
				}
			}
			return nil
		case CompleteTruncate:
			return nil
		case Error:
			return io.ErrUnexpectedEOF
		default:
			return nil
		}
	}
}
