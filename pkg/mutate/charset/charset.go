// Package charset implements mutate.Algorithm for character-set
// transcoding, backed by golang.org/x/text/encoding and
// golang.org/x/text/transform.
package charset

import (
	"errors"

	"golang.org/x/text/transform"

	"github.com/r3e-labs/modest/pkg/buffer"
	"github.com/r3e-labs/modest/pkg/mutate"
)

// Recoder is a mutate.Algorithm that drives a golang.org/x/text/transform
// Transformer directly against the source/destination buffers, so no extra
// copy is needed between the mutate contract and the transform contract.
type Recoder struct {
	t    transform.Transformer
	done bool
}

// NewRecoder wraps t (e.g. a charmap.Encoding's NewDecoder/NewEncoder, or
// unicode/utf16's transformer) as an Algorithm.
func NewRecoder(t transform.Transformer) *Recoder {
	return &Recoder{t: t}
}

// Mutate implements mutate.Algorithm.
func (r *Recoder) Mutate(source, destination *buffer.ByteBuffer, finish bool) (mutate.Result, error) {
	if r.done {
		return mutate.CompleteAppend, nil
	}

	if destination.FreeSpace() == 0 {
		destination.AllocateSpace(256, true)
	}

	nDst, nSrc, err := r.t.Transform(destination.End(), source.Data(), finish)
	if nDst > 0 {
		destination.Extend(nDst)
	}
	if nSrc > 0 {
		source.Clear(nSrc)
	}

	switch {
	case err == nil:
		if finish {
			r.done = true
			return mutate.CompleteAppend, nil
		}
		if nDst == 0 && nSrc == 0 {
			return mutate.NeedsData, nil
		}
		return mutate.Stepped, nil
	case errors.Is(err, transform.ErrShortDst):
		return mutate.Stepped, nil
	case errors.Is(err, transform.ErrShortSrc):
		if finish {
			// atEOF was true and the transformer still wants more input: the
			// trailing bytes are malformed/incomplete for this encoding.
			return mutate.Error, err
		}
		return mutate.NeedsData, nil
	default:
		return mutate.Error, err
	}
}

// Reset rewinds the underlying transformer so the Recoder can be reused for
// a new stream.
func (r *Recoder) Reset() {
	r.t.Reset()
	r.done = false
}
