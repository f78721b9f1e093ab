// Package deflate implements mutate.Algorithm for DEFLATE compression and
// decompression, backed by klauspost/compress/flate (a faster drop-in
// replacement for the standard library's compress/flate).
package deflate

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/r3e-labs/modest/pkg/buffer"
	"github.com/r3e-labs/modest/pkg/mutate"
)

// Deflater is a mutate.Algorithm that compresses bytes fed through source
// into destination.
type Deflater struct {
	level   int
	w       *flate.Writer
	started bool
	closed  bool
}

// NewDeflater creates a Deflater at the given compression level
// (flate.DefaultCompression if level is 0).
func NewDeflater(level int) *Deflater {
	if level == 0 {
		level = flate.DefaultCompression
	}
	return &Deflater{level: level}
}

// Mutate implements mutate.Algorithm.
func (d *Deflater) Mutate(source, destination *buffer.ByteBuffer, finish bool) (mutate.Result, error) {
	if !d.started {
		w, err := flate.NewWriter(&bufferWriter{buf: destination}, d.level)
		if err != nil {
			return mutate.Error, err
		}
		d.w = w
		d.started = true
	}

	progressed := false
	if source.Length() > 0 {
		n, err := d.w.Write(source.Data())
		if n > 0 {
			source.Clear(n)
			progressed = true
		}
		if err != nil {
			return mutate.Error, err
		}
	}

	if !finish {
		if progressed {
			return mutate.Stepped, nil
		}
		return mutate.NeedsData, nil
	}

	if d.closed {
		return mutate.CompleteAppend, nil
	}
	if err := d.w.Close(); err != nil {
		return mutate.Error, err
	}
	d.closed = true
	return mutate.CompleteAppend, nil
}

// Inflater is a mutate.Algorithm that decompresses DEFLATE bytes. It
// accumulates compressed input as it arrives (flate's reader is not
// resumable across a short read, so partial decompression is deferred) and
// performs the actual inflate once finish=true signals that all compressed
// bytes have been seen.
type Inflater struct {
	level int // unused; level is an encoder-only concept, kept for symmetry
	acc   bytes.Buffer
	done  bool
}

// NewInflater creates an Inflater.
func NewInflater() *Inflater {
	return &Inflater{}
}

// Mutate implements mutate.Algorithm.
func (in *Inflater) Mutate(source, destination *buffer.ByteBuffer, finish bool) (mutate.Result, error) {
	if in.done {
		return mutate.CompleteAppend, nil
	}

	progressed := false
	if source.Length() > 0 {
		n, err := source.GetAll(&in.acc)
		if n > 0 {
			progressed = true
		}
		if err != nil {
			return mutate.Error, err
		}
	}

	if !finish {
		if progressed {
			return mutate.Stepped, nil
		}
		return mutate.NeedsData, nil
	}

	r := flate.NewReader(bytes.NewReader(in.acc.Bytes()))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return mutate.Error, err
	}
	destination.Put(out, len(out), true)
	in.done = true
	return mutate.CompleteAppend, nil
}

// bufferWriter adapts a *buffer.ByteBuffer to io.Writer for flate's writer.
type bufferWriter struct {
	buf *buffer.ByteBuffer
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	return w.buf.Put(p, len(p), true), nil
}
