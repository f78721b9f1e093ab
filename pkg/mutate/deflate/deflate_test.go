package deflate

import (
	"bytes"
	"testing"

	"github.com/r3e-labs/modest/pkg/buffer"
)

func TestDeflateInflateRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)

	compressed := &bytes.Buffer{}
	deflater := NewDeflater(0)
	src := buffer.New(1024)
	src.Put(payload, len(payload), true)

	dest := buffer.New(1024)
	for {
		result, err := deflater.Mutate(src, dest, true)
		if err != nil {
			t.Fatalf("Mutate: %v", err)
		}
		if dest.Length() > 0 {
			if _, err := dest.GetAll(compressed); err != nil {
				t.Fatalf("drain dest: %v", err)
			}
		}
		if result.IsComplete() {
			break
		}
	}

	if compressed.Len() == 0 {
		t.Fatal("expected non-empty compressed output")
	}
	if compressed.Len() >= len(payload) {
		t.Errorf("expected compression to shrink payload, got %d >= %d", compressed.Len(), len(payload))
	}

	inflater := NewInflater()
	csrc := buffer.New(1024)
	csrc.Put(compressed.Bytes(), compressed.Len(), true)
	cdest := buffer.New(1024)

	result, err := inflater.Mutate(csrc, cdest, true)
	if err != nil {
		t.Fatalf("Mutate inflate: %v", err)
	}
	if result != 2 && result.String() != "CompleteAppend" {
		t.Fatalf("expected CompleteAppend, got %v", result)
	}

	got := make([]byte, cdest.Length())
	cdest.Get(got, len(got))
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(payload))
	}
}

func TestInflaterNeedsDataBeforeFinish(t *testing.T) {
	inflater := NewInflater()
	src := buffer.New(16)
	dest := buffer.New(16)

	result, err := inflater.Mutate(src, dest, false)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if result.String() != "NeedsData" {
		t.Fatalf("expected NeedsData on empty non-finish call, got %v", result)
	}
}

func TestDeflaterIncrementalFeed(t *testing.T) {
	payload := []byte("incremental payload fed in small chunks, repeated for compressibility. ")
	payload = bytes.Repeat(payload, 50)

	deflater := NewDeflater(6)
	src := buffer.New(64)
	dest := buffer.New(64)
	compressed := &bytes.Buffer{}

	chunkSize := 17
	for i := 0; i < len(payload); i += chunkSize {
		end := i + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		src.Put(payload[i:end], end-i, true)

		finish := end == len(payload)
		for {
			result, err := deflater.Mutate(src, dest, finish)
			if err != nil {
				t.Fatalf("Mutate: %v", err)
			}
			if dest.Length() > 0 {
				dest.GetAll(compressed)
			}
			if result.String() != "Stepped" {
				break
			}
		}
	}

	inflater := NewInflater()
	csrc := buffer.New(64)
	csrc.Put(compressed.Bytes(), compressed.Len(), true)
	cdest := buffer.New(len(payload) + 16)
	if _, err := inflater.Mutate(csrc, cdest, true); err != nil {
		t.Fatalf("inflate: %v", err)
	}
	got := make([]byte, cdest.Length())
	cdest.Get(got, len(got))
	if !bytes.Equal(got, payload) {
		t.Fatalf("incremental round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}
