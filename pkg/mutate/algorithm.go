// Package mutate defines the MutationAlgorithm contract and the
// MutatorInputStream/MutatorOutputStream adapters that couple an algorithm
// to an underlying byte stream, so producers/consumers see a transformed
// view without the caller copying payload bytes itself.
package mutate

import "github.com/r3e-labs/modest/pkg/buffer"

// Result is the termination signal an Algorithm reports after each step.
type Result int

const (
	// NeedsData means the caller must provide more source before calling
	// Mutate again.
	NeedsData Result = iota
	// Stepped means the algorithm made progress (it may or may not have
	// written output); call Mutate again.
	Stepped
	// CompleteAppend means the algorithm is done; the caller must append
	// any remaining source verbatim to the downstream.
	CompleteAppend
	// CompleteTruncate means the algorithm is done; the caller must not
	// touch remaining source bytes (they belong to a different consumer).
	CompleteTruncate
	// Error means the algorithm failed.
	Error
)

func (r Result) String() string {
	switch r {
	case NeedsData:
		return "NeedsData"
	case Stepped:
		return "Stepped"
	case CompleteAppend:
		return "CompleteAppend"
	case CompleteTruncate:
		return "CompleteTruncate"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// IsComplete reports whether r is one of the two completion results.
func (r Result) IsComplete() bool {
	return r == CompleteAppend || r == CompleteTruncate
}

// Algorithm is a stateful, single-consumer streaming byte transformer. It
// consumes from source, produces into destination, and reports a
// termination state. Once a Complete* or Error result is returned, the
// algorithm must not be invoked again for the same stream. An algorithm may
// resize either buffer.
type Algorithm interface {
	// Mutate consumes as much of source as it can, writing transformed
	// bytes to destination. finish signals that no further source bytes
	// will ever arrive (used to flush trailing state).
	Mutate(source, destination *buffer.ByteBuffer, finish bool) (Result, error)
}
