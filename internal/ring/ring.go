// Package ring abstracts the OS-level submission/completion queue used by
// the fetch engine to issue asynchronous image-file reads: a Ring interface
// with a giouring-backed implementation (build-tag gated) and a portable
// in-process stub, the same split the teacher uses for its own io_uring
// layer.
package ring

import (
	"errors"
	"os"
)

// ErrRingFull is returned when a ring's submission capacity is exhausted.
// A channel sizes Entries to cover its fetch slots plus its cap on direct
// image reads, so under that admission discipline this should never happen
// in practice.
var ErrRingFull = errors.New("ring: submission queue full")

// ErrClosed is returned by operations on a closed ring.
var ErrClosed = errors.New("ring: closed")

// Completion reports the outcome of one previously submitted read, tagged
// by the user data the caller supplied at submission time so the poller can
// distinguish a stripe-fetch completion from a direct image read (§4.4).
type Completion struct {
	UserData uint64
	Res      int32 // bytes read on success, -errno on failure
}

// Ring is the async submission/completion interface the fetch engine and
// the direct image-read path submit image-file reads through.
type Ring interface {
	// SubmitRead enqueues a read of len(buf) bytes from file at offset,
	// tagged with userData. It does not block on completion.
	SubmitRead(userData uint64, file *os.File, buf []byte, offset int64) error

	// Submit flushes any prepared-but-unsubmitted reads in a single
	// operation and returns how many were submitted.
	Submit() (int, error)

	// PeekCompletions drains up to max completions without blocking.
	PeekCompletions(max int) ([]Completion, error)

	// Close releases the ring's resources.
	Close() error
}

// Config configures a new Ring.
type Config struct {
	// Entries bounds the number of reads that may be outstanding at once.
	Entries uint32
}
