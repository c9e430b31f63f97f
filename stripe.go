package ubibdev

import "sync/atomic"

// StripeStatus is a stripe's position in its NotFetched -> InFlight ->
// {Fetched|Failed} lifecycle (invariant P3: the observed sequence for any
// stripe is a prefix of that chain).
type StripeStatus uint32

const (
	StripeNotFetched StripeStatus = iota
	StripeInFlight
	StripeFetched
	StripeFailed
)

func (s StripeStatus) String() string {
	switch s {
	case StripeNotFetched:
		return "NotFetched"
	case StripeInFlight:
		return "InFlight"
	case StripeFetched:
		return "Fetched"
	case StripeFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// StripeTable holds the per-stripe status vector and the monotonic
// stripes_fetched/stripes_flushed counters shared by every channel of a
// device (§5: multiple channels may concurrently mutate the vector; all
// mutations are single-word atomics).
type StripeTable struct {
	status         []atomic.Uint32
	stripesFetched atomic.Uint64
	stripesFlushed atomic.Uint64
}

// NewStripeTable allocates a status vector for n stripes, all NotFetched.
func NewStripeTable(n int) *StripeTable {
	return &StripeTable{status: make([]atomic.Uint32, n)}
}

// Len returns the number of stripes tracked.
func (t *StripeTable) Len() int { return len(t.status) }

// Status returns the current status of stripe i.
func (t *StripeTable) Status(i int) StripeStatus {
	return StripeStatus(t.status[i].Load())
}

// markFetchedFromDisk sets stripe i to Fetched during bootstrap, without
// going through the InFlight transition (§4.1: existing-disk bootstrap),
// and raises both counters to reflect it was already persisted.
func (t *StripeTable) markFetchedFromDisk(i int) {
	t.status[i].Store(uint32(StripeFetched))
	t.stripesFetched.Add(1)
	t.stripesFlushed.Add(1)
}

// TryBeginFetch transitions stripe i from NotFetched to InFlight. It
// reports whether the caller won the transition (false if another channel
// already claimed it).
func (t *StripeTable) TryBeginFetch(i int) bool {
	return t.status[i].CompareAndSwap(uint32(StripeNotFetched), uint32(StripeInFlight))
}

// CompleteFetch transitions stripe i from InFlight to Fetched and
// increments stripes_fetched (§4.2, write-completion step).
func (t *StripeTable) CompleteFetch(i int) {
	t.status[i].Store(uint32(StripeFetched))
	t.stripesFetched.Add(1)
}

// FailFetch transitions stripe i from InFlight to Failed (§4.2, image-read
// or backing-write failure).
func (t *StripeTable) FailFetch(i int) {
	t.status[i].Store(uint32(StripeFailed))
}

// StripesFetched returns the current stripes_fetched counter.
func (t *StripeTable) StripesFetched() uint64 { return t.stripesFetched.Load() }

// StripesFlushed returns the current stripes_flushed counter.
func (t *StripeTable) StripesFlushed() uint64 { return t.stripesFlushed.Load() }

// SnapshotFetched returns the stripes_fetched value for use as the flush
// protocol's Step B snapshot `s` (§4.5).
func (t *StripeTable) SnapshotFetched() uint64 { return t.stripesFetched.Load() }

// RaiseFlushed raises stripes_flushed to s if s is larger than the current
// value (invariant 3: "raised to the value stripes_fetched held at the
// start of that step", never allowed to regress).
func (t *StripeTable) RaiseFlushed(s uint64) {
	for {
		cur := t.stripesFlushed.Load()
		if s <= cur {
			return
		}
		if t.stripesFlushed.CompareAndSwap(cur, s) {
			return
		}
	}
}

// fetchQueueCapacity is the fetch ring buffer's capacity (§4.2), a power of
// two so head/tail can be masked instead of modulo'd.
const fetchQueueCapacity = 32768

// FetchQueue is a single-producer/single-consumer (per channel) ring
// buffer of pending stripe indices, sized so it never overflows under the
// admission discipline of §4.3 (one enqueue per request, dequeued at fetch
// slot assignment time).
type FetchQueue struct {
	buf        [fetchQueueCapacity]int
	head, tail uint32 // masked by capacity-1; tail-head = length
}

// Enqueue appends a stripe index. It reports false if the queue is full
// (should not happen under the spec's admission discipline; callers treat
// it as an internal error).
func (q *FetchQueue) Enqueue(stripe int) bool {
	if q.tail-q.head >= fetchQueueCapacity {
		return false
	}
	q.buf[q.tail&(fetchQueueCapacity-1)] = stripe
	q.tail++
	return true
}

// Dequeue pops the head stripe index. It reports false if empty.
func (q *FetchQueue) Dequeue() (int, bool) {
	if q.head == q.tail {
		return 0, false
	}
	v := q.buf[q.head&(fetchQueueCapacity-1)]
	q.head++
	return v, true
}

// Len returns the number of queued entries.
func (q *FetchQueue) Len() int { return int(q.tail - q.head) }
