package ubibdev

import (
	"time"

	"github.com/ubicloud/ubi-bdev/internal/hostio"
	"github.com/ubicloud/ubi-bdev/internal/ring"
)

// RequestKind identifies the operation a Request performs (§6: the core
// exposes supports(kind) -> {READ, WRITE, FLUSH} only).
type RequestKind int

const (
	RequestRead RequestKind = iota
	RequestWrite
	RequestFlush
)

// PollStatus reports whether a poll iteration moved work.
type PollStatus int

const (
	Idle PollStatus = iota
	Busy
)

// Request is one consumer-issued block request (§3's request lifecycle):
// created by the host, appended to the channel queue, removed on service
// or failure. Buf belongs to the host.
type Request struct {
	Kind       RequestKind
	StartBlock int64
	NumBlocks  int64
	Buf        []byte // read: filled by the core; write: source data

	// Done is invoked exactly once when the request completes, with the
	// byte count serviced and an error (nil on success).
	Done func(n int, err error)

	startStripe int
}

func (r *Request) byteOffset(blockSize int64) int64 { return r.StartBlock * blockSize }
func (r *Request) byteLen(blockSize int64) int64    { return r.NumBlocks * blockSize }

func (r *Request) complete(n int, err error) {
	if r.Done != nil {
		r.Done(n, err)
	}
}

// maxConcurrentDirectReads bounds outstanding direct image reads so a
// burst of copy-on-read-disabled reads cannot starve the fetch slots or
// the ring (§4.3: "cap outstanding direct image reads").
const maxConcurrentDirectReads = 32

// pendingDirectRead is a direct image read in flight, keyed by a sequence
// number tag rather than a raw pointer (§9's "do not use untyped pointers;
// encode the tag in a small header"). scratch holds an aligned bounce
// buffer when req.Buf itself isn't suitable for an O_DIRECT read.
type pendingDirectRead struct {
	req     *Request
	scratch []byte
}

// submit implements the §4.3 entry point: determine stripe span, reject
// stripe-straddling requests immediately, admit a fetch if this request's
// stripe needs one, and enqueue into the channel's FIFO.
func (ch *Channel) submit(req *Request) {
	if req.Kind != RequestFlush {
		startStripe := int(req.StartBlock >> ch.device.stripeShift)
		endBlock := req.StartBlock + req.NumBlocks - 1
		endStripe := int(endBlock >> ch.device.stripeShift)
		if startStripe != endStripe {
			req.complete(0, NewChannelError("SUBMIT", ch.device.Name, ch.index, CodeInternalError, "request spans more than one stripe"))
			return
		}
		req.startStripe = startStripe

		inImage := req.StartBlock < ch.device.imageBlockCount
		needsFetch := req.Kind == RequestWrite || (req.Kind == RequestRead && ch.device.CopyOnRead)
		if inImage && needsFetch {
			if ch.device.stripes.Status(startStripe) == StripeNotFetched {
				if ch.device.stripes.TryBeginFetch(startStripe) {
					if !ch.fetchQueue.Enqueue(startStripe) {
						ch.device.stripes.FailFetch(startStripe)
						req.complete(0, NewChannelError("SUBMIT", ch.device.Name, ch.index, CodeInternalError, "fetch queue full"))
						return
					}
				}
			}
		}
	}

	ch.fifo = append(ch.fifo, req)
}

// poll drains completions, assigns fetch slots, then drains the request
// FIFO in order (§4.3 poll iteration).
func (ch *Channel) poll() PollStatus {
	status := Idle

	completions, _ := ch.ring.PeekCompletions(completionBatch)
	for _, c := range completions {
		status = Busy
		if c.UserData&completionKindMask == completionKindDirect {
			ch.handleDirectCompletion(c)
		} else {
			ch.fetch.handleCompletion(c)
		}
	}

	if ch.fetchQueue.Len() > 0 && len(ch.fetch.freeSlots) > 0 {
		ch.fetch.assignFromQueue(ch.fetchQueue)
		status = Busy
	}

	submittedDirect := false
	for len(ch.fifo) > 0 {
		req := ch.fifo[0]

		if req.Kind != RequestFlush && req.StartBlock < ch.device.imageBlockCount {
			st := ch.device.stripes.Status(req.startStripe)
			switch st {
			case StripeFailed:
				ch.fifo = ch.fifo[1:]
				req.complete(0, NewChannelError("SUBMIT", ch.device.Name, ch.index, CodeImageIOFailed, "stripe fetch failed"))
				status = Busy
				continue
			case StripeInFlight:
				// Preserve arrival order: stop draining behind this stripe.
				return status
			case StripeNotFetched:
				if ch.device.CopyOnRead || req.Kind == RequestWrite {
					ch.fifo = ch.fifo[1:]
					req.complete(0, NewChannelError("SUBMIT", ch.device.Name, ch.index, CodeInternalError, "stripe not in flight where protocol required InFlight"))
					status = Busy
					continue
				}
				// copy-on-read disabled: serve directly from the image file.
				if len(ch.pendingDirect) >= maxConcurrentDirectReads {
					return status
				}
				ch.fifo = ch.fifo[1:]
				ch.submitDirectRead(req)
				submittedDirect = true
				status = Busy
				continue
			case StripeFetched:
				ch.fifo = ch.fifo[1:]
				ch.serviceReady(req)
				status = Busy
				continue
			}
		}

		ch.fifo = ch.fifo[1:]
		status = Busy
		switch req.Kind {
		case RequestFlush:
			ch.flush(req)
		case RequestWrite:
			ch.serviceReady(req)
		case RequestRead:
			ch.serviceReady(req)
		}
	}

	if submittedDirect {
		ch.ring.Submit()
	}

	if status == Idle && len(ch.fetch.freeSlots) < fetchSlots {
		// A fetch is still in flight even though nothing completed or
		// drained this round; don't report Idle out from under it (§4.3).
		status = Busy
	}

	return status
}

// serviceReady forwards a ready request (stripe Fetched, out-of-image, or
// a write) straight to the backing device.
func (ch *Channel) serviceReady(req *Request) {
	blockSize := ch.device.Backing.BlockSize()
	offset := ch.device.dataOffsetBlocks*blockSize + req.byteOffset(blockSize)

	start := time.Now()
	var err error
	var n int
	switch req.Kind {
	case RequestRead:
		n, err = ch.device.Backing.ReadAt(req.Buf, offset)
		latency := uint64(time.Since(start).Nanoseconds())
		if ch.device.observer != nil {
			ch.device.observer.ObserveRead(uint64(n), latency, err == nil)
		}
		ch.metrics.RecordRead(uint64(n), latency, err == nil)
	case RequestWrite:
		n, err = ch.device.Backing.WriteAt(req.Buf, offset)
		latency := uint64(time.Since(start).Nanoseconds())
		if ch.device.observer != nil {
			ch.device.observer.ObserveWrite(uint64(n), latency, err == nil)
		}
		ch.metrics.RecordWrite(uint64(n), latency, err == nil)
	}
	req.complete(n, err)
}

// submitDirectRead issues an async image-file read directly into the
// request's buffer, tagged so completion handling serves it without
// promoting the stripe (§4.4).
func (ch *Channel) submitDirectRead(req *Request) {
	blockSize := ch.device.Backing.BlockSize()
	tag := ch.nextDirectTag
	ch.nextDirectTag++
	userData := completionKindDirect | tag

	pending := &pendingDirectRead{req: req}
	readBuf := req.Buf
	if alignment := ch.device.RequiredAlignmentBytes(); alignment > 0 && !hostio.IsAligned(req.Buf, alignment) {
		pending.scratch = hostio.AlignedBuffer(len(req.Buf), alignment)
		readBuf = pending.scratch
	}
	ch.pendingDirect[tag] = pending

	if err := ch.ring.SubmitRead(userData, ch.imageFile, readBuf, req.byteOffset(blockSize)); err != nil {
		delete(ch.pendingDirect, tag)
		req.complete(0, NewChannelError("SUBMIT", ch.device.Name, ch.index, CodeImageIOFailed, err.Error()))
	}
}

// handleDirectCompletion completes the request behind a direct image read,
// without touching the stripe state machine (§4.4).
func (ch *Channel) handleDirectCompletion(c ring.Completion) {
	tag := c.UserData & completionIndexMask
	pending, ok := ch.pendingDirect[tag]
	if !ok {
		return
	}
	delete(ch.pendingDirect, tag)

	if c.Res < 0 {
		pending.req.complete(0, NewChannelError("SUBMIT", ch.device.Name, ch.index, CodeImageIOFailed, "direct image read failed"))
		return
	}
	n := int(c.Res)
	if pending.scratch != nil {
		copy(pending.req.Buf, pending.scratch[:n])
	}
	pending.req.complete(n, nil)
}
