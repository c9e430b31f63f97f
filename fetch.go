package ubibdev

import (
	"os"

	"github.com/ubicloud/ubi-bdev/internal/hostio"
	"github.com/ubicloud/ubi-bdev/internal/ring"
	"github.com/ubicloud/ubi-bdev/internal/wire"
	"github.com/ubicloud/ubi-bdev/testinject"
)

// fetchSlots is the bounded pool size per channel (§4.2, §5).
const fetchSlots = 8

// completionBatch is the maximum number of completions drained per poll
// iteration (§4.2: "drains completions in batches (up to 64 per
// iteration)").
const completionBatch = 64

// completion user-data tagging (§9: "a tagged-variant completion kind...
// encode the tag in a small header", mirroring the teacher's
// udOpFetch/udOpCommit high-bit encoding in internal/queue/runner.go).
const (
	completionKindFetch  uint64 = 0 << 32
	completionKindDirect uint64 = 1 << 32
	completionKindMask   uint64 = 1 << 32
	completionIndexMask  uint64 = (1 << 32) - 1
)

type fetchSlot struct {
	buf    []byte
	stripe int
	inUse  bool
}

// fetchEngine owns a channel's bounded pool of in-flight stripe fetches: it
// submits image reads via the ring and, on completion, writes the fetched
// stripe to the backing device (§4.2).
type fetchEngine struct {
	dev       *Device
	metrics   *Metrics
	imageFile *os.File
	r         ring.Ring

	slots     [fetchSlots]fetchSlot
	freeSlots []int

	stripeSizeBytes int64
	alignmentBytes  int64
}

func newFetchEngine(dev *Device, metrics *Metrics, imageFile *os.File, r ring.Ring) *fetchEngine {
	fe := &fetchEngine{
		dev:             dev,
		metrics:         metrics,
		imageFile:       imageFile,
		r:               r,
		stripeSizeBytes: int64(dev.StripeSizeKB) * 1024,
		alignmentBytes:  dev.RequiredAlignmentBytes(),
	}
	fe.freeSlots = make([]int, 0, fetchSlots)
	for i := 0; i < fetchSlots; i++ {
		fe.freeSlots = append(fe.freeSlots, i)
	}
	return fe
}

// assignFromQueue submits image reads for queued stripes until either the
// slot pool or the queue is exhausted (§4.3 poll step 2).
func (fe *fetchEngine) assignFromQueue(q *FetchQueue) {
	defer fe.r.Submit()
	for len(fe.freeSlots) > 0 {
		stripe, ok := q.Dequeue()
		if !ok {
			return
		}
		fe.submit(stripe)
	}
}

func (fe *fetchEngine) submit(stripe int) {
	slotIdx := fe.freeSlots[len(fe.freeSlots)-1]
	fe.freeSlots = fe.freeSlots[:len(fe.freeSlots)-1]

	slot := &fe.slots[slotIdx]
	if testinject.FailAllocation() || cap(slot.buf) < int(fe.stripeSizeBytes) {
		if testinject.FailAllocation() {
			fe.dev.stripes.FailFetch(stripe)
			fe.freeSlots = append(fe.freeSlots, slotIdx)
			return
		}
		slot.buf = hostio.AlignedBuffer(int(fe.stripeSizeBytes), fe.alignmentBytes)
	}
	slot.buf = slot.buf[:fe.stripeSizeBytes]
	slot.stripe = stripe
	slot.inUse = true

	userData := completionKindFetch | uint64(slotIdx)
	offset := int64(stripe) * fe.stripeSizeBytes
	if err := fe.r.SubmitRead(userData, fe.imageFile, slot.buf, offset); err != nil {
		fe.dev.stripes.FailFetch(stripe)
		fe.freeSlot(slotIdx)
	}
}

func (fe *fetchEngine) freeSlot(idx int) {
	fe.slots[idx].inUse = false
	fe.freeSlots = append(fe.freeSlots, idx)
}

// handleCompletion processes one fetch-read completion: on failure marks
// the stripe Failed; on success writes the stripe to the backing device
// and marks it Fetched (§4.2). The backing write happens synchronously
// here, the same way the teacher's queue.Runner calls Backend.WriteAt
// synchronously inside its completion handler rather than through a
// second async round-trip.
func (fe *fetchEngine) handleCompletion(c ring.Completion) {
	slotIdx := int(c.UserData & completionIndexMask)
	if slotIdx < 0 || slotIdx >= fetchSlots || !fe.slots[slotIdx].inUse {
		return
	}
	slot := &fe.slots[slotIdx]
	stripe := slot.stripe

	if c.Res < 0 {
		fe.dev.stripes.FailFetch(stripe)
		fe.freeSlot(slotIdx)
		return
	}

	writeOffset := fe.dev.dataOffsetBlocks*fe.dev.Backing.BlockSize() + int64(stripe)*fe.stripeSizeBytes
	if _, err := fe.dev.Backing.WriteAt(slot.buf, writeOffset); err != nil {
		fe.dev.stripes.FailFetch(stripe)
		fe.freeSlot(slotIdx)
		return
	}

	fe.dev.stripes.CompleteFetch(stripe)
	wire.SetStripeFetched(fe.dev.metadataBuf, stripe, true)
	if fe.dev.observer != nil {
		fe.dev.observer.ObserveStripeFetch()
	}
	if fe.metrics != nil {
		fe.metrics.RecordStripeFetch()
	}
	fe.freeSlot(slotIdx)
}
