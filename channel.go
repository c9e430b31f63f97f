package ubibdev

import (
	"os"
	"sync/atomic"

	"github.com/ubicloud/ubi-bdev/internal/hostio"
	"github.com/ubicloud/ubi-bdev/internal/logging"
	"github.com/ubicloud/ubi-bdev/internal/ring"
	"github.com/ubicloud/ubi-bdev/testinject"
)

// ringQueueDepth is the async submission queue depth per channel (§4.6, §5:
// "queue depth >= 8"), sized to hold every fetch slot's read plus the
// maximum number of outstanding direct image reads at once.
const ringQueueDepth = fetchSlots + maxConcurrentDirectReads

var channelIndexSeq atomic.Int64

// Channel is a per-execution-context object owning the poller, the FIFOs,
// the fetch slots, and the image-file handle (glossary). Everything on a
// Channel runs from a single cooperative poller; see §5 for the
// concurrency model this assumes.
type Channel struct {
	device *Device
	index  int

	imageFile *os.File
	ring      ring.Ring

	fetch      *fetchEngine
	fetchQueue *FetchQueue

	fifo []*Request

	pendingDirect map[uint64]*pendingDirectRead
	nextDirectTag uint64

	metrics *Metrics
	logger  *logging.Logger
}

// NewChannel opens the image file, initializes the async submission queue
// and fetch-slot pool, and registers the channel with its device (§4.6).
func NewChannel(dev *Device) (*Channel, error) {
	if testinject.FailImageOpen() {
		return nil, NewDeviceError("CHANNEL_CREATE", dev.Name, CodeResourceExhausted, "injected image open failure")
	}
	imageFile, _, err := hostio.OpenImageFile(dev.ImagePath, dev.DirectIO)
	if err != nil {
		return nil, NewDeviceError("CHANNEL_CREATE", dev.Name, CodeImageIOFailed, err.Error())
	}

	if testinject.FailRingInit() {
		imageFile.Close()
		return nil, NewDeviceError("CHANNEL_CREATE", dev.Name, CodeResourceExhausted, "injected ring init failure")
	}
	r, err := ring.NewRing(ring.Config{Entries: ringQueueDepth})
	if err != nil {
		imageFile.Close()
		return nil, NewDeviceError("CHANNEL_CREATE", dev.Name, CodeResourceExhausted, err.Error())
	}

	if testinject.FailChannelCreate() {
		r.Close()
		imageFile.Close()
		return nil, NewDeviceError("CHANNEL_CREATE", dev.Name, CodeResourceExhausted, "injected channel create failure")
	}

	ch := &Channel{
		device:        dev,
		index:         int(channelIndexSeq.Add(1)) - 1,
		imageFile:     imageFile,
		ring:          r,
		fetchQueue:    &FetchQueue{},
		pendingDirect: make(map[uint64]*pendingDirectRead),
		metrics:       NewMetrics(),
	}
	ch.logger = dev.logger.WithChannel(ch.index)
	ch.fetch = newFetchEngine(dev, ch.metrics, imageFile, r)

	dev.addChannel(ch)
	ch.logger.Debug("channel created")
	return ch, nil
}

// Poll runs one poller iteration (§4.3).
func (ch *Channel) Poll() PollStatus {
	return ch.poll()
}

// Submit enters req into the channel (§4.3 entry point).
func (ch *Channel) Submit(req *Request) {
	ch.submit(req)
}

// Close unregisters the poller, closes the image file, and releases the
// async submission queue and fetch slots (§4.6). It logs the channel's
// share of read/write/stripe-fetch work, supplemented from
// original_source's ubi_destroy_channel_cb destroy-time counters.
func (ch *Channel) Close() error {
	ch.device.removeChannel(ch)

	snap := ch.metrics.Snapshot()
	ch.logger.Info("channel closed",
		"reads", snap.ReadOps, "writes", snap.WriteOps,
		"stripes_fetched", snap.StripesFetched)

	ch.ring.Close()
	return ch.imageFile.Close()
}
