package ubibdev

import (
	"os"
	"sync"

	"github.com/ubicloud/ubi-bdev/internal/hostio"
	"github.com/ubicloud/ubi-bdev/internal/logging"
	"github.com/ubicloud/ubi-bdev/testinject"
)

// requiredAlignmentBytes is the direct-I/O buffer alignment the original
// source required (§5: "e.g., 4096 bytes").
const requiredAlignmentBytes = 4096

// CreateParams are the create-time parameters of §6.
type CreateParams struct {
	Name         string // unique device name
	ImagePath    string // existing regular file providing initial contents
	Backing      hostio.BackingDevice
	StripeSizeKB uint32 // default 1024
	NoSync       bool   // default false
	CopyOnRead   bool   // default true
	DirectIO     bool   // default true

	// imageSizeBytes is resolved from ImagePath during Create and recorded
	// here so validateCreateConfig can see it without re-opening the file.
	imageSizeBytes int64
}

// DefaultCreateParams returns CreateParams with the §6 defaults applied,
// leaving Name/ImagePath/Backing for the caller to fill in.
func DefaultCreateParams() CreateParams {
	return CreateParams{
		StripeSizeKB: 1024,
		NoSync:       false,
		CopyOnRead:   true,
		DirectIO:     true,
	}
}

// Device is one logical ubi-bdev: the stripe state machine, metadata, and
// the set of channels consuming it (§3's device descriptor).
type Device struct {
	Name      string
	ImagePath string
	Backing   hostio.BackingDevice

	StripeSizeKB     uint32
	stripeBlockCount int64
	stripeShift      uint
	dataOffsetBlocks int64
	imageBlockCount  int64
	numStripes       int

	NoSync     bool
	CopyOnRead bool
	DirectIO   bool

	metadataBuf []byte
	stripes     *StripeTable

	metrics  *Metrics
	observer Observer
	logger   *logging.Logger

	mu       sync.Mutex
	channels []*Channel
	closed   bool
}

// log2u returns log2 of a power-of-two n.
func log2u(n int64) uint {
	var shift uint
	for (int64(1) << shift) < n {
		shift++
	}
	return shift
}

// Create allocates a device descriptor, claims the backing device,
// initializes or parses its metadata layout, and registers it in the
// process-wide registry (§4.7). Any failure releases already-acquired
// resources in reverse order and surfaces the original error.
func Create(p CreateParams, logger *logging.Logger) (*Device, error) {
	if p.Backing == nil {
		return nil, NewError("CREATE", CodeInvalidConfig, "backing device is required")
	}
	if testinject.FailBaseDeviceClaim() {
		return nil, NewDeviceError("CREATE", p.Name, CodeResourceExhausted, "injected backing-device claim failure")
	}

	imgInfo, err := os.Stat(p.ImagePath)
	if err != nil {
		return nil, NewDeviceError("CREATE", p.Name, CodeInvalidConfig, err.Error())
	}
	p.imageSizeBytes = imgInfo.Size()

	blockSize := p.Backing.BlockSize()
	if err := validateCreateConfig(p, p.Backing.Size(), blockSize); err != nil {
		return nil, err
	}

	stripeSizeBytes := int64(p.StripeSizeKB) * 1024
	stripeBlockCount := stripeSizeBytes / blockSize
	dataOffsetBlocks := MetadataRegionBytes / blockSize
	imageBlockCount := (p.imageSizeBytes + blockSize - 1) / blockSize
	numStripes := int((imageBlockCount + stripeBlockCount - 1) / stripeBlockCount)
	if numStripes > maxStripes {
		return nil, NewDeviceError("CREATE", p.Name, CodeInvalidConfig, "image too large for the metadata region")
	}

	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithDevice(p.Name)

	dev := &Device{
		Name:             p.Name,
		ImagePath:        p.ImagePath,
		Backing:          p.Backing,
		StripeSizeKB:     p.StripeSizeKB,
		stripeBlockCount: stripeBlockCount,
		stripeShift:      log2u(stripeBlockCount),
		dataOffsetBlocks: dataOffsetBlocks,
		imageBlockCount:  imageBlockCount,
		numStripes:       numStripes,
		NoSync:           p.NoSync,
		CopyOnRead:       p.CopyOnRead,
		DirectIO:         p.DirectIO,
		metrics:          NewMetrics(),
		logger:           logger,
	}
	dev.observer = NewMetricsObserver(dev.metrics)

	if err := readMetadata(dev); err != nil {
		return nil, err
	}

	if err := registerDevice(dev); err != nil {
		return nil, err
	}

	logger.Info("device created", "stripes", dev.numStripes, "stripe_size_kb", dev.StripeSizeKB)
	return dev, nil
}

// Destroy unclaims the backing device, quiesces every channel, unregisters
// the device, and releases its resources (§4.7).
func (d *Device) Destroy() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	channels := append([]*Channel(nil), d.channels...)
	d.channels = nil
	d.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}

	unregisterDevice(d.Name)
	d.metrics.Stop()
	d.logger.Info("device destroyed")
	return nil
}

// OptimalIOBoundary reports the stripe size in bytes, supplemented from
// the original's bdev_ubi_create wiring of stripe_block_count to the
// bdev's optimal I/O boundary so a host framework can configure request
// splitting (invariant 5).
func (d *Device) OptimalIOBoundary() int64 {
	return d.stripeBlockCount * d.Backing.BlockSize()
}

// RequiredAlignmentBytes reports the direct-I/O buffer alignment required
// when DirectIO is enabled (§5).
func (d *Device) RequiredAlignmentBytes() int64 {
	if !d.DirectIO {
		return 0
	}
	return requiredAlignmentBytes
}

// Size returns the logical device size exposed to a consumer: the image
// size (rounded up to a block), i.e. the range the stripe state machine
// governs. Blocks beyond this are the P6 passthrough region.
func (d *Device) Size() int64 {
	return d.imageBlockCount * d.Backing.BlockSize()
}

// StripesFetched returns the device-wide stripes_fetched counter.
func (d *Device) StripesFetched() uint64 { return d.stripes.StripesFetched() }

// StripesFlushed returns the device-wide stripes_flushed counter.
func (d *Device) StripesFlushed() uint64 { return d.stripes.StripesFlushed() }

// StripeStatusAt returns the current status of the stripe containing
// logical block b, or StripeFetched with ok=false if b lies outside the
// image (P6: out-of-image blocks bypass the state machine entirely).
func (d *Device) StripeStatusAt(b int64) (status StripeStatus, ok bool) {
	if b >= d.imageBlockCount {
		return StripeFetched, false
	}
	return d.stripes.Status(int(b >> d.stripeShift)), true
}

// Metrics returns the device-wide metrics instance.
func (d *Device) Metrics() *Metrics { return d.metrics }

// Channels enumerates live channels, supporting fan-out operations across a
// device's channels (§6: "enumerate per-device channels to run a fan-out
// operation").
func (d *Device) Channels() []*Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Channel(nil), d.channels...)
}

func (d *Device) addChannel(ch *Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, ch)
}

func (d *Device) removeChannel(ch *Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, c := range d.channels {
		if c == ch {
			d.channels = append(d.channels[:i], d.channels[i+1:]...)
			return
		}
	}
}

// OnBackingDeviceRemoved unregisters the device and marks it offline,
// supplemented from the original's base-bdev removal event handling
// (ubi_handle_base_bdev_remove_event). It does not attempt recovery;
// device reset remains out of scope.
func (d *Device) OnBackingDeviceRemoved() {
	d.logger.Warn("backing device removed")
	_ = d.Destroy()
}
