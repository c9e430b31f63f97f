package ubibdev

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubicloud/ubi-bdev/internal/hostio"
	"github.com/ubicloud/ubi-bdev/testinject"
)

// TestReopenLoadsPersistedStripeState exercises the §8 persistence
// scenario: fetch a stripe, flush it, destroy the device, then reopen the
// same backing device and confirm the stripe loads as already Fetched
// without re-reading the image.
func TestReopenLoadsPersistedStripeState(t *testing.T) {
	testinject.Reset()
	imagePath := writeTempImage(t, 64*1024)
	backing := hostio.NewMemBackingDevice(MetadataRegionBytes+256*1024, 512)

	p := DefaultCreateParams()
	p.Name = "reopen-test"
	p.ImagePath = imagePath
	p.Backing = backing
	p.StripeSizeKB = 4
	p.DirectIO = false

	dev, err := Create(p, nil)
	require.NoError(t, err)

	ch, err := NewChannel(dev)
	require.NoError(t, err)

	done := make(chan error, 1)
	ch.Submit(&Request{
		Kind:       RequestRead,
		StartBlock: 0,
		NumBlocks:  1,
		Buf:        make([]byte, 512),
		Done:       func(n int, err error) { done <- err },
	})
	pollUntilIdle(t, ch, 2*time.Second)
	require.NoError(t, <-done)

	flushDone := make(chan error, 1)
	ch.Submit(&Request{Kind: RequestFlush, Done: func(n int, err error) { flushDone <- err }})
	pollUntilIdle(t, ch, 2*time.Second)
	require.NoError(t, <-flushDone)

	require.NoError(t, ch.Close())
	require.NoError(t, dev.Destroy())

	// Reopen against the same backing device (not the registry: a fresh
	// process would claim it fresh too).
	p2 := p
	dev2, err := Create(p2, nil)
	require.NoError(t, err)
	defer dev2.Destroy()

	require.Equal(t, StripeFetched, dev2.stripes.Status(0))
	require.EqualValues(t, 1, dev2.StripesFetched())
	require.EqualValues(t, 1, dev2.StripesFlushed())
}

func TestValidateCreateConfigRejectsOversizedStripe(t *testing.T) {
	p := DefaultCreateParams()
	p.StripeSizeKB = 16384 // above the 8192 KiB ceiling
	err := validateCreateConfig(p, 1<<30, 512)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeInvalidConfig))
}
