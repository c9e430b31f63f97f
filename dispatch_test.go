package ubibdev

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubicloud/ubi-bdev/internal/hostio"
	"github.com/ubicloud/ubi-bdev/testinject"
)

func TestDirectReadBypassesStripePromotionWhenCopyOnReadDisabled(t *testing.T) {
	dev := newTestDeviceWithContent(t, 64*1024, 0x42)
	dev.CopyOnRead = false
	ch, err := NewChannel(dev)
	require.NoError(t, err)
	defer ch.Close()

	buf := make([]byte, 512)
	done := make(chan error, 1)
	ch.Submit(&Request{
		Kind:       RequestRead,
		StartBlock: 0,
		NumBlocks:  1,
		Buf:        buf,
		Done:       func(n int, err error) { done <- err },
	})

	pollUntilIdle(t, ch, 2*time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	default:
		t.Fatal("direct read never completed")
	}
	for _, b := range buf {
		require.Equal(t, byte(0x42), b)
	}
	// A copy-on-read-disabled read must never promote the stripe.
	require.Equal(t, StripeNotFetched, dev.stripes.Status(0))
}

// TestDirectIOReadUsesAlignedBounceBuffer exercises §5's alignment
// requirement end to end: the image file is opened with O_DIRECT (the
// only thing Device.DirectIO actually governs) and the caller supplies a
// deliberately misaligned buffer, so this only passes if
// submitDirectRead's bounce buffer is actually wired to
// Device.RequiredAlignmentBytes. O_DIRECT is unsupported on some
// filesystems (notably tmpfs), so the test skips rather than fails when
// the environment can't provide it. The backing device stays buffered:
// Device.DirectIO does not gate it.
func TestDirectIOReadUsesAlignedBounceBuffer(t *testing.T) {
	testinject.Reset()
	const stripeBytes = 4096

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "image.raw")
	content := make([]byte, stripeBytes)
	for i := range content {
		content[i] = 0xCD
	}
	require.NoError(t, os.WriteFile(imagePath, content, 0o644))

	backingPath := filepath.Join(dir, "backing.raw")
	require.NoError(t, os.WriteFile(backingPath, make([]byte, MetadataRegionBytes+stripeBytes*4), 0o644))
	backing, err := hostio.OpenFileBackingDevice(backingPath, 512, false)
	if err != nil {
		t.Skipf("could not open backing device: %v", err)
	}
	defer backing.Close()

	p := DefaultCreateParams()
	p.Name = "test-" + t.Name()
	p.ImagePath = imagePath
	p.Backing = backing
	p.StripeSizeKB = stripeBytes / 1024
	p.DirectIO = true
	p.CopyOnRead = false // route the read through submitDirectRead, not the fetch engine

	dev, err := Create(p, nil)
	require.NoError(t, err)
	defer dev.Destroy()

	ch, err := NewChannel(dev)
	if err != nil {
		t.Skipf("O_DIRECT image open unsupported on this filesystem: %v", err)
	}
	defer ch.Close()

	// Deliberately misalign the caller's buffer by one byte so the
	// request can only succeed if submitDirectRead bounces through an
	// aligned scratch buffer instead of handing this one to the ring.
	backingSlice := make([]byte, stripeBytes+1)
	buf := backingSlice[1 : stripeBytes+1]
	require.False(t, hostio.IsAligned(buf, dev.RequiredAlignmentBytes()))

	done := make(chan error, 1)
	ch.Submit(&Request{
		Kind:       RequestRead,
		StartBlock: 0,
		NumBlocks:  stripeBytes / int(dev.Backing.BlockSize()),
		Buf:        buf,
		Done:       func(n int, err error) { done <- err },
	})

	pollUntilIdle(t, ch, 2*time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Skipf("O_DIRECT read rejected by this filesystem: %v", err)
		}
	default:
		t.Fatal("direct-io read never completed")
	}
	for _, b := range buf {
		require.Equal(t, byte(0xCD), b)
	}
	// Copy-on-read disabled: the stripe must remain NotFetched.
	require.Equal(t, StripeNotFetched, dev.stripes.Status(0))
}

func TestFailedFetchFailsQueuedRequestsForThatStripe(t *testing.T) {
	dev := newTestDevice(t, 64*1024)
	ch, err := NewChannel(dev)
	require.NoError(t, err)
	defer ch.Close()

	testinject.SetFailAllocation(true)
	defer testinject.Reset()

	done := make(chan error, 1)
	ch.Submit(&Request{
		Kind:       RequestWrite,
		StartBlock: 0,
		NumBlocks:  1,
		Buf:        make([]byte, 512),
		Done:       func(n int, err error) { done <- err },
	})

	pollUntilIdle(t, ch, 2*time.Second)

	select {
	case err := <-done:
		require.Error(t, err)
		require.True(t, IsCode(err, CodeImageIOFailed))
	default:
		t.Fatal("write request behind a failed fetch never completed")
	}
	require.Equal(t, StripeFailed, dev.stripes.Status(0))
}

func TestOutOfImageReadBypassesStripeStateMachine(t *testing.T) {
	dev := newTestDevice(t, 4*1024) // small image, backing device has room past it
	ch, err := NewChannel(dev)
	require.NoError(t, err)
	defer ch.Close()

	pastImageBlock := dev.imageBlockCount + 1
	done := make(chan error, 1)
	ch.Submit(&Request{
		Kind:       RequestRead,
		StartBlock: pastImageBlock,
		NumBlocks:  1,
		Buf:        make([]byte, 512),
		Done:       func(n int, err error) { done <- err },
	})

	pollUntilIdle(t, ch, 2*time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	default:
		t.Fatal("out-of-image read never completed")
	}
}
