// Command ubi-mem wires an in-memory backing device and an on-disk image
// file into a running ubi-bdev device, the way the teacher's ublk-mem
// exercised a real ublk device. There is no host block-device framework in
// this module (out of scope per spec §1), so this binary only stands the
// engine up and runs its poller until signaled, for local exercising.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	ubibdev "github.com/ubicloud/ubi-bdev"
	"github.com/ubicloud/ubi-bdev/internal/hostio"
	"github.com/ubicloud/ubi-bdev/internal/logging"
)

func main() {
	var (
		name         = flag.String("name", "ubi0", "device name")
		imagePath    = flag.String("image", "", "path to the read-only source image (required)")
		backingSize  = flag.String("backing-size", "128M", "size of the in-memory backing device")
		stripeSizeKB = flag.Uint("stripe-size-kb", 1024, "stripe size in KiB (power of two, <= 8192)")
		copyOnRead   = flag.Bool("copy-on-read", true, "fetch a stripe on read, not just on write")
		noSync       = flag.Bool("no-sync", false, "complete flushes immediately without flushing the backing device")
		directio     = flag.Bool("directio", false, "open the image with O_DIRECT")
		verbose      = flag.Bool("v", false, "verbose logging")
		cpu          = flag.Int("cpu", -1, "pin the channel's poll loop to this CPU (-1 to leave unpinned)")
	)
	flag.Parse()

	if *imagePath == "" {
		log.Fatal("-image is required")
	}

	size, err := parseSize(*backingSize)
	if err != nil {
		log.Fatalf("invalid -backing-size %q: %v", *backingSize, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	backing := hostio.NewMemBackingDevice(size, 512)

	params := ubibdev.DefaultCreateParams()
	params.Name = *name
	params.ImagePath = *imagePath
	params.Backing = backing
	params.StripeSizeKB = uint32(*stripeSizeKB)
	params.CopyOnRead = *copyOnRead
	params.NoSync = *noSync
	params.DirectIO = *directio

	dev, err := ubibdev.Create(params, logger)
	if err != nil {
		logger.Error("failed to create device", "error", err)
		os.Exit(1)
	}

	ch, err := ubibdev.NewChannel(dev)
	if err != nil {
		logger.Error("failed to create channel", "error", err)
		_ = dev.Destroy()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go ubibdev.Run(ctx, ch, *cpu)

	fmt.Printf("Device %s ready: %d stripes fetched, %d bytes logical size\n", dev.Name, dev.StripesFetched(), dev.Size())
	fmt.Printf("Press Ctrl+C to stop...\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancel()
	logger.Info("shutting down", "stripes_fetched", dev.StripesFetched(), "stripes_flushed", dev.StripesFlushed())
	_ = dev.Destroy()
}

func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)
	multiplier := int64(1)
	numStr := s
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	}
	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * multiplier, nil
}
