package ubibdev

import (
	"github.com/ubicloud/ubi-bdev/internal/wire"
	"github.com/ubicloud/ubi-bdev/testinject"
)

// MetadataRegionBytes is the fixed prefix of the backing device reserved
// for the header and per-stripe fetched bits (§3).
const MetadataRegionBytes = wire.MetadataRegionSize

// maxStripes bounds the metadata region to images up to 1 TiB at 1 MiB
// stripes (§3, N = 1,048,576).
const maxStripes = wire.MaxStripes

// validateCreateConfig checks the §4.1 validation rules, returning
// InvalidConfig on any violation.
func validateCreateConfig(p CreateParams, backingSizeBytes, blockSize int64) error {
	if p.StripeSizeKB == 0 || p.StripeSizeKB > 8192 || p.StripeSizeKB&(p.StripeSizeKB-1) != 0 {
		return NewError("CREATE", CodeInvalidConfig, "stripe_size_kb must be a power of two in [1, 8192]")
	}

	stripeSizeBytes := int64(p.StripeSizeKB) * 1024
	if stripeSizeBytes < blockSize {
		return NewError("CREATE", CodeInvalidConfig, "stripe_size_bytes smaller than backing block size")
	}

	if MetadataRegionBytes%blockSize != 0 {
		return NewError("CREATE", CodeInvalidConfig, "metadata region size not a multiple of backing block size")
	}

	imageSize := p.imageSizeBytes
	if backingSizeBytes < imageSize+MetadataRegionBytes {
		return NewError("CREATE", CodeInvalidConfig, "backing device smaller than image size plus metadata region")
	}

	return nil
}

// readMetadata issues the bootstrap read of the metadata region (§4.1) and
// derives the in-memory header, stripe table, and counters from it.
func readMetadata(dev *Device) error {
	if testinject.FailMetadataRead() {
		return NewDeviceError("CREATE", dev.Name, CodeBackingIOFailed, "injected metadata read failure")
	}

	buf := make([]byte, MetadataRegionBytes)
	if _, err := dev.Backing.ReadAt(buf, 0); err != nil {
		return NewDeviceError("CREATE", dev.Name, CodeBackingIOFailed, err.Error())
	}

	if wire.IsBlank(buf) {
		hdr := wire.Header{VersionMajor: wire.VersionMajor, VersionMinor: wire.VersionMinor, StripeSizeKB: dev.StripeSizeKB}
		wire.PutHeader(buf, hdr)
		dev.stripes = NewStripeTable(dev.numStripes)
		dev.metadataBuf = buf
		return nil
	}

	if !wire.MatchesMagic(buf) {
		return NewDeviceError("CREATE", dev.Name, CodeInvalidFormat, "metadata magic mismatch")
	}

	hdr, err := wire.GetHeader(buf)
	if err != nil {
		return NewDeviceError("CREATE", dev.Name, CodeInvalidFormat, err.Error())
	}
	if !wire.SupportedVersion(hdr) {
		return NewDeviceError("CREATE", dev.Name, CodeUnsupportedVersion, "unsupported metadata version")
	}

	dev.StripeSizeKB = hdr.StripeSizeKB
	table := NewStripeTable(dev.numStripes)
	for i := 0; i < dev.numStripes; i++ {
		if wire.GetStripeFetched(buf, i) {
			table.markFetchedFromDisk(i)
		}
	}
	dev.stripes = table
	dev.metadataBuf = buf
	return nil
}
