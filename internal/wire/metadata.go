// Package wire encodes and decodes the fixed-size on-disk metadata region:
// magic, version, stripe size, and the per-stripe fetched-bit array.
//
// Layout (see DESIGN.md's Open Question 1 decision record for why the
// stripe-size field differs from the single-byte encoding a literal reading
// of the source format would suggest):
//
//	bytes 0..8:    ASCII magic "BDEV_UBI" + NUL (9 bytes)
//	bytes 9..10:   version major, little-endian uint16
//	bytes 11..12:  version minor, little-endian uint16
//	bytes 13..14:  stripe size in KiB, little-endian uint16
//	bytes 15..:    per-stripe header, 4 bytes each; byte 0 bit 0 = fetched
//	remainder:     reserved, zero
package wire

import (
	"encoding/binary"
	"errors"
)

const (
	// Magic is the NUL-terminated ASCII tag identifying a metadata region.
	Magic = "BDEV_UBI"

	// VersionMajor and VersionMinor are the only on-disk version this
	// implementation understands.
	VersionMajor = 0
	VersionMinor = 1

	// MetadataRegionSize is the fixed prefix of the backing device reserved
	// for metadata.
	MetadataRegionSize = 8 * 1024 * 1024

	// MaxStripes bounds the per-stripe header array (supports images up to
	// 1 TiB at 1 MiB stripes).
	MaxStripes = 1024 * 1024

	magicFieldSize = 9 // 8 ASCII bytes + NUL

	// HeaderFixedSize is the byte width of magic+version+stripe-size, i.e.
	// where the per-stripe header array begins.
	HeaderFixedSize = magicFieldSize + 2 + 2 + 2

	stripeHeaderEntrySize = 4

	// StripeFetchedBit is bit 0 of a stripe header entry's first byte.
	StripeFetchedBit = 1 << 0
)

var _ [15]byte = [HeaderFixedSize]byte{}

var (
	ErrTruncated = errors.New("wire: metadata region smaller than fixed header")
	ErrBadMagic  = errors.New("wire: magic mismatch")
	ErrBadVersion = errors.New("wire: unsupported metadata version")
)

// Header is the decoded form of the fixed-size metadata prefix (everything
// before the per-stripe array).
type Header struct {
	VersionMajor uint16
	VersionMinor uint16
	// StripeSizeKB is widened to uint32 in memory even though the on-disk
	// field is a uint16; see DESIGN.md's Open Question 1 decision record.
	StripeSizeKB uint32
}

// IsBlank reports whether a metadata region's magic field is all zero, the
// bootstrap signal that this is a new disk rather than an existing one.
func IsBlank(region []byte) bool {
	if len(region) < magicFieldSize {
		return false
	}
	for _, b := range region[:magicFieldSize] {
		if b != 0 {
			return false
		}
	}
	return true
}

// MatchesMagic reports whether region carries the expected magic tag.
func MatchesMagic(region []byte) bool {
	if len(region) < magicFieldSize {
		return false
	}
	return string(region[0:magicFieldSize-1]) == Magic && region[magicFieldSize-1] == 0
}

// PutHeader encodes h's fields into region[0:HeaderFixedSize]. Callers must
// size region at least HeaderFixedSize bytes.
func PutHeader(region []byte, h Header) {
	copy(region[0:magicFieldSize-1], Magic)
	region[magicFieldSize-1] = 0
	binary.LittleEndian.PutUint16(region[9:11], h.VersionMajor)
	binary.LittleEndian.PutUint16(region[11:13], h.VersionMinor)
	binary.LittleEndian.PutUint16(region[13:15], uint16(h.StripeSizeKB))
}

// GetHeader decodes the fixed header. It does not validate magic or version;
// use MatchesMagic and SupportedVersion for that.
func GetHeader(region []byte) (Header, error) {
	if len(region) < HeaderFixedSize {
		return Header{}, ErrTruncated
	}
	return Header{
		VersionMajor: binary.LittleEndian.Uint16(region[9:11]),
		VersionMinor: binary.LittleEndian.Uint16(region[11:13]),
		StripeSizeKB: uint32(binary.LittleEndian.Uint16(region[13:15])),
	}, nil
}

// SupportedVersion reports whether h's version is the one this package reads
// and writes.
func SupportedVersion(h Header) bool {
	return h.VersionMajor == VersionMajor && h.VersionMinor == VersionMinor
}

// StripeOffset returns the byte offset of stripe i's 4-byte header entry.
func StripeOffset(i int) int {
	return HeaderFixedSize + i*stripeHeaderEntrySize
}

// StripeCapacity reports how many stripe entries fit in a region of the
// given size.
func StripeCapacity(regionSize int) int {
	n := (regionSize - HeaderFixedSize) / stripeHeaderEntrySize
	if n > MaxStripes {
		n = MaxStripes
	}
	if n < 0 {
		return 0
	}
	return n
}

// GetStripeFetched reports the fetched bit for stripe i.
func GetStripeFetched(region []byte, i int) bool {
	off := StripeOffset(i)
	return region[off]&StripeFetchedBit != 0
}

// SetStripeFetched sets or clears the fetched bit for stripe i, leaving the
// entry's reserved bits untouched.
func SetStripeFetched(region []byte, i int, fetched bool) {
	off := StripeOffset(i)
	if fetched {
		region[off] |= StripeFetchedBit
	} else {
		region[off] &^= StripeFetchedBit
	}
}

// NewBlankRegion allocates a zeroed metadata region of MetadataRegionSize and
// writes a fresh header for stripeSizeKB, per the new-disk branch of the
// bootstrap sequence. All stripe entries are left zero (NotFetched).
func NewBlankRegion(stripeSizeKB uint32) []byte {
	region := make([]byte, MetadataRegionSize)
	PutHeader(region, Header{
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
		StripeSizeKB: stripeSizeKB,
	})
	return region
}
