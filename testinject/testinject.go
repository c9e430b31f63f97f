// Package testinject exposes process-scoped toggles that force selected
// allocations and system calls to fail, so tests can exercise the error
// paths of create/destroy and channel setup without real fault injection
// at the OS level.
//
// Each toggle is inspected at exactly the call site named in its doc
// comment. Tests must call Reset between cases; toggles are not
// automatically cleared.
package testinject

import "sync/atomic"

var (
	failMetadataRead   atomic.Bool
	failChannelCreate  atomic.Bool
	failImageOpen      atomic.Bool
	failRingInit       atomic.Bool
	failBaseDeviceClaim atomic.Bool
	failAllocation     atomic.Bool
)

// SetFailMetadataRead forces the bootstrap metadata read (device create) to
// fail, as if the backing device returned an I/O error.
func SetFailMetadataRead(v bool) { failMetadataRead.Store(v) }

// FailMetadataRead reports whether the metadata read injection point
// should fail. Inspected in readMetadata.
func FailMetadataRead() bool { return failMetadataRead.Load() }

// SetFailChannelCreate forces channel creation to fail after its
// collaborators (image file, ring) would otherwise succeed.
func SetFailChannelCreate(v bool) { failChannelCreate.Store(v) }

// FailChannelCreate is inspected in NewChannel, after collaborator setup,
// to simulate a late-stage channel registration failure.
func FailChannelCreate() bool { return failChannelCreate.Load() }

// SetFailImageOpen forces the image file open in channel creation to fail.
func SetFailImageOpen(v bool) { failImageOpen.Store(v) }

// FailImageOpen is inspected in NewChannel before opening the image file.
func FailImageOpen() bool { return failImageOpen.Load() }

// SetFailRingInit forces the per-channel async ring initialization to fail.
func SetFailRingInit(v bool) { failRingInit.Store(v) }

// FailRingInit is inspected in NewChannel before constructing the ring.
func FailRingInit() bool { return failRingInit.Load() }

// SetFailBaseDeviceClaim forces the backing-device claim step in device
// create to fail, as if the named backing device were already in use.
func SetFailBaseDeviceClaim(v bool) { failBaseDeviceClaim.Store(v) }

// FailBaseDeviceClaim is inspected in Create before claiming the backing
// device.
func FailBaseDeviceClaim() bool { return failBaseDeviceClaim.Load() }

// SetFailAllocation forces fetch-slot allocation to fail, simulating
// resource exhaustion.
func SetFailAllocation(v bool) { failAllocation.Store(v) }

// FailAllocation is inspected in the fetch engine each time it assigns a
// fetch slot to a stripe. Other buffer allocations do not consult it.
func FailAllocation() bool { return failAllocation.Load() }

// Reset clears every toggle. Call between test cases.
func Reset() {
	failMetadataRead.Store(false)
	failChannelCreate.Store(false)
	failImageOpen.Store(false)
	failRingInit.Store(false)
	failBaseDeviceClaim.Store(false)
	failAllocation.Store(false)
}
