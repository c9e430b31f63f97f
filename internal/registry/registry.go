// Package registry is the process-wide set of live devices, used only for
// base-device event dispatch (spec §9's "global device registry" design
// note), supplemented from original_source's g_ubi_bdev_head TAILQ and its
// base-bdev-removal lookup.
package registry

import (
	"fmt"
	"sync"
)

// Entry is the subset of a device's identity the registry needs: enough to
// look it up by name or by the backing device it claims, and to notify it
// when that backing device disappears.
type Entry interface {
	DeviceName() string
	BackingIdentity() string
	OnBackingDeviceRemoved()
}

var (
	mu        sync.Mutex
	byName    = map[string]Entry{}
	byBacking = map[string]Entry{}
)

// Register adds e to the registry. It fails if a device with the same
// name is already registered (§8 scenario 8: duplicate create must not
// disturb the first).
func Register(e Entry) error {
	mu.Lock()
	defer mu.Unlock()

	name := e.DeviceName()
	if _, exists := byName[name]; exists {
		return fmt.Errorf("registry: device %q already registered", name)
	}
	byName[name] = e
	byBacking[e.BackingIdentity()] = e
	return nil
}

// Unregister removes the device with the given name, if present.
func Unregister(name string) {
	mu.Lock()
	defer mu.Unlock()

	e, ok := byName[name]
	if !ok {
		return
	}
	delete(byName, name)
	delete(byBacking, e.BackingIdentity())
}

// Find looks up a device by name.
func Find(name string) (Entry, bool) {
	mu.Lock()
	defer mu.Unlock()
	e, ok := byName[name]
	return e, ok
}

// FindByBackingDevice looks up the device claiming the given backing
// device identity.
func FindByBackingDevice(backingIdentity string) (Entry, bool) {
	mu.Lock()
	defer mu.Unlock()
	e, ok := byBacking[backingIdentity]
	return e, ok
}

// NotifyBackingDeviceRemoved looks up the device claiming backingIdentity
// and invokes its OnBackingDeviceRemoved hook, mirroring
// ubi_handle_base_bdev_remove_event. It is a no-op if no device claims
// that identity.
func NotifyBackingDeviceRemoved(backingIdentity string) {
	e, ok := FindByBackingDevice(backingIdentity)
	if !ok {
		return
	}
	e.OnBackingDeviceRemoved()
}
