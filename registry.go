package ubibdev

import "github.com/ubicloud/ubi-bdev/internal/registry"

// DeviceName implements registry.Entry.
func (d *Device) DeviceName() string { return d.Name }

// BackingIdentity implements registry.Entry.
func (d *Device) BackingIdentity() string { return d.Backing.Identity() }

func registerDevice(d *Device) error {
	if err := registry.Register(d); err != nil {
		return NewDeviceError("CREATE", d.Name, CodeInvalidConfig, err.Error())
	}
	return nil
}

func unregisterDevice(name string) {
	registry.Unregister(name)
}

// FindDeviceByBackingDevice looks up a live device by the identity of the
// backing device it claims (spec §9's global registry, used for base-bdev
// removal dispatch).
func FindDeviceByBackingDevice(backingIdentity string) (*Device, bool) {
	e, ok := registry.FindByBackingDevice(backingIdentity)
	if !ok {
		return nil, false
	}
	d, ok := e.(*Device)
	return d, ok
}

// NotifyBackingDeviceRemoved dispatches a backing-device removal event to
// whichever device claims it, if any.
func NotifyBackingDeviceRemoved(backingIdentity string) {
	registry.NotifyBackingDeviceRemoved(backingIdentity)
}
