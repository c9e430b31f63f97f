package hostio

import (
	"os"
	"testing"
)

func TestMemBackingDeviceReadWrite(t *testing.T) {
	d := NewMemBackingDevice(1<<20, 512)
	defer d.Close()

	want := []byte("stripe payload")
	if _, err := d.WriteAt(want, 4096); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, len(want))
	if _, err := d.ReadAt(got, 4096); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("ReadAt = %q, want %q", got, want)
	}

	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := d.FlushRange(0, 4096); err != nil {
		t.Fatalf("FlushRange: %v", err)
	}
}

func TestMemBackingDeviceWriteBeyondEnd(t *testing.T) {
	d := NewMemBackingDevice(1024, 512)
	defer d.Close()

	if _, err := d.WriteAt([]byte("x"), 2048); err == nil {
		t.Fatal("expected error writing beyond end of device")
	}
}

func TestOpenImageFile(t *testing.T) {
	path := t.TempDir() + "/image.raw"
	content := make([]byte, 8192)
	for i := range content {
		content[i] = byte(i)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, size, err := OpenImageFile(path, false)
	if err != nil {
		t.Fatalf("OpenImageFile: %v", err)
	}
	defer f.Close()

	if size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", size, len(content))
	}

	got := make([]byte, 16)
	if _, err := f.ReadAt(got, 100); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != string(content[100:116]) {
		t.Fatalf("ReadAt mismatch")
	}
}
