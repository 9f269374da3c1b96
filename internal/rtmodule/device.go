package rtmodule

import (
	"context"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/docker/go-units"

	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/native"
	"github.com/jitrt/jitrt/sys"
)

// device emulates device memory with host allocations. Handles are never zero, so api.Buffer Device == 0 keeps
// meaning "no device allocation".
type device struct {
	logger *slog.Logger

	mu   sync.Mutex
	next uint64
	mem  map[uint64][]byte
}

func newDevice(logger *slog.Logger) *device {
	return &device{logger: logger, mem: map[uint64][]byte{}}
}

func (d *device) live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mem)
}

func (d *device) reset() {
	d.mu.Lock()
	d.mem = map[uint64][]byte{}
	d.mu.Unlock()
}

func (d *device) lookup(handle uint64) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.mem[handle]
	return mem, ok
}

// copyToDevice allocates device memory for the buffer if it has none, then copies host memory to it when the
// allocation is new or the host is dirty.
func (d *device) copyToDevice(_ *native.Frame, args []unsafe.Pointer) int32 {
	buf := (*api.Buffer)(args[1])
	if buf.Host == nil {
		return sys.StatusDeviceError
	}
	size := buf.SizeInBytes()

	fresh := false
	if buf.Device == 0 {
		d.mu.Lock()
		d.next++
		buf.Device = d.next
		d.mem[buf.Device] = make([]byte, size)
		d.mu.Unlock()
		fresh = true
		if d.logger.Enabled(context.Background(), slog.LevelDebug) {
			d.logger.Debug("device allocation", "handle", buf.Device, "size", units.BytesSize(float64(size)))
		}
	}

	mem, ok := d.lookup(buf.Device)
	if !ok || uintptr(len(mem)) != size {
		return sys.StatusDeviceError
	}
	if fresh || buf.HostDirty {
		copy(mem, buf.Bytes())
		buf.HostDirty = false
	}
	return 0
}

// copyToHost copies device memory back to the host when the device is dirty. A buffer without device memory is
// already up to date.
func (d *device) copyToHost(_ *native.Frame, args []unsafe.Pointer) int32 {
	buf := (*api.Buffer)(args[1])
	if buf.Device == 0 {
		return 0
	}
	mem, ok := d.lookup(buf.Device)
	if !ok || buf.Host == nil || uintptr(len(mem)) != buf.SizeInBytes() {
		return sys.StatusDeviceError
	}
	if buf.DeviceDirty {
		copy(buf.Bytes(), mem)
		buf.DeviceDirty = false
	}
	return 0
}

func (d *device) free(_ *native.Frame, args []unsafe.Pointer) int32 {
	buf := (*api.Buffer)(args[1])
	if buf.Device == 0 {
		return 0
	}
	d.mu.Lock()
	_, ok := d.mem[buf.Device]
	delete(d.mem, buf.Device)
	d.mu.Unlock()
	if !ok {
		return sys.StatusDeviceError
	}
	buf.Device = 0
	buf.DeviceDirty = false
	return 0
}
