package rtmodule

import (
	"math"
	"sync"
	"unsafe"
)

const (
	// alignment of built-in allocations, enough for the widest vector loads.
	alignment = 32

	// DefaultMaxAllocation is the largest built-in allocation unless Config.MaxAllocation says otherwise. Buffers
	// are indexed with int32 offsets, so nothing larger is addressable by compiled code.
	DefaultMaxAllocation = math.MaxInt32
)

// heap is the built-in allocator. Allocations come from the Go heap and stay reachable through live until freed.
type heap struct {
	// max is the largest size malloc serves. It is at most math.MaxInt-alignment so the padded length never wraps.
	max    uint64
	mu     sync.Mutex
	allocs map[unsafe.Pointer][]byte
}

func newHeap(maxSize uint64) *heap {
	if maxSize == 0 {
		maxSize = DefaultMaxAllocation
	}
	if limit := uint64(math.MaxInt - alignment); maxSize > limit {
		maxSize = limit
	}
	return &heap{max: maxSize, allocs: map[unsafe.Pointer][]byte{}}
}

// malloc returns size bytes aligned to alignment, or nil when size is above the limit of h.
func (h *heap) malloc(size uint64) unsafe.Pointer {
	if size > h.max {
		return nil
	}
	b := make([]byte, int(size)+alignment)
	p := unsafe.Pointer(&b[0])
	if off := uintptr(p) % alignment; off != 0 {
		p = unsafe.Add(p, alignment-off)
	}

	h.mu.Lock()
	h.allocs[p] = b
	h.mu.Unlock()
	return p
}

func (h *heap) free(p unsafe.Pointer) {
	h.mu.Lock()
	delete(h.allocs, p)
	h.mu.Unlock()
}

func (h *heap) live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.allocs)
}

func (h *heap) reset() {
	h.mu.Lock()
	h.allocs = map[unsafe.Pointer][]byte{}
	h.mu.Unlock()
}
