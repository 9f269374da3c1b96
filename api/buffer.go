package api

import "unsafe"

// MaxDimensions is the number of dimensions a Buffer can describe.
const MaxDimensions = 4

// Buffer describes a multi-dimensional array in host and possibly device memory. Pipelines receive their input and
// output images as *Buffer.
//
// Unused dimensions have an Extent of zero. Strides and extents are in elements, not bytes.
type Buffer struct {
	// Device is an opaque handle owned by the device backend, or zero when no device allocation exists.
	Device uint64
	// Host points to the element at coordinate Min in host memory.
	Host unsafe.Pointer

	Extent [MaxDimensions]int32
	Stride [MaxDimensions]int32
	Min    [MaxDimensions]int32

	// ElemSize is the size in bytes of one element.
	ElemSize int32

	// HostDirty is set when host memory is newer than device memory.
	HostDirty bool
	// DeviceDirty is set when device memory is newer than host memory.
	DeviceDirty bool
}

// Dimensions returns the number of leading dimensions with a non-zero extent.
func (b *Buffer) Dimensions() int {
	for i := 0; i < MaxDimensions; i++ {
		if b.Extent[i] == 0 {
			return i
		}
	}
	return MaxDimensions
}

// SizeInBytes returns the span of host memory addressed by this buffer, from the lowest to the highest element
// inclusive. Negative strides are supported.
func (b *Buffer) SizeInBytes() uintptr {
	var lo, hi int64
	for i := 0; i < b.Dimensions(); i++ {
		span := int64(b.Extent[i]-1) * int64(b.Stride[i])
		if span < 0 {
			lo += span
		} else {
			hi += span
		}
	}
	return uintptr(hi-lo+1) * uintptr(b.ElemSize)
}

// Bytes returns the host memory of this buffer as a byte slice, or nil if Host is nil.
//
// Note: the slice starts at the lowest addressed element, which is Host unless a stride is negative.
func (b *Buffer) Bytes() []byte {
	if b.Host == nil {
		return nil
	}
	var lo int64
	for i := 0; i < b.Dimensions(); i++ {
		if span := int64(b.Extent[i]-1) * int64(b.Stride[i]); span < 0 {
			lo += span
		}
	}
	start := unsafe.Add(b.Host, lo*int64(b.ElemSize))
	return unsafe.Slice((*byte)(start), b.SizeInBytes())
}
