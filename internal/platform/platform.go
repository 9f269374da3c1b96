// Package platform includes runtime-specific code needed to map native images.
package platform

import (
	"errors"
)

// PageSize is the granularity of the protections applied by MprotectText.
var PageSize = pageSize()

// MmapImage returns a zeroed, writable region of at least size bytes, rounded up to a whole number of pages.
//
// See https://man7.org/linux/man-pages/man2/mmap.2.html for mmap API and flags.
func MmapImage(size int) ([]byte, error) {
	if size <= 0 {
		panic(errors.New("BUG: MmapImage with zero length"))
	}
	return mmapImage(AlignUp(size, PageSize))
}

// MprotectText makes the region read-only and, where the platform allows, executable. b must start at a page
// boundary of a region returned by MmapImage.
func MprotectText(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return mprotectText(b)
}

// MunmapImage unmaps the given memory region.
func MunmapImage(b []byte) error {
	if len(b) == 0 {
		panic(errors.New("BUG: MunmapImage with zero length"))
	}
	return munmapImage(b)
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
