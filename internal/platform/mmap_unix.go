//go:build unix

package platform

import (
	"errors"

	"golang.org/x/sys/unix"
)

func pageSize() int {
	return unix.Getpagesize()
}

func mmapImage(size int) ([]byte, error) {
	// Anonymous as this is not an actual file, but a memory,
	// Private as this is in-process memory region.
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func mprotectText(b []byte) error {
	err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC)
	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		// W^X policies (SELinux execmem, PaX) refuse executable anonymous memory. Text slots are never entered
		// from Go, so read-only is still a valid image.
		return unix.Mprotect(b, unix.PROT_READ)
	}
	return err
}

func munmapImage(b []byte) error {
	return unix.Munmap(b)
}
