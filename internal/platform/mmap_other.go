//go:build !unix

package platform

import "os"

func pageSize() int {
	return os.Getpagesize()
}

// mmapImage falls back to the Go heap. Addresses are still stable as the Go garbage collector does not move heap
// objects, and the slice is kept reachable by the image that owns it.
func mmapImage(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func mprotectText([]byte) error {
	return nil
}

func munmapImage([]byte) error {
	return nil
}
