//go:build !unix

package shm

// CreateRegion is unavailable on this platform.
func CreateRegion(dir, name string, size int, init func([]byte)) (*Region, error) {
	return nil, ErrUnsupported
}

// OpenRegion is unavailable on this platform.
func OpenRegion(dir, name string, size int) (*Region, error) {
	return nil, ErrUnsupported
}

// RemoveRegion is unavailable on this platform.
func RemoveRegion(dir, name string) error { return ErrUnsupported }

func (r *Region) Remap(size int) error { return ErrUnsupported }

func (r *Region) Lock() error { return ErrUnsupported }

func (r *Region) Unlock() {}

func (r *Region) Close() error { return nil }
