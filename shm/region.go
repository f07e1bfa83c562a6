package shm

import (
	"os"
	"sync"
)

// DefaultDir returns the directory that backs shared regions: /dev/shm when
// it exists, the system temporary directory otherwise.
func DefaultDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Region is a named shared memory mapping with a cross-process lock.
//
// Bytes may only be read or written between Lock and Unlock. A Region created
// by CreateRegion owns its name and unlinks it on Close; other processes that
// still have it mapped keep their view until they close too.
type Region struct {
	mu     sync.Mutex
	name   string
	path   string
	fd     int
	data   []byte
	owner  bool
	closed bool
}

// Name returns the region's name.
func (r *Region) Name() string { return r.name }

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// Size returns the mapped length.
func (r *Region) Size() int { return len(r.data) }

// Owner reports whether this handle created the region.
func (r *Region) Owner() bool { return r.owner }

// Bytes returns the mapping. The slice is invalid after Close or Remap.
func (r *Region) Bytes() []byte { return r.data }
