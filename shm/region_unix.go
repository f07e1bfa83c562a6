//go:build unix

package shm

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// CreateRegion creates and maps a new region of size bytes. It fails with
// ErrRegionExists if the name is taken. init, when non-nil, runs on the zeroed
// mapping before any other process can lock it.
func CreateRegion(dir, name string, size int, init func([]byte)) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrRegionTooSmall, size)
	}
	path := filepath.Join(dir, name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o666)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf("%w: %s", ErrRegionExists, name)
		}
		return nil, fmt.Errorf("create region %s: %w", name, err)
	}

	fail := func(err error) (*Region, error) {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, err
	}

	// Openers block on this lock until the region is sized and initialised.
	if err := flock(fd, unix.LOCK_EX); err != nil {
		return fail(fmt.Errorf("lock region %s: %w", name, err))
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return fail(fmt.Errorf("size region %s: %w", name, err))
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fail(fmt.Errorf("map region %s: %w", name, err))
	}
	if init != nil {
		init(data)
	}
	flock(fd, unix.LOCK_UN)

	logrus.WithFields(logrus.Fields{
		"function": "CreateRegion",
		"name":     name,
		"size":     size,
	}).Debug("Created shared region")

	return &Region{name: name, path: path, fd: fd, data: data, owner: true}, nil
}

// OpenRegion maps an existing region. A size of zero maps the whole file;
// otherwise the file must be at least size bytes long.
func OpenRegion(dir, name string, size int) (*Region, error) {
	path := filepath.Join(dir, name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, name)
		}
		return nil, fmt.Errorf("open region %s: %w", name, err)
	}

	// Wait out a creator that is still initialising.
	if err := flock(fd, unix.LOCK_EX); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("lock region %s: %w", name, err)
	}
	var st unix.Stat_t
	err = unix.Fstat(fd, &st)
	flock(fd, unix.LOCK_UN)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat region %s: %w", name, err)
	}

	if size == 0 {
		size = int(st.Size)
	}
	if size == 0 || int64(size) > st.Size {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s is %d bytes, need %d", ErrRegionTooSmall, name, st.Size, size)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("map region %s: %w", name, err)
	}
	return &Region{name: name, path: path, fd: fd, data: data}, nil
}

// Remap replaces the mapping with one of size bytes. The caller must not hold
// the lock.
func (r *Region) Remap(size int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	var st unix.Stat_t
	if err := unix.Fstat(r.fd, &st); err != nil {
		return fmt.Errorf("stat region %s: %w", r.name, err)
	}
	if size <= 0 || int64(size) > st.Size {
		return fmt.Errorf("%w: %s is %d bytes, need %d", ErrRegionTooSmall, r.name, st.Size, size)
	}
	data, err := unix.Mmap(r.fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("map region %s: %w", r.name, err)
	}
	unix.Munmap(r.data)
	r.data = data
	return nil
}

// Lock acquires the region for this goroutine and, through flock, for this
// process. It blocks until every other holder has unlocked.
func (r *Region) Lock() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if err := flock(r.fd, unix.LOCK_EX); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("lock region %s: %w", r.name, err)
	}
	return nil
}

// Unlock releases a lock taken with Lock.
func (r *Region) Unlock() {
	if err := flock(r.fd, unix.LOCK_UN); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Region.Unlock",
			"name":     r.name,
			"error":    err.Error(),
		}).Warn("Failed to release region lock")
	}
	r.mu.Unlock()
}

// Close unmaps the region. The owner also unlinks its name.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if err := unix.Munmap(r.data); err != nil {
		errs = append(errs, fmt.Errorf("unmap region %s: %w", r.name, err))
	}
	r.data = nil
	if err := unix.Close(r.fd); err != nil {
		errs = append(errs, fmt.Errorf("close region %s: %w", r.name, err))
	}
	if r.owner {
		if err := unix.Unlink(r.path); err != nil && !errors.Is(err, unix.ENOENT) {
			errs = append(errs, fmt.Errorf("unlink region %s: %w", r.name, err))
		}
	}
	return errors.Join(errs...)
}

// RemoveRegion unlinks a region's name without touching existing mappings.
func RemoveRegion(dir, name string) error {
	err := unix.Unlink(filepath.Join(dir, name))
	if errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, name)
	}
	return err
}

func flock(fd, how int) error {
	for {
		err := unix.Flock(fd, how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
