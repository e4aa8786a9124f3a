// Package shm implements ShmChannel: the two POSIX shared-memory regions
// used to exchange requests and responses with the eBPF loader subprocess,
// guarded by a robust-mutex substitute and sequenced by conversation ids.
package shm

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// shmDir is where POSIX shared-memory objects are visible on Linux.
const shmDir = "/dev/shm"

// Region is a single mmap'd shared-memory segment.
type Region struct {
	name string
	fd   int
	data []byte
}

// openRegion shm_opens (O_CREAT|O_RDWR, 0600) the object named name, sizes
// it to size via ftruncate, and maps it PROT_READ|PROT_WRITE, MAP_SHARED.
func openRegion(name string, size int) (*Region, error) {
	path := filepath.Join(shmDir, name)

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", name, err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: ftruncate %s: %w", name, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}

	return &Region{name: name, fd: fd, data: data}, nil
}

// Close unmaps the region and closes its descriptor. It does not unlink the
// underlying shm object; the wrapper is expected to outlive any one mapping
// within its own process lifetime.
func (r *Region) Close() error {
	if r == nil || r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	_ = unix.Close(r.fd)
	r.data = nil
	return err
}

// Unlink removes the backing shm object. Used by tests to avoid leaking
// entries under /dev/shm across runs.
func (r *Region) Unlink() error {
	return unix.Unlink(filepath.Join(shmDir, r.name))
}
