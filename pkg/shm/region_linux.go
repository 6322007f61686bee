package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Region is a named shared region created by the daemon
type Region struct {
	Path string
	Size int
}

// RegionPath returns the name of the region for a process and client id
func RegionPath(dir, processName string, clientID uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d", filepath.Base(processName), clientID))
}

// Create writes the serialized payload into a new region at path. An
// existing region with the same name is an error.
func Create(path string, p *Payload) (*Region, error) {
	b, err := Serialize(p)
	if err != nil {
		return nil, err
	}
	size := RoundSize(len(b))

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("shm: failed to create region %v", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shm: failed to size region %v", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shm: failed to map region %v", err)
	}
	copy(mem, b)
	unix.Munmap(mem)
	return &Region{Path: path, Size: size}, nil
}

// Remove deletes the region
func (r *Region) Remove() error {
	return os.Remove(r.Path)
}

// Mapping is an attached region
type Mapping struct {
	mem []byte
}

// Attach maps the region read only. The size must match the size given to
// the child on its command line.
func Attach(path string, size int) (*Mapping, error) {
	if size <= 0 || size%PageSize != 0 {
		return nil, fmt.Errorf("%w: %d", ErrSize, size)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shm: failed to open region %v", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shm: failed to stat region %v", err)
	}
	if fi.Size() != int64(size) {
		return nil, fmt.Errorf("%w: region %d, expected %d", ErrSize, fi.Size(), size)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: failed to map region %v", err)
	}
	return &Mapping{mem: mem}, nil
}

// Payload verifies and decodes the mapped payload
func (m *Mapping) Payload() (*Payload, error) {
	if m.mem == nil {
		return nil, fmt.Errorf("shm: region detached")
	}
	return Parse(m.mem)
}

// Detach unmaps the region
func (m *Mapping) Detach() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	return err
}
