//go:build unix

// Package shm maps a file-backed memory segment shared by the tile server
// and its clients. Tile pixels are exchanged through it instead of being
// inlined in tile_data messages.
package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Segment is a MAP_SHARED mapping of a file.
type Segment struct {
	path  string
	fd    int
	size  int
	data  []byte
	owner bool
}

// Create makes a new segment of the given size at path, truncating any
// existing file. The creator unlinks the file on Close.
func Create(path string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid segment size %d", size)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to size segment: %w", err)
	}

	seg, err := mapSegment(path, fd, size)
	if err != nil {
		return nil, err
	}
	seg.owner = true
	return seg, nil
}

// Open maps an existing segment created by a peer.
func Open(path string) (*Segment, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file: %w", err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to stat segment: %w", err)
	}
	if st.Size <= 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("segment %s is empty", path)
	}

	return mapSegment(path, fd, int(st.Size))
}

func mapSegment(path string, fd, size int) (*Segment, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to map segment: %w", err)
	}
	return &Segment{path: path, fd: fd, size: size, data: data}, nil
}

func (s *Segment) Data() []byte {
	return s.data
}

func (s *Segment) Path() string {
	return s.path
}

func (s *Segment) Size() int {
	return s.size
}

func (s *Segment) Close() error {
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return fmt.Errorf("failed to unmap segment: %w", err)
		}
		s.data = nil
	}
	if s.fd >= 0 {
		if err := unix.Close(s.fd); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
		s.fd = -1
	}
	if s.owner {
		unix.Unlink(s.path)
		s.owner = false
	}
	return nil
}
