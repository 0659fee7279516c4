//go:build !unix

package shm

import "errors"

var errUnsupported = errors.New("shared memory segments are not supported on this platform")

type Segment struct{}

func Create(path string, size int) (*Segment, error) { return nil, errUnsupported }
func Open(path string) (*Segment, error) { return nil, errUnsupported }

func (s *Segment) Data() []byte { return nil }
func (s *Segment) Path() string { return "" }
func (s *Segment) Size() int { return 0 }
func (s *Segment) Close() error { return nil }
