/*
Package store provides synchronous backing stores for the async reader.

A store is a random access, read only sequence of bytes with a known length.
File and Memory expose raw bytes. WAV exposes the data section of a wave
file and MP3 exposes the decoded PCM stream of an mp3 file, both also
describe the format of their bytes.
*/
package store

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"pipelined.dev/graph"
)

// Store is the backing store contract. ReadAt follows io.ReaderAt: fewer
// bytes than requested are returned together with io.EOF at the end of the
// store.
type Store interface {
	io.ReaderAt
	io.Closer
	// Length returns the total number of bytes and how many of them are
	// available now.
	Length() (total, available int64, err error)
}

// Formatter is a store that knows the format of its bytes.
type Formatter interface {
	WaveFormat() graph.WaveFormat
}

// File is a store backed by a file.
type File struct {
	f *os.File
}

// Open opens a file store.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// ReadAt implements io.ReaderAt.
func (s *File) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Length returns the file size.
func (s *File) Length() (int64, int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, 0, err
	}
	return fi.Size(), fi.Size(), nil
}

// Close closes the file.
func (s *File) Close() error {
	return s.f.Close()
}

// Memory is a store backed by a byte slice. Only the available prefix of
// the slice can be read, all of it unless SetAvailable says otherwise.
type Memory struct {
	mu        sync.Mutex
	data      []byte
	available int64
	closed    bool
}

// NewMemory returns a store over b. The slice is not copied.
func NewMemory(b []byte) *Memory {
	return &Memory{data: b, available: int64(len(b))}
}

// SetAvailable limits reads to the first n bytes, as if the rest was still
// arriving. N is clamped to the slice length.
func (s *Memory) SetAvailable(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = max(0, min(n, int64(len(s.data))))
}

// ReadAt implements io.ReaderAt.
func (s *Memory) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	if off >= s.available {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:s.available])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Length returns the slice length and the available bytes.
func (s *Memory) Length() (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, 0, os.ErrClosed
	}
	return int64(len(s.data)), s.available, nil
}

// Close drops the slice.
func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}

// section limits reads to [offset, offset+size) of the underlying reader.
type section struct {
	r      io.ReaderAt
	offset int64
	size   int64
}

func (s section) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	if max := s.size - off; int64(len(p)) > max {
		p = p[:max]
		n, err := s.r.ReadAt(p, s.offset+off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return s.r.ReadAt(p, s.offset+off)
}
