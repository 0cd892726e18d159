package store

import (
	"io"
	"os"
	"sync"

	"github.com/hajimehoshi/go-mp3"
	"github.com/pkg/errors"

	"pipelined.dev/graph"
)

// mp3 decoder always produces 16 bit stereo.
const (
	mp3Channels = 2
	mp3BitDepth = 16
)

// MP3 is a store over the decoded PCM stream of an mp3 file. Reads seek
// the decoder, so sequential access is the fast path.
type MP3 struct {
	f      *os.File
	format graph.WaveFormat

	mu     sync.Mutex
	d      *mp3.Decoder
	pos    int64
	length int64
}

// OpenMP3 opens an mp3 file and prepares its decoder.
func OpenMP3(path string) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	d, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(graph.ErrFormatNotSupported, "open mp3 %s: %v", path, err)
	}
	return &MP3{
		f:      f,
		d:      d,
		length: d.Length(),
		format: graph.NewPCM(d.SampleRate(), mp3Channels, mp3BitDepth),
	}, nil
}

// ReadAt reads decoded PCM bytes.
func (s *MP3) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	if off >= s.length {
		return 0, io.EOF
	}
	if off != s.pos {
		if _, err := s.d.Seek(off, io.SeekStart); err != nil {
			return 0, err
		}
		s.pos = off
	}
	n, err := io.ReadFull(s.d, p)
	s.pos += int64(n)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

// Length returns the decoded size in bytes.
func (s *MP3) Length() (int64, int64, error) {
	return s.length, s.length, nil
}

// WaveFormat returns the format of decoded data.
func (s *MP3) WaveFormat() graph.WaveFormat {
	return s.format
}

// Close closes the file.
func (s *MP3) Close() error {
	return s.f.Close()
}
