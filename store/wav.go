package store

import (
	"io"
	"os"

	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	"pipelined.dev/graph"
)

// WAV is a store over the data section of a wave file.
type WAV struct {
	f      *os.File
	data   section
	format graph.WaveFormat
}

// OpenWAV opens a wave file and locates its PCM data.
func OpenWAV(path string) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := newWAV(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "open wav %s", path)
	}
	return s, nil
}

func newWAV(f *os.File) (*WAV, error) {
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, errors.Wrap(graph.ErrFormatNotSupported, "wav is not valid")
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, err
	}
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	format := graph.FromAudioFormat(d.Format(), int(d.BitDepth))
	format.Tag = d.WavAudioFormat
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &WAV{
		f: f,
		data: section{
			r:      f,
			offset: offset,
			size:   d.PCMLen(),
		},
		format: format,
	}, nil
}

// ReadAt reads PCM bytes. Offsets are relative to the data section.
func (s *WAV) ReadAt(p []byte, off int64) (int, error) {
	return s.data.ReadAt(p, off)
}

// Length returns the size of the data section.
func (s *WAV) Length() (int64, int64, error) {
	return s.data.size, s.data.size, nil
}

// WaveFormat returns the format of PCM data.
func (s *WAV) WaveFormat() graph.WaveFormat {
	return s.format
}

// Close closes the file.
func (s *WAV) Close() error {
	return s.f.Close()
}
