package graph

import (
	"encoding/binary"
	"time"

	"github.com/go-audio/audio"
	"github.com/pkg/errors"
)

// Wave format tags.
const (
	WaveFormatPCM        uint16 = 0x0001
	WaveFormatIEEEFloat  uint16 = 0x0003
	WaveFormatMPEG       uint16 = 0x0050
	WaveFormatMPEGLayer3 uint16 = 0x0055
)

const (
	// waveFormatMinSize is the size of a payload without the extra size
	// field.
	waveFormatMinSize = 16
	// waveFormatSize is the size of a payload with the extra size field.
	waveFormatSize = 18
)

// WaveFormat is the format payload of audio media types. It serializes to
// the little-endian WAVEFORMATEX layout.
type WaveFormat struct {
	Tag            uint16
	Channels       uint16
	SampleRate     uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	Extra          []byte
}

// NewPCM returns a consistent PCM wave format.
func NewPCM(sampleRate, channels, bitsPerSample int) WaveFormat {
	blockAlign := channels * bitsPerSample / 8
	return WaveFormat{
		Tag:            WaveFormatPCM,
		Channels:       uint16(channels),
		SampleRate:     uint32(sampleRate),
		AvgBytesPerSec: uint32(sampleRate * blockAlign),
		BlockAlign:     uint16(blockAlign),
		BitsPerSample:  uint16(bitsPerSample),
	}
}

// FromAudioFormat converts go-audio format with provided bit depth.
func FromAudioFormat(f *audio.Format, bitDepth int) WaveFormat {
	return NewPCM(f.SampleRate, f.NumChannels, bitDepth)
}

// AudioFormat returns the go-audio representation of the format.
func (w WaveFormat) AudioFormat() *audio.Format {
	return &audio.Format{
		NumChannels: int(w.Channels),
		SampleRate:  int(w.SampleRate),
	}
}

// ParseWaveFormat decodes a serialized payload. Payloads shorter than the
// fixed part are rejected.
func ParseWaveFormat(b []byte) (WaveFormat, error) {
	if len(b) < waveFormatMinSize {
		return WaveFormat{}, errors.Wrapf(ErrFormatNotSupported, "wave format payload is %d bytes", len(b))
	}
	w := WaveFormat{
		Tag:            binary.LittleEndian.Uint16(b[0:]),
		Channels:       binary.LittleEndian.Uint16(b[2:]),
		SampleRate:     binary.LittleEndian.Uint32(b[4:]),
		AvgBytesPerSec: binary.LittleEndian.Uint32(b[8:]),
		BlockAlign:     binary.LittleEndian.Uint16(b[12:]),
		BitsPerSample:  binary.LittleEndian.Uint16(b[14:]),
	}
	if len(b) >= waveFormatSize {
		extra := int(binary.LittleEndian.Uint16(b[16:]))
		if extra > len(b)-waveFormatSize {
			return WaveFormat{}, errors.Wrapf(ErrFormatNotSupported, "wave format extra size %d exceeds payload", extra)
		}
		if extra > 0 {
			w.Extra = make([]byte, extra)
			copy(w.Extra, b[waveFormatSize:])
		}
	}
	return w, nil
}

// Bytes serializes the format.
func (w WaveFormat) Bytes() []byte {
	b := make([]byte, waveFormatSize+len(w.Extra))
	binary.LittleEndian.PutUint16(b[0:], w.Tag)
	binary.LittleEndian.PutUint16(b[2:], w.Channels)
	binary.LittleEndian.PutUint32(b[4:], w.SampleRate)
	binary.LittleEndian.PutUint32(b[8:], w.AvgBytesPerSec)
	binary.LittleEndian.PutUint16(b[12:], w.BlockAlign)
	binary.LittleEndian.PutUint16(b[14:], w.BitsPerSample)
	binary.LittleEndian.PutUint16(b[16:], uint16(len(w.Extra)))
	copy(b[waveFormatSize:], w.Extra)
	return b
}

// MediaType returns the audio media type carrying this format.
func (w WaveFormat) MediaType() *MediaType {
	uncompressed := w.Tag == WaveFormatPCM || w.Tag == WaveFormatIEEEFloat
	return &MediaType{
		Major:      MajorAudio,
		Sub:        SubtypeFromTag(w.Tag),
		FixedSize:  uncompressed,
		SampleSize: int(w.BlockAlign),
		FormatKind: FormatWaveFormatEx,
		Format:     w.Bytes(),
	}
}

// Validate checks uncompressed formats for internal consistency.
func (w WaveFormat) Validate() error {
	if w.Channels == 0 || w.SampleRate == 0 {
		return errors.Wrap(ErrFormatNotSupported, "zero channels or sample rate")
	}
	if w.Tag != WaveFormatPCM && w.Tag != WaveFormatIEEEFloat {
		return nil
	}
	if w.BitsPerSample == 0 || w.BitsPerSample%8 != 0 {
		return errors.Wrapf(ErrFormatNotSupported, "bits per sample %d", w.BitsPerSample)
	}
	if blockAlign := w.Channels * w.BitsPerSample / 8; w.BlockAlign != blockAlign {
		return errors.Wrapf(ErrFormatNotSupported, "block align %d, expected %d", w.BlockAlign, blockAlign)
	}
	if avg := w.SampleRate * uint32(w.BlockAlign); w.AvgBytesPerSec != avg {
		return errors.Wrapf(ErrFormatNotSupported, "average bytes per second %d, expected %d", w.AvgBytesPerSec, avg)
	}
	return nil
}

// DurationOf returns the playing time of n bytes.
func (w WaveFormat) DurationOf(n int64) time.Duration {
	if w.AvgBytesPerSec == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(w.AvgBytesPerSec)
}
