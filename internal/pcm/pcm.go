// Package pcm converts interleaved integer PCM between bytes and
// go-audio buffers and applies channel gains.
package pcm

import (
	"encoding/binary"

	"github.com/go-audio/audio"
	"github.com/pkg/errors"

	"pipelined.dev/graph"
)

// Buffer returns an empty int buffer for the format.
func Buffer(w graph.WaveFormat) *audio.IntBuffer {
	return &audio.IntBuffer{
		Format:         w.AudioFormat(),
		SourceBitDepth: int(w.BitsPerSample),
	}
}

// Decode converts data into buf samples. 8 bits samples are unsigned and
// 16 bits ones are little endian signed, as in wave files.
func Decode(buf *audio.IntBuffer, data []byte) error {
	switch buf.SourceBitDepth {
	case 8:
		buf.Data = resize(buf.Data, len(data))
		for i, b := range data {
			buf.Data[i] = int(b) - 128
		}
	case 16:
		buf.Data = resize(buf.Data, len(data)/2)
		for i := range buf.Data {
			buf.Data[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
		}
	default:
		return errors.Wrapf(graph.ErrFormatNotSupported, "%d bits", buf.SourceBitDepth)
	}
	return nil
}

// Encode converts buf samples into dst and returns it. Dst is grown if
// needed.
func Encode(dst []byte, buf *audio.IntBuffer) ([]byte, error) {
	switch buf.SourceBitDepth {
	case 8:
		dst = resize(dst, len(buf.Data))
		for i, s := range buf.Data {
			dst[i] = byte(s + 128)
		}
	case 16:
		dst = resize(dst, 2*len(buf.Data))
		for i, s := range buf.Data {
			binary.LittleEndian.PutUint16(dst[2*i:], uint16(int16(s)))
		}
	default:
		return dst, errors.Wrapf(graph.ErrFormatNotSupported, "%d bits", buf.SourceBitDepth)
	}
	return dst, nil
}

// Gain scales samples in place. Left gain applies to the first channel
// and right gain to the second one. Other channels and mono get the
// louder of both. Results are clipped to the sample range.
func Gain(buf *audio.IntBuffer, left, right float64) {
	if left == 1 && right == 1 {
		return
	}
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	gains := make([]float64, channels)
	for i := range gains {
		switch {
		case channels == 1 || i > 1:
			gains[i] = max(left, right)
		case i == 0:
			gains[i] = left
		default:
			gains[i] = right
		}
	}

	hi := audio.IntMaxSignedValue(buf.SourceBitDepth)
	lo := -hi - 1
	for i, s := range buf.Data {
		v := int(float64(s) * gains[i%channels])
		if v > hi {
			v = hi
		} else if v < lo {
			v = lo
		}
		buf.Data[i] = v
	}
}

func resize[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}
