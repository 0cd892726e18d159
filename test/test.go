// Package test contains helper functions useful for testing graph packages.
package test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pipelined.dev/graph"
)

// Sizes of generated assets.
const (
	// StoreSize is the size of a generic byte store.
	StoreSize = 10000
	// WavFrames is the number of frames in a generated wav file.
	WavFrames = 4410
)

// Format is the format of generated wav files.
var Format = graph.NewPCM(44100, 2, 16)

// Pattern returns n bytes where every byte is its offset modulo 251, so
// any misplaced read is detectable.
func Pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// File writes data into a temporary file and returns its path.
func File(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WAV writes a 16 bit wav file with frames of Format and returns its path.
// Sample i of the interleaved stream has value i modulo 1000.
func WAV(t testing.TB, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	channels := int(Format.Channels)
	e := wav.NewEncoder(f, int(Format.SampleRate), int(Format.BitsPerSample), channels, int(graph.WaveFormatPCM))
	buf := &audio.IntBuffer{
		Format:         Format.AudioFormat(),
		Data:           make([]int, frames*channels),
		SourceBitDepth: int(Format.BitsPerSample),
	}
	for i := range buf.Data {
		buf.Data[i] = i % 1000
	}
	if err := e.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close encoder %s: %v", path, err)
	}
	return path
}
