package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/graph/test"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInit(t *testing.T) {
	// check if commands are registered
	cmd := newRootCommand()
	assert.Len(t, cmd.Commands(), 2)
}

func TestProbe(t *testing.T) {
	path := test.WAV(t, test.WavFrames)
	out, err := execute(t, "probe", path)
	require.NoError(t, err)
	assert.Contains(t, out, "codec PCM")
	assert.Contains(t, out, "SampleRate: (uint32) 44100")
}

func TestPlay(t *testing.T) {
	path := test.WAV(t, test.WavFrames)
	out, err := execute(t, "play", path, "--realtime=false", "--progress=0", "--stats", "--loglevel=error")
	require.NoError(t, err)
	assert.Contains(t, out, "Bytes")
}

func TestPlayRaw(t *testing.T) {
	path := test.File(t, "noise.raw", test.Pattern(test.StoreSize))
	_, err := execute(t, "play", path, "--realtime=false", "--progress=0")
	assert.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	path := test.WAV(t, test.WavFrames)
	_, err := execute(t, "play", path, "--volume=5")
	assert.Error(t, err)
	_, err = execute(t, "play", path, "--device=speaker")
	assert.Error(t, err)
}
