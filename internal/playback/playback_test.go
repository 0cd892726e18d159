package playback_test

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/graph"
	"pipelined.dev/graph/internal/playback"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// device records written pieces. If gate is set, every write waits for
// a value from it.
type device struct {
	gate chan struct{}
	err  error

	mu      sync.Mutex
	written []byte
	done    []int
}

func (d *device) write(p []byte) error {
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, p...)
	return nil
}

func (d *device) complete(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = append(d.done, id)
}

func (d *device) state() ([]byte, []int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.written...), append([]int(nil), d.done...)
}

func TestPlayInOrder(t *testing.T) {
	d := &device{}
	p := playback.New(d.write, 2, d.complete)
	require.NoError(t, p.Write(0, []byte{1, 2, 3}))
	require.NoError(t, p.Write(1, []byte{4, 5}))

	// paused until restarted
	time.Sleep(10 * time.Millisecond)
	written, done := d.state()
	assert.Empty(t, written)
	assert.Empty(t, done)

	require.NoError(t, p.Restart())
	require.Eventually(t, func() bool {
		_, done := d.state()
		return len(done) == 2
	}, time.Second, time.Millisecond)
	written, done = d.state()
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, written)
	assert.Equal(t, []int{0, 1}, done)
	require.NoError(t, p.Close())
}

func TestReset(t *testing.T) {
	d := &device{gate: make(chan struct{})}
	p := playback.New(d.write, 1, d.complete)
	require.NoError(t, p.Write(0, []byte{1, 2}))
	require.NoError(t, p.Write(1, []byte{3}))
	require.NoError(t, p.Restart())

	// first piece of buffer 0 is in flight
	d.gate <- struct{}{}
	// buffer 1 must stay queued until reset
	require.NoError(t, p.Pause())
	close(d.gate)
	require.NoError(t, p.Reset())

	written, done := d.state()
	assert.ElementsMatch(t, []int{0, 1}, done)
	assert.NotContains(t, written, byte(3))
	require.NoError(t, p.Close())
	_, done = d.state()
	assert.Len(t, done, 2)
}

func TestWriteFailure(t *testing.T) {
	d := &device{err: errors.New("unplugged")}
	p := playback.New(d.write, 4, d.complete)
	require.NoError(t, p.Restart())
	require.NoError(t, p.Write(0, []byte{1}))
	require.Eventually(t, func() bool {
		return p.Err() != nil
	}, time.Second, time.Millisecond)
	assert.True(t, errors.Is(p.Write(1, []byte{2}), graph.ErrDevice))
	require.NoError(t, p.Close())
	_, done := d.state()
	assert.Equal(t, []int{0}, done)
}

func TestClose(t *testing.T) {
	d := &device{}
	p := playback.New(d.write, 4, d.complete)
	require.NoError(t, p.Write(0, []byte{1}))
	require.NoError(t, p.Close())
	_, done := d.state()
	assert.Equal(t, []int{0}, done)
	assert.True(t, errors.Is(p.Write(1, []byte{2}), graph.ErrWrongState))
	require.NoError(t, p.Close())
}
