// Package metric publishes expvar counters for pipeline components.
package metric

import (
	"expvar"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// prefix of every published expvar name.
const prefix = "graph.components"

const (
	// BufferCounter measures number of buffers.
	BufferCounter = "Buffers"
	// ByteCounter measures number of bytes.
	ByteCounter = "Bytes"
	// LatencyCounter measures latency between calls.
	LatencyCounter = "Latency"
	// DurationCounter counts what's the playing time of measured bytes.
	DurationCounter = "Duration"
	// ThroughputCounter is bytes per second since the first measure.
	ThroughputCounter = "Throughput"
	// ComponentCounter counts number of components.
	ComponentCounter = "Components"
)

var registry = struct {
	sync.Mutex
	byType map[string]*counters
}{
	byType: make(map[string]*counters),
}

// Get metrics values for provided component type.
func Get(component interface{}) map[string]string {
	registry.Lock()
	c, ok := registry.byType[typeName(component)]
	registry.Unlock()
	if !ok {
		return map[string]string{}
	}
	return c.values()
}

// GetAll returns counters for all measured components.
func GetAll() map[string]map[string]string {
	registry.Lock()
	defer registry.Unlock()
	m := make(map[string]map[string]string, len(registry.byType))
	for name, c := range registry.byType {
		m[name] = c.values()
	}
	return m
}

// MeasureFunc captures metrics when a buffer of n bytes is handled.
type MeasureFunc func(n int64)

// Meter creates new measure closure to capture component counters. Bytes
// are converted to playing time with bytesPerSecond, zero disables the
// duration counter.
func Meter(component interface{}, bytesPerSecond int64) MeasureFunc {
	c := lookup(typeName(component))
	c.components.Add(1)
	var (
		mu       sync.Mutex
		calledAt time.Time
	)
	return func(n int64) {
		now := time.Now()
		mu.Lock()
		if !calledAt.IsZero() {
			c.latency.set(now.Sub(calledAt))
		}
		calledAt = now
		mu.Unlock()
		c.started.CompareAndSwap(0, now.UnixNano())
		c.buffers.Add(1)
		c.bytes.Add(n)
		if bytesPerSecond > 0 {
			c.duration.add(time.Duration(n) * time.Second / time.Duration(bytesPerSecond))
		}
	}
}

func lookup(name string) *counters {
	registry.Lock()
	defer registry.Unlock()
	if c, ok := registry.byType[name]; ok {
		return c
	}
	c := publish(name)
	registry.byType[name] = c
	return c
}

// counters of one component type.
type counters struct {
	components *expvar.Int
	buffers    *expvar.Int
	bytes      *expvar.Int
	latency    *duration
	duration   *duration
	started    atomic.Int64
}

func publish(name string) *counters {
	c := &counters{
		components: expvar.NewInt(key(name, ComponentCounter)),
		buffers:    expvar.NewInt(key(name, BufferCounter)),
		bytes:      expvar.NewInt(key(name, ByteCounter)),
		latency:    &duration{},
		duration:   &duration{},
	}
	expvar.Publish(key(name, LatencyCounter), c.latency)
	expvar.Publish(key(name, DurationCounter), c.duration)
	expvar.Publish(key(name, ThroughputCounter), expvar.Func(c.throughput))
	return c
}

func (c *counters) values() map[string]string {
	return map[string]string{
		ComponentCounter:  c.components.String(),
		BufferCounter:     c.buffers.String(),
		ByteCounter:       c.bytes.String(),
		LatencyCounter:    c.latency.String(),
		DurationCounter:   c.duration.String(),
		ThroughputCounter: fmt.Sprint(c.throughput()),
	}
}

// throughput in bytes per second, zero until a second measure.
func (c *counters) throughput() interface{} {
	started := c.started.Load()
	if started == 0 {
		return int64(0)
	}
	elapsed := time.Since(time.Unix(0, started))
	if elapsed <= 0 {
		return int64(0)
	}
	return int64(float64(c.bytes.Value()) / elapsed.Seconds())
}

func key(name, counter string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, name, counter)
}

func typeName(component interface{}) string {
	rv := reflect.ValueOf(component)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	return rv.Type().String()
}

// duration formats time.Duration metric values.
type duration struct {
	d atomic.Int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%q", time.Duration(v.d.Load()))
}

func (v *duration) add(delta time.Duration) {
	v.d.Add(int64(delta))
}

func (v *duration) set(value time.Duration) {
	v.d.Store(int64(value))
}
