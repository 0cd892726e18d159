package main

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"pipelined.dev/graph"
	"pipelined.dev/graph/config"
	"pipelined.dev/graph/device/null"
	"pipelined.dev/graph/device/oto"
	"pipelined.dev/graph/device/portaudio"
	"pipelined.dev/graph/device/winmm"
	"pipelined.dev/graph/filter"
	"pipelined.dev/graph/pull"
	"pipelined.dev/graph/reader"
	"pipelined.dev/graph/render"
	"pipelined.dev/graph/store"
)

// openStore opens decoded stores for known extensions and a plain file
// store otherwise.
func openStore(path string) (store.Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return store.OpenWAV(path)
	case ".mp3":
		return store.OpenMP3(path)
	}
	return store.Open(path)
}

func newDevice(c *config.Config) (render.Device, error) {
	switch c.Device {
	case config.DeviceNull:
		return &null.Device{Realtime: c.Render.Realtime}, nil
	case config.DeviceOto:
		return &oto.Device{}, nil
	case config.DevicePortaudio:
		return &portaudio.Device{}, nil
	case config.DeviceWinmm:
		return &winmm.Device{}, nil
	}
	return nil, errors.Wrapf(graph.ErrInvalidArgument, "unknown device %q", c.Device)
}

// playback is a reader, pump and renderer chain.
type playback struct {
	reader *reader.AsyncReader
	pump   *pull.Pump
	sink   *render.AudioSink
	events *graph.EventQueue
}

func newPlayback(c *config.Config, s store.Store, d render.Device) (*playback, error) {
	r, err := reader.New("reader", s, reader.WithProperties(c.Properties()))
	if err != nil {
		s.Close()
		return nil, err
	}
	sink, err := render.New("renderer", d, render.WithVolume(c.Render.Volume, c.Render.Balance))
	if err != nil {
		r.Close()
		return nil, err
	}
	p := &playback{
		reader: r,
		pump:   pull.New("pump"),
		sink:   sink,
		events: graph.NewEventQueue(8),
	}
	for _, f := range p.filters() {
		f.SetEventSink(p.events)
	}

	reg := graph.DefaultRegistry()
	if err := filter.Connect(reg, r.Output(), p.pump.Input(), nil); err != nil {
		r.Close()
		return nil, err
	}
	if err := filter.Connect(reg, p.pump.Output(), sink.Input(), nil); err != nil {
		r.Close()
		return nil, err
	}
	clock, err := filter.Query[graph.Clock](sink.Input(), filter.CapClock)
	if err != nil {
		r.Close()
		return nil, err
	}
	for _, f := range p.filters() {
		f.SetClock(clock)
	}
	return p, nil
}

func (p *playback) filters() []*filter.Filter {
	return []*filter.Filter{p.reader.Filter, p.pump.Filter, p.sink.Filter}
}

// run starts filters downstream first.
func (p *playback) run() error {
	for _, f := range []*filter.Filter{p.sink.Filter, p.reader.Filter, p.pump.Filter} {
		if err := f.Run(0); err != nil {
			p.stop()
			return err
		}
	}
	return nil
}

// stop stops the pump first, its cleanup flushes the renderer.
func (p *playback) stop() error {
	var err error
	for _, f := range []*filter.Filter{p.pump.Filter, p.sink.Filter, p.reader.Filter} {
		if stopErr := f.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

func (p *playback) close() error {
	return p.reader.Close()
}

// mediaType returns the connection type of the renderer.
func (p *playback) mediaType() (*graph.MediaType, error) {
	return p.sink.Input().MediaType()
}
