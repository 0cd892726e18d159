//go:build windows

// Package winmm provides a device which plays audio with the windows
// waveOut api.
package winmm

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"pipelined.dev/graph"
	"pipelined.dev/graph/render"
)

var (
	winmm = windows.NewLazySystemDLL("winmm")

	procWaveOutOpen            = winmm.NewProc("waveOutOpen")
	procWaveOutClose           = winmm.NewProc("waveOutClose")
	procWaveOutPrepareHeader   = winmm.NewProc("waveOutPrepareHeader")
	procWaveOutUnprepareHeader = winmm.NewProc("waveOutUnprepareHeader")
	procWaveOutWrite           = winmm.NewProc("waveOutWrite")
	procWaveOutPause           = winmm.NewProc("waveOutPause")
	procWaveOutRestart         = winmm.NewProc("waveOutRestart")
	procWaveOutReset           = winmm.NewProc("waveOutReset")
	procWaveOutSetVolume       = winmm.NewProc("waveOutSetVolume")
)

const (
	waveMapper    = 0xffffffff
	callbackEvent = 0x00050000
	whdrDone      = 0x00000001
	waveFormatPCM = 0x0001

	errStillPlaying = 33
)

type wavehdr struct {
	lpData          uintptr
	dwBufferLength  uint32
	dwBytesRecorded uint32
	dwUser          uintptr
	dwFlags         uint32
	dwLoops         uint32
	lpNext          uintptr
	reserved        uintptr
}

type waveformatex struct {
	wFormatTag      uint16
	nChannels       uint16
	nSamplesPerSec  uint32
	nAvgBytesPerSec uint32
	nBlockAlign     uint16
	wBitsPerSample  uint16
	cbSize          uint16
}

// mmresult is a failed waveOut call.
type mmresult struct {
	fname string
	code  uintptr
}

func (e mmresult) Error() string {
	return fmt.Sprintf("%s: MMRESULT %d", e.fname, e.code)
}

func call(p *windows.LazyProc, args ...uintptr) error {
	r, _, _ := p.Call(args...)
	if r != 0 {
		return mmresult{fname: p.Name, code: r}
	}
	return nil
}

// Device opens the default waveOut device.
type Device struct{}

var (
	_ render.Device        = (*Device)(nil)
	_ render.FormatChecker = (*Device)(nil)
)

// Supports accepts integer PCM.
func (d *Device) Supports(w graph.WaveFormat) error {
	if w.Tag != graph.WaveFormatPCM {
		return errors.Wrapf(graph.ErrFormatNotSupported, "tag %#04x", w.Tag)
	}
	return nil
}

// Open opens the device. Completion is signalled through an event and
// handled by a watcher goroutine.
func (d *Device) Open(w graph.WaveFormat, done func(id int)) (render.Stream, error) {
	if err := d.Supports(w); err != nil {
		return nil, err
	}
	event, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return nil, err
	}
	f := waveformatex{
		wFormatTag:      waveFormatPCM,
		nChannels:       w.Channels,
		nSamplesPerSec:  w.SampleRate,
		nAvgBytesPerSec: w.AvgBytesPerSec,
		nBlockAlign:     w.BlockAlign,
		wBitsPerSample:  w.BitsPerSample,
	}
	var handle uintptr
	err = call(procWaveOutOpen,
		uintptr(unsafe.Pointer(&handle)),
		waveMapper,
		uintptr(unsafe.Pointer(&f)),
		uintptr(event),
		0,
		callbackEvent)
	runtime.KeepAlive(&f)
	if err != nil {
		windows.CloseHandle(event)
		return nil, err
	}

	s := &Stream{
		handle:  handle,
		event:   event,
		done:    done,
		headers: make(map[int]*header),
		exited:  make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

type header struct {
	hdr  wavehdr
	data []byte
}

// Stream is an open waveOut device.
type Stream struct {
	handle uintptr
	event  windows.Handle
	done   func(id int)

	mu      sync.Mutex
	headers map[int]*header
	closed  bool
	exited  chan struct{}
}

// Write prepares the header and queues it.
func (s *Stream) Write(id int, data []byte) error {
	if len(data) == 0 {
		s.done(id)
		return nil
	}
	h := &header{data: data}
	h.hdr.lpData = uintptr(unsafe.Pointer(&data[0]))
	h.hdr.dwBufferLength = uint32(len(data))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Wrap(graph.ErrWrongState, "stream is closed")
	}
	if err := call(procWaveOutPrepareHeader, s.handle, uintptr(unsafe.Pointer(&h.hdr)), unsafe.Sizeof(h.hdr)); err != nil {
		return err
	}
	s.headers[id] = h
	if err := call(procWaveOutWrite, s.handle, uintptr(unsafe.Pointer(&h.hdr)), unsafe.Sizeof(h.hdr)); err != nil {
		delete(s.headers, id)
		call(procWaveOutUnprepareHeader, s.handle, uintptr(unsafe.Pointer(&h.hdr)), unsafe.Sizeof(h.hdr))
		return err
	}
	return nil
}

// Pause pauses the device.
func (s *Stream) Pause() error {
	return call(procWaveOutPause, s.handle)
}

// Restart resumes the device.
func (s *Stream) Restart() error {
	return call(procWaveOutRestart, s.handle)
}

// Reset marks all queued headers done and completes them before
// returning.
func (s *Stream) Reset() error {
	if err := call(procWaveOutReset, s.handle); err != nil {
		return err
	}
	s.complete()
	return nil
}

// SetVolume sets left and right channel volume.
func (s *Stream) SetVolume(left, right float64) error {
	l := uint32(left * 0xffff)
	r := uint32(right * 0xffff)
	return call(procWaveOutSetVolume, s.handle, uintptr(r<<16|l))
}

// Close resets the device, stops the watcher and closes handles.
func (s *Stream) Close() error {
	if err := s.Reset(); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	windows.SetEvent(s.event)
	<-s.exited

	r, _, _ := procWaveOutClose.Call(s.handle)
	if r != 0 && r != errStillPlaying {
		return mmresult{fname: "waveOutClose", code: r}
	}
	return windows.CloseHandle(s.event)
}

func (s *Stream) watch() {
	defer close(s.exited)
	for {
		if _, err := windows.WaitForSingleObject(s.event, windows.INFINITE); err != nil {
			return
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		s.complete()
	}
}

// complete unprepares done headers and calls done for them.
func (s *Stream) complete() {
	var ids []int
	s.mu.Lock()
	for id, h := range s.headers {
		if h.hdr.dwFlags&whdrDone == 0 {
			continue
		}
		call(procWaveOutUnprepareHeader, s.handle, uintptr(unsafe.Pointer(&h.hdr)), unsafe.Sizeof(h.hdr))
		delete(s.headers, id)
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.done(id)
	}
}
