/*
Package reader provides AsyncReader, a source filter with a request/reply
reading contract over a synchronous backing store.

Request performs the read synchronously and queues the reply, WaitForNext
pops replies in submission order and never blocks. The output pin exposes
the reader through filter.CapAsyncReader; the downstream pin must query it
while connecting, otherwise the connection fails.
*/
package reader

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"pipelined.dev/graph"
	"pipelined.dev/graph/filter"
	"pipelined.dev/graph/internal/queue"
	"pipelined.dev/graph/metric"
	"pipelined.dev/graph/pool"
	"pipelined.dev/graph/store"
)

// ClassID identifies the async reader filter class.
var ClassID = uuid.MustParse("e436ebb5-524f-11ce-9f53-0020af0ba770")

// UnitsPerByte converts buffer timestamps to byte offsets: timestamps are
// in 100ns units and one byte is one second of them.
const UnitsPerByte = 10000000

// TimeFromBytes returns the timestamp of byte offset.
func TimeFromBytes(offset int64) int64 {
	return offset * UnitsPerByte
}

// BytesFromTime returns the byte offset of timestamp.
func BytesFromTime(t int64) int64 {
	return t / UnitsPerByte
}

// sniffLen is the number of leading bytes inspected to detect the subtype.
const sniffLen = 12

// Interface is the request/reply contract exposed to the downstream pin.
type Interface interface {
	RequestAllocator(preferred *pool.Allocator, props pool.Properties) (*pool.Allocator, pool.Properties, error)
	Request(b *pool.Buffer, ctx interface{}) error
	WaitForNext(timeout time.Duration) (*pool.Buffer, interface{}, error)
	SyncRead(offset int64, p []byte) (int, error)
	SyncReadAligned(b *pool.Buffer) error
	Length() (total, available int64, err error)
	BeginFlush() error
	EndFlush() error
}

// reply is a completed request.
type reply struct {
	buffer *pool.Buffer
	ctx    interface{}
	err    error
}

// AsyncReader is a source filter over a backing store.
type AsyncReader struct {
	*filter.Filter
	out   *filter.Pin
	store store.Store
	media []*graph.MediaType
	props pool.Properties

	measure metric.MeasureFunc

	mu       sync.Mutex
	replies  queue.Queue[reply]
	flushing bool
	queried  bool
}

var _ Interface = (*AsyncReader)(nil)

// Option configures the reader.
type Option func(*AsyncReader)

// WithProperties sets the requested properties of the connection
// allocator.
func WithProperties(p pool.Properties) Option {
	return func(r *AsyncReader) {
		r.props = p
	}
}

// New creates a reader over the store. The reader owns the store, Close
// closes it.
func New(name string, s store.Store, options ...Option) (*AsyncReader, error) {
	if s == nil {
		return nil, errors.Wrap(graph.ErrInvalidArgument, "nil store")
	}
	r := &AsyncReader{
		store: s,
		props: filter.DefaultProperties,
	}
	for _, option := range options {
		option(r)
	}
	r.Filter = filter.New(name, ClassID, filter.Hooks{})
	media, err := r.detect()
	if err != nil {
		return nil, err
	}
	r.media = media
	r.measure = metric.Meter(r, 0)
	r.out = r.AddPin("Output", filter.Output, filter.PinHooks{
		MediaTypes:      r.mediaTypes,
		CheckMediaType:  r.checkMediaType,
		PreConnect:      r.preConnect,
		PostConnect:     r.postConnect,
		Query:           r.query,
		BreakConnect:    r.breakConnect,
		DecideAllocator: r.decideAllocator,
	})
	return r, nil
}

// Output returns the output pin.
func (r *AsyncReader) Output() *filter.Pin {
	return r.out
}

// Close frees media types and closes the store.
func (r *AsyncReader) Close() error {
	for _, mt := range r.media {
		mt.Free()
	}
	r.media = nil
	return r.store.Close()
}

// detect builds the media types offered by the output pin. Stores that
// know their format offer it first, the byte stream type follows with a
// subtype sniffed from the leading bytes.
func (r *AsyncReader) detect() ([]*graph.MediaType, error) {
	var media []*graph.MediaType
	if f, ok := r.store.(store.Formatter); ok {
		media = append(media, f.WaveFormat().MediaType())
	}

	head := make([]byte, sniffLen)
	n, err := r.store.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return nil, graph.IOFault("sniff", err)
	}
	media = append(media, &graph.MediaType{
		Major: graph.MajorStream,
		Sub:   Sniff(head[:n]),
	})
	return media, nil
}

// Sniff detects the stream subtype from leading bytes. Unknown content
// has nil subtype.
func Sniff(head []byte) uuid.UUID {
	switch {
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return graph.SubWAVE
	case len(head) >= 3 && bytes.Equal(head[:3], []byte("ID3")):
		return graph.SubMPEG1Audio
	case len(head) >= 2 && head[0] == 0xff && head[1]&0xe0 == 0xe0:
		return graph.SubMPEG1Audio
	}
	return uuid.Nil
}

func (r *AsyncReader) mediaTypes() []*graph.MediaType {
	return r.media
}

// checkMediaType accepts stream and audio major kinds. Wave format payloads
// must be complete and their tag must match the declared subtype.
func (r *AsyncReader) checkMediaType(reg *graph.Registry, mt *graph.MediaType) error {
	if mt.Major != graph.MajorStream && mt.Major != graph.MajorAudio {
		return errors.Wrapf(graph.ErrFormatNotSupported, "major %v", mt.Major)
	}
	if mt.FormatKind == graph.FormatWaveFormatEx {
		w, err := mt.WaveFormat()
		if err != nil {
			return err
		}
		if mt.Sub != uuid.Nil && mt.Sub != graph.SubtypeFromTag(w.Tag) {
			return errors.Wrapf(graph.ErrFormatNotSupported, "tag %#04x doesn't match subtype", w.Tag)
		}
	}
	return reg.Validate(mt)
}

func (r *AsyncReader) preConnect(*filter.Pin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queried = false
	return nil
}

// postConnect requires the peer to take the reading interface.
func (r *AsyncReader) postConnect(peer *filter.Pin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.queried {
		return errors.Wrapf(graph.ErrNoCapability, "%v didn't query reader", peer)
	}
	return nil
}

func (r *AsyncReader) query(c filter.Capability) (interface{}, bool) {
	if c != filter.CapAsyncReader {
		return nil, false
	}
	r.mu.Lock()
	r.queried = true
	r.mu.Unlock()
	return Interface(r), true
}

// breakConnect drops pending replies.
func (r *AsyncReader) breakConnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discard()
	r.flushing = false
}

// RequestAllocator settles the allocator used for reads. The reader
// doesn't need aligned or prefixed buffers, so the preferred allocator is
// accepted as long as it has at least one buffer.
func (r *AsyncReader) RequestAllocator(preferred *pool.Allocator, props pool.Properties) (*pool.Allocator, pool.Properties, error) {
	props, err := normalize(props)
	if err != nil {
		return nil, pool.Properties{}, err
	}
	a := preferred
	if a == nil {
		a = pool.New()
	}
	actual, err := a.SetProperties(props)
	if err != nil {
		return nil, pool.Properties{}, err
	}
	return a, actual, nil
}

func (r *AsyncReader) decideAllocator(*filter.Pin, *graph.MediaType) (pool.Properties, error) {
	return normalize(r.props)
}

func normalize(props pool.Properties) (pool.Properties, error) {
	if props.Count < 1 {
		props.Count = 1
	}
	if props.Align < 1 {
		props.Align = 1
	}
	if props.Size < 1 {
		return pool.Properties{}, errors.Wrapf(graph.ErrInvalidArgument, "buffer size %d", props.Size)
	}
	return props, nil
}

// Request reads the byte range of the buffer timestamps and queues the
// reply. Ranges past the end of the store are clamped and their replies
// carry graph.ErrShortRead. Hard store failures are returned and nothing
// is queued. The reader takes over the buffer reference until the reply
// is returned by WaitForNext. On error the caller keeps the reference.
func (r *AsyncReader) Request(b *pool.Buffer, ctx interface{}) error {
	if b == nil {
		return errors.Wrap(graph.ErrInvalidArgument, "nil buffer")
	}
	offset, length, err := bufferRange(b)
	if err != nil {
		return err
	}

	r.mu.Lock()
	flushing := r.flushing
	r.mu.Unlock()
	if flushing {
		return graph.ErrAborted
	}

	n, status, err := r.read(offset, b.Bytes()[:length])
	if err != nil {
		return err
	}
	if err := b.SetLen(n); err != nil {
		return err
	}
	if err := b.SetTime(TimeFromBytes(offset), TimeFromBytes(offset+int64(n))); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushing {
		return graph.ErrAborted
	}
	r.replies.Push(reply{buffer: b, ctx: ctx, err: status})
	return nil
}

// WaitForNext returns the oldest reply together with its status. It never
// blocks: if no reply is queued or the reader is flushing, graph.ErrTimeout
// is returned.
func (r *AsyncReader) WaitForNext(time.Duration) (*pool.Buffer, interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushing {
		return nil, nil, graph.ErrTimeout
	}
	rep, ok := r.replies.Pop()
	if !ok {
		return nil, nil, graph.ErrTimeout
	}
	return rep.buffer, rep.ctx, rep.err
}

// SyncRead reads into p bypassing the reply queue. Fewer bytes than
// requested are reported with graph.ErrShortRead.
func (r *AsyncReader) SyncRead(offset int64, p []byte) (int, error) {
	if offset < 0 {
		return 0, errors.Wrapf(graph.ErrInvalidArgument, "offset %d", offset)
	}
	n, status, err := r.read(offset, p)
	if err != nil {
		return n, err
	}
	return n, status
}

// SyncReadAligned reads the byte range of the buffer timestamps into the
// buffer bypassing the reply queue.
func (r *AsyncReader) SyncReadAligned(b *pool.Buffer) error {
	if b == nil {
		return errors.Wrap(graph.ErrInvalidArgument, "nil buffer")
	}
	offset, length, err := bufferRange(b)
	if err != nil {
		return err
	}
	n, status, err := r.read(offset, b.Bytes()[:length])
	if err != nil {
		return err
	}
	if err := b.SetLen(n); err != nil {
		return err
	}
	return status
}

// bufferRange returns the byte range of the buffer timestamps.
func bufferRange(b *pool.Buffer) (offset, length int64, err error) {
	start, end, ok := b.Time()
	if !ok {
		return 0, 0, errors.Wrap(graph.ErrInvalidArgument, "buffer has no time")
	}
	offset, length = BytesFromTime(start), BytesFromTime(end)-BytesFromTime(start)
	if offset < 0 || length > int64(b.Size()) {
		return 0, 0, errors.Wrapf(graph.ErrInvalidArgument, "range [%d, %d) for buffer of %d bytes", offset, offset+length, b.Size())
	}
	return offset, length, nil
}

// read performs a store read. Status is graph.ErrShortRead if fewer bytes
// were available, err is a hard store failure.
func (r *AsyncReader) read(offset int64, p []byte) (n int, status, err error) {
	n, err = r.store.ReadAt(p, offset)
	r.measure(int64(n))
	switch {
	case err == io.EOF:
		err = nil
	case err != nil:
		return n, nil, graph.IOFault("read", err)
	}
	if n < len(p) {
		status = graph.ErrShortRead
	}
	return n, status, nil
}

// Length returns the total and available sizes of the store.
func (r *AsyncReader) Length() (int64, int64, error) {
	total, available, err := r.store.Length()
	if err != nil {
		return 0, 0, graph.IOFault("length", err)
	}
	return total, available, nil
}

// BeginFlush discards queued replies and releases their buffers. Until
// EndFlush, WaitForNext returns graph.ErrTimeout and Request is aborted.
func (r *AsyncReader) BeginFlush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushing = true
	r.discard()
	return nil
}

// EndFlush resumes request processing.
func (r *AsyncReader) EndFlush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushing = false
	return nil
}

// discard must be called under lock.
func (r *AsyncReader) discard() {
	r.replies.Drain(func(rep reply) {
		if err := rep.buffer.Release(); err != nil {
			r.Log().WithError(err).Warn("release discarded buffer")
		}
	})
}
