package graph

import (
	"sort"

	"github.com/pkg/errors"
)

// Codec describes a wave format known to the runtime.
type Codec struct {
	Tag   uint16
	Name  string
	Check func(WaveFormat) error
}

// Registry is the set of codecs consulted while pins negotiate. It is
// built once and passed to every negotiation, it's never mutated after
// construction.
type Registry struct {
	codecs map[uint16]Codec
}

// NewRegistry returns a registry with provided codecs. Later entries
// replace earlier ones with the same tag.
func NewRegistry(codecs ...Codec) *Registry {
	r := Registry{
		codecs: make(map[uint16]Codec, len(codecs)),
	}
	for _, c := range codecs {
		r.codecs[c.Tag] = c
	}
	return &r
}

// DefaultRegistry returns a registry with uncompressed PCM, IEEE float and
// MPEG audio codecs.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Codec{
			Tag:   WaveFormatPCM,
			Name:  "PCM",
			Check: checkBitDepth(8, 16, 24, 32),
		},
		Codec{
			Tag:   WaveFormatIEEEFloat,
			Name:  "IEEE Float",
			Check: checkBitDepth(32, 64),
		},
		Codec{
			Tag:  WaveFormatMPEG,
			Name: "MPEG Audio",
		},
		Codec{
			Tag:  WaveFormatMPEGLayer3,
			Name: "MPEG Layer-3",
		},
	)
}

func checkBitDepth(depths ...uint16) func(WaveFormat) error {
	return func(w WaveFormat) error {
		for _, d := range depths {
			if w.BitsPerSample == d {
				return w.Validate()
			}
		}
		return errors.Wrapf(ErrFormatNotSupported, "bit depth %d", w.BitsPerSample)
	}
}

// Lookup returns the codec for the tag.
func (r *Registry) Lookup(tag uint16) (Codec, bool) {
	if r == nil {
		return Codec{}, false
	}
	c, ok := r.codecs[tag]
	return c, ok
}

// Codecs returns registered codecs ordered by tag.
func (r *Registry) Codecs() []Codec {
	if r == nil {
		return nil
	}
	codecs := make([]Codec, 0, len(r.codecs))
	for _, c := range r.codecs {
		codecs = append(codecs, c)
	}
	sort.Slice(codecs, func(i, j int) bool {
		return codecs[i].Tag < codecs[j].Tag
	})
	return codecs
}

// Validate checks a proposed media type. Media types without a wave format
// payload are accepted as is. A nil registry accepts everything.
func (r *Registry) Validate(mt *MediaType) error {
	if mt == nil {
		return errors.Wrap(ErrInvalidArgument, "nil media type")
	}
	if r == nil || mt.FormatKind != FormatWaveFormatEx {
		return nil
	}
	w, err := mt.WaveFormat()
	if err != nil {
		return err
	}
	c, ok := r.codecs[w.Tag]
	if !ok {
		return errors.Wrapf(ErrFormatNotSupported, "unknown format tag %#04x", w.Tag)
	}
	if c.Check != nil {
		return c.Check(w)
	}
	return nil
}
