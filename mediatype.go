package graph

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// Major kinds.
var (
	MajorAudio  = uuid.MustParse("73647561-0000-0010-8000-00aa00389b71")
	MajorStream = uuid.MustParse("e436eb83-524f-11ce-9f53-0020af0ba770")
)

// Sub kinds. Audio sub kinds derived from a wave format tag are built with
// SubtypeFromTag.
var (
	SubPCM        = SubtypeFromTag(WaveFormatPCM)
	SubIEEEFloat  = SubtypeFromTag(WaveFormatIEEEFloat)
	SubMP3        = SubtypeFromTag(WaveFormatMPEGLayer3)
	SubWAVE       = uuid.MustParse("e436eb8b-524f-11ce-9f53-0020af0ba770")
	SubMPEG1Audio = uuid.MustParse("e436eb87-524f-11ce-9f53-0020af0ba770")
)

// FormatWaveFormatEx is the format kind of a serialized WaveFormat payload.
var FormatWaveFormatEx = uuid.MustParse("05589f81-c356-11ce-bf01-00aa0055595a")

// subtypeBase is the template shared by every tag derived sub kind.
var subtypeBase = uuid.MustParse("00000000-0000-0010-8000-00aa00389b71")

// SubtypeFromTag returns the audio sub kind for a wave format tag.
func SubtypeFromTag(tag uint16) uuid.UUID {
	u := subtypeBase
	u[2] = byte(tag >> 8)
	u[3] = byte(tag)
	return u
}

// Referencer is an external object borrowed by a media type.
type Referencer interface {
	AddRef() int32
	Release() int32
}

// MediaType describes the format flowing across a connection. The format
// payload is owned by the media type and never aliased: Copy duplicates it
// and Free drops it.
type MediaType struct {
	Major               uuid.UUID
	Sub                 uuid.UUID
	FixedSize           bool
	TemporalCompression bool
	SampleSize          int
	FormatKind          uuid.UUID
	Format              []byte
	External            Referencer
}

// Copy returns a deep copy of the media type. The external reference, if
// any, is shared and its count incremented.
func (mt *MediaType) Copy() *MediaType {
	if mt == nil {
		return nil
	}
	c := *mt
	if mt.Format != nil {
		c.Format = make([]byte, len(mt.Format))
		copy(c.Format, mt.Format)
	}
	if c.External != nil {
		c.External.AddRef()
	}
	return &c
}

// Free drops the format payload and releases the external reference. It's
// safe to call Free more than once, the reference is released only once.
func (mt *MediaType) Free() {
	if mt == nil {
		return
	}
	mt.Format = nil
	if mt.External != nil {
		mt.External.Release()
		mt.External = nil
	}
}

// Equal reports whether two media types describe the same format.
func (mt *MediaType) Equal(o *MediaType) bool {
	if mt == nil || o == nil {
		return mt == o
	}
	return mt.Major == o.Major &&
		mt.Sub == o.Sub &&
		mt.FormatKind == o.FormatKind &&
		bytes.Equal(mt.Format, o.Format)
}

// Matches reports whether the media type satisfies a partial one. Nil kinds
// in the partial type act as wildcards.
func (mt *MediaType) Matches(partial *MediaType) bool {
	if mt == nil {
		return false
	}
	if partial == nil {
		return true
	}
	if partial.Major != uuid.Nil && partial.Major != mt.Major {
		return false
	}
	if partial.Sub != uuid.Nil && partial.Sub != mt.Sub {
		return false
	}
	if partial.FormatKind != uuid.Nil {
		if partial.FormatKind != mt.FormatKind {
			return false
		}
		if partial.Format != nil && !bytes.Equal(partial.Format, mt.Format) {
			return false
		}
	}
	return true
}

// WaveFormat parses the format payload.
func (mt *MediaType) WaveFormat() (WaveFormat, error) {
	if mt == nil || mt.FormatKind != FormatWaveFormatEx {
		return WaveFormat{}, ErrFormatNotSupported
	}
	return ParseWaveFormat(mt.Format)
}

func (mt *MediaType) String() string {
	if mt == nil {
		return "<nil>"
	}
	return fmt.Sprintf("major=%v sub=%v fixed=%v size=%d format=%v(%d bytes)",
		kindName(mt.Major), kindName(mt.Sub), mt.FixedSize, mt.SampleSize, kindName(mt.FormatKind), len(mt.Format))
}

func kindName(u uuid.UUID) string {
	switch u {
	case uuid.Nil:
		return "null"
	case MajorAudio:
		return "audio"
	case MajorStream:
		return "stream"
	case SubPCM:
		return "pcm"
	case SubIEEEFloat:
		return "float"
	case SubMP3:
		return "mp3"
	case SubWAVE:
		return "wave"
	case SubMPEG1Audio:
		return "mpeg1audio"
	case FormatWaveFormatEx:
		return "waveformatex"
	}
	return u.String()
}
