package render

import (
	"math"

	"github.com/pkg/errors"

	"pipelined.dev/graph"
)

// Volume and balance are in hundredths of a decibel.
const (
	VolumeMin  = -10000
	VolumeMax  = 0
	BalanceMin = -10000
	BalanceMax = 10000
)

// Amplitude converts attenuation in hundredths of a decibel to a linear
// gain. Attenuation at or below VolumeMin is silence.
func Amplitude(hundredths int) float64 {
	if hundredths <= VolumeMin {
		return 0
	}
	if hundredths >= 0 {
		return 1
	}
	return math.Pow(10, float64(hundredths)/2000)
}

// Gains returns left and right linear gains. Positive balance attenuates
// the left channel, negative attenuates the right one.
func Gains(volume, balance int) (left, right float64) {
	l, r := volume, volume
	if balance > 0 {
		l -= balance
	} else {
		r += balance
	}
	return Amplitude(l), Amplitude(r)
}

func checkVolume(v int) error {
	if v < VolumeMin || v > VolumeMax {
		return errors.Wrapf(graph.ErrInvalidArgument, "volume %d out of [%d, %d]", v, VolumeMin, VolumeMax)
	}
	return nil
}

func checkBalance(b int) error {
	if b < BalanceMin || b > BalanceMax {
		return errors.Wrapf(graph.ErrInvalidArgument, "balance %d out of [%d, %d]", b, BalanceMin, BalanceMax)
	}
	return nil
}
