package audio

import "math"

// maxVolume allows a quiet recording to be boosted up to double amplitude.
const maxVolume = 2.0

// volumeToPower maps a linear 0..maxVolume volume to the base 2 exponent used by effects.Volume.
func volumeToPower(vol float64) float64 {
	if vol <= 0.01 {
		return -10 // Silent
	}
	return math.Log2(vol)
}

func clampVolume(vol float64) float64 {
	if vol < 0 {
		return 0
	}
	if vol > maxVolume {
		return maxVolume
	}
	return vol
}
