package heatmap

import "math"

// jet maps a normalized intensity to RGB, dark blue through cyan and yellow
// to dark red.
var jet = buildJet()

func buildJet() [256][3]uint8 {
	var lut [256][3]uint8
	for i := range lut {
		x := float64(i) / 255
		lut[i] = [3]uint8{
			jetChannel(1.5 - math.Abs(4*x-3)),
			jetChannel(1.5 - math.Abs(4*x-2)),
			jetChannel(1.5 - math.Abs(4*x-1)),
		}
	}
	return lut
}

func jetChannel(v float64) uint8 {
	return clamp8(255 * math.Max(0, math.Min(1, v)))
}
