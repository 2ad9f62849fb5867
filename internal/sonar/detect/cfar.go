package detect

import (
	"math"
)

// CFARThreshold runs a cell-averaging constant-false-alarm-rate detector over
// data. For every index the local noise level is the mean absolute value of
// two windows of up to noiseWindow samples each, offset guardCells samples to
// either side of the cell under test and clipped at the array bounds. The
// cell is flagged when |data[i]| exceeds
//
//	noise · (1 + 3·sqrt(−ln(falseAlarmRate)))
//
// which holds the false-alarm probability roughly constant under
// Rayleigh-distributed noise. Cells with no usable noise samples are never
// flagged. falseAlarmRate must lie strictly inside (0, 1).
func CFARThreshold(data []float64, guardCells, noiseWindow int, falseAlarmRate float64) ([]bool, error) {
	if falseAlarmRate <= 0 || falseAlarmRate >= 1 {
		return nil, ErrInvalidProbability
	}
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	if guardCells < 0 {
		guardCells = 0
	}
	if noiseWindow < 0 {
		noiseWindow = 0
	}

	factor := 1 + 3*math.Sqrt(-math.Log(falseAlarmRate))
	n := len(data)
	out := make([]bool, n)
	for i := range data {
		leftStart := max(0, i-guardCells-noiseWindow)
		leftEnd := max(0, i-guardCells)
		rightStart := min(n, i+guardCells+1)
		rightEnd := min(n, i+guardCells+1+noiseWindow)

		var sum float64
		count := 0
		for j := leftStart; j < leftEnd; j++ {
			sum += math.Abs(data[j])
			count++
		}
		for j := rightStart; j < rightEnd; j++ {
			sum += math.Abs(data[j])
			count++
		}
		if count == 0 {
			continue
		}
		noise := sum / float64(count)
		out[i] = math.Abs(data[i]) > noise*factor
	}
	return out, nil
}
