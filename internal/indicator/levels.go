package indicator

import (
	"math"
	"sort"

	"torypto-stream/internal/model"
)

const (
	// extremaWindow is the centered window used to qualify a local extremum.
	extremaWindow = 10

	// mergeTolerance groups levels within this relative distance into one
	// representative level (their arithmetic mean).
	mergeTolerance = 0.02

	// maxLevels caps how many supports/resistances are reported per side.
	maxLevels = 3

	// minLevels is the minimum snapshot length for level detection.
	minLevels = 20
)

// Levels identifies support and resistance levels from local extrema.
// Returns up to maxLevels supports below price and resistances above price,
// each sorted by proximity to the current price.
func Levels(candles []model.Candle, price float64) (support, resistance []float64) {
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
	}

	peaks := localExtrema(highs, extremaWindow, func(a, b float64) bool { return a > b })
	troughs := localExtrema(lows, extremaWindow, func(a, b float64) bool { return a < b })

	resistance = nearest(filterAbove(mergeClose(peaks), price), price)
	support = nearest(filterBelow(mergeClose(troughs), price), price)
	return support, resistance
}

// localExtrema returns values that dominate a centered window of size w.
// better(a, b) reports whether a beats b (max for peaks, min for troughs).
func localExtrema(vals []float64, w int, better func(a, b float64) bool) []float64 {
	half := w / 2
	var out []float64
	for i := half; i < len(vals)-half; i++ {
		ok := true
		for j := i - half; j <= i+half; j++ {
			if j == i {
				continue
			}
			if better(vals[j], vals[i]) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, vals[i])
		}
	}
	return out
}

// mergeClose collapses levels within mergeTolerance of each other into their
// arithmetic mean. Input order does not matter.
func mergeClose(levels []float64) []float64 {
	if len(levels) == 0 {
		return nil
	}
	sorted := append([]float64(nil), levels...)
	sort.Float64s(sorted)

	var out []float64
	groupSum := sorted[0]
	groupN := 1
	anchor := sorted[0]
	for _, lv := range sorted[1:] {
		if anchor > 0 && (lv-anchor)/anchor <= mergeTolerance {
			groupSum += lv
			groupN++
			continue
		}
		out = append(out, groupSum/float64(groupN))
		groupSum = lv
		groupN = 1
		anchor = lv
	}
	out = append(out, groupSum/float64(groupN))
	return out
}

func filterAbove(levels []float64, price float64) []float64 {
	var out []float64
	for _, lv := range levels {
		if lv > price {
			out = append(out, lv)
		}
	}
	return out
}

func filterBelow(levels []float64, price float64) []float64 {
	var out []float64
	for _, lv := range levels {
		if lv < price {
			out = append(out, lv)
		}
	}
	return out
}

// nearest sorts levels by distance to price and keeps the closest maxLevels.
func nearest(levels []float64, price float64) []float64 {
	sort.Slice(levels, func(i, j int) bool {
		return math.Abs(levels[i]-price) < math.Abs(levels[j]-price)
	})
	if len(levels) > maxLevels {
		levels = levels[:maxLevels]
	}
	return levels
}
