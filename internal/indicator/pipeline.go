package indicator

import (
	"github.com/markcheno/go-talib"

	"torypto-stream/internal/model"
)

// Canonical parameter set. One formula set, one voting rule; divergent
// variants that accumulated historically are not reproduced.
const (
	smaShort, smaMid, smaLong = 20, 50, 200
	emaFast, emaSlow          = 12, 26
	macdFast, macdSlow        = 12, 26
	macdSignalPeriod          = 9
	rsiPeriod                 = 14
	bbPeriod                  = 20
	bbStdDev                  = 2.0
	stochK, stochD            = 14, 3
	atrPeriod                 = 14
	adxPeriod                 = 14

	// Minimum bars before a value is emitted instead of null.
	minRSI   = rsiPeriod + 1
	minMACD  = macdSlow + macdSignalPeriod // 35
	minStoch = stochK + stochD             // 17
	minATR   = atrPeriod + 1
	minADX   = 2 * adxPeriod // 28
	minOBV   = 2
)

// series is the column view of a window snapshot.
type series struct {
	open, high, low, close, volume []float64
}

func toSeries(candles []model.Candle) series {
	s := series{
		open:   make([]float64, len(candles)),
		high:   make([]float64, len(candles)),
		low:    make([]float64, len(candles)),
		close:  make([]float64, len(candles)),
		volume: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.open[i] = c.Open
		s.high[i] = c.High
		s.low[i] = c.Low
		s.close[i] = c.Close
		s.volume[i] = c.Volume
	}
	return s
}

// Compute builds the indicator vector for the latest bar of the snapshot.
// The snapshot must hold at least one candle; indicators whose minimum
// history exceeds the snapshot length come back nil.
func Compute(candles []model.Candle) *Vector {
	s := toSeries(candles)
	n := len(candles)

	v := &Vector{Price: s.close[n-1]}

	if n >= smaShort {
		v.SMA20 = last(talib.Sma(s.close, smaShort))
	}
	if n >= smaMid {
		v.SMA50 = last(talib.Sma(s.close, smaMid))
	}
	if n >= smaLong {
		v.SMA200 = last(talib.Sma(s.close, smaLong))
	}

	if n >= emaFast {
		v.EMA12 = last(talib.Ema(s.close, emaFast))
	}
	if n >= emaSlow {
		v.EMA26 = last(talib.Ema(s.close, emaSlow))
	}

	if n >= minMACD {
		macd, signal, hist := talib.Macd(s.close, macdFast, macdSlow, macdSignalPeriod)
		v.MACD = last(macd)
		v.MACDSignal = last(signal)
		v.MACDHist = last(hist)
	}

	if n >= minRSI {
		v.RSI14 = last(talib.Rsi(s.close, rsiPeriod))
	}

	if n >= bbPeriod {
		upper, middle, lower := talib.BBands(s.close, bbPeriod, bbStdDev, bbStdDev, talib.SMA)
		v.BollingerUpper = last(upper)
		v.BollingerMiddle = last(middle)
		v.BollingerLower = last(lower)
	}

	if n >= minStoch {
		k, d := talib.StochF(s.high, s.low, s.close, stochK, stochD, talib.SMA)
		v.StochK = last(k)
		v.StochD = last(d)
	}

	if n >= minATR {
		v.ATR14 = last(talib.Atr(s.high, s.low, s.close, atrPeriod))
	}

	if n >= minADX {
		v.ADX14 = last(talib.Adx(s.high, s.low, s.close, adxPeriod))
	}

	if n >= minOBV {
		v.OBV = last(talib.Obv(s.close, s.volume))
	}

	if n >= minLevels {
		v.Support, v.Resistance = Levels(candles, s.close[n-1])
	}

	return v
}
