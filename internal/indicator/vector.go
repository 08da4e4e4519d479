// Package indicator computes the fixed technical-indicator set over a window
// snapshot and derives trend / signal classifications from it.
//
// Every merge that changes a window recomputes the whole vector from the
// snapshot. Indicator recurrences have varying depths (EMA, ADX, OBV carry
// state from the window start), so a wholesale recompute over the bounded
// window is both simpler and correct.
package indicator

import "math"

// Version identifies the vector field set. Bump when fields change so
// downstream consumers can rely on stable keys.
const Version = 1

// Vector is the indicator value set for the latest bar of one snapshot.
// Nil fields mean the window is shorter than the indicator's minimum history.
type Vector struct {
	Price float64 `json:"price"` // latest close

	SMA20  *float64 `json:"sma_20"`
	SMA50  *float64 `json:"sma_50"`
	SMA200 *float64 `json:"sma_200"`

	EMA12 *float64 `json:"ema_12"`
	EMA26 *float64 `json:"ema_26"`

	MACD       *float64 `json:"macd"`
	MACDSignal *float64 `json:"macd_signal"`
	MACDHist   *float64 `json:"macd_histogram"`

	RSI14 *float64 `json:"rsi_14"`

	BollingerUpper  *float64 `json:"bollinger_upper"`
	BollingerMiddle *float64 `json:"bollinger_middle"`
	BollingerLower  *float64 `json:"bollinger_lower"`

	StochK *float64 `json:"stoch_k"`
	StochD *float64 `json:"stoch_d"`

	ATR14 *float64 `json:"atr"`
	ADX14 *float64 `json:"adx"`
	OBV   *float64 `json:"obv"`

	Support    []float64 `json:"support"`
	Resistance []float64 `json:"resistance"`
}

// fin returns a pointer to v, or nil when v is NaN or infinite. Oscillators
// degenerate on flat windows (zero range, zero loss); a null field is the
// contract, never a crash.
func fin(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// last returns fin() of the final element, or nil for an empty slice.
func last(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	return fin(vals[len(vals)-1])
}
