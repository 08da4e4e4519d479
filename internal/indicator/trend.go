package indicator

// Trend labels. The composite label is a step function of the net vote score.
const (
	StrongBullish = "strong_bullish"
	Bullish       = "bullish"
	Neutral       = "neutral"
	Bearish       = "bearish"
	StrongBearish = "strong_bearish"
)

// Trend is the categorical classification derived from one vector.
// Pure function of the vector: no hidden state, independently testable.
// Score is the net vote tally, Bullish and Bearish the weighted vote sums
// behind it. MA, Momentum and Band carry the component readings
// (moving-average position, oscillator status, Bollinger band position).
type Trend struct {
	Label    string `json:"trend"`
	Score    int    `json:"score"`
	Bullish  int    `json:"bullish"`
	Bearish  int    `json:"bearish"`
	MA       string `json:"ma"`
	Momentum string `json:"momentum"`
	Band     string `json:"band"`
}

// Signals are the per-indicator buy/sell readings sent alongside the trend.
type Signals struct {
	Overall   string `json:"overall"`
	MA        string `json:"ma"`
	MACD      string `json:"macd"`
	RSI       string `json:"rsi"`
	Stoch     string `json:"stoch"`
	Bollinger string `json:"bollinger"`
}

// tally accumulates weighted votes. Indicators with nil inputs abstain.
type tally struct {
	bullish, bearish int
}

func (t *tally) vote(weight int, bullish bool) {
	if bullish {
		t.bullish += weight
	} else {
		t.bearish += weight
	}
}

func (t *tally) net() int { return t.bullish - t.bearish }

// Classify derives the trend classification from an indicator vector.
//
// Voting rule (documented thresholds):
//   - close vs SMA20 and SMA50: ±1 each; vs SMA200: ±2 (long-term weight)
//   - RSI < 30: +1 (oversold), RSI > 70: -1 (overbought)
//   - MACD above/below its signal line: ±1
//   - stochastic %K above/below %D: ±1; %K > 80: -1, %K < 20: +1
//   - close above upper Bollinger band: -1, below lower band: +1
//
// Composite label: net >= +4 strong bullish, >= +2 bullish, <= -4 strong
// bearish, <= -2 bearish, otherwise neutral.
func Classify(v *Vector) Trend {
	var t tally
	price := v.Price

	maAbove := 0
	maTotal := 0
	if v.SMA20 != nil {
		maTotal++
		if price > *v.SMA20 {
			maAbove++
		}
		t.vote(1, price > *v.SMA20)
	}
	if v.SMA50 != nil {
		maTotal++
		if price > *v.SMA50 {
			maAbove++
		}
		t.vote(1, price > *v.SMA50)
	}
	if v.SMA200 != nil {
		maTotal++
		if price > *v.SMA200 {
			maAbove++
		}
		t.vote(2, price > *v.SMA200)
	}

	momentum := Neutral
	if v.RSI14 != nil {
		switch {
		case *v.RSI14 > 70:
			t.vote(1, false)
			momentum = "overbought"
		case *v.RSI14 < 30:
			t.vote(1, true)
			momentum = "oversold"
		}
	}

	if v.MACD != nil && v.MACDSignal != nil {
		t.vote(1, *v.MACD > *v.MACDSignal)
	}

	if v.StochK != nil && v.StochD != nil {
		t.vote(1, *v.StochK > *v.StochD)
		switch {
		case *v.StochK > 80:
			t.vote(1, false)
		case *v.StochK < 20:
			t.vote(1, true)
		}
	}

	band := "inside"
	if v.BollingerUpper != nil && v.BollingerLower != nil {
		switch {
		case price > *v.BollingerUpper:
			t.vote(1, false)
			band = "above_upper"
		case price < *v.BollingerLower:
			t.vote(1, true)
			band = "below_lower"
		}
	}

	ma := Neutral
	switch {
	case maTotal > 0 && maAbove == maTotal:
		ma = Bullish
	case maTotal > 0 && maAbove == 0:
		ma = Bearish
	}

	return Trend{
		Label:    compositeLabel(t.net()),
		Score:    t.net(),
		Bullish:  t.bullish,
		Bearish:  t.bearish,
		MA:       ma,
		Momentum: momentum,
		Band:     band,
	}
}

func compositeLabel(net int) string {
	switch {
	case net >= 4:
		return StrongBullish
	case net >= 2:
		return Bullish
	case net <= -4:
		return StrongBearish
	case net <= -2:
		return Bearish
	default:
		return Neutral
	}
}

// GetSignals derives the per-indicator buy/sell readings from a vector and
// its trend classification.
func GetSignals(v *Vector, trend Trend) Signals {
	sig := Signals{
		Overall:   trend.Label,
		MA:        Neutral,
		MACD:      Neutral,
		RSI:       Neutral,
		Stoch:     Neutral,
		Bollinger: Neutral,
	}
	price := v.Price

	if v.SMA20 != nil && v.SMA50 != nil {
		switch {
		case price > *v.SMA20 && *v.SMA20 > *v.SMA50:
			sig.MA = "strong_buy"
		case price > *v.SMA20:
			sig.MA = "buy"
		case price < *v.SMA20 && *v.SMA20 < *v.SMA50:
			sig.MA = "strong_sell"
		case price < *v.SMA20:
			sig.MA = "sell"
		}
	}

	if v.MACD != nil && v.MACDSignal != nil {
		switch {
		case *v.MACD > *v.MACDSignal && *v.MACD > 0:
			sig.MACD = "buy"
		case *v.MACD < *v.MACDSignal && *v.MACD < 0:
			sig.MACD = "sell"
		case *v.MACD > *v.MACDSignal:
			sig.MACD = "neutral_buy"
		default:
			sig.MACD = "neutral_sell"
		}
	}

	if v.RSI14 != nil {
		switch {
		case *v.RSI14 > 70:
			sig.RSI = "overbought_sell"
		case *v.RSI14 < 30:
			sig.RSI = "oversold_buy"
		case *v.RSI14 > 50:
			sig.RSI = "neutral_bullish"
		default:
			sig.RSI = "neutral_bearish"
		}
	}

	if v.StochK != nil && v.StochD != nil {
		switch {
		case *v.StochK > 80 && *v.StochD > 80:
			sig.Stoch = "overbought_sell"
		case *v.StochK < 20 && *v.StochD < 20:
			sig.Stoch = "oversold_buy"
		case *v.StochK > *v.StochD:
			sig.Stoch = "neutral_bullish"
		default:
			sig.Stoch = "neutral_bearish"
		}
	}

	if v.BollingerUpper != nil && v.BollingerMiddle != nil && v.BollingerLower != nil {
		switch {
		case price > *v.BollingerUpper:
			sig.Bollinger = "overbought_sell"
		case price < *v.BollingerLower:
			sig.Bollinger = "oversold_buy"
		case price > *v.BollingerMiddle:
			sig.Bollinger = "neutral_bullish"
		default:
			sig.Bollinger = "neutral_bearish"
		}
	}

	return sig
}
