package indicator

import "testing"

func fp(v float64) *float64 { return &v }

func TestClassifyStrongBullish(t *testing.T) {
	v := &Vector{
		Price:      110,
		SMA20:      fp(105),
		SMA50:      fp(100),
		SMA200:     fp(90),
		MACD:       fp(1.5),
		MACDSignal: fp(1.0),
	}
	trend := Classify(v)

	// +1 +1 +2 for the averages, +1 for MACD.
	if trend.Score != 5 {
		t.Fatalf("score = %d, want 5", trend.Score)
	}
	if trend.Label != StrongBullish {
		t.Fatalf("label = %q, want %q", trend.Label, StrongBullish)
	}
	if trend.MA != Bullish {
		t.Fatalf("ma = %q, want %q", trend.MA, Bullish)
	}
}

func TestClassifyStrongBearish(t *testing.T) {
	v := &Vector{
		Price:      80,
		SMA20:      fp(85),
		SMA50:      fp(90),
		SMA200:     fp(100),
		MACD:       fp(-1.5),
		MACDSignal: fp(-1.0),
	}
	trend := Classify(v)

	if trend.Score != -5 {
		t.Fatalf("score = %d, want -5", trend.Score)
	}
	if trend.Label != StrongBearish {
		t.Fatalf("label = %q, want %q", trend.Label, StrongBearish)
	}
	if trend.MA != Bearish {
		t.Fatalf("ma = %q, want %q", trend.MA, Bearish)
	}
}

func TestClassifyBullishThreshold(t *testing.T) {
	v := &Vector{
		Price: 110,
		SMA20: fp(105),
		SMA50: fp(100),
	}
	trend := Classify(v)
	if trend.Score != 2 || trend.Label != Bullish {
		t.Fatalf("got score %d label %q, want 2 %q", trend.Score, trend.Label, Bullish)
	}
}

func TestClassifyAbstainsOnNilIndicators(t *testing.T) {
	trend := Classify(&Vector{Price: 100})
	if trend.Score != 0 || trend.Label != Neutral {
		t.Fatalf("empty vector: score %d label %q, want 0 %q", trend.Score, trend.Label, Neutral)
	}
	if trend.MA != Neutral || trend.Momentum != Neutral || trend.Band != "inside" {
		t.Fatalf("unexpected components: %+v", trend)
	}
}

func TestClassifyOverboughtCancelsMA(t *testing.T) {
	v := &Vector{
		Price: 110,
		SMA20: fp(105),
		RSI14: fp(82),
	}
	trend := Classify(v)
	if trend.Score != 0 {
		t.Fatalf("score = %d, want 0 (overbought cancels the MA vote)", trend.Score)
	}
	if trend.Momentum != "overbought" {
		t.Fatalf("momentum = %q, want overbought", trend.Momentum)
	}
}

func TestClassifyBandPosition(t *testing.T) {
	v := &Vector{
		Price:          95,
		BollingerUpper: fp(110),
		BollingerLower: fp(98),
	}
	trend := Classify(v)
	if trend.Band != "below_lower" {
		t.Fatalf("band = %q, want below_lower", trend.Band)
	}
	if trend.Score != 1 {
		t.Fatalf("score = %d, want +1 for the mean-reversion vote", trend.Score)
	}
}

func TestGetSignals(t *testing.T) {
	v := &Vector{
		Price:           110,
		SMA20:           fp(105),
		SMA50:           fp(100),
		MACD:            fp(1.5),
		MACDSignal:      fp(1.0),
		RSI14:           fp(82),
		StochK:          fp(15),
		StochD:          fp(18),
		BollingerUpper:  fp(115),
		BollingerMiddle: fp(105),
		BollingerLower:  fp(95),
	}
	trend := Classify(v)
	sig := GetSignals(v, trend)

	if sig.Overall != trend.Label {
		t.Fatalf("overall = %q, want trend label %q", sig.Overall, trend.Label)
	}
	if sig.MA != "strong_buy" {
		t.Fatalf("ma = %q, want strong_buy", sig.MA)
	}
	if sig.MACD != "buy" {
		t.Fatalf("macd = %q, want buy", sig.MACD)
	}
	if sig.RSI != "overbought_sell" {
		t.Fatalf("rsi = %q, want overbought_sell", sig.RSI)
	}
	if sig.Stoch != "oversold_buy" {
		t.Fatalf("stoch = %q, want oversold_buy", sig.Stoch)
	}
	if sig.Bollinger != "neutral_bullish" {
		t.Fatalf("bollinger = %q, want neutral_bullish", sig.Bollinger)
	}
}

func TestGetSignalsNeutralOnEmptyVector(t *testing.T) {
	v := &Vector{Price: 100}
	sig := GetSignals(v, Classify(v))
	if sig.MA != Neutral || sig.MACD != Neutral || sig.RSI != Neutral ||
		sig.Stoch != Neutral || sig.Bollinger != Neutral {
		t.Fatalf("expected all-neutral signals, got %+v", sig)
	}
}
