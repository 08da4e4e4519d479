package indicator

import (
	"math"
	"testing"
	"time"

	"torypto-stream/internal/model"
)

// mkCandles builds n candles whose close follows fn(i), with a small range
// around the close for high/low.
func mkCandles(n int, fn func(i int) float64) []model.Candle {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, n)
	for i := range out {
		c := fn(i)
		out[i] = model.Candle{
			OpenTime:  t0.Add(time.Duration(i) * time.Minute),
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
			CloseTime: t0.Add(time.Duration(i+1) * time.Minute),
		}
	}
	return out
}

func rising(i int) float64 { return 100 + float64(i) }

func TestComputeShortHistoryYieldsNulls(t *testing.T) {
	v := Compute(mkCandles(5, rising))

	if v.Price != 104 {
		t.Fatalf("price = %v, want 104", v.Price)
	}
	for name, p := range map[string]*float64{
		"sma_20": v.SMA20, "sma_50": v.SMA50, "sma_200": v.SMA200,
		"ema_12": v.EMA12, "ema_26": v.EMA26,
		"macd": v.MACD, "macd_signal": v.MACDSignal,
		"rsi_14": v.RSI14, "stoch_k": v.StochK,
		"atr": v.ATR14, "adx": v.ADX14,
		"bollinger_upper": v.BollingerUpper,
	} {
		if p != nil {
			t.Errorf("%s = %v with 5 bars, want nil", name, *p)
		}
	}
	if v.OBV == nil {
		t.Error("obv nil with 5 bars, want value")
	}
	if v.Support != nil || v.Resistance != nil {
		t.Error("levels computed below minimum history")
	}
}

func TestComputeRisingSeries(t *testing.T) {
	v := Compute(mkCandles(60, rising))

	if v.SMA20 == nil || v.SMA50 == nil {
		t.Fatal("short/mid SMA nil with 60 bars")
	}
	if v.SMA200 != nil {
		t.Fatalf("sma_200 = %v with 60 bars, want nil", *v.SMA200)
	}

	// On a monotonically rising close, shorter averages sit closer to price.
	if !(v.Price > *v.SMA20 && *v.SMA20 > *v.SMA50) {
		t.Fatalf("expected price > sma20 > sma50, got %v / %v / %v",
			v.Price, *v.SMA20, *v.SMA50)
	}
	if got, want := *v.SMA20, mean(seq(140, 20)); math.Abs(got-want) > 1e-9 {
		t.Fatalf("sma_20 = %v, want %v", got, want)
	}

	if v.RSI14 == nil {
		t.Fatal("rsi nil with 60 bars")
	}
	if *v.RSI14 < 70 || *v.RSI14 > 100 {
		t.Fatalf("rsi = %v on a strictly rising series, want >= 70", *v.RSI14)
	}

	if v.MACD == nil || v.MACDSignal == nil || v.MACDHist == nil {
		t.Fatal("macd nil with 60 bars")
	}
	if *v.MACD <= 0 {
		t.Fatalf("macd = %v on a rising series, want > 0", *v.MACD)
	}

	if v.BollingerMiddle == nil {
		t.Fatal("bollinger middle nil with 60 bars")
	}
	if math.Abs(*v.BollingerMiddle-*v.SMA20) > 1e-9 {
		t.Fatalf("bollinger middle %v != sma_20 %v", *v.BollingerMiddle, *v.SMA20)
	}
	if !(*v.BollingerUpper > *v.BollingerMiddle && *v.BollingerMiddle > *v.BollingerLower) {
		t.Fatal("bollinger bands out of order")
	}

	if v.StochK == nil || v.StochD == nil {
		t.Fatal("stochastic nil with 60 bars")
	}
	if *v.StochK < 0 || *v.StochK > 100 {
		t.Fatalf("stoch_k = %v, want within [0,100]", *v.StochK)
	}

	if v.ATR14 == nil || *v.ATR14 <= 0 {
		t.Fatalf("atr = %v, want positive", v.ATR14)
	}
	if v.ADX14 == nil || *v.ADX14 < 0 || *v.ADX14 > 100 {
		t.Fatalf("adx = %v, want within [0,100]", v.ADX14)
	}
	if v.OBV == nil {
		t.Fatal("obv nil with 60 bars")
	}
}

func TestComputeLongWindowFillsEverything(t *testing.T) {
	v := Compute(mkCandles(200, func(i int) float64 {
		return 100 + 10*math.Sin(float64(i)/8)
	}))

	if v.SMA200 == nil {
		t.Fatal("sma_200 nil with 200 bars")
	}
	if v.RSI14 == nil || *v.RSI14 < 0 || *v.RSI14 > 100 {
		t.Fatalf("rsi = %v, want within [0,100]", v.RSI14)
	}
	if len(v.Support) > 3 || len(v.Resistance) > 3 {
		t.Fatalf("levels overflow: %d support, %d resistance",
			len(v.Support), len(v.Resistance))
	}
	for _, lv := range v.Support {
		if lv >= v.Price {
			t.Fatalf("support %v at or above price %v", lv, v.Price)
		}
	}
	for _, lv := range v.Resistance {
		if lv <= v.Price {
			t.Fatalf("resistance %v at or below price %v", lv, v.Price)
		}
	}
}

func seq(start float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
