package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestKeyString(t *testing.T) {
	k := Key{Symbol: "BTCUSDT", Interval: "1m"}
	if k.String() != "BTCUSDT:1m" {
		t.Fatalf("got %q", k.String())
	}
	if k.IsTicker() {
		t.Fatal("kline key reported as ticker")
	}

	tk := TickerKey("ETHUSDT")
	if tk.String() != "ETHUSDT:ticker" || !tk.IsTicker() {
		t.Fatalf("ticker key = %q, IsTicker=%v", tk.String(), tk.IsTicker())
	}
}

func TestValidInterval(t *testing.T) {
	for _, iv := range []string{"1m", "15m", "1h", "4h", "1d", "1w", "1M"} {
		if !ValidInterval(iv) {
			t.Errorf("%q rejected", iv)
		}
	}
	for _, iv := range []string{"", "7m", "1s", "2d", "ticker", "1 m"} {
		if ValidInterval(iv) {
			t.Errorf("%q accepted", iv)
		}
	}
}

func TestCandleUpdateKey(t *testing.T) {
	u := CandleUpdate{Symbol: "BTCUSDT", Interval: "5m"}
	if got := u.Key(); got != (Key{Symbol: "BTCUSDT", Interval: "5m"}) {
		t.Fatalf("got %v", got)
	}
}

func TestCandleJSONRoundTrip(t *testing.T) {
	c := Candle{
		OpenTime:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Open:      1,
		High:      2,
		Low:       0.5,
		Close:     1.5,
		Volume:    42,
		CloseTime: time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC),
	}
	var back Candle
	if err := json.Unmarshal(c.JSON(), &back); err != nil {
		t.Fatal(err)
	}
	if !back.OpenTime.Equal(c.OpenTime) || back.Close != c.Close {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}
