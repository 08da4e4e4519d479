package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
)

func TestNormalizeKline(t *testing.T) {
	ev := &binance.WsKlineEvent{
		Symbol: "BTCUSDT",
		Kline: binance.WsKline{
			StartTime: 1717243200000,
			EndTime:   1717243259999,
			Symbol:    "BTCUSDT",
			Interval:  "1m",
			Open:      "67000.10",
			Close:     "67080.55",
			High:      "67100.00",
			Low:       "66950.25",
			Volume:    "12.345",
			IsFinal:   true,
		},
	}

	u, err := NormalizeKline(ev)
	if err != nil {
		t.Fatal(err)
	}
	if u.Symbol != "BTCUSDT" || u.Interval != "1m" || !u.IsFinal {
		t.Fatalf("metadata mismatch: %+v", u)
	}
	if u.Candle.Open != 67000.10 || u.Candle.Close != 67080.55 ||
		u.Candle.High != 67100.00 || u.Candle.Low != 66950.25 ||
		u.Candle.Volume != 12.345 {
		t.Fatalf("price fields mismatch: %+v", u.Candle)
	}
	wantOpen := time.UnixMilli(1717243200000).UTC()
	if !u.Candle.OpenTime.Equal(wantOpen) {
		t.Fatalf("open time = %v, want %v", u.Candle.OpenTime, wantOpen)
	}
	if !u.Candle.CloseTime.After(u.Candle.OpenTime) {
		t.Fatalf("close time %v not after open time %v", u.Candle.CloseTime, u.Candle.OpenTime)
	}
}

func TestNormalizeKlineRejectsMalformedNumbers(t *testing.T) {
	ev := &binance.WsKlineEvent{
		Symbol: "BTCUSDT",
		Kline: binance.WsKline{
			Interval: "1m",
			Open:     "not-a-number",
			Close:    "1",
			High:     "1",
			Low:      "1",
			Volume:   "1",
		},
	}
	if _, err := NormalizeKline(ev); err == nil {
		t.Fatal("malformed open price accepted")
	}
}

func TestNormalizeTicker(t *testing.T) {
	ev := &binance.WsMarketStatEvent{
		Symbol:             "ETHUSDT",
		LastPrice:          "3500.42",
		PriceChange:        "-12.5",
		PriceChangePercent: "-0.36",
		BaseVolume:         "98765.4",
		Time:               1717243200000,
	}

	u, err := NormalizeTicker(ev)
	if err != nil {
		t.Fatal(err)
	}
	if u.Symbol != "ETHUSDT" || u.Price != 3500.42 || u.Change != -12.5 ||
		u.ChangePct != -0.36 || u.Volume != 98765.4 {
		t.Fatalf("ticker mismatch: %+v", u)
	}
	if !u.TS.Equal(time.UnixMilli(1717243200000).UTC()) {
		t.Fatalf("ts = %v", u.TS)
	}
}

func TestNormalizeTickerRejectsMalformedNumbers(t *testing.T) {
	ev := &binance.WsMarketStatEvent{
		Symbol:    "ETHUSDT",
		LastPrice: "",
	}
	if _, err := NormalizeTicker(ev); err == nil {
		t.Fatal("empty last price accepted")
	}
}

func TestRetryable(t *testing.T) {
	retry := &Error{Op: "fetch", Err: errors.New("timeout"), Retryable: true}
	if !Retryable(retry) {
		t.Fatal("retryable error not recognized")
	}

	parse := &Error{Op: "parse", Err: errors.New("bad row"), Retryable: false}
	if Retryable(parse) {
		t.Fatal("parse error marked retryable")
	}

	if Retryable(errors.New("plain")) {
		t.Fatal("plain error marked retryable")
	}

	wrapped := &Error{Op: "fetch", Err: context.DeadlineExceeded, Retryable: true}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatal("unwrap broken")
	}
}
