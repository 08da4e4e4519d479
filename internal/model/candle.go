package model

import (
	"encoding/json"
	"time"
)

// Candle is one OHLCV bar for a (symbol, interval) bucket. Prices and volume
// are float64 as delivered by the exchange; OpenTime is the bucket start.
// A candle is immutable once final; the forming candle at the window tail is
// replaced in place until the exchange marks it final.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Key identifies one window / feed / subscription partition.
// Interval is an exchange interval string ("1m", "1h", ...) for kline keys,
// or IntervalTicker for raw ticker keys.
type Key struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// IntervalTicker is the pseudo-interval used for 24h ticker subscriptions.
const IntervalTicker = "ticker"

// TickerKey returns the ticker key for a symbol.
func TickerKey(symbol string) Key {
	return Key{Symbol: symbol, Interval: IntervalTicker}
}

// String returns "symbol:interval", the form used in logs and channel names.
func (k Key) String() string {
	return k.Symbol + ":" + k.Interval
}

// IsTicker reports whether this key addresses the raw ticker stream.
func (k Key) IsTicker() bool {
	return k.Interval == IntervalTicker
}

// validIntervals are the kline intervals the exchange serves.
var validIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// ValidInterval reports whether s is a kline interval the exchange accepts.
func ValidInterval(s string) bool {
	return validIntervals[s]
}

// CandleUpdate is a normalized kline event from the upstream feed.
// IsFinal marks a closed bucket; non-final updates replace the forming tail.
type CandleUpdate struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Candle   Candle `json:"candle"`
	IsFinal  bool   `json:"is_final"`
}

// Key returns the window key this update belongs to.
func (u *CandleUpdate) Key() Key {
	return Key{Symbol: u.Symbol, Interval: u.Interval}
}

// TickerUpdate is a normalized 24h ticker event from the upstream feed.
type TickerUpdate struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"price_change"`
	ChangePct float64   `json:"price_change_percent"`
	Volume    float64   `json:"volume"`
	TS        time.Time `json:"ts"`
}

// JSON returns the JSON-encoded ticker update.
func (u *TickerUpdate) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
