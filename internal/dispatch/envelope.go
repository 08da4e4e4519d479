package dispatch

import (
	"encoding/json"

	"torypto-stream/internal/indicator"
	"torypto-stream/internal/model"
)

// envelope is the wire frame delivered to websocket clients and mirrored to
// the external bus. Interval is omitted on ticker and error frames.
type envelope struct {
	Event    string      `json:"event"`
	Symbol   string      `json:"symbol"`
	Interval string      `json:"interval,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// klineData is the data section of initial_data, update and progress frames.
type klineData struct {
	Candle     *model.Candle      `json:"candle,omitempty"`
	Candles    []model.Candle     `json:"candles,omitempty"`
	Indicators *indicator.Vector  `json:"indicators,omitempty"`
	Trend      *indicator.Trend   `json:"trend,omitempty"`
	Signals    *indicator.Signals `json:"signals,omitempty"`
}

// Encode serializes a payload into its wire frame.
func Encode(p *Payload) ([]byte, error) {
	env := envelope{
		Event:  p.Event,
		Symbol: p.Key.Symbol,
		Error:  p.ErrorMsg,
	}
	switch p.Event {
	case EventPriceUpdate:
		env.Data = p.Ticker
	case EventError:
		if !p.Key.IsTicker() {
			env.Interval = p.Key.Interval
		}
	default:
		env.Interval = p.Key.Interval
		env.Data = &klineData{
			Candle:     p.Candle,
			Candles:    p.Candles,
			Indicators: p.Vector,
			Trend:      p.Trend,
			Signals:    p.Signals,
		}
	}
	return json.Marshal(&env)
}
