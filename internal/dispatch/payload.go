package dispatch

import (
	"torypto-stream/internal/indicator"
	"torypto-stream/internal/model"
)

// Event discriminators on the subscriber wire contract.
const (
	EventInitialData = "initial_data"
	EventUpdate      = "update"
	EventProgress    = "progress"
	EventPriceUpdate = "price_update"
	EventError       = "error"
)

// Payload is one computed result set delivered to every subscriber of a key.
// Fields are populated per event type: initial_data carries the full candle
// window, update/progress carry the latest candle, price_update carries the
// ticker. Payloads are immutable after construction; subscribers share one
// instance.
type Payload struct {
	Event    string
	Key      model.Key
	Candle   *model.Candle
	Candles  []model.Candle
	Ticker   *model.TickerUpdate
	Vector   *indicator.Vector
	Trend    *indicator.Trend
	Signals  *indicator.Signals
	ErrorMsg string
}

// Subscriber is one downstream consumer of payloads for a key. Send must not
// block: implementations queue into a bounded buffer and drop on overflow.
// A non-nil error means the subscriber is dead and is removed from the
// registry; other subscribers are unaffected.
type Subscriber interface {
	ID() string
	Send(p *Payload) error
}

// Publisher mirrors computed payloads to an external bus. Optional; a nil
// publisher disables mirroring. Publish failures are logged, never fatal.
type Publisher interface {
	Publish(p *Payload) error
}
