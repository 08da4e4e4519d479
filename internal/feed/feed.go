// Package feed normalizes exchange REST and stream messages into the two
// canonical event types the engine consumes: model.CandleUpdate and
// model.TickerUpdate. The dispatcher talks to the Feed interface only; the
// Binance implementation lives in binance.go.
package feed

import (
	"context"
	"errors"
	"fmt"

	"torypto-stream/internal/model"
)

// MaxHistoryLimit is the exchange's per-request kline cap.
const MaxHistoryLimit = 1000

// Error wraps an upstream failure. Retryable marks transient network/HTTP
// faults; malformed data is not retryable.
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("feed: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether err is a feed error worth retrying.
func Retryable(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Retryable
}

// Handle controls one open upstream stream. Done yields the terminal error
// when the stream dies after exhausting the adapter's own reconnects (nil on
// a clean Stop), then closes. The dispatcher uses it to decide between a
// single reopen and letting the key go idle.
type Handle interface {
	Stop()
	Done() <-chan error
}

// Feed is the upstream exchange boundary.
type Feed interface {
	// FetchHistory returns up to limit candles ordered by open time.
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)

	// FetchTicker returns a current 24h ticker snapshot for symbol.
	FetchTicker(ctx context.Context, symbol string) (*model.TickerUpdate, error)

	// OpenKlineStream starts streaming normalized candle updates into out.
	// The stream stays open until Stop, ctx cancellation, or an unrecoverable
	// upstream failure; malformed messages are dropped, never fatal.
	OpenKlineStream(ctx context.Context, symbol, interval string, out chan<- model.CandleUpdate) (Handle, error)

	// OpenTickerStream streams normalized 24h ticker updates into out.
	OpenTickerStream(ctx context.Context, symbol string, out chan<- model.TickerUpdate) (Handle, error)
}

// handle is the common Handle implementation for stream goroutines.
type handle struct {
	stop func()
	done chan error
}

func (h *handle) Stop()              { h.stop() }
func (h *handle) Done() <-chan error { return h.done }
