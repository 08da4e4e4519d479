package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"torypto-stream/internal/model"
)

// streamReconnects is how many consecutive reconnect attempts the adapter
// makes before surfacing a stream-closed event to the dispatcher.
const streamReconnects = 3

// Binance adapts the Binance spot market-data API to the Feed interface.
// Public market data needs no credentials. One instance is constructed at
// process start and injected into the dispatcher.
type Binance struct {
	client *binance.Client
	log    *zap.Logger

	// OnReconnect is an optional metrics hook called per reconnect attempt.
	OnReconnect func()
}

// NewBinance creates a Binance feed adapter.
func NewBinance(log *zap.Logger) *Binance {
	return &Binance{
		client: binance.NewClient("", ""),
		log:    log,
	}
}

// FetchHistory fetches up to limit klines for (symbol, interval), ordered by
// open time as the exchange returns them.
func (b *Binance) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	klines, err := b.client.NewKlinesService().
		Symbol(strings.ToUpper(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, &Error{Op: "fetch history " + symbol + "/" + interval, Err: err, Retryable: true}
	}

	candles := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := parseKline(k)
		if err != nil {
			return nil, &Error{Op: "parse kline row", Err: err, Retryable: false}
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// FetchTicker fetches the current 24h price-change stats for symbol.
func (b *Binance) FetchTicker(ctx context.Context, symbol string) (*model.TickerUpdate, error) {
	stats, err := b.client.NewListPriceChangeStatsService().
		Symbol(strings.ToUpper(symbol)).
		Do(ctx)
	if err != nil {
		return nil, &Error{Op: "fetch ticker " + symbol, Err: err, Retryable: true}
	}
	if len(stats) == 0 {
		return nil, &Error{Op: "fetch ticker " + symbol, Err: fmt.Errorf("no stats returned"), Retryable: false}
	}

	s := stats[0]
	price, err1 := f64(s.LastPrice)
	change, err2 := f64(s.PriceChange)
	changePct, err3 := f64(s.PriceChangePercent)
	volume, err4 := f64(s.Volume)
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return nil, &Error{Op: "parse ticker stats", Err: err, Retryable: false}
	}

	return &model.TickerUpdate{
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Change:    change,
		ChangePct: changePct,
		Volume:    volume,
		TS:        time.UnixMilli(s.CloseTime).UTC(),
	}, nil
}

// OpenKlineStream opens a kline websocket stream and pushes normalized
// candle updates into out until the handle is stopped.
func (b *Binance) OpenKlineStream(ctx context.Context, symbol, interval string, out chan<- model.CandleUpdate) (Handle, error) {
	name := strings.ToLower(symbol) + "@kline_" + interval
	open := func(sctx context.Context) (chan struct{}, chan struct{}, error) {
		return binance.WsKlineServe(symbol, interval,
			func(ev *binance.WsKlineEvent) {
				u, err := NormalizeKline(ev)
				if err != nil {
					b.log.Warn("dropping malformed kline message",
						zap.String("stream", name), zap.Error(err))
					return
				}
				select {
				case out <- u:
				case <-sctx.Done():
				}
			},
			func(err error) {
				b.log.Warn("kline stream error", zap.String("stream", name), zap.Error(err))
			})
	}
	return b.runStream(ctx, name, open), nil
}

// OpenTickerStream opens a 24h ticker websocket stream for symbol.
func (b *Binance) OpenTickerStream(ctx context.Context, symbol string, out chan<- model.TickerUpdate) (Handle, error) {
	name := strings.ToLower(symbol) + "@ticker"
	open := func(sctx context.Context) (chan struct{}, chan struct{}, error) {
		return binance.WsMarketStatServe(symbol,
			func(ev *binance.WsMarketStatEvent) {
				u, err := NormalizeTicker(ev)
				if err != nil {
					b.log.Warn("dropping malformed ticker message",
						zap.String("stream", name), zap.Error(err))
					return
				}
				select {
				case out <- u:
				case <-sctx.Done():
				}
			},
			func(err error) {
				b.log.Warn("ticker stream error", zap.String("stream", name), zap.Error(err))
			})
	}
	return b.runStream(ctx, name, open), nil
}

// runStream drives one websocket stream with bounded reconnects. The
// returned handle's Done channel yields nil after Stop/ctx cancellation, or
// the terminal error once reconnects are exhausted.
func (b *Binance) runStream(
	ctx context.Context,
	name string,
	open func(context.Context) (doneC, stopC chan struct{}, err error),
) *handle {
	sctx, cancel := context.WithCancel(ctx)
	h := &handle{stop: cancel, done: make(chan error, 1)}

	go func() {
		defer close(h.done)

		boff := &backoff.Backoff{
			Min:    500 * time.Millisecond,
			Max:    15 * time.Second,
			Factor: 2,
			Jitter: true,
		}

		attempts := 0
		for {
			doneC, stopC, err := open(sctx)
			if err == nil {
				boff.Reset()
				attempts = 0
				b.log.Info("upstream stream open", zap.String("stream", name))

				select {
				case <-sctx.Done():
					close(stopC)
					<-doneC
					h.done <- nil
					return
				case <-doneC:
					// Upstream closed unexpectedly; fall through to reconnect.
				}
			}

			attempts++
			if attempts > streamReconnects {
				b.log.Error("upstream stream lost",
					zap.String("stream", name), zap.Int("attempts", attempts-1))
				h.done <- &Error{Op: "stream " + name, Err: fmt.Errorf("closed after %d reconnect attempts", attempts-1), Retryable: true}
				return
			}
			if b.OnReconnect != nil {
				b.OnReconnect()
			}
			wait := boff.Duration()
			b.log.Warn("upstream stream closed, reconnecting",
				zap.String("stream", name),
				zap.Int("attempt", attempts),
				zap.Duration("backoff", wait))
			select {
			case <-sctx.Done():
				h.done <- nil
				return
			case <-time.After(wait):
			}
		}
	}()

	return h
}

// NormalizeKline converts a raw exchange kline event into a CandleUpdate.
func NormalizeKline(ev *binance.WsKlineEvent) (model.CandleUpdate, error) {
	k := ev.Kline
	open, err1 := f64(k.Open)
	high, err2 := f64(k.High)
	low, err3 := f64(k.Low)
	closeP, err4 := f64(k.Close)
	volume, err5 := f64(k.Volume)
	if err := firstErr(err1, err2, err3, err4, err5); err != nil {
		return model.CandleUpdate{}, fmt.Errorf("kline %s: %w", ev.Symbol, err)
	}

	return model.CandleUpdate{
		Symbol:   ev.Symbol,
		Interval: k.Interval,
		IsFinal:  k.IsFinal,
		Candle: model.Candle{
			OpenTime:  time.UnixMilli(k.StartTime).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    volume,
			CloseTime: time.UnixMilli(k.EndTime).UTC(),
		},
	}, nil
}

// NormalizeTicker converts a raw 24h market-stat event into a TickerUpdate.
func NormalizeTicker(ev *binance.WsMarketStatEvent) (model.TickerUpdate, error) {
	price, err1 := f64(ev.LastPrice)
	change, err2 := f64(ev.PriceChange)
	changePct, err3 := f64(ev.PriceChangePercent)
	volume, err4 := f64(ev.BaseVolume)
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return model.TickerUpdate{}, fmt.Errorf("ticker %s: %w", ev.Symbol, err)
	}

	return model.TickerUpdate{
		Symbol:    ev.Symbol,
		Price:     price,
		Change:    change,
		ChangePct: changePct,
		Volume:    volume,
		TS:        time.UnixMilli(ev.Time).UTC(),
	}, nil
}

func parseKline(k *binance.Kline) (model.Candle, error) {
	open, err1 := f64(k.Open)
	high, err2 := f64(k.High)
	low, err3 := f64(k.Low)
	closeP, err4 := f64(k.Close)
	volume, err5 := f64(k.Volume)
	if err := firstErr(err1, err2, err3, err4, err5); err != nil {
		return model.Candle{}, err
	}
	return model.Candle{
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    volume,
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
	}, nil
}

func f64(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return v, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
