// Package dispatch owns the subscription registry and the per-key fan-out
// path: first subscriber seeds the window and opens the upstream stream, the
// key's goroutine merges updates, recomputes indicators once per change, and
// pushes the payload to every subscriber; the last unsubscribe closes the
// stream and lets the key go idle.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"torypto-stream/internal/feed"
	"torypto-stream/internal/indicator"
	"torypto-stream/internal/metrics"
	"torypto-stream/internal/model"
	"torypto-stream/internal/window"
)

// Config holds dispatcher tuning knobs.
type Config struct {
	// HistoryLimit is how many candles are fetched to seed a window.
	HistoryLimit int
	// InboundQueue bounds the per-key queue between the stream goroutine and
	// the merge path.
	InboundQueue int
	// SeedTimeout bounds one history-seed fetch attempt. One retry is made
	// before the subscription attempt fails.
	SeedTimeout time.Duration
}

func (c *Config) defaults() {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = window.DefaultCapacity
	}
	if c.InboundQueue <= 0 {
		c.InboundQueue = 64
	}
	if c.SeedTimeout <= 0 {
		c.SeedTimeout = 10 * time.Second
	}
}

// keyState is the per-key fan-out state. The key's run goroutine is the
// single writer for its window and indicator recomputation; the registry
// mutex guards the subscriber set, the cached last results, and the stream
// handle (written via setHandle, read by idle and teardown).
type keyState struct {
	key    model.Key
	subs   map[string]Subscriber
	cancel context.CancelFunc
	handle feed.Handle

	inbound chan model.CandleUpdate
	ticks   chan model.TickerUpdate

	reopened bool // one reopen per stream-loss incident

	lastVector  *indicator.Vector
	lastTrend   *indicator.Trend
	lastSignals *indicator.Signals
	lastTicker  *model.TickerUpdate
}

// Dispatcher routes normalized feed events through merge and compute to all
// subscribers of a key. Cross-key processing is fully independent.
type Dispatcher struct {
	feed  feed.Feed
	store *window.Store
	log   *zap.Logger
	met   *metrics.Metrics
	pub   Publisher // optional payload mirror
	cfg   Config

	mu   sync.Mutex
	keys map[model.Key]*keyState
}

// New creates a Dispatcher. pub may be nil to disable payload mirroring.
func New(f feed.Feed, store *window.Store, pub Publisher, met *metrics.Metrics, log *zap.Logger, cfg Config) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		feed:  f,
		store: store,
		log:   log,
		met:   met,
		pub:   pub,
		cfg:   cfg,
		keys:  make(map[model.Key]*keyState),
	}
}

// Subscribe registers sub for key. The first subscriber of a key triggers
// exactly one history seed and one stream open; later subscribers only
// register and immediately receive a replay of the latest computed payload.
func (d *Dispatcher) Subscribe(ctx context.Context, key model.Key, sub Subscriber) error {
	if !key.IsTicker() && !model.ValidInterval(key.Interval) {
		return fmt.Errorf("dispatch: invalid interval %q", key.Interval)
	}

	d.mu.Lock()
	ks, active := d.keys[key]
	if active {
		ks.subs[sub.ID()] = sub
		replay := d.buildReplayLocked(ks)
		d.mu.Unlock()

		d.met.ActiveSubs.Inc()
		d.log.Info("subscriber joined active key",
			zap.String("key", key.String()), zap.String("subscriber", sub.ID()))
		if replay != nil {
			if err := sub.Send(replay); err != nil {
				d.removeSub(key, sub.ID(), "send_error")
			}
		}
		return nil
	}

	ks = &keyState{
		key:     key,
		subs:    map[string]Subscriber{sub.ID(): sub},
		inbound: make(chan model.CandleUpdate, d.cfg.InboundQueue),
		ticks:   make(chan model.TickerUpdate, d.cfg.InboundQueue),
	}
	d.keys[key] = ks
	d.mu.Unlock()

	if err := d.activate(ctx, ks); err != nil {
		d.mu.Lock()
		delete(d.keys, key)
		orphans := snapshotSubs(ks)
		d.mu.Unlock()
		for _, s := range orphans {
			if s.ID() == sub.ID() {
				continue // the caller sees the returned error
			}
			// Joined mid-activation through the active branch, so their
			// gauge increment must be unwound here.
			d.met.ActiveSubs.Dec()
			s.Send(&Payload{Event: EventError, Key: key, ErrorMsg: err.Error()})
		}
		return err
	}

	d.met.ActiveSubs.Inc()
	d.met.ActiveKeys.Inc()
	return nil
}

// Unsubscribe removes a subscriber. When the key's subscriber set becomes
// empty the upstream stream is closed and the key transitions to idle. The
// window is retained so a rapid resubscribe skips the reseed; memory stays
// bounded by window capacity times the number of keys ever streamed.
func (d *Dispatcher) Unsubscribe(key model.Key, subID string) {
	d.removeSub(key, subID, "unsubscribe")
}

// Status reports subscriber counts per active key, for introspection.
func (d *Dispatcher) Status() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.keys))
	for k, ks := range d.keys {
		out[k.String()] = len(ks.subs)
	}
	return out
}

// activate seeds the key (kline keys only), opens the upstream stream, and
// starts the key's run goroutine.
func (d *Dispatcher) activate(ctx context.Context, ks *keyState) error {
	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	ks.cancel = cancel
	d.mu.Unlock()

	if ks.key.IsTicker() {
		if snap, err := d.feed.FetchTicker(ctx, ks.key.Symbol); err == nil {
			d.mu.Lock()
			ks.lastTicker = snap
			d.mu.Unlock()
			d.fanout(ks, &Payload{Event: EventPriceUpdate, Key: ks.key, Ticker: snap})
		} else {
			// Not fatal: the stream delivers a value within seconds.
			d.log.Warn("ticker snapshot fetch failed",
				zap.String("key", ks.key.String()), zap.Error(err))
		}

		h, err := d.feed.OpenTickerStream(runCtx, ks.key.Symbol, ks.ticks)
		if err != nil {
			cancel()
			return fmt.Errorf("dispatch: open ticker stream %s: %w", ks.key, err)
		}
		if !d.setHandle(ks, h) {
			h.Stop()
			cancel()
			return nil
		}
		go d.runTicker(runCtx, ks)
		d.log.Info("ticker key active", zap.String("key", ks.key.String()))
		return nil
	}

	candles, err := d.seedHistory(ctx, ks.key)
	if err != nil {
		cancel()
		d.met.SeedFailures.Inc()
		return err
	}
	if err := d.store.Seed(ks.key, candles); err != nil {
		cancel()
		d.met.SeedFailures.Inc()
		return err
	}

	snap := d.store.Snapshot(ks.key)
	vec := indicator.Compute(snap)
	trend := indicator.Classify(vec)
	sigs := indicator.GetSignals(vec, trend)

	d.mu.Lock()
	ks.lastVector, ks.lastTrend, ks.lastSignals = vec, &trend, &sigs
	d.mu.Unlock()

	h, err := d.feed.OpenKlineStream(runCtx, ks.key.Symbol, ks.key.Interval, ks.inbound)
	if err != nil {
		cancel()
		return fmt.Errorf("dispatch: open kline stream %s: %w", ks.key, err)
	}
	if !d.setHandle(ks, h) {
		h.Stop()
		cancel()
		return nil
	}
	go d.runKline(runCtx, ks)

	d.fanout(ks, &Payload{
		Event:   EventInitialData,
		Key:     ks.key,
		Candles: snap,
		Vector:  vec,
		Trend:   &trend,
		Signals: &sigs,
	})
	d.log.Info("kline key active",
		zap.String("key", ks.key.String()), zap.Int("seeded", len(candles)))
	return nil
}

// seedHistory fetches the seed batch with a bounded timeout and one retry.
func (d *Dispatcher) seedHistory(ctx context.Context, key model.Key) ([]model.Candle, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		fctx, cancel := context.WithTimeout(ctx, d.cfg.SeedTimeout)
		candles, err := d.feed.FetchHistory(fctx, key.Symbol, key.Interval, d.cfg.HistoryLimit)
		cancel()
		if err == nil {
			return candles, nil
		}
		lastErr = err
		if !feed.Retryable(err) {
			break
		}
		d.log.Warn("history seed attempt failed",
			zap.String("key", key.String()), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, fmt.Errorf("dispatch: seed %s: %w", key, lastErr)
}

// runKline is the single consumer of a kline key's inbound queue.
// Updates are merged, recomputed, and fanned out strictly in arrival order.
func (d *Dispatcher) runKline(ctx context.Context, ks *keyState) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-ks.inbound:
			if fatal := d.handleUpdate(ks, u); fatal {
				return
			}
		case err := <-ks.handle.Done():
			if err == nil {
				return // clean stop
			}
			if !d.reopenKline(ctx, ks) {
				return
			}
		}
	}
}

func (d *Dispatcher) runTicker(ctx context.Context, ks *keyState) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ks.ticks:
			d.met.TickerEvents.Inc()
			d.mu.Lock()
			ks.lastTicker = &t
			ks.reopened = false
			d.mu.Unlock()
			p := &Payload{Event: EventPriceUpdate, Key: ks.key, Ticker: &t}
			d.fanout(ks, p)
			d.mirror(p)
		case err := <-ks.handle.Done():
			if err == nil {
				return
			}
			if !d.reopenTicker(ctx, ks) {
				return
			}
		}
	}
}

// handleUpdate runs the merge → compute → fan-out step for one update.
// Returns true when the key is fatally broken and its goroutine must exit.
func (d *Dispatcher) handleUpdate(ks *keyState, u model.CandleUpdate) bool {
	res, err := d.store.Merge(ks.key, u)
	if err != nil {
		// Ordering violation is a bug class: fatal for this key only.
		d.log.Error("window merge failed, tearing key down",
			zap.String("key", ks.key.String()), zap.Error(err))
		d.teardown(ks, "internal window error")
		return true
	}
	if !res.Changed {
		d.met.StaleUpdates.Inc()
		return false
	}
	d.met.UpdatesMerged.WithLabelValues(ks.key.Interval).Inc()

	start := time.Now()
	vec := indicator.Compute(res.Snapshot)
	trend := indicator.Classify(vec)
	sigs := indicator.GetSignals(vec, trend)
	d.met.ComputeDur.Observe(time.Since(start).Seconds())

	d.mu.Lock()
	ks.lastVector, ks.lastTrend, ks.lastSignals = vec, &trend, &sigs
	ks.reopened = false
	d.mu.Unlock()

	event := EventProgress
	if res.Final {
		event = EventUpdate
	}
	c := u.Candle
	p := &Payload{
		Event:   event,
		Key:     ks.key,
		Candle:  &c,
		Vector:  vec,
		Trend:   &trend,
		Signals: &sigs,
	}
	d.fanout(ks, p)
	d.mirror(p)
	return false
}

// reopenKline attempts the single allowed reopen after an unexpected stream
// close. Returns false when the key should go idle instead.
func (d *Dispatcher) reopenKline(ctx context.Context, ks *keyState) bool {
	if !d.mayReopen(ks) {
		d.teardown(ks, "upstream stream lost")
		return false
	}
	h, err := d.feed.OpenKlineStream(ctx, ks.key.Symbol, ks.key.Interval, ks.inbound)
	if err != nil {
		d.teardown(ks, "upstream stream lost")
		return false
	}
	if !d.setHandle(ks, h) {
		// The key went idle while the reopen was in flight.
		h.Stop()
		return false
	}
	d.log.Info("upstream kline stream reopened", zap.String("key", ks.key.String()))
	return true
}

func (d *Dispatcher) reopenTicker(ctx context.Context, ks *keyState) bool {
	if !d.mayReopen(ks) {
		d.teardown(ks, "upstream stream lost")
		return false
	}
	h, err := d.feed.OpenTickerStream(ctx, ks.key.Symbol, ks.ticks)
	if err != nil {
		d.teardown(ks, "upstream stream lost")
		return false
	}
	if !d.setHandle(ks, h) {
		h.Stop()
		return false
	}
	d.log.Info("upstream ticker stream reopened", zap.String("key", ks.key.String()))
	return true
}

// setHandle installs the key's current stream handle under the registry
// lock. Returns false when the key has been dropped from the registry, in
// which case the caller owns the handle and must stop it.
func (d *Dispatcher) setHandle(ks *keyState, h feed.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keys[ks.key] != ks {
		return false
	}
	ks.handle = h
	return true
}

// mayReopen allows one reopen per incident, and only while subscribers remain.
func (d *Dispatcher) mayReopen(ks *keyState) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(ks.subs) == 0 || ks.reopened {
		return false
	}
	ks.reopened = true
	d.met.StreamReopens.Inc()
	return true
}

// fanout delivers p to every subscriber of ks. A failing subscriber is
// removed; its failure never blocks or fails delivery to its peers.
func (d *Dispatcher) fanout(ks *keyState, p *Payload) {
	d.mu.Lock()
	subs := snapshotSubs(ks)
	d.mu.Unlock()

	var dead []string
	for _, s := range subs {
		if err := s.Send(p); err != nil {
			d.log.Warn("subscriber send failed, removing",
				zap.String("key", ks.key.String()),
				zap.String("subscriber", s.ID()),
				zap.Error(err))
			dead = append(dead, s.ID())
			continue
		}
		d.met.PayloadsFanout.Inc()
	}
	for _, id := range dead {
		d.removeSub(ks.key, id, "send_error")
	}
}

// mirror publishes p to the external bus when one is configured.
func (d *Dispatcher) mirror(p *Payload) {
	if d.pub == nil {
		return
	}
	if err := d.pub.Publish(p); err != nil {
		d.log.Warn("payload mirror publish failed",
			zap.String("key", p.Key.String()), zap.Error(err))
	}
}

// removeSub drops one subscriber and closes the key when none remain.
func (d *Dispatcher) removeSub(key model.Key, subID, reason string) {
	d.mu.Lock()
	ks, ok := d.keys[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	if _, present := ks.subs[subID]; !present {
		d.mu.Unlock()
		return
	}
	delete(ks.subs, subID)
	empty := len(ks.subs) == 0
	var h feed.Handle
	var cancel context.CancelFunc
	if empty {
		delete(d.keys, key)
		h, cancel = ks.handle, ks.cancel
	}
	d.mu.Unlock()

	d.met.ActiveSubs.Dec()
	if reason == "send_error" {
		d.met.SubscriberDrops.WithLabelValues(reason).Inc()
	}
	if empty {
		d.idle(key, h, cancel)
	}
}

// idle closes the upstream stream for a key with no subscribers left. The
// handle and cancel func were captured under the registry lock; an in-flight
// reopen finds the key gone and stops its own handle.
func (d *Dispatcher) idle(key model.Key, h feed.Handle, cancel context.CancelFunc) {
	if h != nil {
		h.Stop()
	}
	if cancel != nil {
		cancel()
	}
	d.met.ActiveKeys.Dec()
	d.log.Info("key idle, upstream stream closed", zap.String("key", key.String()))
}

// teardown removes a fatally broken key, notifying remaining subscribers.
func (d *Dispatcher) teardown(ks *keyState, msg string) {
	d.mu.Lock()
	_, present := d.keys[ks.key]
	if present {
		delete(d.keys, ks.key)
	}
	subs := snapshotSubs(ks)
	ks.subs = map[string]Subscriber{}
	h, cancel := ks.handle, ks.cancel
	d.mu.Unlock()

	if !present {
		return
	}
	for _, s := range subs {
		s.Send(&Payload{Event: EventError, Key: ks.key, ErrorMsg: msg})
		d.met.ActiveSubs.Dec()
	}
	if h != nil {
		h.Stop()
	}
	if cancel != nil {
		cancel()
	}
	d.met.ActiveKeys.Dec()
}

// buildReplayLocked builds the initial_data (or price_update) replay for a
// late subscriber from the cached last results. Caller holds d.mu.
func (d *Dispatcher) buildReplayLocked(ks *keyState) *Payload {
	if ks.key.IsTicker() {
		if ks.lastTicker == nil {
			return nil
		}
		return &Payload{Event: EventPriceUpdate, Key: ks.key, Ticker: ks.lastTicker}
	}
	if ks.lastVector == nil {
		return nil
	}
	return &Payload{
		Event:   EventInitialData,
		Key:     ks.key,
		Candles: d.store.Snapshot(ks.key),
		Vector:  ks.lastVector,
		Trend:   ks.lastTrend,
		Signals: ks.lastSignals,
	}
}

func snapshotSubs(ks *keyState) []Subscriber {
	out := make([]Subscriber, 0, len(ks.subs))
	for _, s := range ks.subs {
		out = append(out, s)
	}
	return out
}
