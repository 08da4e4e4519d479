package window

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"torypto-stream/internal/model"
)

// DefaultCapacity is the per-key window size when none is configured.
const DefaultCapacity = 100

var (
	// ErrInvalidSeed is returned when a history batch is empty or not
	// strictly ordered by open time.
	ErrInvalidSeed = errors.New("window: invalid seed batch")

	// ErrInvariant marks an ordering violation after a mutation. This is a
	// bug class, fatal to the affected key's processing.
	ErrInvariant = errors.New("window: ordering invariant violated")
)

// MergeResult reports the outcome of one Merge call.
type MergeResult struct {
	Changed bool
	Final   bool // the update that changed the window was a finalized candle
	// Snapshot is an immutable copy of the window after the merge.
	// Nil when Changed is false.
	Snapshot []model.Candle
}

// Store owns all rolling windows, one per key. The map is guarded by a
// short-held mutex; window contents are only reachable through snapshots, so
// indicator computation never runs under the lock.
type Store struct {
	mu       sync.RWMutex
	windows  map[model.Key]*Window
	capacity int
	log      *zap.Logger
}

// NewStore creates a Store with the given per-window capacity.
func NewStore(capacity int, log *zap.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		windows:  make(map[model.Key]*Window),
		capacity: capacity,
		log:      log,
	}
}

// GetOrCreate returns the window for key, creating an empty one on first use.
func (s *Store) GetOrCreate(key model.Key) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		w = newWindow(s.capacity)
		s.windows[key] = w
	}
	return w
}

// Seed replaces the window contents with a fetched history batch. The batch
// must be non-empty and strictly increasing by open time; the newest
// s.capacity candles are kept. All seeded candles are treated as finalized.
func (s *Store) Seed(key model.Key, candles []model.Candle) error {
	if len(candles) == 0 {
		return fmt.Errorf("%w: empty history for %s", ErrInvalidSeed, key)
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			return fmt.Errorf("%w: non-monotonic open time at index %d for %s",
				ErrInvalidSeed, i, key)
		}
	}

	w := s.GetOrCreate(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	w.ring.reset()
	if len(candles) > s.capacity {
		candles = candles[len(candles)-s.capacity:]
	}
	for _, c := range candles {
		w.ring.push(c)
	}
	w.formingTail = false
	return nil
}

// Merge applies one candle update to the window for update.Key().
//
// Semantics:
//   - open time newer than the tail: append (evicting the oldest candle once
//     over capacity); a still-forming previous tail is promoted to final.
//   - open time equal to the tail: replace the tail in place. This covers a
//     progressing candle tick and the finalizing update for a forming tail.
//     Replaying an identical finalized candle reports Changed=false.
//   - open time older than the tail: stale, discarded, Changed=false.
//
// Returns ErrInvariant if ordering does not hold after the mutation.
func (s *Store) Merge(key model.Key, update model.CandleUpdate) (MergeResult, error) {
	w := s.GetOrCreate(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := update.Candle
	if w.ring.len() == 0 {
		w.ring.push(c)
		w.formingTail = !update.IsFinal
		return MergeResult{Changed: true, Final: update.IsFinal, Snapshot: w.ring.snapshot()}, nil
	}

	tail := w.ring.tail()
	switch {
	case c.OpenTime.After(tail.OpenTime):
		// The previous tail is implicitly closed once a newer bucket opens,
		// even if its finalizing update was lost.
		w.formingTail = !update.IsFinal
		w.ring.push(c)

	case c.OpenTime.Equal(tail.OpenTime):
		if !w.formingTail {
			if !update.IsFinal {
				// Progress tick for an already-finalized bucket: stale.
				return MergeResult{}, nil
			}
			if candlesEqual(tail, c) {
				// Identical final replay: idempotent.
				return MergeResult{}, nil
			}
		}
		w.ring.replaceTail(c)
		w.formingTail = !update.IsFinal

	default:
		// Older than the tail: stale update, window untouched.
		return MergeResult{}, nil
	}

	if err := w.checkOrdering(); err != nil {
		s.log.Error("window invariant violated",
			zap.String("key", key.String()),
			zap.Time("open_time", c.OpenTime),
			zap.Error(err))
		return MergeResult{}, err
	}

	return MergeResult{Changed: true, Final: update.IsFinal, Snapshot: w.ring.snapshot()}, nil
}

// Snapshot returns a copy of the window for key, or nil if none exists.
func (s *Store) Snapshot(key model.Key) []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[key]
	if !ok {
		return nil
	}
	return w.ring.snapshot()
}

// Drop removes the window for key. The dispatcher retains windows across
// idle transitions by default; Drop exists for bounded-memory policies.
func (s *Store) Drop(key model.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
}

// Keys returns the keys with a live window.
func (s *Store) Keys() []model.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]model.Key, 0, len(s.windows))
	for k := range s.windows {
		keys = append(keys, k)
	}
	return keys
}

// candlesEqual compares two candles field by field, using time.Time.Equal so
// replayed updates match regardless of monotonic clock readings.
func candlesEqual(a, b model.Candle) bool {
	return a.OpenTime.Equal(b.OpenTime) &&
		a.CloseTime.Equal(b.CloseTime) &&
		a.Open == b.Open && a.High == b.High &&
		a.Low == b.Low && a.Close == b.Close &&
		a.Volume == b.Volume
}

// checkOrdering verifies strict OpenTime ordering across the whole ring.
// Cheap at window capacities in the low hundreds.
func (w *Window) checkOrdering() error {
	n := w.ring.len()
	for i := 1; i < n; i++ {
		if !w.ring.at(i).OpenTime.After(w.ring.at(i - 1).OpenTime) {
			return fmt.Errorf("%w: index %d", ErrInvariant, i)
		}
	}
	return nil
}
