package memory

import (
	"context"
	"log"
	"math"
	"strings"
	"time"
)

// Entry is one key's smoothed belief plus the last prediction it staked
// against a reference price.
type Entry struct {
	Score          float64  `json:"score"`
	LastPrediction *float64 `json:"last_prediction,omitempty"`
	LastPrice      *float64 `json:"last_price,omitempty"`
	UpdatedAt      string   `json:"updated_at"`
}

// Store persists the full keyed entry map. Implementations must treat
// missing or corrupt documents as empty rather than failing.
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
}

// Memory is an exponentially-smoothed per-key belief score in [-1,1] with a
// price-feedback correction step. Keys are symbols or "MACRO". Single-writer:
// callers serialize access.
type Memory struct {
	store   Store
	alpha   float64
	entries map[string]Entry
}

func New(ctx context.Context, store Store, alpha float64) *Memory {
	m := &Memory{
		store:   store,
		alpha:   clamp(alpha, 0, 1),
		entries: make(map[string]Entry),
	}
	if store != nil {
		loaded, err := store.Load(ctx)
		if err != nil {
			log.Printf("adaptive memory load failed, starting empty: %v", err)
		} else if loaded != nil {
			m.entries = loaded
		}
	}
	return m
}

// Get returns the stored score for key, or 0 when absent.
func (m *Memory) Get(key string) float64 {
	entry, ok := m.entries[normalizeKey(key)]
	if !ok {
		return 0
	}
	return entry.Score
}

// Update blends a fresh score into the stored one. A new key adopts the
// clamped fresh score directly; an existing key is smoothed with alpha.
func (m *Memory) Update(ctx context.Context, key string, fresh float64) float64 {
	k := normalizeKey(key)
	clamped := clamp(fresh, -1, 1)

	blended := clamped
	if prev, ok := m.entries[k]; ok {
		blended = clamp(m.alpha*clamped+(1-m.alpha)*prev.Score, -1, 1)
	}

	entry := m.entries[k]
	entry.Score = blended
	entry.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	m.entries[k] = entry
	m.save(ctx)
	return blended
}

// RecordPrediction remembers the prediction and the price it was made at,
// for later feedback. No-op when the reference price is not positive.
func (m *Memory) RecordPrediction(ctx context.Context, key string, prediction, referencePrice float64) {
	if referencePrice <= 0 {
		return
	}
	k := normalizeKey(key)
	entry := m.entries[k]
	pred := clamp(prediction, -1, 1)
	entry.LastPrediction = &pred
	price := referencePrice
	entry.LastPrice = &price
	entry.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	m.entries[k] = entry
	m.save(ctx)
}

// ApplyPriceFeedback nudges the stored score toward or away from its own
// prior prediction based on the realized move since the reference price.
// A +/-12.5% move saturates the realized signal. Returns the adjustment
// applied, 0 when no prior prediction exists.
func (m *Memory) ApplyPriceFeedback(ctx context.Context, key string, currentPrice, strength float64) float64 {
	if currentPrice <= 0 {
		return 0
	}
	k := normalizeKey(key)
	entry, ok := m.entries[k]
	if !ok || entry.LastPrediction == nil || entry.LastPrice == nil || *entry.LastPrice <= 0 {
		return 0
	}

	prediction := clamp(*entry.LastPrediction, -1, 1)
	realizedReturn := currentPrice / *entry.LastPrice - 1
	realizedSignal := clamp(realizedReturn/0.125, -1, 1)
	agreement := prediction * realizedSignal
	adjustment := clamp(strength, 0, 1) * agreement * math.Abs(prediction)

	entry.Score = clamp(entry.Score+adjustment, -1, 1)
	price := currentPrice
	entry.LastPrice = &price
	entry.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	m.entries[k] = entry
	m.save(ctx)
	return adjustment
}

func (m *Memory) save(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, m.entries); err != nil {
		log.Printf("adaptive memory save failed: %v", err)
	}
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
