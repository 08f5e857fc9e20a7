// Package macro maintains a market-wide policy overlay: one sentiment pass
// over macro news plus a long-horizon adaptive memory keyed "MACRO", blended
// into a single score every symbol's signal picks up as a component.
package macro

import (
	"context"
	"log"
	"strings"

	"automatic-succotash/internal/domain"
	"automatic-succotash/internal/memory"
	"automatic-succotash/internal/sentiment"
)

// MemoryKey scopes the overlay's slot in the adaptive-memory document.
const MemoryKey = "MACRO"

// Collector fetches market-wide research items for a query.
type Collector interface {
	Collect(ctx context.Context, symbol, query string) ([]domain.ResearchItem, error)
}

// Analyzer derives an AI judgment from research items. Nil means disabled.
type Analyzer interface {
	Outlook(ctx context.Context, symbol, query string, items []domain.ResearchItem) (domain.AIOutlook, error)
}

// Config tunes the overlay blend.
type Config struct {
	Enabled           bool
	Query             string
	LookbackHours     int
	MaxItems          int
	HeadlineWeight    float64
	AIShortTermWeight float64
	AILongTermWeight  float64
}

// Overlay evaluates the market-wide assessment once per cycle.
type Overlay struct {
	cfg       Config
	collector Collector
	analyzer  Analyzer
	memory    *memory.Memory
}

func NewOverlay(cfg Config, collector Collector, analyzer Analyzer, mem *memory.Memory) *Overlay {
	cfg.Query = strings.TrimSpace(cfg.Query)
	if cfg.LookbackHours < 1 {
		cfg.LookbackHours = 1
	}
	if cfg.MaxItems < 1 {
		cfg.MaxItems = 1
	}
	return &Overlay{cfg: cfg, collector: collector, analyzer: analyzer, memory: mem}
}

// Evaluate produces the cycle's macro assessment. Disabled or unconfigured
// overlays return score 0 with the stored long-term memory for observability.
// Research failures degrade to an empty item set, never an error.
func (o *Overlay) Evaluate(ctx context.Context) domain.MacroAssessment {
	if !o.cfg.Enabled || o.cfg.Query == "" {
		return domain.MacroAssessment{
			Enabled:       false,
			AILongTerm:    o.memory.Get(MemoryKey),
			LookbackHours: o.cfg.LookbackHours,
			Query:         o.cfg.Query,
		}
	}

	var items []domain.ResearchItem
	if o.collector != nil {
		fetched, err := o.collector.Collect(ctx, MemoryKey, o.cfg.Query)
		if err != nil {
			log.Printf("macro: research lookup failed: %v", err)
		} else {
			items = fetched
		}
	}
	if len(items) > o.cfg.MaxItems {
		items = items[:o.cfg.MaxItems]
	}

	headline, _, _ := sentiment.Blend(items, nil)

	aiShort := 0.0
	aiConfidence := 0.0
	aiLong := o.memory.Get(MemoryKey)
	if o.analyzer != nil && len(items) > 0 {
		outlook, err := o.analyzer.Outlook(ctx, MemoryKey, o.cfg.Query, items)
		if err != nil {
			log.Printf("macro: ai outlook failed: %v", err)
		} else {
			aiConfidence = clamp(outlook.Confidence, 0, 1)
			aiShort = clamp(outlook.ShortTerm, -1, 1) * aiConfidence
			fresh := clamp(outlook.LongTerm, -1, 1) * aiConfidence
			aiLong = o.memory.Update(ctx, MemoryKey, fresh)
		}
	}

	score := clamp(
		o.cfg.HeadlineWeight*headline+
			o.cfg.AIShortTermWeight*aiShort+
			o.cfg.AILongTermWeight*aiLong,
		-1, 1,
	)

	return domain.MacroAssessment{
		Enabled:           true,
		Score:             score,
		HeadlineSentiment: headline,
		AIShortTerm:       aiShort,
		AILongTerm:        aiLong,
		AIConfidence:      aiConfidence,
		ItemCount:         len(items),
		LookbackHours:     o.cfg.LookbackHours,
		Query:             o.cfg.Query,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
