package learning

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"automatic-succotash/internal/domain"
)

// StateKey is the persistence key the learning document lives under.
const StateKey = "decision_learning"

// Journal event names appended on learning mutations.
const (
	EventCallOpened            = "decision_call_opened"
	EventCallResolved          = "decision_call_resolved"
	EventMarketReactionUpdated = "source_market_reaction_updated"
)

// StateStore persists the serialized learning document.
type StateStore interface {
	LoadDocument(ctx context.Context, key string, out any) (bool, error)
	SaveDocument(ctx context.Context, key string, doc any) error
}

// Journal records an append-only trail of learning events.
type Journal interface {
	Append(ctx context.Context, event, symbol string, payload any) error
}

// Config tunes the outcome-learning loop.
type Config struct {
	EvaluationHorizon       time.Duration
	BadCallReturnThreshold  float64
	GoodCallReturnThreshold float64
	LearningRate            float64
	MaxFeaturePenalty       float64
	EnableSourceLearning    bool
	SourceLearningRate      float64
	MaxSourceBias           float64
	MarketReactionStrength  float64
}

// OpenCall is a pending directional prediction awaiting its horizon.
type OpenCall struct {
	ID             string                       `json:"id"`
	Symbol         string                       `json:"symbol"`
	CreatedAt      string                       `json:"created_at"`
	EntryPrice     float64                      `json:"entry_price"`
	SignalScore    float64                      `json:"signal_score"`
	FeatureProfile map[string]float64           `json:"feature_profile"`
	SourceProfile  map[string]domain.SourceStat `json:"source_profile"`
	Rationale      []RationaleEntry             `json:"rationale"`
	Kind           string                       `json:"kind"`
}

// Call kinds, chosen from the score relative to the option threshold.
const (
	CallKindEquity  = "equity_focus"
	CallKindOptions = "options_focus"
)

// Outcome labels for resolved calls.
const (
	OutcomeBad     = "bad_call"
	OutcomeGood    = "good_call"
	OutcomeNeutral = "neutral"
)

// Resolution is the journaled outcome of a matured call.
type Resolution struct {
	CallID         string             `json:"call_id"`
	Symbol         string             `json:"symbol"`
	Kind           string             `json:"kind"`
	OpenedAt       string             `json:"opened_at"`
	ResolvedAt     string             `json:"resolved_at"`
	EntryPrice     float64            `json:"entry_price"`
	ResolvedPrice  float64            `json:"resolved_price"`
	RealizedReturn float64            `json:"realized_return"`
	Outcome        string             `json:"outcome"`
	WhyCallMade    []RationaleEntry   `json:"why_call_made,omitempty"`
	WhyBad         []string           `json:"why_bad,omitempty"`
	PenaltyUpdate  map[string]float64 `json:"penalty_update,omitempty"`
	SourceUpdate   map[string]float64 `json:"source_priority_update,omitempty"`
}

type marketObservation struct {
	Timestamp     string                       `json:"timestamp"`
	Price         float64                      `json:"price"`
	SourceProfile map[string]domain.SourceStat `json:"source_profile"`
}

type state struct {
	FeaturePenalties   map[string]float64           `json:"feature_penalties"`
	SourceBias         map[string]float64           `json:"source_bias"`
	OpenCalls          map[string]OpenCall          `json:"open_calls"`
	MarketObservations map[string]marketObservation `json:"market_observations"`
}

func emptyState() state {
	return state{
		FeaturePenalties:   map[string]float64{},
		SourceBias:         map[string]float64{},
		OpenCalls:          map[string]OpenCall{},
		MarketObservations: map[string]marketObservation{},
	}
}

// Store accumulates feature penalties and source bias from realized call
// outcomes and market reactions, and feeds both back into future scoring.
// Calls move absent -> open -> resolved (removed), at most one per symbol.
type Store struct {
	store   StateStore
	journal Journal
	cfg     Config

	mu sync.Mutex
	st state

	now func() time.Time
}

// NewStore loads the persisted learning document. A load failure or corrupt
// document starts from a clean slate and logs.
func NewStore(ctx context.Context, store StateStore, journal Journal, cfg Config) *Store {
	cfg.MarketReactionStrength = clamp(cfg.MarketReactionStrength, 0, 1)
	s := &Store{
		store:   store,
		journal: journal,
		cfg:     cfg,
		st:      emptyState(),
		now:     time.Now,
	}

	var loaded state
	found, err := store.LoadDocument(ctx, StateKey, &loaded)
	if err != nil {
		log.Printf("learning: load state: %v", err)
		return s
	}
	if found {
		if loaded.FeaturePenalties != nil {
			s.st.FeaturePenalties = loaded.FeaturePenalties
		}
		if loaded.SourceBias != nil {
			s.st.SourceBias = loaded.SourceBias
		}
		if loaded.OpenCalls != nil {
			s.st.OpenCalls = loaded.OpenCalls
		}
		if loaded.MarketObservations != nil {
			s.st.MarketObservations = loaded.MarketObservations
		}
	}
	return s
}

// AdjustmentFor returns the non-positive score adjustment implied by the
// accumulated feature penalties against a profile's positive exposures.
func (s *Store) AdjustmentFor(profile map[string]float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	adjustment := 0.0
	for key, penalty := range s.st.FeaturePenalties {
		if penalty <= 0 {
			continue
		}
		adjustment -= penalty * math.Max(0, profile[key])
	}
	return adjustment
}

// SourceMultiplierFor converts a source's learned bias into a sentiment
// weight multiplier.
func (s *Store) SourceMultiplierFor(sourceType string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return multiplierFromBias(s.st.SourceBias[domain.NormalizeSourceType(sourceType)])
}

// SourceMultipliersFor returns multipliers for every requested source type.
func (s *Store) SourceMultipliersFor(sourceTypes []string) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64, len(sourceTypes))
	for _, raw := range sourceTypes {
		st := domain.NormalizeSourceType(raw)
		out[st] = multiplierFromBias(s.st.SourceBias[st])
	}
	return out
}

func multiplierFromBias(bias float64) float64 {
	return clamp(1.0+bias, 0.25, 2.0)
}

// FeaturePenalties returns a copy of the current penalty map.
func (s *Store) FeaturePenalties() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyFloats(s.st.FeaturePenalties)
}

// SourceBias returns a copy of the current per-source bias map.
func (s *Store) SourceBias() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyFloats(s.st.SourceBias)
}

// OpenCalls returns a copy of the pending calls keyed by symbol.
func (s *Store) OpenCalls() map[string]OpenCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]OpenCall, len(s.st.OpenCalls))
	for k, v := range s.st.OpenCalls {
		out[k] = v
	}
	return out
}

// MaybeRecordCall opens a call when the score clears the lower of the entry
// and option thresholds. A second call while one is open is a no-op.
func (s *Store) MaybeRecordCall(ctx context.Context, signal domain.Signal, profile map[string]float64, sourceProfile map[string]domain.SourceStat, entryThreshold, optionThreshold float64) {
	if signal.Score < math.Min(entryThreshold, optionThreshold) {
		return
	}

	symbol := strings.ToUpper(signal.Symbol)

	s.mu.Lock()
	if _, exists := s.st.OpenCalls[symbol]; exists {
		s.mu.Unlock()
		return
	}

	kind := CallKindEquity
	if signal.Score >= optionThreshold {
		kind = CallKindOptions
	}

	call := OpenCall{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		CreatedAt:      s.now().UTC().Format(time.RFC3339),
		EntryPrice:     signal.Price,
		SignalScore:    signal.Score,
		FeatureProfile: profile,
		SourceProfile:  normalizeSourceProfile(sourceProfile),
		Rationale:      CallRationale(profile, 3),
		Kind:           kind,
	}
	s.st.OpenCalls[symbol] = call
	s.mu.Unlock()

	s.save(ctx)
	s.logEvent(ctx, EventCallOpened, symbol, call)
}

// MaybeResolveCall resolves the symbol's open call once its evaluation
// horizon has elapsed, updating feature penalties and source bias from the
// realized return. Calls with an unparseable timestamp or non-positive entry
// price are dropped silently. Returns nil when nothing matured.
func (s *Store) MaybeResolveCall(ctx context.Context, symbol string, currentPrice float64) *Resolution {
	if currentPrice <= 0 {
		return nil
	}
	key := strings.ToUpper(symbol)

	s.mu.Lock()
	call, ok := s.st.OpenCalls[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	createdAt, err := time.Parse(time.RFC3339, call.CreatedAt)
	if err != nil || call.EntryPrice <= 0 {
		delete(s.st.OpenCalls, key)
		s.mu.Unlock()
		s.save(ctx)
		return nil
	}

	now := s.now()
	if now.Sub(createdAt) < s.cfg.EvaluationHorizon {
		s.mu.Unlock()
		return nil
	}
	delete(s.st.OpenCalls, key)

	realized := currentPrice/call.EntryPrice - 1.0

	outcome := OutcomeNeutral
	switch {
	case realized <= s.cfg.BadCallReturnThreshold:
		outcome = OutcomeBad
	case realized >= s.cfg.GoodCallReturnThreshold:
		outcome = OutcomeGood
	}

	penaltyUpdate := s.updatePenaltiesLocked(call.FeatureProfile, realized, outcome)
	sourceUpdate := s.updateSourceBiasLocked(call.SourceProfile, realized, 1.0)

	resolution := &Resolution{
		CallID:         call.ID,
		Symbol:         key,
		Kind:           call.Kind,
		OpenedAt:       call.CreatedAt,
		ResolvedAt:     now.UTC().Format(time.RFC3339),
		EntryPrice:     call.EntryPrice,
		ResolvedPrice:  currentPrice,
		RealizedReturn: realized,
		Outcome:        outcome,
		WhyCallMade:    call.Rationale,
		PenaltyUpdate:  penaltyUpdate,
		SourceUpdate:   sourceUpdate,
	}
	if outcome == OutcomeBad {
		resolution.WhyBad = FailureTags(call.FeatureProfile, realized)
	}
	s.mu.Unlock()

	s.save(ctx)
	s.logEvent(ctx, EventCallResolved, key, resolution)
	return resolution
}

// updatePenaltiesLocked applies the outcome to every positively exposed
// feature of the resolved call. Caller holds s.mu.
func (s *Store) updatePenaltiesLocked(profile map[string]float64, realized float64, outcome string) map[string]float64 {
	if outcome == OutcomeNeutral {
		return nil
	}

	magnitude := math.Min(math.Abs(realized)/0.05, 2.0)
	step := s.cfg.LearningRate * magnitude
	if outcome == OutcomeGood {
		step = -0.5 * step
	}

	changed := map[string]float64{}
	for key, exposure := range profile {
		if exposure <= 0 {
			continue
		}
		before := s.st.FeaturePenalties[key]
		after := clamp(before+step*exposure, 0, s.cfg.MaxFeaturePenalty)
		if after != before {
			s.st.FeaturePenalties[key] = after
			changed[key] = after - before
		}
	}
	return changed
}

// updateSourceBiasLocked nudges per-source bias toward sources whose
// sentiment agreed with the realized move. Caller holds s.mu.
func (s *Store) updateSourceBiasLocked(profile map[string]domain.SourceStat, realized, channelWeight float64) map[string]float64 {
	if !s.cfg.EnableSourceLearning || len(profile) == 0 {
		return nil
	}

	realizedSignal := clamp(realized/0.05, -2.0, 2.0)
	if realizedSignal == 0 {
		return nil
	}

	totalCount := 0
	for _, stat := range profile {
		if stat.Count > 0 {
			totalCount += stat.Count
		}
	}
	if totalCount <= 0 {
		return nil
	}

	changed := map[string]float64{}
	for sourceType, stat := range profile {
		sentiment := clamp(stat.Sentiment, -1, 1)
		if stat.Count <= 0 || sentiment == 0 {
			continue
		}
		influence := math.Min(1.0, math.Abs(sentiment)) * (float64(stat.Count) / float64(totalCount))
		delta := s.cfg.SourceLearningRate * channelWeight * realizedSignal * sentiment * influence
		if delta == 0 {
			continue
		}
		before := s.st.SourceBias[sourceType]
		after := clamp(before+delta, -s.cfg.MaxSourceBias, s.cfg.MaxSourceBias)
		if after != before {
			s.st.SourceBias[sourceType] = after
			changed[sourceType] = after - before
		}
	}
	return changed
}

// UpdateFromMarketReaction compares the symbol's previous (price, source
// profile) observation against the current price and lets source trust drift
// without a trade. The current observation is always recorded.
func (s *Store) UpdateFromMarketReaction(ctx context.Context, symbol string, currentPrice float64, sourceProfile map[string]domain.SourceStat) {
	if currentPrice <= 0 || !s.cfg.EnableSourceLearning {
		return
	}
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if key == "" {
		return
	}

	normalized := normalizeSourceProfile(sourceProfile)

	s.mu.Lock()
	var event map[string]any
	if prior, ok := s.st.MarketObservations[key]; ok && prior.Price > 0 && len(prior.SourceProfile) > 0 {
		realized := currentPrice/prior.Price - 1.0
		if updates := s.updateSourceBiasLocked(prior.SourceProfile, realized, s.cfg.MarketReactionStrength); len(updates) > 0 {
			event = map[string]any{
				"symbol":            key,
				"reference_price":   prior.Price,
				"current_price":     currentPrice,
				"realized_return":   realized,
				"source_update":     updates,
				"source_bias_after": copyFloats(s.st.SourceBias),
			}
		}
	}
	s.st.MarketObservations[key] = marketObservation{
		Timestamp:     s.now().UTC().Format(time.RFC3339),
		Price:         currentPrice,
		SourceProfile: normalized,
	}
	s.mu.Unlock()

	s.save(ctx)
	if event != nil {
		s.logEvent(ctx, EventMarketReactionUpdated, key, event)
	}
}

func (s *Store) save(ctx context.Context) {
	s.mu.Lock()
	snapshot := s.st
	s.mu.Unlock()

	if err := s.store.SaveDocument(ctx, StateKey, snapshot); err != nil {
		log.Printf("learning: save state: %v", err)
	}
}

func (s *Store) logEvent(ctx context.Context, event, symbol string, payload any) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(ctx, event, symbol, payload); err != nil {
		log.Printf("learning: journal %s: %v", event, err)
	}
}

// normalizeSourceProfile drops entries without observations and clamps
// sentiment and multiplier into their valid ranges.
func normalizeSourceProfile(profile map[string]domain.SourceStat) map[string]domain.SourceStat {
	out := make(map[string]domain.SourceStat, len(profile))
	for raw, stat := range profile {
		if stat.Count <= 0 {
			continue
		}
		multiplier := stat.Multiplier
		if multiplier == 0 {
			multiplier = 1.0
		}
		out[domain.NormalizeSourceType(raw)] = domain.SourceStat{
			Sentiment:  clamp(stat.Sentiment, -1, 1),
			Count:      stat.Count,
			Multiplier: clamp(multiplier, 0.1, 3.0),
		}
	}
	return out
}

// SortedFeaturePenalties lists non-zero penalties in descending order.
func (s *Store) SortedFeaturePenalties() []RationaleEntry {
	penalties := s.FeaturePenalties()
	out := make([]RationaleEntry, 0, len(penalties))
	for _, key := range FeatureKeys {
		if v, ok := penalties[key]; ok && v > 0 {
			out = append(out, RationaleEntry{Driver: key, Contribution: v})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Contribution > out[j].Contribution })
	return out
}

func copyFloats(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
