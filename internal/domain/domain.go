package domain

import (
	"strings"
	"time"
)

// Research source types the learning layer tracks bias for.
const (
	SourceNews               = "news"
	SourceSECFiling          = "sec_filing"
	SourceEarningsTranscript = "earnings_transcript"
	SourceSocial             = "social"
	SourceAnalystRating      = "analyst_rating"
	SourceUnknown            = "unknown"
)

// DefaultSourceTypes lists the source types seeded into a fresh learning store.
var DefaultSourceTypes = []string{
	SourceNews,
	SourceSECFiling,
	SourceEarningsTranscript,
	SourceSocial,
	SourceAnalystRating,
	SourceUnknown,
}

// ResearchItem is one piece of research collected for a symbol or macro query.
// Collectors are expected to deduplicate and time-filter before returning.
type ResearchItem struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Content     string     `json:"content,omitempty"`
	Source      string     `json:"source"`
	SourceType  string     `json:"source_type"`
	Link        string     `json:"link"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// NormalizedSourceType lowercases the source type, mapping blanks to "unknown".
func (r ResearchItem) NormalizedSourceType() string {
	return NormalizeSourceType(r.SourceType)
}

func NormalizeSourceType(raw string) string {
	clean := strings.ToLower(strings.TrimSpace(raw))
	if clean == "" {
		return SourceUnknown
	}
	return clean
}

// SourceStat captures one source type's contribution to a symbol's sentiment
// in a single cycle. A map of these keyed by source type is a "source profile".
type SourceStat struct {
	Sentiment  float64 `json:"sentiment"`
	Count      int     `json:"count"`
	Multiplier float64 `json:"multiplier"`
}

// Signal is an immutable per-symbol snapshot for one cycle. Derived
// adjustments (macro component, learned adjustment) produce new values so
// score provenance stays inspectable.
type Signal struct {
	Symbol              string  `json:"symbol"`
	Price               float64 `json:"price"`
	Momentum20d         float64 `json:"momentum_20d"`
	Momentum5d          float64 `json:"momentum_5d"`
	Trend20d            float64 `json:"trend_20d"`
	Volatility20d       float64 `json:"volatility_20d"`
	NewsScore           float64 `json:"news_score"`
	CurrentNewsScore    float64 `json:"current_news_score"`
	HistoricalNewsScore float64 `json:"historical_news_score"`
	AIShortTerm         float64 `json:"ai_short_term_score"`
	AILongTerm          float64 `json:"ai_long_term_score"`
	AIConfidence        float64 `json:"ai_confidence"`
	MacroScore          float64 `json:"macro_score"`
	Score               float64 `json:"score"`
}

// WithScoreDelta returns a copy with the delta added to the composite score.
func (s Signal) WithScoreDelta(delta float64) Signal {
	s.Score += delta
	return s
}

// WithMacro returns a copy carrying the macro score and its score component.
func (s Signal) WithMacro(macroScore, component float64) Signal {
	s.MacroScore = macroScore
	s.Score += component
	return s
}

// WithNewsBreakdown returns a copy carrying the raw current and smoothed
// historical news components behind the blended NewsScore.
func (s Signal) WithNewsBreakdown(current, historical float64) Signal {
	s.CurrentNewsScore = current
	s.HistoricalNewsScore = historical
	return s
}

// Trade order asset types and instructions.
const (
	AssetEquity = "EQUITY"
	AssetOption = "OPTION"

	InstructionBuy         = "BUY"
	InstructionSell        = "SELL"
	InstructionBuyToOpen   = "BUY_TO_OPEN"
	InstructionSellToClose = "SELL_TO_CLOSE"
)

// TradeOrder is the planner's output, handed to the broker collaborator.
// Never persisted by this core.
type TradeOrder struct {
	AssetType   string   `json:"asset_type"`
	Symbol      string   `json:"symbol"`
	Instruction string   `json:"instruction"`
	Quantity    int      `json:"quantity"`
	LimitPrice  *float64 `json:"limit_price,omitempty"`
	Reason      string   `json:"reason"`
}

// PortfolioSnapshot is the broker's view of the account at cycle start.
type PortfolioSnapshot struct {
	Cash            float64        `json:"cash"`
	EquityPositions map[string]int `json:"equity_positions"`
	OptionPositions map[string]int `json:"option_positions"`
}

// AIOutlook is a model-derived directional judgment for one symbol or for
// the market as a whole. Zero value means "no opinion".
type AIOutlook struct {
	ShortTerm  float64 `json:"short_term"`
	LongTerm   float64 `json:"long_term"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// DecisionPlan is an externally proposed trade plan (typically LLM-built).
// The planner reconciles it against the rule-based path.
type DecisionPlan struct {
	EquityBuySymbols  []string          `json:"equity_buy_symbols"`
	OptionBuySymbols  []string          `json:"option_buy_symbols"`
	ExitSymbols       []string          `json:"exit_symbols"`
	Confidence        float64           `json:"confidence"`
	Summary           string            `json:"summary"`
	RationaleBySymbol map[string]string `json:"rationale_by_symbol,omitempty"`
}

// MacroAssessment is the market-wide overlay consumed by every symbol.
type MacroAssessment struct {
	Enabled           bool    `json:"enabled"`
	Score             float64 `json:"score"`
	HeadlineSentiment float64 `json:"headline_sentiment"`
	AIShortTerm       float64 `json:"ai_short_term"`
	AILongTerm        float64 `json:"ai_long_term"`
	AIConfidence      float64 `json:"ai_confidence"`
	ItemCount         int     `json:"item_count"`
	LookbackHours     int     `json:"lookback_hours"`
	Query             string  `json:"query"`
}

// ScoreStats summarizes the cycle's signal score distribution.
type ScoreStats struct {
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
}

// DecisionMetadata explains what the cycle decided and why, for reporting.
type DecisionMetadata struct {
	AccountEquity         float64        `json:"account_equity"`
	SignalsGenerated      int            `json:"signals_generated"`
	EquityEntryCandidates int            `json:"equity_entry_candidates"`
	OptionEntryCandidates int            `json:"option_entry_candidates"`
	OrdersProposed        int            `json:"orders_proposed"`
	OrdersByAssetType     map[string]int `json:"orders_by_asset_type"`
	OrdersByInstruction   map[string]int `json:"orders_by_instruction"`
	ScoreStats            ScoreStats     `json:"score_stats"`
	TopSignalSymbol       string         `json:"top_signal_symbol"`
	TopSignalScore        float64        `json:"top_signal_score"`
	NoTradeReason         string         `json:"no_trade_reason"`
	PlanGenerated         bool           `json:"plan_generated"`
	PlanUsed              bool           `json:"plan_used"`
	PlanConfidence        float64        `json:"plan_confidence"`
	PlanSummary           string         `json:"plan_summary"`
}

// CollectionMetadata explains how much research the cycle saw.
type CollectionMetadata struct {
	SymbolsAnalyzed       int             `json:"symbols_analyzed"`
	SymbolsWithMarketData int             `json:"symbols_with_market_data"`
	SymbolsWithResearch   int             `json:"symbols_with_research"`
	ResearchItemsTotal    int             `json:"research_items_total"`
	ResearchItemsBySource map[string]int  `json:"research_items_by_source"`
	ResearchItemsBySymbol map[string]int  `json:"research_items_by_symbol"`
	FeedbackEvents        int             `json:"feedback_events"`
	Macro                 MacroAssessment `json:"macro"`
}

// CycleResult is the full output of one decision cycle, the contract for
// downstream reporting collaborators. Plain serializable records only.
type CycleResult struct {
	RanAt              time.Time          `json:"ran_at"`
	ExecuteOrders      bool               `json:"execute_orders"`
	Cash               float64            `json:"cash"`
	AccountEquity      float64            `json:"account_equity"`
	EquityPositions    map[string]int     `json:"equity_positions"`
	OptionPositions    map[string]int     `json:"option_positions"`
	Signals            []Signal           `json:"signals"`
	Orders             []TradeOrder       `json:"orders"`
	Decision           DecisionMetadata   `json:"decision_metadata"`
	Collection         CollectionMetadata `json:"collection_metadata"`
	FeaturePenalties   map[string]float64 `json:"feature_penalties"`
	SourceBias         map[string]float64 `json:"source_bias"`
	Plan               *DecisionPlan      `json:"plan,omitempty"`
	PlanUsed           bool               `json:"plan_used"`
}
