package learning

import (
	"math"
	"sort"

	"automatic-succotash/internal/domain"
)

// Feature keys of the composite score decomposition, in score-weight order.
const (
	FeatureMomentum20d    = "momentum_20d"
	FeatureMomentum5d     = "momentum_5d"
	FeatureTrend20d       = "trend_20d"
	FeatureNewsScore      = "news_score"
	FeatureMacroScore     = "macro_score"
	FeatureAIShortTerm    = "ai_short_term"
	FeatureAILongTerm     = "ai_long_term"
	FeatureVolatilityRisk = "volatility_risk"
)

// FeatureKeys is the canonical iteration order for penalties and profiles.
var FeatureKeys = []string{
	FeatureMomentum20d,
	FeatureMomentum5d,
	FeatureTrend20d,
	FeatureNewsScore,
	FeatureMacroScore,
	FeatureAIShortTerm,
	FeatureAILongTerm,
	FeatureVolatilityRisk,
}

// ProfileWeights are the configurable weights mirrored by the decomposition.
type ProfileWeights struct {
	AIShortTerm float64
	AILongTerm  float64
	Macro       float64
}

// FeatureProfile decomposes a signal's score into named weighted
// contributions, mirroring the composite weights. Volatility is expressed as
// non-negative risk exposure. Used for credit assignment and explanation.
func FeatureProfile(signal domain.Signal, weights ProfileWeights) map[string]float64 {
	return map[string]float64{
		FeatureMomentum20d:    0.45 * signal.Momentum20d,
		FeatureMomentum5d:     0.20 * signal.Momentum5d,
		FeatureTrend20d:       0.20 * signal.Trend20d,
		FeatureNewsScore:      0.25 * signal.NewsScore,
		FeatureMacroScore:     math.Max(0, weights.Macro) * signal.MacroScore,
		FeatureAIShortTerm:    weights.AIShortTerm * signal.AIShortTerm,
		FeatureAILongTerm:     weights.AILongTerm * signal.AILongTerm,
		FeatureVolatilityRisk: 0.15 * clamp(signal.Volatility20d, 0, 1),
	}
}

// RationaleEntry names one driver of a call and its weighted contribution.
type RationaleEntry struct {
	Driver       string  `json:"driver"`
	Contribution float64 `json:"contribution"`
}

// CallRationale ranks the positive non-volatility drivers by contribution and
// keeps the top maxItems. Ties keep the canonical feature order.
func CallRationale(profile map[string]float64, maxItems int) []RationaleEntry {
	ranked := make([]RationaleEntry, 0, len(profile))
	for _, key := range FeatureKeys {
		if key == FeatureVolatilityRisk {
			continue
		}
		value, ok := profile[key]
		if !ok || value <= 0 {
			continue
		}
		ranked = append(ranked, RationaleEntry{Driver: key, Contribution: value})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Contribution > ranked[j].Contribution })
	if len(ranked) > maxItems {
		ranked = ranked[:maxItems]
	}
	return ranked
}

// Diagnosis tags attached to bad-call resolutions.
const (
	TagNewsOverreaction       = "news_overreaction"
	TagMomentumReversal       = "momentum_reversal"
	TagAIThesisMiss           = "ai_thesis_miss"
	TagMacroPolicyMiss        = "macro_policy_miss"
	TagHighVolatilityRegime   = "high_volatility_regime"
	TagGeneralPredictionError = "general_prediction_error"
)

// FailureTags diagnoses a losing call from its top-2 drivers. Empty for
// non-negative returns.
func FailureTags(profile map[string]float64, realizedReturn float64) []string {
	if realizedReturn >= 0 {
		return nil
	}

	drivers := make(map[string]bool, 2)
	for _, entry := range CallRationale(profile, 2) {
		drivers[entry.Driver] = true
	}

	var tags []string
	if drivers[FeatureNewsScore] {
		tags = append(tags, TagNewsOverreaction)
	}
	if drivers[FeatureMomentum20d] || drivers[FeatureMomentum5d] {
		tags = append(tags, TagMomentumReversal)
	}
	if drivers[FeatureAIShortTerm] || drivers[FeatureAILongTerm] {
		tags = append(tags, TagAIThesisMiss)
	}
	if drivers[FeatureMacroScore] {
		tags = append(tags, TagMacroPolicyMiss)
	}
	if profile[FeatureVolatilityRisk] > 0.09 {
		tags = append(tags, TagHighVolatilityRegime)
	}
	if len(tags) == 0 {
		tags = append(tags, TagGeneralPredictionError)
	}
	return tags
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
