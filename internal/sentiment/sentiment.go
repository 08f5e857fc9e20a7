package sentiment

import (
	"math"
	"regexp"
	"strings"

	"automatic-succotash/internal/domain"
)

var positiveWords = map[string]struct{}{
	"beats": {}, "beat": {}, "growth": {}, "surge": {}, "record": {},
	"strong": {}, "upgrade": {}, "bullish": {}, "breakthrough": {},
	"expands": {}, "partnership": {}, "profit": {}, "outperform": {},
	"demand": {}, "upside": {},
}

var negativeWords = map[string]struct{}{
	"miss": {}, "misses": {}, "weak": {}, "downgrade": {}, "lawsuit": {},
	"probe": {}, "delay": {}, "cuts": {}, "cut": {}, "layoffs": {},
	"decline": {}, "bearish": {}, "risk": {}, "warning": {}, "downside": {},
}

var wordPattern = regexp.MustCompile(`[a-zA-Z']+`)

// HeadlineScore is the lexical sentiment of one title: positive keyword hits
// minus negative hits over total hits, 0 when nothing matches.
func HeadlineScore(title string) float64 {
	words := wordPattern.FindAllString(strings.ToLower(title), -1)
	if len(words) == 0 {
		return 0
	}

	positive := 0
	negative := 0
	for _, token := range words {
		if _, ok := positiveWords[token]; ok {
			positive++
		}
		if _, ok := negativeWords[token]; ok {
			negative++
		}
	}
	if positive == 0 && negative == 0 {
		return 0
	}
	return float64(positive-negative) / float64(positive+negative)
}

// Blend collapses research items into one aggregate sentiment plus
// per-source-type breakdowns. Per source type the sentiment is the mean of
// its items' headline scores clamped to [-1,1]; the aggregate is a
// count-times-multiplier weighted average across source types. Multipliers
// default to 1.0 and are clamped to [0.10, 3.0]. Pure and order-independent
// within a source type.
func Blend(
	items []domain.ResearchItem,
	sourceMultipliers map[string]float64,
) (float64, map[string]float64, map[string]int) {
	if len(items) == 0 {
		return 0, map[string]float64{}, map[string]int{}
	}

	scoresBySource := make(map[string][]float64)
	countsBySource := make(map[string]int)
	for _, item := range items {
		sourceType := item.NormalizedSourceType()
		scoresBySource[sourceType] = append(scoresBySource[sourceType], HeadlineScore(item.Title))
		countsBySource[sourceType]++
	}

	sentimentBySource := make(map[string]float64, len(scoresBySource))
	weightedSum := 0.0
	totalWeight := 0.0
	for sourceType, scores := range scoresBySource {
		sum := 0.0
		for _, score := range scores {
			sum += score
		}
		mean := sum / float64(len(scores))
		sentimentBySource[sourceType] = clamp(mean, -1, 1)

		multiplier := 1.0
		if sourceMultipliers != nil {
			if raw, ok := sourceMultipliers[sourceType]; ok {
				multiplier = clamp(raw, 0.10, 3.0)
			}
		}
		weight := float64(countsBySource[sourceType]) * multiplier
		weightedSum += sentimentBySource[sourceType] * weight
		totalWeight += weight
	}

	if totalWeight <= 0 {
		return 0, sentimentBySource, countsBySource
	}
	return clamp(weightedSum/totalWeight, -1, 1), sentimentBySource, countsBySource
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
