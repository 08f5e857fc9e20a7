package strategy

import (
	"math"

	"automatic-succotash/internal/domain"

	"gonum.org/v1/gonum/stat"
)

// minHistory is the minimum number of daily closes needed before the engine
// holds an opinion: 20 trading days of lookback plus the 21-day momentum base.
const minHistory = 25

// AIInputs carries the confidence-scaled AI outlook components into a signal.
type AIInputs struct {
	ShortTerm  float64
	LongTerm   float64
	Confidence float64
}

// Weights are the AI component weights layered onto the fixed technical mix.
type Weights struct {
	AIShortTerm float64
	AILongTerm  float64
}

// ComputeSignal builds the composite per-symbol signal from price history and
// blended sentiment. Returns nil when price is not positive or history is too
// short, a valid "no opinion" rather than an error. Closes are ordered oldest
// to newest. Macro and learned adjustments are layered on afterward as
// explicit score deltas.
func ComputeSignal(symbol string, price float64, closes []float64, newsScore float64, ai AIInputs, weights Weights) *domain.Signal {
	if price <= 0 || len(closes) < minHistory {
		return nil
	}

	last := closes[len(closes)-1]
	momentum20d := last/closes[len(closes)-21] - 1
	momentum5d := last/closes[len(closes)-6] - 1

	sma20 := stat.Mean(closes[len(closes)-20:], nil)
	trend20d := 0.0
	if sma20 > 0 {
		trend20d = last/sma20 - 1
	}
	volatility20d := annualizedVolatility(closes, 20)

	// Trend and momentum dominate; fast news and the slower AI thesis layer on
	// top, volatility drags.
	score := 0.45*momentum20d +
		0.20*momentum5d +
		0.20*trend20d +
		0.25*newsScore +
		weights.AIShortTerm*ai.ShortTerm +
		weights.AILongTerm*ai.LongTerm -
		0.15*math.Min(volatility20d, 1.0)

	return &domain.Signal{
		Symbol:        symbol,
		Price:         price,
		Momentum20d:   momentum20d,
		Momentum5d:    momentum5d,
		Trend20d:      trend20d,
		Volatility20d: volatility20d,
		NewsScore:     newsScore,
		AIShortTerm:   ai.ShortTerm,
		AILongTerm:    ai.LongTerm,
		AIConfidence:  ai.Confidence,
		Score:         score,
	}
}

func dailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		previous := closes[i-1]
		if previous <= 0 {
			continue
		}
		returns = append(returns, closes[i]/previous-1)
	}
	return returns
}

func annualizedVolatility(closes []float64, window int) float64 {
	start := len(closes) - (window + 1)
	if start < 0 {
		start = 0
	}
	returns := dailyReturns(closes[start:])
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(252)
}
