package strategy

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// OptionContract is one call contract extracted from a broker chain document.
type OptionContract struct {
	Symbol             string
	Underlying         string
	Strike             float64
	DTE                int
	Delta              *float64
	Bid                float64
	Ask                float64
	Mark               float64
	Volume             int
	OpenInterest       int
	PremiumPerContract float64
}

// ExtractCallContracts flattens the call side of a broker option-chain
// document (expiration -> strike -> contract rows). Rows without a usable
// price basis are dropped.
func ExtractCallContracts(chain map[string]any) []OptionContract {
	var result []OptionContract
	callMap, ok := chain["callExpDateMap"].(map[string]any)
	if !ok {
		return result
	}

	for expirationKey, rawStrikes := range callMap {
		strikeMap, ok := rawStrikes.(map[string]any)
		if !ok {
			continue
		}
		inferredDTE := extractDTE(expirationKey, 0)

		for _, rawContracts := range strikeMap {
			contracts, ok := rawContracts.([]any)
			if !ok {
				continue
			}
			for _, rawContract := range contracts {
				row, ok := rawContract.(map[string]any)
				if !ok {
					continue
				}

				symbol := strings.TrimSpace(toString(row["symbol"]))
				if symbol == "" {
					continue
				}

				bid := toFloat(row["bid"], 0)
				ask := toFloat(row["ask"], 0)
				mark := toFloat(row["mark"], 0)
				var delta *float64
				if raw, present := row["delta"]; present && raw != nil {
					d := toFloat(raw, 0)
					delta = &d
				}
				underlying := strings.TrimSpace(toString(row["underlyingSymbol"]))
				if underlying == "" {
					underlying = OptionUnderlying(symbol)
				}

				basis := ask
				if basis <= 0 {
					basis = mark
				}
				if basis <= 0 {
					basis = bid
				}
				if basis <= 0 {
					continue
				}

				result = append(result, OptionContract{
					Symbol:             symbol,
					Underlying:         underlying,
					Strike:             toFloat(row["strikePrice"], 0),
					DTE:                toInt(row["daysToExpiration"], inferredDTE),
					Delta:              delta,
					Bid:                bid,
					Ask:                ask,
					Mark:               mark,
					Volume:             toInt(row["totalVolume"], 0),
					OpenInterest:       toInt(row["openInterest"], 0),
					PremiumPerContract: basis * 100,
				})
			}
		}
	}
	return result
}

// ChooseBullishCall picks the best-quality call within the premium budget and
// DTE window: closest to the target delta, tightest spread, with a small
// liquidity bonus. Returns nil when nothing qualifies.
func ChooseBullishCall(chain map[string]any, maxPremiumDollars float64, minDTE, maxDTE int, targetDelta float64) *OptionContract {
	type scored struct {
		quality  float64
		contract OptionContract
	}
	var filtered []scored

	for _, contract := range ExtractCallContracts(chain) {
		if contract.DTE < minDTE || contract.DTE > maxDTE {
			continue
		}
		if contract.PremiumPerContract > maxPremiumDollars {
			continue
		}

		absDelta := targetDelta
		if contract.Delta != nil {
			absDelta = math.Abs(*contract.Delta)
			if absDelta < 0.20 || absDelta > 0.70 {
				continue
			}
		}

		spread := contract.Ask
		if contract.Ask > 0 && contract.Bid > 0 {
			spread = contract.Ask - contract.Bid
		}
		liquidityBonus := 0.0005*float64(contract.OpenInterest) + 0.0002*float64(contract.Volume)
		quality := math.Abs(absDelta-targetDelta) + 0.03*math.Max(spread, 0) - liquidityBonus
		filtered = append(filtered, scored{quality: quality, contract: contract})
	}

	if len(filtered) == 0 {
		return nil
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].quality < filtered[j].quality })
	best := filtered[0].contract
	return &best
}

// OptionUnderlying derives the underlying ticker from an option symbol: the
// leading letters of its head token.
func OptionUnderlying(optionSymbol string) string {
	clean := strings.ToUpper(strings.TrimSpace(optionSymbol))
	head := clean
	if idx := strings.Index(clean, " "); idx >= 0 {
		head = strings.TrimSpace(clean[:idx])
	}

	allLetters := head != ""
	for _, r := range head {
		if r < 'A' || r > 'Z' {
			allLetters = false
			break
		}
	}
	if allLetters {
		return head
	}

	var letters strings.Builder
	for _, r := range head {
		if r >= 'A' && r <= 'Z' {
			letters.WriteRune(r)
			continue
		}
		break
	}
	if letters.Len() == 0 {
		return head
	}
	return letters.String()
}

func extractDTE(expirationKey string, fallback int) int {
	idx := strings.Index(expirationKey, ":")
	if idx < 0 {
		return fallback
	}
	return toInt(expirationKey[idx+1:], fallback)
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toFloat(v any, fallback float64) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case float32:
		return float64(value)
	case int:
		return float64(value)
	case int64:
		return float64(value)
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func toInt(v any, fallback int) int {
	switch value := v.(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return int(parsed)
		}
	}
	return fallback
}
