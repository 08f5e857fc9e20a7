// Package planner turns ranked signals and an optional externally proposed
// plan into a bounded list of capital-aware trade orders.
package planner

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"automatic-succotash/internal/domain"
	"automatic-succotash/internal/strategy"
)

// ChainSource fetches an option chain document for an underlying.
type ChainSource interface {
	GetOptionChain(ctx context.Context, symbol string) (map[string]any, error)
}

// Config bounds order construction.
type Config struct {
	EntryThreshold           float64
	ExitThreshold            float64
	OptionThreshold          float64
	MaxEquityPositions       int
	EquityCapitalFraction    float64
	MaxPositionFraction      float64
	MinOrderNotional         float64
	MaxOrdersPerCycle        int
	EnableOptions            bool
	MaxOptionContracts       int
	OptionCapitalFraction    float64
	OptionMinDTE             int
	OptionMaxDTE             int
	OptionTargetDelta        float64
	PlanMinConfidence        float64
	PlanSupportMinScore      float64
	RequireSignalsForEntries bool
}

// Planner builds the cycle's order list. Exits always precede entries so
// freed cash is available to the entry pass.
type Planner struct {
	cfg    Config
	chains ChainSource
}

func New(cfg Config, chains ChainSource) *Planner {
	return &Planner{cfg: cfg, chains: chains}
}

// BuildOrders reconciles the optional plan against the rule-based path and
// returns the orders plus whether the plan was used. Signals must already be
// ranked by descending score.
func (p *Planner) BuildOrders(ctx context.Context, snapshot domain.PortfolioSnapshot, signals []domain.Signal, accountEquity float64, plan *domain.DecisionPlan) ([]domain.TradeOrder, bool) {
	if len(signals) == 0 {
		return nil, false
	}

	bySymbol := make(map[string]domain.Signal, len(signals))
	for _, signal := range signals {
		bySymbol[signal.Symbol] = signal
	}

	if plan != nil && plan.Confidence >= p.cfg.PlanMinConfidence {
		if orders := p.buildFromPlan(ctx, snapshot, bySymbol, accountEquity, plan); len(orders) > 0 {
			return p.truncate(orders), true
		}
		log.Printf("planner: plan produced no actionable orders, falling back to rule-based path")
	}

	equityOrders, estCash := p.buildEquityOrders(snapshot, signals, bySymbol, accountEquity, nil, nil)
	optionOrders := p.buildOptionOrders(ctx, snapshot, signals, bySymbol, accountEquity, estCash, false, nil)
	return p.truncate(append(equityOrders, optionOrders...)), false
}

func (p *Planner) truncate(orders []domain.TradeOrder) []domain.TradeOrder {
	if p.cfg.MaxOrdersPerCycle > 0 && len(orders) > p.cfg.MaxOrdersPerCycle {
		return orders[:p.cfg.MaxOrdersPerCycle]
	}
	return orders
}

func (p *Planner) signalSupportsEntry(signal domain.Signal) bool {
	if !p.cfg.RequireSignalsForEntries {
		return true
	}
	return signal.Score >= p.cfg.PlanSupportMinScore
}

func (p *Planner) buildFromPlan(ctx context.Context, snapshot domain.PortfolioSnapshot, bySymbol map[string]domain.Signal, accountEquity float64, plan *domain.DecisionPlan) []domain.TradeOrder {
	forcedExits := make(map[string]bool, len(plan.ExitSymbols))
	for _, symbol := range plan.ExitSymbols {
		forcedExits[strings.ToUpper(symbol)] = true
	}

	// Non-nil even when empty so the equity pass stays plan-restricted.
	pickSupported := func(symbols []string) []domain.Signal {
		out := []domain.Signal{}
		seen := map[string]bool{}
		for _, raw := range symbols {
			symbol := strings.ToUpper(raw)
			if seen[symbol] {
				continue
			}
			signal, ok := bySymbol[symbol]
			if !ok || !p.signalSupportsEntry(signal) {
				continue
			}
			seen[symbol] = true
			out = append(out, signal)
		}
		return out
	}

	equityCandidates := pickSupported(plan.EquityBuySymbols)
	optionCandidates := pickSupported(plan.OptionBuySymbols)

	equityOrders, estCash := p.buildEquityOrders(snapshot, equityCandidates, bySymbol, accountEquity, equityCandidates, forcedExits)
	optionOrders := p.buildOptionOrders(ctx, snapshot, optionCandidates, bySymbol, accountEquity, estCash, true, forcedExits)
	return append(equityOrders, optionOrders...)
}

// buildEquityOrders runs the exit pass then the entry pass, tracking an
// estimated running cash balance. candidateOverride non-nil means the plan
// restricted the candidate set; otherwise candidates come from the threshold.
func (p *Planner) buildEquityOrders(snapshot domain.PortfolioSnapshot, signals []domain.Signal, bySymbol map[string]domain.Signal, accountEquity float64, candidateOverride []domain.Signal, forcedExits map[string]bool) ([]domain.TradeOrder, float64) {
	var candidates []domain.Signal
	if candidateOverride == nil {
		for _, signal := range signals {
			if signal.Score >= p.cfg.EntryThreshold {
				candidates = append(candidates, signal)
			}
		}
	} else {
		candidates = candidateOverride
	}
	if p.cfg.MaxEquityPositions > 0 && len(candidates) > p.cfg.MaxEquityPositions {
		candidates = candidates[:p.cfg.MaxEquityPositions]
	}

	targetQty := map[string]int{}
	if len(candidates) > 0 {
		equityBudget := accountEquity * p.cfg.EquityCapitalFraction
		perPosition := math.Min(
			accountEquity*p.cfg.MaxPositionFraction,
			equityBudget/float64(len(candidates)),
		)
		for _, signal := range candidates {
			qty := int(perPosition / signal.Price)
			if qty < 0 {
				qty = 0
			}
			targetQty[signal.Symbol] = qty
		}
	}

	var orders []domain.TradeOrder
	estimatedCash := snapshot.Cash

	// Exit pass, sorted for determinism: forced exits clear the position,
	// over-target holdings sell down, weak or unopinionated holdings
	// liquidate.
	for _, symbol := range sortedKeys(snapshot.EquityPositions) {
		quantity := snapshot.EquityPositions[symbol]
		if quantity <= 0 {
			continue
		}

		signal, hasSignal := bySymbol[symbol]

		if forcedExits[strings.ToUpper(symbol)] {
			orders = append(orders, domain.TradeOrder{
				AssetType:   domain.AssetEquity,
				Symbol:      symbol,
				Instruction: domain.InstructionSell,
				Quantity:    quantity,
				Reason:      "plan_forced_exit",
			})
			if hasSignal {
				estimatedCash += float64(quantity) * signal.Price
			}
			continue
		}

		if desired, ok := targetQty[symbol]; ok {
			if toSell := quantity - desired; toSell > 0 {
				orders = append(orders, domain.TradeOrder{
					AssetType:   domain.AssetEquity,
					Symbol:      symbol,
					Instruction: domain.InstructionSell,
					Quantity:    toSell,
					Reason:      "rebalance_down",
				})
				estimatedCash += float64(toSell) * signal.Price
			}
			continue
		}

		if !hasSignal || signal.Score <= p.cfg.ExitThreshold {
			orders = append(orders, domain.TradeOrder{
				AssetType:   domain.AssetEquity,
				Symbol:      symbol,
				Instruction: domain.InstructionSell,
				Quantity:    quantity,
				Reason:      "signal_exit",
			})
			if hasSignal {
				estimatedCash += float64(quantity) * signal.Price
			}
		}
	}

	// Entry pass: buy up to the target, bounded by the notional floor and
	// the running cash estimate.
	for _, signal := range candidates {
		toBuy := targetQty[signal.Symbol] - snapshot.EquityPositions[signal.Symbol]
		if toBuy <= 0 {
			continue
		}

		notional := float64(toBuy) * signal.Price
		if notional < p.cfg.MinOrderNotional || notional > estimatedCash {
			continue
		}

		limit := round2(signal.Price * 1.0025)
		orders = append(orders, domain.TradeOrder{
			AssetType:   domain.AssetEquity,
			Symbol:      signal.Symbol,
			Instruction: domain.InstructionBuy,
			Quantity:    toBuy,
			LimitPrice:  &limit,
			Reason:      fmt.Sprintf("signal_entry_%.4f", signal.Score),
		})
		estimatedCash -= notional
	}

	return orders, estimatedCash
}

// buildOptionOrders closes options tied to weak or forced-exit underlyings,
// then opens single-contract positions while slots and budget remain.
func (p *Planner) buildOptionOrders(ctx context.Context, snapshot domain.PortfolioSnapshot, candidates []domain.Signal, bySymbol map[string]domain.Signal, accountEquity, estimatedCash float64, planRestricted bool, forcedExits map[string]bool) []domain.TradeOrder {
	if !p.cfg.EnableOptions || p.cfg.MaxOptionContracts <= 0 {
		return nil
	}

	var orders []domain.TradeOrder

	for _, optionSymbol := range sortedKeys(snapshot.OptionPositions) {
		quantity := snapshot.OptionPositions[optionSymbol]
		if quantity <= 0 {
			continue
		}
		underlying := strategy.OptionUnderlying(optionSymbol)
		if forcedExits[strings.ToUpper(underlying)] {
			orders = append(orders, domain.TradeOrder{
				AssetType:   domain.AssetOption,
				Symbol:      optionSymbol,
				Instruction: domain.InstructionSellToClose,
				Quantity:    quantity,
				Reason:      "plan_forced_exit",
			})
			continue
		}
		if signal, ok := bySymbol[underlying]; ok && signal.Score <= p.cfg.ExitThreshold {
			orders = append(orders, domain.TradeOrder{
				AssetType:   domain.AssetOption,
				Symbol:      optionSymbol,
				Instruction: domain.InstructionSellToClose,
				Quantity:    quantity,
				Reason:      "underlying_signal_exit",
			})
		}
	}

	openContracts := 0
	held := map[string]bool{}
	for optionSymbol, quantity := range snapshot.OptionPositions {
		if quantity > 0 {
			openContracts += quantity
			held[strategy.OptionUnderlying(optionSymbol)] = true
		}
	}
	remainingSlots := p.cfg.MaxOptionContracts - openContracts
	if remainingSlots <= 0 {
		return orders
	}

	budgetLeft := math.Min(accountEquity*p.cfg.OptionCapitalFraction, estimatedCash)
	if budgetLeft < p.cfg.MinOrderNotional {
		return orders
	}
	cashLeft := estimatedCash

	for _, signal := range candidates {
		if remainingSlots <= 0 {
			break
		}
		if forcedExits[strings.ToUpper(signal.Symbol)] {
			continue
		}
		if !planRestricted && signal.Score < p.cfg.OptionThreshold {
			break
		}
		if held[signal.Symbol] {
			continue
		}

		perContractBudget := math.Min(budgetLeft, cashLeft)
		if perContractBudget < p.cfg.MinOrderNotional {
			break
		}

		chain, err := p.chains.GetOptionChain(ctx, signal.Symbol)
		if err != nil {
			log.Printf("planner: option chain fetch failed for %s: %v", signal.Symbol, err)
			continue
		}

		contract := strategy.ChooseBullishCall(chain, perContractBudget, p.cfg.OptionMinDTE, p.cfg.OptionMaxDTE, p.cfg.OptionTargetDelta)
		if contract == nil || contract.PremiumPerContract > perContractBudget {
			continue
		}

		var limit *float64
		basis := contract.Ask
		if basis <= 0 {
			basis = contract.Mark
		}
		if basis > 0 {
			rounded := round2(basis)
			limit = &rounded
		}

		delta := "n/a"
		if contract.Delta != nil {
			delta = fmt.Sprintf("%.2f", *contract.Delta)
		}
		orders = append(orders, domain.TradeOrder{
			AssetType:   domain.AssetOption,
			Symbol:      contract.Symbol,
			Instruction: domain.InstructionBuyToOpen,
			Quantity:    1,
			LimitPrice:  limit,
			Reason:      fmt.Sprintf("option_overlay_%s_score_%.4f_dte_%d_delta_%s", signal.Symbol, signal.Score, contract.DTE, delta),
		})
		remainingSlots--
		budgetLeft -= contract.PremiumPerContract
		cashLeft -= contract.PremiumPerContract
		held[signal.Symbol] = true
	}

	return orders
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
