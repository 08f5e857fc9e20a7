package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"automatic-succotash/internal/domain"
)

type stubChains struct {
	chains map[string]map[string]any
	err    error
}

func (s *stubChains) GetOptionChain(_ context.Context, symbol string) (map[string]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.chains[symbol], nil
}

func testPlannerConfig() Config {
	return Config{
		EntryThreshold:           0.012,
		ExitThreshold:            -0.018,
		OptionThreshold:          0.035,
		MaxEquityPositions:       6,
		EquityCapitalFraction:    0.60,
		MaxPositionFraction:      0.20,
		MinOrderNotional:         25.0,
		MaxOrdersPerCycle:        8,
		EnableOptions:            false,
		MaxOptionContracts:       2,
		OptionCapitalFraction:    0.30,
		OptionMinDTE:             14,
		OptionMaxDTE:             45,
		OptionTargetDelta:        0.45,
		PlanMinConfidence:        0.35,
		PlanSupportMinScore:      0.0,
		RequireSignalsForEntries: true,
	}
}

func sig(symbol string, price, score float64) domain.Signal {
	return domain.Signal{Symbol: symbol, Price: price, Score: score}
}

func emptySnapshot(cash float64) domain.PortfolioSnapshot {
	return domain.PortfolioSnapshot{
		Cash:            cash,
		EquityPositions: map[string]int{},
		OptionPositions: map[string]int{},
	}
}

func TestBuildOrdersNoSignals(t *testing.T) {
	p := New(testPlannerConfig(), &stubChains{})
	orders, planUsed := p.BuildOrders(context.Background(), emptySnapshot(1000), nil, 1000, nil)
	if len(orders) != 0 || planUsed {
		t.Fatalf("no signals must yield no orders, got %d planUsed=%v", len(orders), planUsed)
	}
}

func TestEntrySizedByBudgetAndCash(t *testing.T) {
	p := New(testPlannerConfig(), &stubChains{})
	signals := []domain.Signal{sig("NVDA", 100, 0.05)}

	orders, _ := p.BuildOrders(context.Background(), emptySnapshot(1000), signals, 1000, nil)
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	order := orders[0]
	if order.Instruction != domain.InstructionBuy || order.Symbol != "NVDA" {
		t.Fatalf("unexpected order %+v", order)
	}
	// per-position budget = min(0.20*1000, 0.60*1000/1) = 200 -> 2 shares.
	if order.Quantity != 2 {
		t.Fatalf("quantity = %d, want 2", order.Quantity)
	}
	if order.LimitPrice == nil || *order.LimitPrice != 100.25 {
		t.Fatalf("limit = %v, want 100.25", order.LimitPrice)
	}
}

func TestBuyNeverExceedsEstimatedCash(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.MaxPositionFraction = 0.50
	p := New(cfg, &stubChains{})

	// Each candidate targets >= 400 notional but only 500 cash exists:
	// at most one BUY may be emitted.
	signals := []domain.Signal{
		sig("NVDA", 400, 0.08),
		sig("AMD", 400, 0.06),
	}
	snapshot := emptySnapshot(500)

	orders, _ := p.BuildOrders(context.Background(), snapshot, signals, 1600, nil)

	buys := 0
	spent := 0.0
	for _, order := range orders {
		if order.Instruction != domain.InstructionBuy {
			continue
		}
		buys++
		spent += float64(order.Quantity) * 400
	}
	if buys > 1 {
		t.Fatalf("buys = %d, want at most 1", buys)
	}
	if spent > snapshot.Cash {
		t.Fatalf("spent %v exceeds cash %v", spent, snapshot.Cash)
	}
}

func TestEntryBelowNotionalFloorSkipped(t *testing.T) {
	p := New(testPlannerConfig(), &stubChains{})
	// Target = floor(min(200, 600)/1000) = 0 shares; even with 1 share the
	// 10-dollar notional stays below the 25 floor.
	signals := []domain.Signal{sig("PENNY", 10, 0.05)}
	cfg := testPlannerConfig()
	cfg.MinOrderNotional = 25
	p = New(cfg, &stubChains{})

	orders, _ := p.BuildOrders(context.Background(), emptySnapshot(12), signals, 1000, nil)
	for _, order := range orders {
		if order.Instruction == domain.InstructionBuy {
			t.Fatalf("unexpected buy below notional floor: %+v", order)
		}
	}
}

func TestExitsPrecedeEntriesAndFreeCash(t *testing.T) {
	p := New(testPlannerConfig(), &stubChains{})
	snapshot := domain.PortfolioSnapshot{
		Cash:            50,
		EquityPositions: map[string]int{"WEAK": 3},
		OptionPositions: map[string]int{},
	}
	signals := []domain.Signal{
		sig("NVDA", 100, 0.05),
		sig("WEAK", 90, -0.10),
	}

	orders, _ := p.BuildOrders(context.Background(), snapshot, signals, 1000, nil)
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want sell then buy: %+v", len(orders), orders)
	}
	if orders[0].Instruction != domain.InstructionSell || orders[0].Symbol != "WEAK" || orders[0].Quantity != 3 {
		t.Fatalf("first order should liquidate WEAK, got %+v", orders[0])
	}
	// 50 + 3*90 = 320 estimated cash funds the 2-share NVDA entry.
	if orders[1].Instruction != domain.InstructionBuy || orders[1].Symbol != "NVDA" {
		t.Fatalf("second order should enter NVDA, got %+v", orders[1])
	}
}

func TestHoldingWithoutSignalLiquidated(t *testing.T) {
	p := New(testPlannerConfig(), &stubChains{})
	snapshot := domain.PortfolioSnapshot{
		Cash:            0,
		EquityPositions: map[string]int{"GONE": 5},
		OptionPositions: map[string]int{},
	}
	signals := []domain.Signal{sig("NVDA", 1e6, 0.05)}

	orders, _ := p.BuildOrders(context.Background(), snapshot, signals, 1000, nil)
	if len(orders) != 1 || orders[0].Symbol != "GONE" || orders[0].Instruction != domain.InstructionSell {
		t.Fatalf("expected full liquidation of GONE, got %+v", orders)
	}
	if orders[0].Reason != "signal_exit" {
		t.Fatalf("reason = %s, want signal_exit", orders[0].Reason)
	}
}

func TestRebalanceDownToTarget(t *testing.T) {
	p := New(testPlannerConfig(), &stubChains{})
	snapshot := domain.PortfolioSnapshot{
		Cash:            0,
		EquityPositions: map[string]int{"NVDA": 5},
		OptionPositions: map[string]int{},
	}
	// Target = floor(min(200, 600)/100) = 2 shares, so 3 sell down.
	signals := []domain.Signal{sig("NVDA", 100, 0.05)}

	orders, _ := p.BuildOrders(context.Background(), snapshot, signals, 1000, nil)
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1 rebalance: %+v", len(orders), orders)
	}
	if orders[0].Instruction != domain.InstructionSell || orders[0].Quantity != 3 || orders[0].Reason != "rebalance_down" {
		t.Fatalf("unexpected rebalance order %+v", orders[0])
	}
}

func TestMaxOrdersPerCycle(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.MaxOrdersPerCycle = 2
	p := New(cfg, &stubChains{})

	snapshot := domain.PortfolioSnapshot{
		Cash:            0,
		EquityPositions: map[string]int{"A": 1, "B": 1, "C": 1, "D": 1},
		OptionPositions: map[string]int{},
	}
	signals := []domain.Signal{sig("NVDA", 1e6, 0.05)}

	orders, _ := p.BuildOrders(context.Background(), snapshot, signals, 1000, nil)
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want truncated to 2", len(orders))
	}
}

func TestPlanRestrictsCandidatesAndForcesExits(t *testing.T) {
	p := New(testPlannerConfig(), &stubChains{})
	snapshot := domain.PortfolioSnapshot{
		Cash:            1000,
		EquityPositions: map[string]int{"OLD": 4},
		OptionPositions: map[string]int{},
	}
	signals := []domain.Signal{
		sig("NVDA", 100, 0.08),
		sig("AMD", 100, 0.06),
		sig("OLD", 50, 0.02),
	}
	plan := &domain.DecisionPlan{
		EquityBuySymbols: []string{"AMD"},
		ExitSymbols:      []string{"OLD"},
		Confidence:       0.9,
	}

	orders, planUsed := p.BuildOrders(context.Background(), snapshot, signals, 1000, plan)
	if !planUsed {
		t.Fatal("plan should be used")
	}
	for _, order := range orders {
		if order.Symbol == "NVDA" {
			t.Fatalf("plan restricted candidates, NVDA must not appear: %+v", orders)
		}
	}

	var sawForcedExit, sawAMDBuy bool
	for _, order := range orders {
		if order.Symbol == "OLD" && order.Instruction == domain.InstructionSell && order.Reason == "plan_forced_exit" {
			sawForcedExit = true
		}
		if order.Symbol == "AMD" && order.Instruction == domain.InstructionBuy {
			sawAMDBuy = true
		}
	}
	if !sawForcedExit || !sawAMDBuy {
		t.Fatalf("want forced OLD exit and AMD buy, got %+v", orders)
	}
}

func TestLowConfidencePlanIgnored(t *testing.T) {
	p := New(testPlannerConfig(), &stubChains{})
	signals := []domain.Signal{sig("NVDA", 100, 0.08)}
	plan := &domain.DecisionPlan{EquityBuySymbols: []string{"AMD"}, Confidence: 0.1}

	orders, planUsed := p.BuildOrders(context.Background(), emptySnapshot(1000), signals, 1000, plan)
	if planUsed {
		t.Fatal("low-confidence plan must be ignored")
	}
	if len(orders) != 1 || orders[0].Symbol != "NVDA" {
		t.Fatalf("fallback path should enter NVDA, got %+v", orders)
	}
}

func TestUnsupportedPlanSymbolsFallBackToRules(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.PlanSupportMinScore = 0.05
	p := New(cfg, &stubChains{})

	signals := []domain.Signal{
		sig("NVDA", 100, 0.08),
		sig("AMD", 100, 0.02), // below support floor
	}
	plan := &domain.DecisionPlan{EquityBuySymbols: []string{"AMD"}, Confidence: 0.9}

	orders, planUsed := p.BuildOrders(context.Background(), emptySnapshot(1000), signals, 1000, plan)
	if planUsed {
		t.Fatal("plan without supported symbols must fall back")
	}
	// Fallback uses the unrestricted ranked list.
	if len(orders) == 0 || orders[0].Symbol != "NVDA" {
		t.Fatalf("fallback should enter NVDA, got %+v", orders)
	}
}

func optionChainFor(symbol string, premiumBasis float64) map[string]any {
	delta := 0.45
	return map[string]any{
		"symbol": symbol,
		"callExpDateMap": map[string]any{
			"2026-10-16:30": map[string]any{
				"150.0": []any{
					map[string]any{
						"symbol":           symbol + "  261016C00150000",
						"description":      symbol + " Oct 16 2026 150 Call",
						"daysToExpiration": 30,
						"delta":            delta,
						"bid":              premiumBasis - 0.1,
						"ask":              premiumBasis,
						"mark":             premiumBasis - 0.05,
						"openInterest":     500,
						"totalVolume":      100,
					},
				},
			},
		},
	}
}

func TestOptionOpenWithinBudget(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.EnableOptions = true
	chains := &stubChains{chains: map[string]map[string]any{
		"NVDA": optionChainFor("NVDA", 2.00), // premium 200
	}}
	p := New(cfg, chains)

	signals := []domain.Signal{sig("NVDA", 100, 0.08)}
	snapshot := emptySnapshot(1000)

	orders, _ := p.BuildOrders(context.Background(), snapshot, signals, 1000, nil)

	var openOrder *domain.TradeOrder
	for i := range orders {
		if orders[i].Instruction == domain.InstructionBuyToOpen {
			openOrder = &orders[i]
		}
	}
	if openOrder == nil {
		t.Fatalf("expected an option open, got %+v", orders)
	}
	if openOrder.Quantity != 1 {
		t.Fatalf("option quantity = %d, want 1", openOrder.Quantity)
	}
	if !strings.HasPrefix(openOrder.Symbol, "NVDA") {
		t.Fatalf("option symbol = %s", openOrder.Symbol)
	}
	if openOrder.LimitPrice == nil || *openOrder.LimitPrice != 2.00 {
		t.Fatalf("limit = %v, want ask 2.00", openOrder.LimitPrice)
	}
}

func TestOptionsDisabledSkipsOptionPass(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.EnableOptions = false
	p := New(cfg, &stubChains{err: errors.New("must not be called")})

	signals := []domain.Signal{sig("NVDA", 100, 0.08)}
	orders, _ := p.BuildOrders(context.Background(), emptySnapshot(1000), signals, 1000, nil)
	for _, order := range orders {
		if order.AssetType == domain.AssetOption {
			t.Fatalf("options disabled, got option order %+v", order)
		}
	}
}

func TestOptionCloseOnWeakUnderlying(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.EnableOptions = true
	p := New(cfg, &stubChains{})

	snapshot := domain.PortfolioSnapshot{
		Cash:            0,
		EquityPositions: map[string]int{},
		OptionPositions: map[string]int{"WEAK  261016C00150000": 1},
	}
	signals := []domain.Signal{sig("WEAK", 100, -0.10)}

	orders, _ := p.BuildOrders(context.Background(), snapshot, signals, 1000, nil)
	if len(orders) != 1 || orders[0].Instruction != domain.InstructionSellToClose {
		t.Fatalf("expected sell-to-close, got %+v", orders)
	}
	if orders[0].Reason != "underlying_signal_exit" {
		t.Fatalf("reason = %s", orders[0].Reason)
	}
}

func TestOptionSlotsBoundOpens(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.EnableOptions = true
	cfg.MaxOptionContracts = 1
	p := New(cfg, &stubChains{chains: map[string]map[string]any{
		"NVDA": optionChainFor("NVDA", 1.00),
		"AMD":  optionChainFor("AMD", 1.00),
	}})

	signals := []domain.Signal{
		sig("NVDA", 100, 0.08),
		sig("AMD", 100, 0.07),
	}
	orders, _ := p.BuildOrders(context.Background(), emptySnapshot(10000), signals, 10000, nil)

	opens := 0
	for _, order := range orders {
		if order.Instruction == domain.InstructionBuyToOpen {
			opens++
		}
	}
	if opens != 1 {
		t.Fatalf("opens = %d, want 1 (slot bound)", opens)
	}
}
