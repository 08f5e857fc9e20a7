package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"automatic-succotash/internal/broker"
	"automatic-succotash/internal/domain"
	"automatic-succotash/internal/interpreter"
	"automatic-succotash/internal/memory"
	"automatic-succotash/internal/planner"
)

type stubBroker struct {
	prices    map[string]float64
	histories map[string][]float64
	snapshot  domain.PortfolioSnapshot

	priceErrs map[string]error
	placed    []domain.TradeOrder
}

func (b *stubBroker) GetLastPrice(_ context.Context, symbol string) (float64, error) {
	if err := b.priceErrs[symbol]; err != nil {
		return 0, err
	}
	return b.prices[symbol], nil
}

func (b *stubBroker) GetHistory(_ context.Context, symbol string, _ int) ([]float64, error) {
	return b.histories[symbol], nil
}

func (b *stubBroker) GetOptionChain(_ context.Context, _ string) (map[string]any, error) {
	return nil, errors.New("no chain")
}

func (b *stubBroker) GetPortfolioSnapshot(_ context.Context) (domain.PortfolioSnapshot, error) {
	return b.snapshot, nil
}

func (b *stubBroker) PlaceOrder(_ context.Context, order domain.TradeOrder) (broker.ExecutionResult, error) {
	b.placed = append(b.placed, order)
	return broker.ExecutionResult{Order: order, Status: broker.StatusFilled}, nil
}

type stubCollector struct {
	items map[string][]domain.ResearchItem
	err   error
}

func (c *stubCollector) Collect(_ context.Context, symbol, _ string) ([]domain.ResearchItem, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.items[symbol], nil
}

type stubAnalyzer struct {
	outlook domain.AIOutlook
}

func (a *stubAnalyzer) Outlook(_ context.Context, _, _ string, _ []domain.ResearchItem) (domain.AIOutlook, error) {
	return a.outlook, nil
}

type stubPlans struct {
	plan     *domain.DecisionPlan
	contexts []interpreter.SymbolContext
}

func (p *stubPlans) BuildPlan(_ context.Context, contexts []interpreter.SymbolContext, _, _ []string) *domain.DecisionPlan {
	p.contexts = contexts
	return p.plan
}

type stubMacro struct {
	assessment domain.MacroAssessment
}

func (m *stubMacro) Evaluate(_ context.Context) domain.MacroAssessment {
	return m.assessment
}

func uptrend(days int) []float64 {
	closes := make([]float64, days)
	price := 100.0
	for i := range closes {
		closes[i] = price
		price += 0.5
	}
	return closes
}

func bullishItems() []domain.ResearchItem {
	return []domain.ResearchItem{
		{Title: "Record growth and strong demand", Source: "Example Wire", SourceType: "news", Description: "beats expectations"},
	}
}

func testEngineConfig() Config {
	return Config{
		HistoryDays:          90,
		EntryThreshold:       0.012,
		OptionThreshold:      0.035,
		AIShortTermWeight:    0.10,
		AILongTermWeight:     0.15,
		MacroWeight:          0.10,
		HistoricalNewsWeight: 0.25,
		StartingCapital:      1000,
		PlanMaxSymbols:       12,
	}
}

func testPlanner() *planner.Planner {
	return planner.New(planner.Config{
		EntryThreshold:           0.012,
		ExitThreshold:            -0.018,
		MaxEquityPositions:       6,
		EquityCapitalFraction:    0.60,
		MaxPositionFraction:      0.20,
		MinOrderNotional:         25,
		MaxOrdersPerCycle:        8,
		OptionThreshold:          0.035,
		PlanMinConfidence:        0.35,
		PlanSupportMinScore:      0.0,
		RequireSignalsForEntries: true,
	}, nil)
}

func newTestEngine(cfg Config, themeMap map[string]string, brk *stubBroker, collector *stubCollector, analyzer Analyzer, plans PlanSource, macroSource MacroSource) *Engine {
	ctx := context.Background()
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	aiMemory := memory.New(ctx, nil, 0.20)
	histMemory := memory.New(ctx, nil, 0.15)
	return New(tracer, cfg, themeMap, brk, collector, analyzer, plans, macroSource, testPlanner(), aiMemory, histMemory, nil)
}

func TestRunCycleRanksSignalsAndPlacesOrders(t *testing.T) {
	brk := &stubBroker{
		prices:    map[string]float64{"NVDA": 144.5, "AMD": 80.0},
		histories: map[string][]float64{"NVDA": uptrend(90), "AMD": uptrend(90)},
		snapshot:  domain.PortfolioSnapshot{Cash: 1000},
	}
	collector := &stubCollector{items: map[string][]domain.ResearchItem{"NVDA": bullishItems()}}
	themeMap := map[string]string{"NVDA": "NVIDIA AI", "AMD": "AMD AI"}

	e := newTestEngine(testEngineConfig(), themeMap, brk, collector, nil, nil, nil)
	result, err := e.RunCycle(context.Background(), true)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(result.Signals) != 2 {
		t.Fatalf("signals = %d, want 2", len(result.Signals))
	}
	if result.Signals[0].Score < result.Signals[1].Score {
		t.Fatal("signals not ranked by descending score")
	}
	if result.Signals[0].Symbol != "NVDA" {
		t.Fatalf("top signal = %s, want NVDA (bullish news)", result.Signals[0].Symbol)
	}
	if len(result.Orders) == 0 {
		t.Fatal("expected entry orders for uptrending symbols")
	}
	if len(brk.placed) != len(result.Orders) {
		t.Fatalf("placed %d orders, proposed %d", len(brk.placed), len(result.Orders))
	}
	if result.Decision.SignalsGenerated != 2 || result.Decision.TopSignalSymbol != "NVDA" {
		t.Fatalf("decision metadata = %+v", result.Decision)
	}
	if result.Collection.SymbolsWithResearch != 1 || result.Collection.ResearchItemsTotal != 1 {
		t.Fatalf("collection metadata = %+v", result.Collection)
	}
	if result.AccountEquity != 1000 {
		t.Fatalf("account equity = %v, want floor 1000", result.AccountEquity)
	}
}

func TestRunCycleExecutionDisabled(t *testing.T) {
	brk := &stubBroker{
		prices:    map[string]float64{"NVDA": 144.5},
		histories: map[string][]float64{"NVDA": uptrend(90)},
		snapshot:  domain.PortfolioSnapshot{Cash: 1000},
	}
	e := newTestEngine(testEngineConfig(), map[string]string{"NVDA": "NVIDIA AI"}, brk, &stubCollector{}, nil, nil, nil)

	result, err := e.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(result.Orders) != 0 || len(brk.placed) != 0 {
		t.Fatal("disabled execution must not propose or place orders")
	}
	if result.Decision.NoTradeReason != "execution_disabled" {
		t.Fatalf("no trade reason = %q", result.Decision.NoTradeReason)
	}
	if len(result.Signals) != 1 {
		t.Fatal("scoring must still run with execution disabled")
	}
}

func TestRunCycleSkipsFailingSymbols(t *testing.T) {
	brk := &stubBroker{
		prices:    map[string]float64{"NVDA": 144.5},
		histories: map[string][]float64{"NVDA": uptrend(90)},
		priceErrs: map[string]error{"AMD": errors.New("quote outage")},
		snapshot:  domain.PortfolioSnapshot{Cash: 1000},
	}
	e := newTestEngine(testEngineConfig(), map[string]string{"NVDA": "NVIDIA AI", "AMD": "AMD AI"}, brk, &stubCollector{}, nil, nil, nil)

	result, err := e.RunCycle(context.Background(), true)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Collection.SymbolsAnalyzed != 2 || result.Collection.SymbolsWithMarketData != 1 {
		t.Fatalf("collection metadata = %+v", result.Collection)
	}
	if len(result.Signals) != 1 || result.Signals[0].Symbol != "NVDA" {
		t.Fatalf("signals = %+v", result.Signals)
	}
}

func TestRunCycleNoValidSignals(t *testing.T) {
	brk := &stubBroker{
		prices:    map[string]float64{"NVDA": 144.5},
		histories: map[string][]float64{"NVDA": uptrend(10)},
		snapshot:  domain.PortfolioSnapshot{Cash: 1000},
	}
	e := newTestEngine(testEngineConfig(), map[string]string{"NVDA": "NVIDIA AI"}, brk, &stubCollector{}, nil, nil, nil)

	result, err := e.RunCycle(context.Background(), true)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(result.Signals) != 0 {
		t.Fatalf("short history must yield no signals, got %d", len(result.Signals))
	}
	if result.Decision.NoTradeReason != "no_valid_signals" {
		t.Fatalf("no trade reason = %q", result.Decision.NoTradeReason)
	}
}

func TestMacroComponentShiftsScores(t *testing.T) {
	newBroker := func() *stubBroker {
		return &stubBroker{
			prices:    map[string]float64{"NVDA": 144.5},
			histories: map[string][]float64{"NVDA": uptrend(90)},
			snapshot:  domain.PortfolioSnapshot{Cash: 1000},
		}
	}
	themeMap := map[string]string{"NVDA": "NVIDIA AI"}

	base := newTestEngine(testEngineConfig(), themeMap, newBroker(), &stubCollector{}, nil, nil, nil)
	baseResult, err := base.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	overlay := &stubMacro{assessment: domain.MacroAssessment{Enabled: true, Score: 0.5}}
	shifted := newTestEngine(testEngineConfig(), themeMap, newBroker(), &stubCollector{}, nil, nil, overlay)
	shiftedResult, err := shifted.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if shiftedResult.Signals[0].MacroScore != 0.5 {
		t.Fatalf("macro score = %v, want 0.5", shiftedResult.Signals[0].MacroScore)
	}
	delta := shiftedResult.Signals[0].Score - baseResult.Signals[0].Score
	if math.Abs(delta-0.10*0.5) > 1e-9 {
		t.Fatalf("macro component = %v, want 0.05", delta)
	}
	if shiftedResult.Collection.Macro.Score != 0.5 {
		t.Fatalf("collection macro = %+v", shiftedResult.Collection.Macro)
	}
}

func TestAIOutlookFeedsSignal(t *testing.T) {
	brk := &stubBroker{
		prices:    map[string]float64{"NVDA": 144.5},
		histories: map[string][]float64{"NVDA": uptrend(90)},
		snapshot:  domain.PortfolioSnapshot{Cash: 1000},
	}
	collector := &stubCollector{items: map[string][]domain.ResearchItem{"NVDA": bullishItems()}}
	analyzer := &stubAnalyzer{outlook: domain.AIOutlook{ShortTerm: 1.0, LongTerm: 0.5, Confidence: 1.0}}

	e := newTestEngine(testEngineConfig(), map[string]string{"NVDA": "NVIDIA AI"}, brk, collector, analyzer, nil, nil)
	result, err := e.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	signal := result.Signals[0]
	if signal.AIShortTerm != 1.0 || signal.AIConfidence != 1.0 {
		t.Fatalf("ai short term = %v confidence = %v", signal.AIShortTerm, signal.AIConfidence)
	}
	// A fresh memory key adopts the confidence-scaled long-term judgment.
	if signal.AILongTerm != 0.5 {
		t.Fatalf("ai long term = %v, want 0.5", signal.AILongTerm)
	}
}

func TestPlanFlowsThroughToPlanner(t *testing.T) {
	brk := &stubBroker{
		prices:    map[string]float64{"NVDA": 144.5, "AMD": 80.0},
		histories: map[string][]float64{"NVDA": uptrend(90), "AMD": uptrend(90)},
		snapshot:  domain.PortfolioSnapshot{Cash: 1000},
	}
	plans := &stubPlans{plan: &domain.DecisionPlan{
		EquityBuySymbols: []string{"AMD"},
		Confidence:       0.9,
		Summary:          "concentrate in AMD",
	}}

	e := newTestEngine(testEngineConfig(), map[string]string{"NVDA": "NVIDIA AI", "AMD": "AMD AI"}, brk, &stubCollector{}, nil, plans, nil)
	result, err := e.RunCycle(context.Background(), true)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(plans.contexts) != 2 {
		t.Fatalf("plan context rows = %d, want 2", len(plans.contexts))
	}
	if !result.PlanUsed || !result.Decision.PlanUsed {
		t.Fatal("high-confidence plan with supported symbols should be used")
	}
	if result.Decision.PlanSummary != "concentrate in AMD" {
		t.Fatalf("plan summary = %q", result.Decision.PlanSummary)
	}
	for _, order := range result.Orders {
		if order.Instruction == domain.InstructionBuy && order.Symbol != "AMD" {
			t.Fatalf("plan-restricted cycle bought %s", order.Symbol)
		}
	}
}

func TestResearchFailureDegradesToEmpty(t *testing.T) {
	brk := &stubBroker{
		prices:    map[string]float64{"NVDA": 144.5},
		histories: map[string][]float64{"NVDA": uptrend(90)},
		snapshot:  domain.PortfolioSnapshot{Cash: 1000},
	}
	collector := &stubCollector{err: errors.New("feed down")}

	e := newTestEngine(testEngineConfig(), map[string]string{"NVDA": "NVIDIA AI"}, brk, collector, nil, nil, nil)
	result, err := e.RunCycle(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(result.Signals) != 1 {
		t.Fatal("research failure must not drop the symbol")
	}
	if result.Collection.SymbolsWithResearch != 0 || result.Signals[0].NewsScore != 0 {
		t.Fatalf("research collection = %+v news = %v", result.Collection, result.Signals[0].NewsScore)
	}
}

func TestScoreStats(t *testing.T) {
	cases := []struct {
		scores []float64
		want   domain.ScoreStats
	}{
		{nil, domain.ScoreStats{}},
		{[]float64{0.2}, domain.ScoreStats{Avg: 0.2, Median: 0.2, Max: 0.2, Min: 0.2}},
		{[]float64{0.4, -0.2, 0.1, 0.3}, domain.ScoreStats{Avg: 0.15, Median: 0.2, Max: 0.4, Min: -0.2}},
	}
	for i, tc := range cases {
		got := scoreStats(tc.scores)
		if math.Abs(got.Avg-tc.want.Avg) > 1e-9 || got.Median != tc.want.Median || got.Max != tc.want.Max || got.Min != tc.want.Min {
			t.Fatalf("case %d: got %+v, want %+v", i, got, tc.want)
		}
	}
}

func TestCompactResearchSummary(t *testing.T) {
	long := ""
	for i := 0; i < 40; i++ {
		long += fmt.Sprintf("word%d ", i)
	}
	long += long

	cases := []struct {
		item domain.ResearchItem
		want string
	}{
		{domain.ResearchItem{Content: "  full   text "}, "full text"},
		{domain.ResearchItem{Description: "desc"}, "desc"},
		{domain.ResearchItem{Title: "title only"}, "title only"},
		{domain.ResearchItem{}, ""},
	}
	for i, tc := range cases {
		if got := compactResearchSummary(tc.item); got != tc.want {
			t.Fatalf("case %d: got %q, want %q", i, got, tc.want)
		}
	}
	if got := compactResearchSummary(domain.ResearchItem{Content: long}); len(got) > 260 {
		t.Fatalf("long summary not truncated: %d chars", len(got))
	}
}
