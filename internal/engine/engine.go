// Package engine orchestrates one decision cycle: research, scoring,
// learning feedback, planning and order placement.
package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"automatic-succotash/internal/broker"
	"automatic-succotash/internal/domain"
	"automatic-succotash/internal/interpreter"
	"automatic-succotash/internal/learning"
	"automatic-succotash/internal/memory"
	"automatic-succotash/internal/planner"
	"automatic-succotash/internal/research"
	"automatic-succotash/internal/sentiment"
	"automatic-succotash/internal/strategy"
)

// Analyzer derives a per-symbol AI outlook from research items.
type Analyzer interface {
	Outlook(ctx context.Context, symbol, query string, items []domain.ResearchItem) (domain.AIOutlook, error)
}

// PlanSource proposes an external trade plan over the cycle's context.
type PlanSource interface {
	BuildPlan(ctx context.Context, contexts []interpreter.SymbolContext, heldEquities, heldOptionUnderlyings []string) *domain.DecisionPlan
}

// MacroSource evaluates the market-wide overlay once per cycle.
type MacroSource interface {
	Evaluate(ctx context.Context) domain.MacroAssessment
}

// Config bounds the per-cycle scoring flow. Thresholds duplicate the
// planner's entry/exit bounds so metadata and call recording agree with
// order construction.
type Config struct {
	HistoryDays                int
	EntryThreshold             float64
	OptionThreshold            float64
	AIShortTermWeight          float64
	AILongTermWeight           float64
	MacroWeight                float64
	HistoricalNewsWeight       float64
	HistoricalFeedbackStrength float64
	EnableHistoricalFeedback   bool
	AIFeedbackStrength         float64
	EnableAIFeedback           bool
	StartingCapital            float64
	PlanMaxSymbols             int
	PlanResearchPerSymbol      int
}

// Engine runs decision cycles over a fixed symbol universe. Single-writer:
// callers serialize RunCycle.
type Engine struct {
	tracer   trace.Tracer
	cfg      Config
	themeMap map[string]string

	broker    broker.Broker
	collector research.Collector
	analyzer  Analyzer
	plans     PlanSource
	macro     MacroSource
	planner   *planner.Planner

	aiMemory   *memory.Memory
	histMemory *memory.Memory
	learner    *learning.Store
}

// New wires the cycle collaborators. analyzer, plans, histMemory and learner
// may be nil; the matching steps are skipped.
func New(
	tracer trace.Tracer,
	cfg Config,
	themeMap map[string]string,
	brk broker.Broker,
	collector research.Collector,
	analyzer Analyzer,
	plans PlanSource,
	macroSource MacroSource,
	orderPlanner *planner.Planner,
	aiMemory *memory.Memory,
	histMemory *memory.Memory,
	learner *learning.Store,
) *Engine {
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 90
	}
	if cfg.PlanMaxSymbols <= 0 {
		cfg.PlanMaxSymbols = 12
	}
	if cfg.PlanResearchPerSymbol <= 0 {
		cfg.PlanResearchPerSymbol = 3
	}
	return &Engine{
		tracer:     tracer,
		cfg:        cfg,
		themeMap:   themeMap,
		broker:     brk,
		collector:  collector,
		analyzer:   analyzer,
		plans:      plans,
		macro:      macroSource,
		planner:    orderPlanner,
		aiMemory:   aiMemory,
		histMemory: histMemory,
		learner:    learner,
	}
}

// RunCycle executes one full decision cycle. executeOrders=false scores and
// learns but proposes no orders. The only fatal error is a failed portfolio
// snapshot; everything downstream degrades per collaborator.
func (e *Engine) RunCycle(ctx context.Context, executeOrders bool) (domain.CycleResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.run-cycle")
	defer span.End()

	snapshot, err := e.broker.GetPortfolioSnapshot(ctx)
	if err != nil {
		span.RecordError(err)
		return domain.CycleResult{}, fmt.Errorf("portfolio snapshot: %w", err)
	}

	signals, collection, researchBySymbol := e.collectSignals(ctx)

	bySymbol := make(map[string]domain.Signal, len(signals))
	for _, signal := range signals {
		bySymbol[signal.Symbol] = signal
	}
	accountEquity := e.estimateAccountEquity(ctx, snapshot, bySymbol)

	plan := e.generatePlan(ctx, snapshot, signals, researchBySymbol)

	var orders []domain.TradeOrder
	planUsed := false
	if executeOrders && e.planner != nil {
		orders, planUsed = e.planner.BuildOrders(ctx, snapshot, signals, accountEquity, plan)
		for _, order := range orders {
			result, err := e.broker.PlaceOrder(ctx, order)
			if err != nil {
				log.Printf("engine: order %s %s failed: %v", order.Instruction, order.Symbol, err)
				continue
			}
			log.Printf("engine: order %s %s qty=%d status=%s", order.Instruction, order.Symbol, order.Quantity, result.Status)
		}
	}

	decision := e.buildDecisionMetadata(signals, orders, accountEquity, executeOrders, plan, planUsed)

	featurePenalties := map[string]float64{}
	sourceBias := map[string]float64{}
	if e.learner != nil {
		featurePenalties = e.learner.FeaturePenalties()
		sourceBias = e.learner.SourceBias()
	}

	span.SetAttributes(
		attribute.Int("signals", len(signals)),
		attribute.Int("orders", len(orders)),
		attribute.Bool("plan_used", planUsed),
	)
	log.Printf("engine: cycle complete signals=%d orders=%d cash=%.2f", len(signals), len(orders), snapshot.Cash)

	return domain.CycleResult{
		RanAt:            time.Now().UTC(),
		ExecuteOrders:    executeOrders,
		Cash:             snapshot.Cash,
		AccountEquity:    accountEquity,
		EquityPositions:  snapshot.EquityPositions,
		OptionPositions:  snapshot.OptionPositions,
		Signals:          signals,
		Orders:           orders,
		Decision:         decision,
		Collection:       collection,
		FeaturePenalties: featurePenalties,
		SourceBias:       sourceBias,
		Plan:             plan,
		PlanUsed:         planUsed,
	}, nil
}

// collectSignals walks the universe in symbol order and produces the ranked
// signal list plus research summaries for the plan context. Per-symbol
// failures skip the symbol, never the cycle.
func (e *Engine) collectSignals(ctx context.Context) ([]domain.Signal, domain.CollectionMetadata, map[string][]string) {
	ctx, span := e.tracer.Start(ctx, "engine.collect-signals")
	defer span.End()

	var macroAssessment domain.MacroAssessment
	if e.macro != nil {
		macroAssessment = e.macro.Evaluate(ctx)
	}

	signals := make([]domain.Signal, 0, len(e.themeMap))
	researchBySymbol := make(map[string][]string)
	itemsBySource := map[string]int{}
	itemsBySymbol := map[string]int{}
	symbolsWithMarketData := 0
	symbolsWithResearch := 0
	itemsTotal := 0
	feedbackEvents := 0

	symbols := make([]string, 0, len(e.themeMap))
	for symbol := range e.themeMap {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		query := e.themeMap[symbol]

		price, err := e.broker.GetLastPrice(ctx, symbol)
		if err != nil {
			log.Printf("engine: market data failed for %s: %v", symbol, err)
			continue
		}
		closes, err := e.broker.GetHistory(ctx, symbol, e.cfg.HistoryDays)
		if err != nil {
			log.Printf("engine: history failed for %s: %v", symbol, err)
			continue
		}
		if price <= 0 && len(closes) > 0 {
			price = closes[len(closes)-1]
		}
		if price <= 0 {
			continue
		}
		symbolsWithMarketData++

		if e.histMemory != nil && e.cfg.EnableHistoricalFeedback {
			if adjustment := e.histMemory.ApplyPriceFeedback(ctx, symbol, price, e.cfg.HistoricalFeedbackStrength); adjustment != 0 {
				feedbackEvents++
			}
		}

		if e.learner != nil {
			if resolved := e.learner.MaybeResolveCall(ctx, symbol, price); resolved != nil && resolved.Outcome == learning.OutcomeBad {
				log.Printf("engine: resolved bad call for %s return=%.4f tags=%v", symbol, resolved.RealizedReturn, resolved.WhyBad)
			}
		}

		if e.analyzer != nil && e.cfg.EnableAIFeedback {
			e.aiMemory.ApplyPriceFeedback(ctx, symbol, price, e.cfg.AIFeedbackStrength)
		}

		var items []domain.ResearchItem
		if e.collector != nil {
			fetched, err := e.collector.Collect(ctx, symbol, query)
			if err != nil {
				log.Printf("engine: research lookup failed for %s: %v", symbol, err)
			} else {
				items = fetched
			}
		}

		itemsBySymbol[symbol] = len(items)
		itemsTotal += len(items)
		if len(items) > 0 {
			symbolsWithResearch++
		}
		sourceTypeSet := map[string]bool{}
		for _, item := range items {
			sourceType := item.NormalizedSourceType()
			itemsBySource[sourceType]++
			sourceTypeSet[sourceType] = true

			if len(researchBySymbol[symbol]) < e.cfg.PlanResearchPerSymbol {
				if summary := compactResearchSummary(item); summary != "" {
					researchBySymbol[symbol] = append(researchBySymbol[symbol], summary)
				}
			}
		}

		sourceMultipliers := map[string]float64{}
		if e.learner != nil && len(sourceTypeSet) > 0 {
			sourceTypes := make([]string, 0, len(sourceTypeSet))
			for sourceType := range sourceTypeSet {
				sourceTypes = append(sourceTypes, sourceType)
			}
			sort.Strings(sourceTypes)
			sourceMultipliers = e.learner.SourceMultipliersFor(sourceTypes)
		}

		newsScore, sentimentBySource, countBySource := sentiment.Blend(items, sourceMultipliers)

		historicalNewsScore := newsScore
		blendedNewsScore := newsScore
		if e.histMemory != nil {
			historicalNewsScore = e.histMemory.Update(ctx, symbol, newsScore)
			e.histMemory.RecordPrediction(ctx, symbol, newsScore, price)
			blendedNewsScore = blendNewsWithHistory(newsScore, historicalNewsScore, e.cfg.HistoricalNewsWeight)
		}

		sourceProfile := make(map[string]domain.SourceStat, len(sentimentBySource))
		for sourceType, score := range sentimentBySource {
			multiplier := 1.0
			if m, ok := sourceMultipliers[sourceType]; ok {
				multiplier = m
			}
			sourceProfile[sourceType] = domain.SourceStat{
				Sentiment:  score,
				Count:      countBySource[sourceType],
				Multiplier: multiplier,
			}
		}

		if e.learner != nil {
			e.learner.UpdateFromMarketReaction(ctx, symbol, price, sourceProfile)
		}

		ai := strategy.AIInputs{}
		if e.analyzer != nil {
			if len(items) > 0 {
				outlook, err := e.analyzer.Outlook(ctx, symbol, query, items)
				if err != nil {
					log.Printf("engine: ai outlook failed for %s: %v", symbol, err)
				} else {
					ai.Confidence = outlook.Confidence
					ai.ShortTerm = outlook.ShortTerm * ai.Confidence
					freshLongTerm := outlook.LongTerm * ai.Confidence
					ai.LongTerm = e.aiMemory.Update(ctx, symbol, freshLongTerm)
					e.aiMemory.RecordPrediction(ctx, symbol, freshLongTerm, price)
				}
			} else {
				ai.LongTerm = e.aiMemory.Get(symbol)
			}
		}

		signal := strategy.ComputeSignal(symbol, price, closes, blendedNewsScore, ai, strategy.Weights{
			AIShortTerm: e.cfg.AIShortTermWeight,
			AILongTerm:  e.cfg.AILongTermWeight,
		})
		if signal == nil {
			continue
		}
		scored := signal.WithNewsBreakdown(newsScore, historicalNewsScore)

		if macroAssessment.Enabled {
			scored = scored.WithMacro(macroAssessment.Score, e.cfg.MacroWeight*macroAssessment.Score)
		}

		profile := learning.FeatureProfile(scored, learning.ProfileWeights{
			AIShortTerm: e.cfg.AIShortTermWeight,
			AILongTerm:  e.cfg.AILongTermWeight,
			Macro:       e.cfg.MacroWeight,
		})
		if e.learner != nil {
			if delta := e.learner.AdjustmentFor(profile); delta != 0 {
				scored = scored.WithScoreDelta(delta)
			}
			e.learner.MaybeRecordCall(ctx, scored, profile, sourceProfile, e.cfg.EntryThreshold, e.cfg.OptionThreshold)
		}

		signals = append(signals, scored)
	}

	sort.SliceStable(signals, func(i, j int) bool { return signals[i].Score > signals[j].Score })

	metadata := domain.CollectionMetadata{
		SymbolsAnalyzed:       len(e.themeMap),
		SymbolsWithMarketData: symbolsWithMarketData,
		SymbolsWithResearch:   symbolsWithResearch,
		ResearchItemsTotal:    itemsTotal,
		ResearchItemsBySource: itemsBySource,
		ResearchItemsBySymbol: itemsBySymbol,
		FeedbackEvents:        feedbackEvents,
		Macro:                 macroAssessment,
	}
	return signals, metadata, researchBySymbol
}

// generatePlan builds the plan context (top signals first, then held
// symbols) and asks the plan source for a proposal. Nil when disabled or
// nothing to propose over.
func (e *Engine) generatePlan(ctx context.Context, snapshot domain.PortfolioSnapshot, signals []domain.Signal, researchBySymbol map[string][]string) *domain.DecisionPlan {
	if e.plans == nil {
		return nil
	}

	heldEquities := make([]string, 0, len(snapshot.EquityPositions))
	for symbol, quantity := range snapshot.EquityPositions {
		if quantity > 0 {
			heldEquities = append(heldEquities, symbol)
		}
	}
	heldOptionUnderlyings := make([]string, 0, len(snapshot.OptionPositions))
	heldSet := map[string]bool{}
	for _, symbol := range heldEquities {
		heldSet[strings.ToUpper(symbol)] = true
	}
	for symbol, quantity := range snapshot.OptionPositions {
		if quantity <= 0 {
			continue
		}
		underlying := strategy.OptionUnderlying(symbol)
		heldOptionUnderlyings = append(heldOptionUnderlyings, underlying)
		heldSet[underlying] = true
	}

	selected := make([]string, 0, e.cfg.PlanMaxSymbols)
	seen := map[string]bool{}
	for _, signal := range signals {
		if len(selected) >= e.cfg.PlanMaxSymbols {
			break
		}
		if !seen[signal.Symbol] {
			seen[signal.Symbol] = true
			selected = append(selected, signal.Symbol)
		}
	}
	held := make([]string, 0, len(heldSet))
	for symbol := range heldSet {
		held = append(held, symbol)
	}
	sort.Strings(held)
	for _, symbol := range held {
		if len(selected) >= e.cfg.PlanMaxSymbols {
			break
		}
		if !seen[symbol] {
			seen[symbol] = true
			selected = append(selected, symbol)
		}
	}

	bySymbol := make(map[string]domain.Signal, len(signals))
	for _, signal := range signals {
		bySymbol[signal.Symbol] = signal
	}
	contexts := make([]interpreter.SymbolContext, 0, len(selected))
	for _, symbol := range selected {
		signal, ok := bySymbol[symbol]
		if !ok {
			continue
		}
		contexts = append(contexts, interpreter.SymbolContext{
			Symbol:         signal.Symbol,
			Score:          signal.Score,
			Momentum20d:    signal.Momentum20d,
			Momentum5d:     signal.Momentum5d,
			Trend20d:       signal.Trend20d,
			Volatility20d:  signal.Volatility20d,
			NewsScore:      signal.NewsScore,
			MacroScore:     signal.MacroScore,
			RecentResearch: researchBySymbol[signal.Symbol],
		})
	}
	if len(contexts) == 0 {
		return nil
	}
	return e.plans.BuildPlan(ctx, contexts, heldEquities, heldOptionUnderlyings)
}

func (e *Engine) buildDecisionMetadata(signals []domain.Signal, orders []domain.TradeOrder, accountEquity float64, executeOrders bool, plan *domain.DecisionPlan, planUsed bool) domain.DecisionMetadata {
	byAsset := map[string]int{}
	byInstruction := map[string]int{}
	for _, order := range orders {
		byAsset[order.AssetType]++
		byInstruction[order.Instruction]++
	}

	equityCandidates := 0
	optionCandidates := 0
	scores := make([]float64, 0, len(signals))
	for _, signal := range signals {
		scores = append(scores, signal.Score)
		if signal.Score >= e.cfg.EntryThreshold {
			equityCandidates++
		}
		if signal.Score >= e.cfg.OptionThreshold {
			optionCandidates++
		}
	}
	stats := scoreStats(scores)

	noTradeReason := ""
	if !executeOrders {
		noTradeReason = "execution_disabled"
	} else if len(orders) == 0 {
		switch {
		case len(signals) == 0:
			noTradeReason = "no_valid_signals"
		case stats.Max < e.cfg.EntryThreshold:
			noTradeReason = "scores_below_entry_threshold"
		default:
			noTradeReason = "risk_or_sizing_constraints"
		}
	}

	metadata := domain.DecisionMetadata{
		AccountEquity:         accountEquity,
		SignalsGenerated:      len(signals),
		EquityEntryCandidates: equityCandidates,
		OptionEntryCandidates: optionCandidates,
		OrdersProposed:        len(orders),
		OrdersByAssetType:     byAsset,
		OrdersByInstruction:   byInstruction,
		ScoreStats:            stats,
		NoTradeReason:         noTradeReason,
		PlanUsed:              planUsed,
	}
	if len(signals) > 0 {
		metadata.TopSignalSymbol = signals[0].Symbol
		metadata.TopSignalScore = signals[0].Score
	}
	if plan != nil {
		metadata.PlanGenerated = true
		metadata.PlanConfidence = plan.Confidence
		metadata.PlanSummary = plan.Summary
	}
	return metadata
}

// estimateAccountEquity marks held equity positions at the cycle's signal
// prices, falling back to a fresh quote, floored at starting capital so
// sizing fractions stay meaningful on a drained account.
func (e *Engine) estimateAccountEquity(ctx context.Context, snapshot domain.PortfolioSnapshot, bySymbol map[string]domain.Signal) float64 {
	value := snapshot.Cash
	for symbol, quantity := range snapshot.EquityPositions {
		if quantity == 0 {
			continue
		}
		if signal, ok := bySymbol[symbol]; ok {
			value += float64(quantity) * signal.Price
			continue
		}
		latest, err := e.broker.GetLastPrice(ctx, symbol)
		if err != nil || latest <= 0 {
			continue
		}
		value += float64(quantity) * latest
	}
	if value < e.cfg.StartingCapital {
		return e.cfg.StartingCapital
	}
	return value
}

func scoreStats(scores []float64) domain.ScoreStats {
	if len(scores) == 0 {
		return domain.ScoreStats{}
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}
	return domain.ScoreStats{
		Avg:    stat.Mean(sorted, nil),
		Median: median,
		Max:    floats.Max(sorted),
		Min:    floats.Min(sorted),
	}
}

func blendNewsWithHistory(current, historical, historyWeight float64) float64 {
	weight := historyWeight
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	blended := (1-weight)*current + weight*historical
	if blended < -1 {
		return -1
	}
	if blended > 1 {
		return 1
	}
	return blended
}

func compactResearchSummary(item domain.ResearchItem) string {
	text := strings.TrimSpace(item.Content)
	if text == "" {
		text = strings.TrimSpace(item.Description)
	}
	if text == "" {
		text = strings.TrimSpace(item.Title)
	}
	if text == "" {
		return ""
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= 260 {
		return text
	}
	return strings.TrimRight(text[:257], " ") + "..."
}
