package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// defaultUniverse is the AI-theme equity universe traded when TRADE_UNIVERSE
// is unset: compute, infrastructure, software, raw materials and space.
var defaultUniverse = []string{
	"NVDA", "AMD", "AVGO", "TSM", "ASML", "MU", "ARM", "MRVL", "AMAT", "LRCX",
	"MSFT", "AMZN", "GOOGL", "META", "ANET", "SMCI", "DELL", "VRT", "EQIX", "DLR", "ETN", "CEG",
	"ORCL", "SNOW", "PLTR", "CRM", "NOW", "MDB", "DDOG", "NET", "ADBE",
	"FCX", "SCCO", "MP", "ALB", "SQM",
	"RKLB", "ASTS", "IRDM", "SPIR", "PL", "LMT", "NOC", "RTX",
}

const defaultMacroQuery = "US government policy regulation tariffs trade deals export controls sanctions " +
	"geopolitics fiscal policy central bank interest rates inflation"

type Config struct {
	TelegramBotToken string
	DatabaseURL      string
	RedisURL         string
	OpenAIAPIKey     string
	OpenAIModel      string
	AdminAPIKey      string
	MarketDataToken  string

	Universe       []string
	IncludeQuantum bool

	ExecuteOrders     bool
	CycleIntervalSecs int
	StartingCapital   float64

	EntryThreshold        float64
	ExitThreshold         float64
	MaxEquityPositions    int
	EquityCapitalFraction float64
	MaxPositionFraction   float64
	MinOrderNotional      float64
	MaxOrdersPerCycle     int

	EnableOptions         bool
	OptionThreshold       float64
	OptionCapitalFraction float64
	MaxOptionContracts    int
	OptionMinDTE          int
	OptionMaxDTE          int
	OptionTargetDelta     float64

	NewsLookbackHours          int
	ResearchMaxItems           int
	AIShortTermWeight          float64
	AILongTermWeight           float64
	MemoryAlpha                float64
	EnableAIFeedback           bool
	AIFeedbackStrength         float64
	EnableHistoricalMemory     bool
	HistoricalMemoryAlpha      float64
	HistoricalNewsWeight       float64
	EnableHistoricalFeedback   bool
	HistoricalFeedbackStrength float64

	EnableDecisionLearning  bool
	EvaluationHorizonHours  int
	BadCallReturnThreshold  float64
	GoodCallReturnThreshold float64
	LearningRate            float64
	MaxFeaturePenalty       float64
	EnableSourceLearning    bool
	SourceLearningRate      float64
	MaxSourceBias           float64
	MarketReactionStrength  float64

	MacroEnabled        bool
	MacroQuery          string
	MacroLookbackHours  int
	MacroMaxItems       int
	MacroWeight         float64
	MacroHeadlineWeight float64
	MacroAIShortWeight  float64
	MacroAILongWeight   float64

	EnablePlan               bool
	PlanMinConfidence        float64
	PlanSupportMinScore      float64
	PlanMaxSymbols           int
	RequireSignalsForEntries bool
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		AdminAPIKey:      os.Getenv("ADMIN_API_KEY"),
		MarketDataToken:  os.Getenv("MARKET_DATA_API_TOKEN"),
	}

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set, learning state will not persist")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set, AI outlook and plan will be disabled")
	}
	if cfg.MarketDataToken == "" {
		log.Println("Warning: MARKET_DATA_API_TOKEN not set, market data requests will be unauthenticated")
	}

	cfg.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}

	cfg.Universe = envSymbolList("TRADE_UNIVERSE", defaultUniverse)
	cfg.IncludeQuantum = envBool("INCLUDE_QUANTUM", true)

	cfg.ExecuteOrders = envBool("TRADE_EXECUTE_ORDERS", true)
	cfg.CycleIntervalSecs = envIntMin("TRADE_CYCLE_SECS", 300, 60)
	cfg.StartingCapital = envFloatMin("STARTING_CAPITAL", 1000.0, 0)

	cfg.EntryThreshold = envFloat("MIN_SIGNAL_TO_ENTER", 0.012)
	cfg.ExitThreshold = envFloat("EXIT_SIGNAL_THRESHOLD", -0.018)
	cfg.MaxEquityPositions = envIntMin("MAX_EQUITY_POSITIONS", 6, 1)
	cfg.EquityCapitalFraction = envFraction("EQUITY_CAPITAL_FRACTION", 0.60)
	cfg.MaxPositionFraction = envFraction("MAX_POSITION_FRACTION", 0.20)
	cfg.MinOrderNotional = envFloatMin("MIN_ORDER_NOTIONAL", 25.0, 0)
	cfg.MaxOrdersPerCycle = envIntMin("MAX_ORDERS_PER_CYCLE", 8, 1)

	cfg.EnableOptions = envBool("ENABLE_OPTIONS", true)
	cfg.OptionThreshold = envFloat("OPTION_SIGNAL_THRESHOLD", 0.035)
	cfg.OptionCapitalFraction = envFraction("OPTION_CAPITAL_FRACTION", 0.30)
	cfg.MaxOptionContracts = envIntMin("MAX_OPTION_CONTRACTS", 2, 0)
	cfg.OptionMinDTE = envIntMin("OPTION_MIN_DTE", 14, 1)
	cfg.OptionMaxDTE = envIntMin("OPTION_MAX_DTE", 45, cfg.OptionMinDTE)
	cfg.OptionTargetDelta = envFraction("OPTION_TARGET_DELTA", 0.45)

	cfg.NewsLookbackHours = envIntMin("NEWS_LOOKBACK_HOURS", 6, 1)
	cfg.ResearchMaxItems = envIntMin("RESEARCH_TOTAL_ITEMS_CAP", 24, 1)
	cfg.AIShortTermWeight = envFraction("AI_SHORT_TERM_WEIGHT", 0.10)
	cfg.AILongTermWeight = envFraction("AI_LONG_TERM_WEIGHT", 0.15)
	cfg.MemoryAlpha = envFraction("AI_LONG_TERM_MEMORY_ALPHA", 0.20)
	cfg.EnableAIFeedback = envBool("ENABLE_AI_FEEDBACK_LEARNING", true)
	cfg.AIFeedbackStrength = envFraction("AI_FEEDBACK_STRENGTH", 0.06)
	cfg.EnableHistoricalMemory = envBool("ENABLE_HISTORICAL_RESEARCH_MEMORY", true)
	cfg.HistoricalMemoryAlpha = envFraction("HISTORICAL_RESEARCH_MEMORY_ALPHA", 0.15)
	cfg.HistoricalNewsWeight = envFraction("HISTORICAL_RESEARCH_WEIGHT", 0.25)
	cfg.EnableHistoricalFeedback = envBool("ENABLE_HISTORICAL_RESEARCH_FEEDBACK", true)
	cfg.HistoricalFeedbackStrength = envFraction("HISTORICAL_RESEARCH_FEEDBACK_STRENGTH", 0.12)

	cfg.EnableDecisionLearning = envBool("ENABLE_DECISION_LEARNING", true)
	cfg.EvaluationHorizonHours = envIntMin("DECISION_EVALUATION_HORIZON_HOURS", 48, 1)
	cfg.BadCallReturnThreshold = envFloat("BAD_CALL_RETURN_THRESHOLD", -0.03)
	cfg.GoodCallReturnThreshold = envFloat("GOOD_CALL_RETURN_THRESHOLD", 0.03)
	cfg.LearningRate = envFraction("DECISION_LEARNING_RATE", 0.07)
	cfg.MaxFeaturePenalty = envFraction("MAX_FEATURE_PENALTY", 0.45)
	cfg.EnableSourceLearning = envBool("ENABLE_SOURCE_PRIORITY_LEARNING", true)
	cfg.SourceLearningRate = envFraction("SOURCE_PRIORITY_LEARNING_RATE", 0.10)
	cfg.MaxSourceBias = envFraction("MAX_SOURCE_RELIABILITY_BIAS", 0.40)
	cfg.MarketReactionStrength = envFraction("SOURCE_MARKET_REACTION_STRENGTH", 0.20)

	cfg.MacroEnabled = envBool("ENABLE_MACRO_POLICY_MODEL", true)
	cfg.MacroQuery = strings.TrimSpace(os.Getenv("MACRO_POLICY_QUERY"))
	if cfg.MacroQuery == "" {
		cfg.MacroQuery = defaultMacroQuery
	}
	cfg.MacroLookbackHours = envIntMin("MACRO_NEWS_LOOKBACK_HOURS", 24, 1)
	cfg.MacroMaxItems = envIntMin("MACRO_NEWS_ITEMS", 20, 1)
	cfg.MacroWeight = envFraction("MACRO_MODEL_WEIGHT", 0.10)
	cfg.MacroHeadlineWeight = envFraction("MACRO_HEADLINE_WEIGHT", 0.70)
	cfg.MacroAIShortWeight = envFraction("MACRO_AI_SHORT_TERM_WEIGHT", 0.15)
	cfg.MacroAILongWeight = envFraction("MACRO_AI_LONG_TERM_WEIGHT", 0.15)

	cfg.EnablePlan = envBool("ENABLE_DECISION_PLAN", true)
	cfg.PlanMinConfidence = envFraction("PLAN_MIN_CONFIDENCE", 0.35)
	cfg.PlanSupportMinScore = envFloat("PLAN_SUPPORT_MIN_SIGNAL_SCORE", 0.0)
	cfg.PlanMaxSymbols = envIntMin("PLAN_MAX_SYMBOLS", 12, 1)
	cfg.RequireSignalsForEntries = envBool("PLAN_REQUIRE_SIGNALS_FOR_ENTRIES", true)

	return cfg
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func envIntMin(key string, fallback, minimum int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			if n < minimum {
				return minimum
			}
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatMin(key string, fallback, minimum float64) float64 {
	n := envFloat(key, fallback)
	if n < minimum {
		return minimum
	}
	return n
}

// envFraction clamps to [0,1], used for capital fractions, rates and alphas.
func envFraction(key string, fallback float64) float64 {
	n := envFloat(key, fallback)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

func envSymbolList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		out := make([]string, len(fallback))
		copy(out, fallback)
		return out
	}

	var symbols []string
	seen := map[string]bool{}
	for _, chunk := range strings.Split(raw, ",") {
		symbol := strings.ToUpper(strings.TrimSpace(chunk))
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		symbols = append(symbols, symbol)
	}
	if len(symbols) == 0 {
		out := make([]string, len(fallback))
		copy(out, fallback)
		return out
	}
	return symbols
}
