package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"automatic-succotash/internal/bot"
	"automatic-succotash/internal/broker"
	"automatic-succotash/internal/cache"
	"automatic-succotash/internal/config"
	"automatic-succotash/internal/db"
	"automatic-succotash/internal/engine"
	"automatic-succotash/internal/handler"
	"automatic-succotash/internal/interpreter"
	"automatic-succotash/internal/job"
	"automatic-succotash/internal/learning"
	"automatic-succotash/internal/macro"
	"automatic-succotash/internal/memory"
	"automatic-succotash/internal/planner"
	"automatic-succotash/internal/provider"
	"automatic-succotash/internal/repository"
	"automatic-succotash/internal/research"
	"automatic-succotash/internal/service"
	"automatic-succotash/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	initPostgresFunc  = db.InitPostgres
	initRedisFunc     = cache.InitRedis
	initTracerFunc    = tracing.InitTracer
	newMarketDataFunc = func(tracer trace.Tracer, token string) broker.MarketData {
		return provider.NewBrokerageDataClient(tracer, token)
	}
	startCycleJobFunc      = func(j *job.TradeCycleJob, ctx context.Context) { go j.Start(ctx) }
	startTelegramBotFunc   = bot.StartTelegramBot
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Postgres and Redis
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Persistence: Postgres-backed when configured, in-process otherwise
	stateRepo := repository.NewStateRepository(db.Pool, tracer)
	journalRepo := repository.NewJournalRepository(db.Pool, tracer)

	var stateStore learning.StateStore
	var journal learning.Journal
	var aiStore, histStore memory.Store
	if db.Pool != nil {
		if err := stateRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run state migrations: %v", err)
		}
		if err := journalRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run journal migrations: %v", err)
		}
		stateStore = stateRepo
		journal = journalRepo
		aiStore = repository.NewMemoryStore(stateRepo, repository.DocumentAIMemory)
		histStore = repository.NewMemoryStore(stateRepo, repository.DocumentHistoricalMemory)
	} else {
		stateStore = repository.NewEphemeralStateStore()
	}

	aiMemory := memory.New(ctx, aiStore, cfg.MemoryAlpha)
	var histMemory *memory.Memory
	if cfg.EnableHistoricalMemory {
		histMemory = memory.New(ctx, histStore, cfg.HistoricalMemoryAlpha)
	}

	var learner *learning.Store
	if cfg.EnableDecisionLearning {
		learner = learning.NewStore(ctx, stateStore, journal, learning.Config{
			EvaluationHorizon:       time.Duration(cfg.EvaluationHorizonHours) * time.Hour,
			BadCallReturnThreshold:  cfg.BadCallReturnThreshold,
			GoodCallReturnThreshold: cfg.GoodCallReturnThreshold,
			LearningRate:            cfg.LearningRate,
			MaxFeaturePenalty:       cfg.MaxFeaturePenalty,
			EnableSourceLearning:    cfg.EnableSourceLearning,
			SourceLearningRate:      cfg.SourceLearningRate,
			MaxSourceBias:           cfg.MaxSourceBias,
			MarketReactionStrength:  cfg.MarketReactionStrength,
		})
	}

	// Market data, paper execution and research
	marketData := newMarketDataFunc(tracer, cfg.MarketDataToken)
	paperBroker := broker.NewPaperBroker(marketData, cfg.StartingCapital)
	collector := research.NewGoogleNewsCollector(tracer, time.Duration(cfg.NewsLookbackHours)*time.Hour, cfg.ResearchMaxItems)

	// AI collaborators are nil (disabled) without an API key
	var analyzer engine.Analyzer
	if itp := interpreter.NewInterpreter(tracer, cfg.OpenAIAPIKey, cfg.OpenAIModel); itp != nil {
		analyzer = itp
	}
	var plans engine.PlanSource
	if cfg.EnablePlan {
		if builder := interpreter.NewPlanBuilder(tracer, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.PlanMaxSymbols); builder != nil {
			plans = builder
		}
	}

	macroCollector := research.NewGoogleNewsCollector(tracer, time.Duration(cfg.MacroLookbackHours)*time.Hour, cfg.MacroMaxItems)
	overlay := macro.NewOverlay(macro.Config{
		Enabled:           cfg.MacroEnabled,
		Query:             cfg.MacroQuery,
		LookbackHours:     cfg.MacroLookbackHours,
		MaxItems:          cfg.MacroMaxItems,
		HeadlineWeight:    cfg.MacroHeadlineWeight,
		AIShortTermWeight: cfg.MacroAIShortWeight,
		AILongTermWeight:  cfg.MacroAILongWeight,
	}, macroCollector, analyzer, aiMemory)

	orderPlanner := planner.New(planner.Config{
		EntryThreshold:           cfg.EntryThreshold,
		ExitThreshold:            cfg.ExitThreshold,
		OptionThreshold:          cfg.OptionThreshold,
		MaxEquityPositions:       cfg.MaxEquityPositions,
		EquityCapitalFraction:    cfg.EquityCapitalFraction,
		MaxPositionFraction:      cfg.MaxPositionFraction,
		MinOrderNotional:         cfg.MinOrderNotional,
		MaxOrdersPerCycle:        cfg.MaxOrdersPerCycle,
		EnableOptions:            cfg.EnableOptions,
		MaxOptionContracts:       cfg.MaxOptionContracts,
		OptionCapitalFraction:    cfg.OptionCapitalFraction,
		OptionMinDTE:             cfg.OptionMinDTE,
		OptionMaxDTE:             cfg.OptionMaxDTE,
		OptionTargetDelta:        cfg.OptionTargetDelta,
		PlanMinConfidence:        cfg.PlanMinConfidence,
		PlanSupportMinScore:      cfg.PlanSupportMinScore,
		RequireSignalsForEntries: cfg.RequireSignalsForEntries,
	}, paperBroker)

	themeMap := research.BuildThemeMap(cfg.Universe, cfg.IncludeQuantum)
	eng := engine.New(tracer, engine.Config{
		EntryThreshold:             cfg.EntryThreshold,
		OptionThreshold:            cfg.OptionThreshold,
		AIShortTermWeight:          cfg.AIShortTermWeight,
		AILongTermWeight:           cfg.AILongTermWeight,
		MacroWeight:                cfg.MacroWeight,
		HistoricalNewsWeight:       cfg.HistoricalNewsWeight,
		HistoricalFeedbackStrength: cfg.HistoricalFeedbackStrength,
		EnableHistoricalFeedback:   cfg.EnableHistoricalFeedback,
		AIFeedbackStrength:         cfg.AIFeedbackStrength,
		EnableAIFeedback:           cfg.EnableAIFeedback,
		StartingCapital:            cfg.StartingCapital,
		PlanMaxSymbols:             cfg.PlanMaxSymbols,
	}, themeMap, paperBroker, collector, analyzer, plans, overlay, orderPlanner, aiMemory, histMemory, learner)

	// Cycle cache falls back to process memory when Redis is unavailable
	var cycleClient cache.RedisClient
	if cache.Client != nil {
		cycleClient = cache.Client
	}
	cycleCache := cache.NewCycleCache(cycleClient, 0)

	var learningReader service.LearningReader
	if learner != nil {
		learningReader = learner
	}
	tradeService := service.NewTradeService(tracer, eng, cycleCache, learningReader, cfg.ExecuteOrders)

	// Start the cycle loop (background goroutine, stopped by ctx cancel)
	cycleJob := job.NewTradeCycleJob(tracer, tradeService, time.Duration(cfg.CycleIntervalSecs)*time.Second)
	startCycleJobFunc(cycleJob, ctx)

	// Start Telegram bot
	os.Setenv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	startTelegramBotFunc(tradeService)

	// Create handlers and routes
	h := handler.New(tracer, tradeService, cfg.AdminAPIKey)
	if db.Pool != nil {
		h.SetJournalReader(journalRepo)
	}

	r := newRouterFunc()
	r.Use(otelgin.Middleware("automatic-succotash"))

	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
