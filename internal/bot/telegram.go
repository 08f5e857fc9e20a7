package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"automatic-succotash/internal/domain"
	"automatic-succotash/internal/service"

	tele "gopkg.in/telebot.v3"
)

const maxSignalsInReply = 10

func StartTelegramBot(tradeService *service.TradeService) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/signals", func(c tele.Context) error {
		signals := tradeService.LatestSignals(context.Background())
		return c.Send(formatSignals(signals))
	})

	b.Handle("/portfolio", func(c tele.Context) error {
		cycle, ok := tradeService.LatestCycle(context.Background())
		if !ok {
			return c.Send("No cycle has completed yet.")
		}
		return c.Send(formatPortfolio(cycle))
	})

	b.Handle("/learning", func(c tele.Context) error {
		return c.Send(formatLearning(tradeService.FeaturePenalties(), tradeService.SourceBias()))
	})

	log.Println("Telegram bot started")
	go b.Start()
}

func formatSignals(signals []domain.Signal) string {
	if len(signals) == 0 {
		return "No signals yet. The next cycle will populate them."
	}
	var sb strings.Builder
	sb.WriteString("Latest signals (best first):\n")
	for i, s := range signals {
		if i >= maxSignalsInReply {
			sb.WriteString(fmt.Sprintf("... and %d more", len(signals)-maxSignalsInReply))
			break
		}
		sb.WriteString(fmt.Sprintf("%s  score %+.4f  $%.2f  news %+.2f\n", s.Symbol, s.Score, s.Price, s.NewsScore))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatPortfolio(cycle domain.CycleResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Portfolio as of %s\n", cycle.RanAt.UTC().Format("2006-01-02 15:04 UTC")))
	sb.WriteString(fmt.Sprintf("Cash: $%.2f\nEquity: $%.2f\n", cycle.Cash, cycle.AccountEquity))

	if len(cycle.EquityPositions) == 0 && len(cycle.OptionPositions) == 0 {
		sb.WriteString("No open positions")
		return sb.String()
	}
	if len(cycle.EquityPositions) > 0 {
		sb.WriteString("Shares:\n")
		for _, sym := range sortedKeys(cycle.EquityPositions) {
			sb.WriteString(fmt.Sprintf("  %s x%d\n", sym, cycle.EquityPositions[sym]))
		}
	}
	if len(cycle.OptionPositions) > 0 {
		sb.WriteString("Options:\n")
		for _, sym := range sortedKeys(cycle.OptionPositions) {
			sb.WriteString(fmt.Sprintf("  %s x%d\n", sym, cycle.OptionPositions[sym]))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatLearning(penalties, bias map[string]float64) string {
	if len(penalties) == 0 && len(bias) == 0 {
		return "No learning adjustments yet."
	}
	var sb strings.Builder
	if len(penalties) > 0 {
		sb.WriteString("Feature penalties:\n")
		for _, feature := range sortedFloatKeys(penalties) {
			sb.WriteString(fmt.Sprintf("  %s %.3f\n", feature, penalties[feature]))
		}
	}
	if len(bias) > 0 {
		sb.WriteString("Source bias:\n")
		for _, src := range sortedFloatKeys(bias) {
			sb.WriteString(fmt.Sprintf("  %s %+.3f\n", src, bias[src]))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFloatKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
