// Package interpreter wraps the LLM collaborators: a cautious per-symbol
// news analyst and an optional portfolio-level decision planner.
package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"automatic-succotash/internal/domain"
)

type openAIChatClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Interpreter derives per-symbol outlooks from research items. A nil
// Interpreter is disabled and yields zero outlooks.
type Interpreter struct {
	client openAIChatClient
	tracer trace.Tracer
	model  string
}

func NewInterpreter(tracer trace.Tracer, apiKey, model string) *Interpreter {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Interpreter{
		client: &openAIClient{client: client},
		tracer: tracer,
		model:  model,
	}
}

// Outlook evaluates the symbol's research coverage. Errors and missing items
// degrade to the zero outlook, never a failed cycle.
func (i *Interpreter) Outlook(ctx context.Context, symbol, query string, items []domain.ResearchItem) (domain.AIOutlook, error) {
	if i == nil || i.client == nil || len(items) == 0 {
		return domain.AIOutlook{}, nil
	}

	ctx, span := i.tracer.Start(ctx, "interpreter.outlook")
	defer span.End()
	span.SetAttributes(
		attribute.String("symbol", symbol),
		attribute.Int("item_count", len(items)),
	)

	var sb strings.Builder
	for idx, item := range items {
		if idx >= 12 {
			break
		}
		var sourceParts []string
		for _, part := range []string{item.SourceType, item.Source} {
			if strings.TrimSpace(part) != "" {
				sourceParts = append(sourceParts, strings.TrimSpace(part))
			}
		}
		prefix := ""
		if len(sourceParts) > 0 {
			prefix = "[" + strings.Join(sourceParts, " | ") + "] "
		}
		context := compactText(firstNonEmpty(item.Content, item.Description), 450)
		if context != "" {
			sb.WriteString(fmt.Sprintf("- %s%s | %s\n", prefix, item.Title, context))
		} else {
			sb.WriteString(fmt.Sprintf("- %s%s\n", prefix, item.Title))
		}
	}

	userPrompt := fmt.Sprintf(
		"Symbol: %s\nTheme query: %s\nRecent coverage:\n%s\n"+
			"Evaluate outlook from this news only.\n"+
			"Return JSON with keys:\n"+
			"short_term (float -1 to 1, 1-10 day view),\n"+
			"long_term (float -1 to 1, 3-12 month view),\n"+
			"confidence (float 0 to 1),\n"+
			"summary (max 30 words).",
		symbol, query, sb.String(),
	)
	systemPrompt := "You are a cautious equity analyst. Avoid hype. If evidence is mixed, output scores near 0. Return ONLY JSON, no markdown."

	completion, err := i.client.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model: i.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		span.RecordError(err)
		return domain.AIOutlook{}, fmt.Errorf("outlook completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return domain.AIOutlook{}, fmt.Errorf("empty outlook completion")
	}

	var parsed struct {
		ShortTerm  float64 `json:"short_term"`
		LongTerm   float64 `json:"long_term"`
		Confidence float64 `json:"confidence"`
		Summary    string  `json:"summary"`
	}
	raw := trimCodeFence(completion.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return domain.AIOutlook{}, fmt.Errorf("parse outlook json: %w", err)
	}

	return domain.AIOutlook{
		ShortTerm:  clamp(parsed.ShortTerm, -1, 1),
		LongTerm:   clamp(parsed.LongTerm, -1, 1),
		Confidence: clamp(parsed.Confidence, 0, 1),
		Rationale:  strings.TrimSpace(parsed.Summary),
	}, nil
}

// SymbolContext is one row of the planner's decision context.
type SymbolContext struct {
	Symbol         string   `json:"symbol"`
	Score          float64  `json:"score"`
	Momentum20d    float64  `json:"momentum_20d"`
	Momentum5d     float64  `json:"momentum_5d"`
	Trend20d       float64  `json:"trend_20d"`
	Volatility20d  float64  `json:"volatility_20d"`
	NewsScore      float64  `json:"news_score"`
	MacroScore     float64  `json:"macro_score"`
	RecentResearch []string `json:"recent_research"`
}

// PlanBuilder proposes a portfolio-level trade plan. A nil PlanBuilder is
// disabled and never proposes one.
type PlanBuilder struct {
	client     openAIChatClient
	tracer     trace.Tracer
	model      string
	maxSymbols int
}

func NewPlanBuilder(tracer trace.Tracer, apiKey, model string, maxSymbols int) *PlanBuilder {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	if maxSymbols < 1 {
		maxSymbols = 1
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &PlanBuilder{
		client:     &openAIClient{client: client},
		tracer:     tracer,
		model:      model,
		maxSymbols: maxSymbols,
	}
}

// BuildPlan asks the model for a plan over the given symbol contexts.
// Returns nil (no plan) on any failure.
func (p *PlanBuilder) BuildPlan(ctx context.Context, contexts []SymbolContext, heldEquities, heldOptionUnderlyings []string) *domain.DecisionPlan {
	if p == nil || p.client == nil || len(contexts) == 0 {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "interpreter.build-plan")
	defer span.End()
	span.SetAttributes(attribute.Int("context_rows", len(contexts)))

	if len(contexts) > p.maxSymbols {
		contexts = contexts[:p.maxSymbols]
	}
	contextJSON, err := json.Marshal(contexts)
	if err != nil {
		return nil
	}

	userPrompt := fmt.Sprintf(
		"You are selecting candidate trades for an AI-themed portfolio.\n"+
			"Prioritize high-conviction, risk-aware ideas only.\n"+
			"Use the provided signal metrics and research snippets.\n"+
			"Return JSON with keys:\n"+
			"equity_buy_symbols (list of ticker strings),\n"+
			"option_buy_symbols (list of ticker strings),\n"+
			"exit_symbols (list of ticker strings),\n"+
			"confidence (0 to 1),\n"+
			"summary (max 50 words),\n"+
			"rationale_by_symbol (object symbol -> short reason).\n\n"+
			"Held equities: %s\n"+
			"Held option underlyings: %s\n\n"+
			"Symbol context JSON:\n%s",
		joinSymbols(heldEquities), joinSymbols(heldOptionUnderlyings), contextJSON,
	)
	systemPrompt := "You are a disciplined portfolio manager. Do not force trades. Output only symbols from the provided context. Return ONLY JSON, no markdown."

	completion, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		span.RecordError(err)
		log.Printf("interpreter: plan completion failed: %v", err)
		return nil
	}
	if len(completion.Choices) == 0 {
		return nil
	}

	var parsed struct {
		EquityBuySymbols  []string          `json:"equity_buy_symbols"`
		OptionBuySymbols  []string          `json:"option_buy_symbols"`
		ExitSymbols       []string          `json:"exit_symbols"`
		Confidence        float64           `json:"confidence"`
		Summary           string            `json:"summary"`
		RationaleBySymbol map[string]string `json:"rationale_by_symbol"`
	}
	raw := trimCodeFence(completion.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		log.Printf("interpreter: parse plan json: %v", err)
		return nil
	}

	rationale := make(map[string]string, len(parsed.RationaleBySymbol))
	for key, value := range parsed.RationaleBySymbol {
		symbol := strings.ToUpper(strings.TrimSpace(key))
		reason := strings.TrimSpace(value)
		if symbol == "" || reason == "" {
			continue
		}
		if len(reason) > 320 {
			reason = reason[:320]
		}
		rationale[symbol] = reason
	}

	return &domain.DecisionPlan{
		EquityBuySymbols:  NormalizeSymbolList(parsed.EquityBuySymbols, p.maxSymbols),
		OptionBuySymbols:  NormalizeSymbolList(parsed.OptionBuySymbols, p.maxSymbols),
		ExitSymbols:       NormalizeSymbolList(parsed.ExitSymbols, p.maxSymbols),
		Confidence:        clamp(parsed.Confidence, 0, 1),
		Summary:           strings.TrimSpace(parsed.Summary),
		RationaleBySymbol: rationale,
	}
}

const symbolCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789.-"

// NormalizeSymbolList uppercases, validates, dedupes and caps a proposed
// ticker list. Symbols longer than 12 characters or with characters outside
// the ticker charset are dropped.
func NormalizeSymbolList(raw []string, limit int) []string {
	var out []string
	seen := map[string]bool{}
	for _, item := range raw {
		symbol := strings.ToUpper(strings.TrimSpace(item))
		if symbol == "" || len(symbol) > 12 || seen[symbol] {
			continue
		}
		valid := true
		for _, ch := range symbol {
			if !strings.ContainsRune(symbolCharset, ch) {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		seen[symbol] = true
		out = append(out, symbol)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func joinSymbols(symbols []string) string {
	seen := map[string]bool{}
	var cleaned []string
	for _, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		cleaned = append(cleaned, symbol)
	}
	if len(cleaned) == 0 {
		return "none"
	}
	sort.Strings(cleaned)
	return strings.Join(cleaned, ", ")
}

// extractJSONObject returns the outermost {...} fragment so stray prose
// around the object does not break decoding.
func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first < 0 || last <= first {
		return text
	}
	return text[first : last+1]
}

func trimCodeFence(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "```") {
		v = strings.TrimPrefix(v, "```")
		v = strings.TrimSpace(v)
		if strings.HasPrefix(strings.ToLower(v), "json") {
			v = strings.TrimSpace(v[4:])
		}
		v = strings.TrimSuffix(v, "```")
		v = strings.TrimSpace(v)
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func compactText(text string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxLen {
		text = strings.TrimSpace(text[:maxLen-3]) + "..."
	}
	return text
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type openAIClient struct {
	client openai.Client
}

func (c *openAIClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
