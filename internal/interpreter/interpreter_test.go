package interpreter

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/trace"

	"automatic-succotash/internal/domain"
)

type stubLLMClient struct {
	response *openai.ChatCompletion
	err      error
	calls    int
}

func (s *stubLLMClient) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	s.calls++
	return s.response, s.err
}

func completionWith(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func testTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

func testItems() []domain.ResearchItem {
	return []domain.ResearchItem{
		{Title: "NVIDIA beats expectations", Description: "record quarter", Source: "Example Wire", SourceType: "news"},
	}
}

func TestOutlookParsesAndClamps(t *testing.T) {
	llm := &stubLLMClient{response: completionWith(
		`{"short_term": 1.8, "long_term": -0.4, "confidence": 0.7, "summary": "strong demand"}`,
	)}
	i := &Interpreter{client: llm, tracer: testTracer(), model: "gpt-4o-mini"}

	outlook, err := i.Outlook(context.Background(), "NVDA", "NVIDIA AI chips", testItems())
	if err != nil {
		t.Fatalf("Outlook: %v", err)
	}
	if outlook.ShortTerm != 1.0 {
		t.Fatalf("short term = %v, want clamped 1.0", outlook.ShortTerm)
	}
	if outlook.LongTerm != -0.4 || outlook.Confidence != 0.7 {
		t.Fatalf("outlook = %+v", outlook)
	}
	if outlook.Rationale != "strong demand" {
		t.Fatalf("rationale = %q", outlook.Rationale)
	}
}

func TestOutlookHandlesCodeFence(t *testing.T) {
	llm := &stubLLMClient{response: completionWith(
		"```json\n{\"short_term\": 0.2, \"long_term\": 0.1, \"confidence\": 0.5, \"summary\": \"ok\"}\n```",
	)}
	i := &Interpreter{client: llm, tracer: testTracer(), model: "gpt-4o-mini"}

	outlook, err := i.Outlook(context.Background(), "NVDA", "q", testItems())
	if err != nil {
		t.Fatalf("Outlook: %v", err)
	}
	if outlook.ShortTerm != 0.2 {
		t.Fatalf("short term = %v, want 0.2", outlook.ShortTerm)
	}
}

func TestOutlookNilInterpreterAndNoItems(t *testing.T) {
	var nilInterpreter *Interpreter
	outlook, err := nilInterpreter.Outlook(context.Background(), "NVDA", "q", testItems())
	if err != nil || outlook != (domain.AIOutlook{}) {
		t.Fatalf("nil interpreter = %+v, %v", outlook, err)
	}

	llm := &stubLLMClient{response: completionWith("{}")}
	i := &Interpreter{client: llm, tracer: testTracer(), model: "gpt-4o-mini"}
	outlook, err = i.Outlook(context.Background(), "NVDA", "q", nil)
	if err != nil || outlook != (domain.AIOutlook{}) {
		t.Fatalf("no items = %+v, %v", outlook, err)
	}
	if llm.calls != 0 {
		t.Fatal("no items must not call the model")
	}
}

func TestOutlookErrorSurfaces(t *testing.T) {
	llm := &stubLLMClient{err: errors.New("api down")}
	i := &Interpreter{client: llm, tracer: testTracer(), model: "gpt-4o-mini"}

	if _, err := i.Outlook(context.Background(), "NVDA", "q", testItems()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestBuildPlanNormalizesSymbols(t *testing.T) {
	llm := &stubLLMClient{response: completionWith(
		`{"equity_buy_symbols": ["nvda", "NVDA", "bad symbol!", "TOOLONGSYMBOL123"],
		  "option_buy_symbols": ["amd"],
		  "exit_symbols": [],
		  "confidence": 1.7,
		  "summary": " rotate into compute ",
		  "rationale_by_symbol": {"nvda": "accelerating demand", "": "dropped"}}`,
	)}
	p := &PlanBuilder{client: llm, tracer: testTracer(), model: "gpt-4o-mini", maxSymbols: 12}

	plan := p.BuildPlan(context.Background(), []SymbolContext{{Symbol: "NVDA", Score: 0.08}}, nil, nil)
	if plan == nil {
		t.Fatal("expected a plan")
	}
	if len(plan.EquityBuySymbols) != 1 || plan.EquityBuySymbols[0] != "NVDA" {
		t.Fatalf("equity symbols = %v, want [NVDA]", plan.EquityBuySymbols)
	}
	if len(plan.OptionBuySymbols) != 1 || plan.OptionBuySymbols[0] != "AMD" {
		t.Fatalf("option symbols = %v, want [AMD]", plan.OptionBuySymbols)
	}
	if plan.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want clamped 1.0", plan.Confidence)
	}
	if plan.Summary != "rotate into compute" {
		t.Fatalf("summary = %q", plan.Summary)
	}
	if plan.RationaleBySymbol["NVDA"] != "accelerating demand" {
		t.Fatalf("rationale = %v", plan.RationaleBySymbol)
	}
}

func TestBuildPlanFailuresReturnNil(t *testing.T) {
	p := &PlanBuilder{client: &stubLLMClient{err: errors.New("api down")}, tracer: testTracer(), model: "m", maxSymbols: 12}
	if plan := p.BuildPlan(context.Background(), []SymbolContext{{Symbol: "NVDA"}}, nil, nil); plan != nil {
		t.Fatalf("error should yield nil plan, got %+v", plan)
	}

	p = &PlanBuilder{client: &stubLLMClient{response: completionWith("not json")}, tracer: testTracer(), model: "m", maxSymbols: 12}
	if plan := p.BuildPlan(context.Background(), []SymbolContext{{Symbol: "NVDA"}}, nil, nil); plan != nil {
		t.Fatalf("garbage output should yield nil plan, got %+v", plan)
	}

	var nilBuilder *PlanBuilder
	if plan := nilBuilder.BuildPlan(context.Background(), []SymbolContext{{Symbol: "NVDA"}}, nil, nil); plan != nil {
		t.Fatal("nil builder must be disabled")
	}
}

func TestNormalizeSymbolList(t *testing.T) {
	got := NormalizeSymbolList([]string{" nvda ", "NVDA", "BRK.B", "X Y", "", "ABCDEFGHIJKLM"}, 10)
	want := []string{"NVDA", "BRK.B"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	if got := NormalizeSymbolList([]string{"A", "B", "C"}, 2); len(got) != 2 {
		t.Fatalf("limit not applied: %v", got)
	}
}
