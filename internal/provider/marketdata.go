package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const brokerageBaseURL = "https://api.schwabapi.com/marketdata/v1"

// quotePriceKeys is the order quote fields are tried for a usable price.
var quotePriceKeys = []string{"lastPrice", "mark", "closePrice", "bidPrice", "askPrice"}

// BrokerageDataClient fetches quotes, daily history and option chains from
// the brokerage market-data REST API. It satisfies broker.MarketData.
type BrokerageDataClient struct {
	client  *http.Client
	baseURL string
	token   string
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewBrokerageDataClient creates a client with built-in rate limiting.
// Rate limited to 120 requests per minute (one token every 500ms).
func NewBrokerageDataClient(tracer trace.Tracer, token string) *BrokerageDataClient {
	return &BrokerageDataClient{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: brokerageBaseURL,
		token:   token,
		tracer:  tracer,
		limiter: NewRateLimiter(120, 500*time.Millisecond),
	}
}

// GetLastPrice returns the freshest usable quote price for symbol, or
// (0, nil) when the quote carries no positive price field.
func (p *BrokerageDataClient) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	_, span := p.tracer.Start(ctx, "brokerage-data.get-last-price")
	defer span.End()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	span.SetAttributes(attribute.String("symbol", symbol))

	u := fmt.Sprintf("%s/quotes?symbols=%s", p.baseURL, url.QueryEscape(symbol))
	body, err := p.doRequest(ctx, u)
	if err != nil {
		return 0, fmt.Errorf("fetch quote for %s: %w", symbol, err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("parse quote for %s: %w", symbol, err)
	}

	raw, ok := payload[symbol]
	if !ok {
		for _, v := range payload {
			raw = v
			break
		}
	}
	if raw == nil {
		return 0, nil
	}

	var entry struct {
		Quote map[string]float64 `json:"quote"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Quote == nil {
		// Some responses put the quote fields at the top level.
		var flat map[string]float64
		if err := json.Unmarshal(raw, &flat); err != nil {
			return 0, nil
		}
		entry.Quote = flat
	}

	for _, key := range quotePriceKeys {
		if price, ok := entry.Quote[key]; ok && price > 0 {
			return price, nil
		}
	}
	return 0, nil
}

// GetHistory returns up to days daily closes for symbol, oldest first.
func (p *BrokerageDataClient) GetHistory(ctx context.Context, symbol string, days int) ([]float64, error) {
	_, span := p.tracer.Start(ctx, "brokerage-data.get-history")
	defer span.End()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	span.SetAttributes(attribute.String("symbol", symbol))

	u := fmt.Sprintf("%s/pricehistory?symbol=%s&periodType=year&period=1&frequencyType=daily&frequency=1",
		p.baseURL, url.QueryEscape(symbol))
	body, err := p.doRequest(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", symbol, err)
	}

	var payload struct {
		Candles []struct {
			Close float64 `json:"close"`
		} `json:"candles"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse history for %s: %w", symbol, err)
	}

	closes := make([]float64, 0, len(payload.Candles))
	for _, candle := range payload.Candles {
		if candle.Close > 0 {
			closes = append(closes, candle.Close)
		}
	}
	if days > 0 && len(closes) > days {
		closes = closes[len(closes)-days:]
	}
	return closes, nil
}

// GetOptionChain returns the raw chain document for symbol. The call side
// lives under callExpDateMap keyed "yyyy-MM-dd:dte" then strike.
func (p *BrokerageDataClient) GetOptionChain(ctx context.Context, symbol string) (map[string]any, error) {
	_, span := p.tracer.Start(ctx, "brokerage-data.get-option-chain")
	defer span.End()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	span.SetAttributes(attribute.String("symbol", symbol))

	u := fmt.Sprintf("%s/chains?symbol=%s&contractType=CALL", p.baseURL, url.QueryEscape(symbol))
	body, err := p.doRequest(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch option chain for %s: %w", symbol, err)
	}

	var chain map[string]any
	if err := json.Unmarshal(body, &chain); err != nil {
		return nil, fmt.Errorf("parse option chain for %s: %w", symbol, err)
	}
	return chain, nil
}

func (p *BrokerageDataClient) doRequest(ctx context.Context, url string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("market data API error %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
