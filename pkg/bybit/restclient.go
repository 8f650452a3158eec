package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

// get performs a GET on path and decodes the envelope's result into out.
func (c *RESTClient) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path + "?" + query.Encode()

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bybit error: status %d: %s", resp.StatusCode, body)
	}

	var rawResp BybitResponse
	if err := json.NewDecoder(resp.Body).Decode(&rawResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rawResp.RetCode != 0 {
		return fmt.Errorf("bybit error: retCode=%d retMsg=%s", rawResp.RetCode, rawResp.RetMsg)
	}

	if err := json.Unmarshal(rawResp.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// GetInstruments fetches every instrument of a category, following page cursors.
func (c *RESTClient) GetInstruments(ctx context.Context, category Category) ([]Instrument, error) {
	var out []Instrument
	cursor := ""
	for {
		q := url.Values{}
		q.Set("category", string(category))
		if category != CategorySpot {
			q.Set("limit", "1000") // spot returns everything in one page
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var page InstrumentListResponse
		if err := c.get(ctx, "/v5/market/instruments-info", q, &page); err != nil {
			return nil, err
		}
		out = append(out, page.List...)

		if page.NextPageCursor == "" || page.NextPageCursor == cursor {
			return out, nil
		}
		cursor = page.NextPageCursor
	}
}

// GetTradingPairs returns "BASE/QUOTE" symbols of instruments currently
// trading, in exchange order.
func (c *RESTClient) GetTradingPairs(ctx context.Context, category Category) ([]string, error) {
	instruments, err := c.GetInstruments(ctx, category)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var pairs []string
	for _, inst := range instruments {
		if inst.Status != "" && inst.Status != StatusTrading {
			continue
		}
		pair := inst.Pair()
		if inst.BaseCoin == "" || inst.QuoteCoin == "" || seen[pair] {
			continue
		}
		seen[pair] = true
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// GetTicker fetches the latest ticker for one symbol ("BTC/USDT" or "BTCUSDT").
func (c *RESTClient) GetTicker(ctx context.Context, category Category, symbol string) (Ticker, error) {
	q := url.Values{}
	q.Set("category", string(category))
	q.Set("symbol", ExchangeSymbol(symbol))

	var result TickersResponse
	if err := c.get(ctx, "/v5/market/tickers", q, &result); err != nil {
		return Ticker{}, err
	}
	if len(result.List) == 0 {
		return Ticker{}, fmt.Errorf("no ticker for %s", symbol)
	}
	return result.List[0], nil
}
