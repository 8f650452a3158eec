package bybit

import "encoding/json"

// BybitResponse represents a generic response from Bybit's V5 REST API.
// This structure covers the standard response envelope used across all endpoints.
type BybitResponse struct {
	RetCode    int                    `json:"retCode"`    // 0 means success; non-zero indicates an error code
	RetMsg     string                 `json:"retMsg"`     // Human-readable message describing the result or error
	Result     json.RawMessage        `json:"result"`     // Main response payload (varies per endpoint)
	RetExtInfo map[string]interface{} `json:"retExtInfo"` // Optional extra info (e.g. rate limits, error hints)
	Time       int64                  `json:"time"`       // Server timestamp (in milliseconds since epoch)
}

// Instrument describes one tradable pair.
type Instrument struct {
	Symbol    string `json:"symbol"`    // e.g., "BTCUSDT"
	BaseCoin  string `json:"baseCoin"`  // e.g., "BTC"
	QuoteCoin string `json:"quoteCoin"` // e.g., "USDT"
	Status    string `json:"status"`    // e.g., "Trading"
}

// Pair returns the instrument as "BASE/QUOTE".
func (i Instrument) Pair() string {
	return PairSymbol(i.BaseCoin, i.QuoteCoin)
}

type InstrumentListResponse struct {
	Category       string       `json:"category"` // e.g., "linear", "spot"
	NextPageCursor string       `json:"nextPageCursor"`
	List           []Instrument `json:"list"`
}

// Ticker is the subset of the ticker payload the ledger uses. Prices are
// decimal strings as sent by the exchange.
type Ticker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
}

type TickersResponse struct {
	Category string   `json:"category"`
	List     []Ticker `json:"list"`
}

// TickerMessage is a public WebSocket ticker push, e.g. topic "tickers.BTCUSDT".
type TickerMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"` // "snapshot" or "delta"
	Ts    int64  `json:"ts"`   // Timestamp (in milliseconds) when the message was sent
	Data  Ticker `json:"data"`
}
