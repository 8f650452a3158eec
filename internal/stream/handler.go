package stream

import (
	"encoding/json"
	"strings"
	"time"

	"portfolioledger/pkg/bybit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MakeMessageHandler returns a function that handles incoming WebSocket
// messages by parsing ticker pushes for pairs and storing their last price
// in book. onUpdate, if set, is called with the pair after each stored price.
func MakeMessageHandler(logger *zap.Logger, book *PriceBook, pairs []string, onUpdate func(pair string)) func(msg []byte) {
	byExchange := make(map[string]string, len(pairs))
	for _, p := range pairs {
		byExchange[bybit.ExchangeSymbol(p)] = p
	}

	return func(msg []byte) {
		// Extract topic string for early filtering
		var meta struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(msg, &meta); err != nil {
			logger.Warn("failed to extract topic", zap.Error(err))
			return
		}
		if !bybit.IsTickerTopic(meta.Topic) {
			return // subscription acks, pongs
		}

		var parsed bybit.TickerMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			logger.Warn("failed to parse ticker payload", zap.Error(err))
			return
		}

		pair, ok := byExchange[symbolFromTopic(parsed.Topic)]
		if !ok {
			return
		}
		// Deltas omit unchanged fields
		if parsed.Data.LastPrice == "" {
			return
		}
		price, err := decimal.NewFromString(parsed.Data.LastPrice)
		if err != nil || !price.IsPositive() {
			logger.Warn("invalid last price", zap.String("symbol", pair), zap.String("last_price", parsed.Data.LastPrice))
			return
		}

		at := time.UnixMilli(parsed.Ts).UTC()
		if parsed.Ts == 0 {
			at = time.Now().UTC()
		}
		if book.Set(pair, price, at) && onUpdate != nil {
			onUpdate(pair)
		}
	}
}

// symbolFromTopic parses the symbol from a topic like "tickers.BTCUSDT".
func symbolFromTopic(topic string) string {
	parts := strings.SplitN(topic, ".", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}
