package bybit

import (
	"fmt"
	"strings"
)

// Category is the Bybit V5 product family used in market endpoints.
type Category string

const (
	CategorySpot    Category = "spot"
	CategoryLinear  Category = "linear"
	CategoryInverse Category = "inverse"
)

const (
	// StatusTrading is the instrument status of listed, tradable pairs.
	StatusTrading = "Trading"

	tickerTopicPrefix = "tickers."
)

var validCategories = map[Category]bool{
	CategorySpot:    true,
	CategoryLinear:  true,
	CategoryInverse: true,
}

// IsValid checks if the Category is a known product family
func (c Category) IsValid() bool {
	return validCategories[c]
}

// ParseCategory parses a string into a valid Category
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid category: %s", s)
	}
	return c, nil
}

// PairSymbol joins base and quote coins as "BASE/QUOTE" (e.g., "BTC/USDT").
func PairSymbol(base, quote string) string {
	return base + "/" + quote
}

// ExchangeSymbol converts "BTC/USDT" to Bybit's "BTCUSDT". Symbols already
// in exchange form are returned upper-cased.
func ExchangeSymbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pair), "/", ""))
}

// TickerTopic returns the public stream topic for a pair (e.g., "tickers.BTCUSDT").
func TickerTopic(pair string) string {
	return tickerTopicPrefix + ExchangeSymbol(pair)
}

// IsTickerTopic returns true if the topic string indicates a ticker stream.
func IsTickerTopic(topic string) bool {
	return strings.HasPrefix(topic, tickerTopicPrefix)
}
