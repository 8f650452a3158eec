package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is the version written by Encode.
const SchemaVersion = 1

// LegacyTimeLayout is the timestamp format of portfolio.json files written by
// the first web version of the tracker.
const LegacyTimeLayout = "2006-01-02 15:04:05"

// Document is the durable representation of one account ledger.
type Document struct {
	Version      int         `json:"version"`
	Account      string      `json:"account"`
	Holdings     []LotRecord `json:"holdings"`
	Transactions []TxRecord  `json:"transactions"`
}

// LotRecord is the stored form of a Lot.
type LotRecord struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp Timestamp       `json:"timestamp"`
}

// TxRecord is the stored form of a ClosedTransaction.
type TxRecord struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	PnL       decimal.Decimal `json:"pnl"`
	Timestamp Timestamp       `json:"timestamp"`
}

// Timestamp marshals as RFC3339 and also accepts the legacy layout on read.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTimestamp accepts RFC3339 (with optional fractional seconds) or the
// legacy layout, which is read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return parsed, nil
	}
	parsed, err := time.ParseInLocation(LegacyTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: unrecognized format", s)
	}
	return parsed, nil
}

// ToDocument converts l into its durable form.
func ToDocument(l AccountLedger) Document {
	doc := Document{
		Version:      SchemaVersion,
		Account:      l.AccountID,
		Holdings:     make([]LotRecord, 0, len(l.Lots)),
		Transactions: make([]TxRecord, 0, len(l.Transactions)),
	}
	for _, lot := range l.Lots {
		doc.Holdings = append(doc.Holdings, LotRecord{
			Symbol:    lot.Symbol,
			Quantity:  lot.Quantity,
			Price:     lot.UnitCost,
			Timestamp: Timestamp{lot.OpenedAt},
		})
	}
	for _, tx := range l.Transactions {
		doc.Transactions = append(doc.Transactions, TxRecord{
			Symbol:    tx.Symbol,
			Quantity:  tx.Quantity,
			BuyPrice:  tx.BuyPrice,
			SellPrice: tx.SellPrice,
			PnL:       tx.PnL,
			Timestamp: Timestamp{tx.ClosedAt},
		})
	}
	return doc
}

// Ledger converts a document back into an AccountLedger. Lots with a
// non-positive quantity are dropped so a hand-edited record cannot break the
// positive-quantity invariant.
func (d Document) Ledger(accountID string) AccountLedger {
	l := New(accountID)
	for _, h := range d.Holdings {
		if !h.Quantity.IsPositive() {
			continue
		}
		l.Lots = append(l.Lots, Lot{
			Symbol:   h.Symbol,
			Quantity: h.Quantity,
			UnitCost: h.Price,
			OpenedAt: h.Timestamp.Time,
		})
	}
	for _, t := range d.Transactions {
		l.Transactions = append(l.Transactions, ClosedTransaction{
			Symbol:    t.Symbol,
			Quantity:  t.Quantity,
			BuyPrice:  t.BuyPrice,
			SellPrice: t.SellPrice,
			PnL:       t.PnL,
			ClosedAt:  t.Timestamp.Time,
		})
	}
	return l
}

// Encode serializes l as a versioned JSON document.
func Encode(l AccountLedger) ([]byte, error) {
	data, err := json.Marshal(ToDocument(l))
	if err != nil {
		return nil, fmt.Errorf("encode ledger %s: %w", l.AccountID, err)
	}
	return data, nil
}

// Decode parses a document written by Encode. Documents without a version
// field are treated as version 1.
func Decode(accountID string, data []byte) (AccountLedger, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return AccountLedger{}, fmt.Errorf("decode ledger %s: %w", accountID, err)
	}
	if doc.Version > SchemaVersion {
		return AccountLedger{}, fmt.Errorf("decode ledger %s: unsupported schema version %d", accountID, doc.Version)
	}
	return doc.Ledger(accountID), nil
}

// DecodeLegacyFile parses the original portfolio.json layout: a single object
// mapping account identifiers to {"holdings": [...], "transactions": [...]}.
func DecodeLegacyFile(data []byte) (map[string]AccountLedger, error) {
	var raw map[string]Document
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode legacy portfolio: %w", err)
	}
	out := make(map[string]AccountLedger, len(raw))
	for id, doc := range raw {
		out[id] = doc.Ledger(id)
	}
	return out, nil
}
