package httpapi

import (
	"time"

	"portfolioledger/internal/service"
)

type holdingItem struct {
	Symbol        string  `json:"symbol"`
	Quantity      string  `json:"quantity"`
	Price         string  `json:"price"`
	Timestamp     string  `json:"timestamp"`
	CurrentPrice  *string `json:"current_price"`
	UnrealizedPnL string  `json:"unrealized_pnl"`
}

type transactionItem struct {
	Symbol    string `json:"symbol"`
	Quantity  string `json:"quantity"`
	BuyPrice  string `json:"buy_price"`
	SellPrice string `json:"sell_price"`
	PnL       string `json:"pnl"`
	Timestamp string `json:"timestamp"`
}

type snapshotResponse struct {
	Account            string            `json:"account"`
	Holdings           []holdingItem     `json:"holdings"`
	Transactions       []transactionItem `json:"transactions"`
	TotalRealizedPnL   string            `json:"total_realized_pnl"`
	TotalUnrealizedPnL string            `json:"total_unrealized_pnl"`
	AsOf               string            `json:"as_of"`
}

func toSnapshotResponse(s *service.AccountSnapshot) snapshotResponse {
	resp := snapshotResponse{
		Account:            s.AccountID,
		Holdings:           make([]holdingItem, 0, len(s.Holdings)),
		Transactions:       make([]transactionItem, 0, len(s.Transactions)),
		TotalRealizedPnL:   s.TotalRealizedPnL.String(),
		TotalUnrealizedPnL: s.TotalUnrealizedPnL.String(),
		AsOf:               s.AsOf.UTC().Format(time.RFC3339),
	}

	for _, h := range s.Holdings {
		item := holdingItem{
			Symbol:        h.Symbol,
			Quantity:      h.Quantity.String(),
			Price:         h.UnitCost.String(),
			Timestamp:     h.OpenedAt.UTC().Format(time.RFC3339),
			UnrealizedPnL: h.UnrealizedPnL.String(),
		}
		// null when the oracle had no price
		if h.PriceAvailable {
			p := h.CurrentPrice.String()
			item.CurrentPrice = &p
		}
		resp.Holdings = append(resp.Holdings, item)
	}

	for _, tx := range s.Transactions {
		resp.Transactions = append(resp.Transactions, transactionItem{
			Symbol:    tx.Symbol,
			Quantity:  tx.Quantity.String(),
			BuyPrice:  tx.BuyPrice.String(),
			SellPrice: tx.SellPrice.String(),
			PnL:       tx.PnL.String(),
			Timestamp: tx.ClosedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp
}
