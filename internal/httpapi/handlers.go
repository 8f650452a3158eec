// Package httpapi exposes the ledger service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"portfolioledger/internal/ledger"
	"portfolioledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService is the subset of service.LedgerService the handlers use.
type LedgerService interface {
	Buy(ctx context.Context, accountID, symbol string, quantity, price decimal.Decimal, at time.Time) (*service.AccountSnapshot, error)
	Sell(ctx context.Context, accountID, symbol string, quantity, price decimal.Decimal, at time.Time) (*service.AccountSnapshot, error)
	Delete(ctx context.Context, accountID, symbol string) (*service.AccountSnapshot, error)
	GetSnapshot(ctx context.Context, accountID string) (*service.AccountSnapshot, error)
	Symbols(ctx context.Context) []string
	Import(ctx context.Context, ledgers map[string]ledger.AccountLedger) error
}

// maxImportBytes bounds the body of an admin import.
const maxImportBytes = 32 << 20

type Handler struct {
	Service LedgerService
	Logger  *zap.Logger
	Now     func() time.Time
}

func New(svc LedgerService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: svc, Logger: logger, Now: time.Now}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/symbols", h.ListSymbols)

	group := r.Group("/portfolio/:account")
	group.GET("", h.GetPortfolio)
	group.POST("", h.SubmitForm)
	group.POST("/buy", h.Buy)
	group.POST("/sell", h.Sell)
	group.DELETE("/holdings", h.DeleteHoldings)

	r.POST("/admin/import", h.Import)
}

// tradeRequest is the JSON body of /buy and /sell. Decimals accept both
// quoted strings and bare numbers.
type tradeRequest struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// formRequest is the classic web form posted to the portfolio root.
type formRequest struct {
	Action    string `form:"action"`
	Symbol    string `form:"symbol"`
	Quantity  string `form:"quantity"`
	Price     string `form:"price"`
	Timestamp string `form:"timestamp"`
}

type trade struct {
	symbol   string
	quantity decimal.Decimal
	price    decimal.Decimal
	at       time.Time
}

type importResponse struct {
	Imported int `json:"imported"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) ListSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": h.Service.Symbols(c.Request.Context())})
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	snap, err := h.Service.GetSnapshot(c.Request.Context(), c.Param("account"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSnapshotResponse(snap))
}

func (h *Handler) Buy(c *gin.Context) {
	h.submitJSON(c, "buy")
}

func (h *Handler) Sell(c *gin.Context) {
	h.submitJSON(c, "sell")
}

func (h *Handler) submitJSON(c *gin.Context, action string) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_input", "invalid payload")
		return
	}
	at, err := h.tradeTime(req.Timestamp)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	h.execute(c, action, trade{
		symbol:   strings.TrimSpace(req.Symbol),
		quantity: req.Quantity,
		price:    req.Price,
		at:       at,
	})
}

// SubmitForm handles the classic web form post with action=buy|sell.
func (h *Handler) SubmitForm(c *gin.Context) {
	var req formRequest
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_input", "invalid payload")
		return
	}
	t, err := h.parseForm(req)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	h.execute(c, strings.ToLower(strings.TrimSpace(req.Action)), t)
}

func (h *Handler) execute(c *gin.Context, action string, t trade) {
	ctx := c.Request.Context()
	account := c.Param("account")

	var (
		snap *service.AccountSnapshot
		err  error
	)
	switch action {
	case "buy":
		snap, err = h.Service.Buy(ctx, account, t.symbol, t.quantity, t.price, t.at)
	case "sell":
		snap, err = h.Service.Sell(ctx, account, t.symbol, t.quantity, t.price, t.at)
	default:
		writeError(c, http.StatusBadRequest, "invalid_input", "action must be buy or sell")
		return
	}
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSnapshotResponse(snap))
}

func (h *Handler) DeleteHoldings(c *gin.Context) {
	snap, err := h.Service.Delete(c.Request.Context(), c.Param("account"), c.Query("symbol"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSnapshotResponse(snap))
}

// Import replaces ledgers with the contents of a legacy portfolio file.
// The serving cache and the store are updated together.
func (h *Handler) Import(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_input", "invalid payload")
		return
	}
	ledgers, err := ledger.DecodeLegacyFile(data)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if err := h.Service.Import(c.Request.Context(), ledgers); err != nil {
		h.writeServiceError(c, err)
		return
	}
	h.Logger.Info("import complete", zap.Int("accounts", len(ledgers)))
	c.JSON(http.StatusOK, importResponse{Imported: len(ledgers)})
}

func (h *Handler) parseForm(req formRequest) (trade, error) {
	quantity, err := decimal.NewFromString(strings.TrimSpace(req.Quantity))
	if err != nil {
		return trade{}, errors.New("quantity must be a decimal number")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		return trade{}, errors.New("price must be a decimal number")
	}
	at, err := h.tradeTime(req.Timestamp)
	if err != nil {
		return trade{}, err
	}
	return trade{
		symbol:   strings.TrimSpace(req.Symbol),
		quantity: quantity,
		price:    price,
		at:       at,
	}, nil
}

// tradeTime parses an optional timestamp, defaulting to server time.
func (h *Handler) tradeTime(raw string) (time.Time, error) {
	ts := strings.TrimSpace(raw)
	if ts == "" {
		return h.Now().UTC(), nil
	}
	parsed, err := ledger.ParseTimestamp(ts)
	if err != nil {
		return time.Time{}, errors.New("timestamp must be RFC3339 or YYYY-MM-DD HH:MM:SS")
	}
	return parsed, nil
}

func (h *Handler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, ledger.ErrInsufficientHoldings):
		writeError(c, http.StatusConflict, "insufficient_holdings", err.Error())
	case errors.Is(err, service.ErrPersistence):
		h.Logger.Error("request failed",
			zap.String("account", c.Param("account")),
			zap.String("request_id", c.GetString(requestIDHeader)),
			zap.Error(err))
		writeError(c, http.StatusInternalServerError, "persistence_failure", "ledger could not be saved")
	default:
		h.Logger.Error("unexpected service error", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: message})
}
