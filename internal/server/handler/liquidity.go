package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/service"
	"github.com/alanyoungcy/ratecore/internal/settlement"
)

// LiquidityService defines the methods that the liquidity handler requires
// from the service layer.
type LiquidityService interface {
	ExchangeRate(asset common.Address, totalAssets, totalShares *uint256.Int) (*uint256.Int, error)
	Deposit(asset common.Address, amount, totalAssets, totalShares *uint256.Int) (service.Quote, error)
	Redeem(asset common.Address, shares, totalAssets, totalShares *uint256.Int) (settlement.Redemption, error)
}

// LiquidityHandler serves pool share valuation endpoints. The pool totals
// are supplied by the caller; nothing is persisted.
type LiquidityHandler struct {
	pool   LiquidityService
	logger *slog.Logger
}

// NewLiquidityHandler creates a LiquidityHandler with the given service and logger.
func NewLiquidityHandler(pool LiquidityService, logger *slog.Logger) *LiquidityHandler {
	return &LiquidityHandler{pool: pool, logger: logger}
}

// poolTotals parses the total_assets and total_shares query parameters.
func poolTotals(r *http.Request) (assets, shares *uint256.Int, err error) {
	q := r.URL.Query()
	if assets, err = parseAmount("total_assets", q.Get("total_assets")); err != nil {
		return nil, nil, err
	}
	if shares, err = parseAmount("total_shares", q.Get("total_shares")); err != nil {
		return nil, nil, err
	}
	return assets, shares, nil
}

// ExchangeRate values one pool share.
// GET /api/liquidity/{asset}/exchange-rate?total_assets=&total_shares=
func (h *LiquidityHandler) ExchangeRate(w http.ResponseWriter, r *http.Request) {
	asset, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	totalAssets, totalShares, err := poolTotals(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rate, err := h.pool.ExchangeRate(asset, totalAssets, totalShares)
	if err != nil {
		writeServiceError(w, r, h.logger, "exchange rate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"exchange_rate": rate.Dec()})
}

// DepositQuote returns the shares minted for amount.
// GET /api/liquidity/{asset}/deposit?amount=&total_assets=&total_shares=
func (h *LiquidityHandler) DepositQuote(w http.ResponseWriter, r *http.Request) {
	asset, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	totalAssets, totalShares, err := poolTotals(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := h.pool.Deposit(asset, amount, totalAssets, totalShares)
	if err != nil {
		writeServiceError(w, r, h.logger, "deposit quote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"exchange_rate": q.ExchangeRate.Dec(),
		"amount":        q.Assets.Dec(),
		"shares":        q.Shares.Dec(),
	})
}

// RedeemQuote returns the assets paid out for shares, net of the redeem fee.
// GET /api/liquidity/{asset}/redeem?shares=&total_assets=&total_shares=
func (h *LiquidityHandler) RedeemQuote(w http.ResponseWriter, r *http.Request) {
	asset, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	totalAssets, totalShares, err := poolTotals(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shares, err := parseAmount("shares", r.URL.Query().Get("shares"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	red, err := h.pool.Redeem(asset, shares, totalAssets, totalShares)
	if err != nil {
		writeServiceError(w, r, h.logger, "redeem quote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"gross": red.Gross.Dec(),
		"fee":   red.Fee.Dec(),
		"net":   red.Net.Dec(),
	})
}
