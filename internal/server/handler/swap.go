package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/service"
)

// SwapService defines the methods that the swap handler requires from the
// service layer.
type SwapService interface {
	Size(asset common.Address, totalAmount *uint256.Int) (domain.DerivativeSizing, error)
	OpenSwap(ctx context.Context, req service.OpenRequest) (service.OpenResult, error)
	CloseSwap(ctx context.Context, req service.CloseRequest) (service.CloseResult, error)
	PreviewRate(ctx context.Context, asset common.Address, dir domain.Direction, notional, fixedRate *uint256.Int, closing bool) (*uint256.Int, error)
}

// SwapHandler serves swap sizing, opening and closing endpoints.
type SwapHandler struct {
	swaps  SwapService
	logger *slog.Logger
	now    func() time.Time
}

// NewSwapHandler creates a SwapHandler with the given service and logger.
func NewSwapHandler(swaps SwapService, logger *slog.Logger) *SwapHandler {
	return &SwapHandler{
		swaps:  swaps,
		logger: logger,
		now:    time.Now,
	}
}

// positionJSON is the wire form of domain.PositionEvent. The client keeps it
// from the open response and sends it back to close.
type positionJSON struct {
	Notional    string `json:"notional"`
	FixedRate   string `json:"fixed_rate"`
	IbtQuantity string `json:"ibt_quantity"`
	OpenedAt    uint64 `json:"opened_at"`
}

func encodePosition(ev domain.PositionEvent) positionJSON {
	return positionJSON{
		Notional:    ev.Notional.Dec(),
		FixedRate:   ev.FixedRate.Dec(),
		IbtQuantity: ev.IbtQuantity.Dec(),
		OpenedAt:    ev.OpenedAt,
	}
}

func (p positionJSON) decode() (domain.PositionEvent, error) {
	ev := domain.PositionEvent{OpenedAt: p.OpenedAt}
	for _, f := range []struct {
		name string
		raw  string
		dst  *uint256.Int
	}{
		{"position.notional", p.Notional, &ev.Notional},
		{"position.fixed_rate", p.FixedRate, &ev.FixedRate},
		{"position.ibt_quantity", p.IbtQuantity, &ev.IbtQuantity},
	} {
		v, err := parseAmount(f.name, f.raw)
		if err != nil {
			return domain.PositionEvent{}, err
		}
		f.dst.Set(v)
	}
	return ev, nil
}

type sizingJSON struct {
	Notional   string `json:"notional"`
	OpeningFee string `json:"opening_fee"`
	Deposit    string `json:"deposit"`
}

func encodeSizing(s domain.DerivativeSizing) sizingJSON {
	return sizingJSON{
		Notional:   s.Notional.Dec(),
		OpeningFee: s.OpeningFee.Dec(),
		Deposit:    s.Deposit.Dec(),
	}
}

type sizeRequest struct {
	Asset       common.Address `json:"asset"`
	TotalAmount string         `json:"total_amount"`
}

// Size splits a total amount into collateral, opening fee and notional.
// POST /api/swaps/size
func (h *SwapHandler) Size(w http.ResponseWriter, r *http.Request) {
	var req sizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	total, err := parseAmount("total_amount", req.TotalAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.swaps.Size(req.Asset, total)
	if err != nil {
		writeServiceError(w, r, h.logger, "size swap", err)
		return
	}
	writeJSON(w, http.StatusOK, encodeSizing(out))
}

type openSwapRequest struct {
	Asset       common.Address `json:"asset"`
	Direction   string         `json:"direction"`
	TotalAmount string         `json:"total_amount"`
	FixedRate   string         `json:"fixed_rate"`
	Timestamp   uint64         `json:"timestamp"`
}

type openSwapResponse struct {
	Sizing    sizingJSON           `json:"sizing"`
	IbtPrice  string               `json:"ibt_price"`
	Position  positionJSON         `json:"position"`
	Indicator domain.SoapIndicator `json:"indicator"`
}

// OpenSwap sizes a swap and adds it to the SOAP book of its direction. A zero
// timestamp means now.
// POST /api/swaps/open
func (h *SwapHandler) OpenSwap(w http.ResponseWriter, r *http.Request) {
	var body openSwapRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dir, err := domain.ParseDirection(body.Direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	total, err := parseAmount("total_amount", body.TotalAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rate, err := parseAmount("fixed_rate", body.FixedRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := service.OpenRequest{
		Asset:     body.Asset,
		Direction: dir,
		Timestamp: h.timestamp(body.Timestamp),
	}
	req.TotalAmount.Set(total)
	req.FixedRate.Set(rate)

	res, err := h.swaps.OpenSwap(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "open swap", err)
		return
	}
	writeJSON(w, http.StatusCreated, openSwapResponse{
		Sizing:    encodeSizing(res.Sizing),
		IbtPrice:  res.IbtPrice.Dec(),
		Position:  encodePosition(res.Position),
		Indicator: res.Indicator,
	})
}

type closeSwapRequest struct {
	Asset     common.Address `json:"asset"`
	Direction string         `json:"direction"`
	Position  positionJSON   `json:"position"`
	Timestamp uint64         `json:"timestamp"`
}

type closeSwapResponse struct {
	Payoff    string               `json:"payoff"`
	IncomeTax string               `json:"income_tax"`
	IbtPrice  string               `json:"ibt_price"`
	Indicator domain.SoapIndicator `json:"indicator"`
}

// CloseSwap settles a position and removes it from its book. The payoff is
// signed; income tax is only withheld on a profit.
// POST /api/swaps/close
func (h *SwapHandler) CloseSwap(w http.ResponseWriter, r *http.Request) {
	var body closeSwapRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dir, err := domain.ParseDirection(body.Direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := body.Position.decode()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.swaps.CloseSwap(r.Context(), service.CloseRequest{
		Asset:     body.Asset,
		Direction: dir,
		Position:  pos,
		Timestamp: h.timestamp(body.Timestamp),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "close swap", err)
		return
	}
	writeJSON(w, http.StatusOK, closeSwapResponse{
		Payoff:    res.Payoff.String(),
		IncomeTax: res.IncomeTax.Dec(),
		IbtPrice:  res.IbtPrice.Dec(),
		Indicator: res.Indicator,
	})
}

type previewRateRequest struct {
	Asset     common.Address `json:"asset"`
	Direction string         `json:"direction"`
	Notional  string         `json:"notional"`
	FixedRate string         `json:"fixed_rate"`
	Closing   bool           `json:"closing"`
}

// PreviewRate returns the book's average rate after a hypothetical open (or
// close, with closing set). The book is not modified.
// POST /api/swaps/preview-rate
func (h *SwapHandler) PreviewRate(w http.ResponseWriter, r *http.Request) {
	var body previewRateRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dir, err := domain.ParseDirection(body.Direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	notional, err := parseAmount("notional", body.Notional)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rate, err := parseAmount("fixed_rate", body.FixedRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	avg, err := h.swaps.PreviewRate(r.Context(), body.Asset, dir, notional, rate, body.Closing)
	if err != nil {
		writeServiceError(w, r, h.logger, "preview rate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"average_interest_rate": avg.Dec(),
	})
}

func (h *SwapHandler) timestamp(ts uint64) uint64 {
	if ts == 0 {
		return uint64(h.now().Unix())
	}
	return ts
}
