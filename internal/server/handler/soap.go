package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/soap"
)

// SoapService defines the methods that the SOAP handler requires from the
// service layer.
type SoapService interface {
	Books(ctx context.Context, asset common.Address) (payFixed, receiveFixed domain.SoapIndicator, err error)
	Soap(ctx context.Context, asset common.Address, asOf uint64) (soap.Book, error)
}

// SoapHandler serves the position book valuation endpoint.
type SoapHandler struct {
	books  SoapService
	logger *slog.Logger
	now    func() time.Time
}

// NewSoapHandler creates a SoapHandler with the given service and logger.
func NewSoapHandler(books SoapService, logger *slog.Logger) *SoapHandler {
	return &SoapHandler{
		books:  books,
		logger: logger,
		now:    time.Now,
	}
}

type soapResponse struct {
	Asset        common.Address         `json:"asset"`
	Timestamp    uint64                 `json:"timestamp"`
	PayFixed     string                 `json:"soap_pay_fixed"`
	ReceiveFixed string                 `json:"soap_receive_fixed"`
	Total        string                 `json:"soap"`
	Books        []domain.SoapIndicator `json:"books"`
}

// GetSoap values both books of an asset at ts (default now).
// GET /api/soap/{asset}?ts=
func (h *SoapHandler) GetSoap(w http.ResponseWriter, r *http.Request) {
	asset, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ts, err := parseTimestamp(r.URL.Query().Get("ts"), h.now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	book, err := h.books.Soap(r.Context(), asset, ts)
	if err != nil {
		writeServiceError(w, r, h.logger, "soap", err)
		return
	}
	pf, rf, err := h.books.Books(r.Context(), asset)
	if err != nil {
		writeServiceError(w, r, h.logger, "soap", err)
		return
	}

	writeJSON(w, http.StatusOK, soapResponse{
		Asset:        asset,
		Timestamp:    ts,
		PayFixed:     book.PayFixed.String(),
		ReceiveFixed: book.ReceiveFixed.String(),
		Total:        book.Total.String(),
		Books:        []domain.SoapIndicator{pf, rf},
	})
}
