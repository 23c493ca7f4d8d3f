package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

// IndexService defines the methods that the index handler requires from the
// service layer.
type IndexService interface {
	Publish(ctx context.Context, asset common.Address, value *uint256.Int, ts uint64) (domain.AssetIndex, error)
	Get(ctx context.Context, asset common.Address) (domain.AssetIndex, error)
	List(ctx context.Context) ([]domain.AssetIndex, error)
	IbtPrice(ctx context.Context, asset common.Address, asOf uint64) (*uint256.Int, error)
}

// IndexHandler serves index publication and query endpoints.
type IndexHandler struct {
	indexes IndexService
	logger  *slog.Logger
	now     func() time.Time
}

// NewIndexHandler creates an IndexHandler with the given service and logger.
func NewIndexHandler(indexes IndexService, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{
		indexes: indexes,
		logger:  logger,
		now:     time.Now,
	}
}

type listIndexesResponse struct {
	Indexes []domain.AssetIndex `json:"indexes"`
}

// ListIndexes returns the latest state of every published index.
// GET /api/indexes
func (h *IndexHandler) ListIndexes(w http.ResponseWriter, r *http.Request) {
	idxs, err := h.indexes.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list indexes", err)
		return
	}
	if idxs == nil {
		idxs = []domain.AssetIndex{}
	}
	writeJSON(w, http.StatusOK, listIndexesResponse{Indexes: idxs})
}

// GetIndex returns the latest state of one asset's index.
// GET /api/indexes/{asset}
func (h *IndexHandler) GetIndex(w http.ResponseWriter, r *http.Request) {
	asset, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	idx, err := h.indexes.Get(r.Context(), asset)
	if err != nil {
		writeServiceError(w, r, h.logger, "get index", err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

type publishIndexRequest struct {
	Value     string `json:"value"`
	Timestamp uint64 `json:"timestamp"`
}

// PublishIndex records a new index observation. A zero timestamp means now.
// POST /api/indexes/{asset}
func (h *IndexHandler) PublishIndex(w http.ResponseWriter, r *http.Request) {
	asset, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req publishIndexRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ts := req.Timestamp
	if ts == 0 {
		ts = uint64(h.now().Unix())
	}

	idx, err := h.indexes.Publish(r.Context(), asset, value, ts)
	if err != nil {
		writeServiceError(w, r, h.logger, "publish index", err)
		return
	}
	writeJSON(w, http.StatusCreated, idx)
}

// IbtPrice values the asset's interest-bearing token at ts (default now).
// GET /api/indexes/{asset}/ibt-price?ts=
func (h *IndexHandler) IbtPrice(w http.ResponseWriter, r *http.Request) {
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
	price, err := h.indexes.IbtPrice(r.Context(), asset, ts)
	if err != nil {
		writeServiceError(w, r, h.logger, "ibt price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":     asset,
		"timestamp": ts,
		"ibt_price": price.Dec(),
	})
}
