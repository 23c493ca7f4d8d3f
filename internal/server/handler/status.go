package handler

import (
	"net/http"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

// StatusHandler serves the run mode and the listed assets.
type StatusHandler struct {
	Mode   string
	Assets []domain.AssetParams
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, assets []domain.AssetParams) *StatusHandler {
	return &StatusHandler{Mode: mode, Assets: assets}
}

type assetJSON struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// GetStatus responds with the current mode and the configured assets.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	assets := make([]assetJSON, 0, len(h.Assets))
	for _, a := range h.Assets {
		assets = append(assets, assetJSON{
			Address:  a.Asset.Hex(),
			Symbol:   a.Symbol,
			Decimals: a.Decimals,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":   h.Mode,
		"assets": assets,
	})
}
