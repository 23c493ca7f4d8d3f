package service

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

// AssetRegistry holds the parameters of every listed asset.
type AssetRegistry struct {
	params map[common.Address]domain.AssetParams
}

// NewAssetRegistry copies params into a new registry.
func NewAssetRegistry(params map[common.Address]domain.AssetParams) *AssetRegistry {
	m := make(map[common.Address]domain.AssetParams, len(params))
	for k, v := range params {
		m[k] = v
	}
	return &AssetRegistry{params: m}
}

// Params returns the configuration of asset or domain.ErrUnknownAsset.
func (r *AssetRegistry) Params(asset common.Address) (domain.AssetParams, error) {
	p, ok := r.params[asset]
	if !ok {
		return domain.AssetParams{}, fmt.Errorf("asset %s: %w", asset.Hex(), domain.ErrUnknownAsset)
	}
	return p, nil
}

// Assets lists the configured assets in address order.
func (r *AssetRegistry) Assets() []domain.AssetParams {
	out := make([]domain.AssetParams, 0, len(r.params))
	for _, p := range r.params {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.Cmp(out[j].Asset) < 0 })
	return out
}
