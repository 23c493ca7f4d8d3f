package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/accrual"
	"github.com/alanyoungcy/ratecore/internal/domain"
)

// IndexService publishes index observations and answers IBT price queries.
// Publication for one asset is serialised through the lock manager.
type IndexService struct {
	assets  *AssetRegistry
	store   domain.AssetIndexStore
	cache   domain.IndexCache
	locks   domain.LockManager
	bus     domain.SignalBus
	audit   domain.AuditStore
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewIndexService creates an IndexService with all required dependencies.
func NewIndexService(
	assets *AssetRegistry,
	store domain.AssetIndexStore,
	cache domain.IndexCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	lockTTL time.Duration,
	logger *slog.Logger,
) *IndexService {
	return &IndexService{
		assets:  assets,
		store:   store,
		cache:   cache,
		locks:   locks,
		bus:     bus,
		audit:   audit,
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// Publish records a new index value for asset at ts. The first publication
// seeds the asset; later ones accrue the accumulator at the previous value
// before switching to the new one.
func (s *IndexService) Publish(ctx context.Context, asset common.Address, value *uint256.Int, ts uint64) (domain.AssetIndex, error) {
	params, err := s.assets.Params(asset)
	if err != nil {
		return domain.AssetIndex{}, fmt.Errorf("index_service: publish: %w", err)
	}

	var next domain.AssetIndex
	err = withLock(ctx, s.locks, indexLockKey(asset), s.lockTTL, func() error {
		current, err := s.store.Get(ctx, asset)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			next, err = accrual.Seed(asset, value, ts, params)
		case err != nil:
			return fmt.Errorf("load index: %w", err)
		default:
			obs := domain.IndexObservation{Asset: asset, Timestamp: ts}
			obs.IndexValue.Set(value)
			next, err = accrual.ApplyObservation(current, obs, params)
		}
		if err != nil {
			return err
		}
		if err := s.store.Upsert(ctx, next); err != nil {
			return fmt.Errorf("persist index: %w", err)
		}
		// Refreshed under the lock so publications reach the cache in order.
		if err := s.cache.Set(ctx, next); err != nil {
			s.logger.WarnContext(ctx, "index_service: cache set failed",
				slog.String("asset", asset.Hex()),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return domain.AssetIndex{}, fmt.Errorf("index_service: publish %s: %w", params.Symbol, err)
	}

	s.publish(ctx, next)
	if err := s.audit.Log(ctx, "index.published", map[string]any{
		"asset":       asset.Hex(),
		"symbol":      params.Symbol,
		"index_value": value.Dec(),
		"timestamp":   ts,
	}); err != nil {
		s.logger.WarnContext(ctx, "index_service: audit log failed", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "index published",
		slog.String("asset", asset.Hex()),
		slog.String("symbol", params.Symbol),
		slog.String("index_value", value.Dec()),
		slog.Uint64("ts", ts),
	)
	return next, nil
}

func (s *IndexService) publish(ctx context.Context, idx domain.AssetIndex) {
	payload, err := json.Marshal(struct {
		Event string            `json:"event"`
		Index domain.AssetIndex `json:"index"`
	}{"index_published", idx})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelIndexes, payload); err != nil {
		s.logger.WarnContext(ctx, "index_service: publish event failed",
			slog.String("asset", idx.Asset.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// Get returns the latest state of asset, preferring the cache. A backfill
// never replaces a newer cached entry.
func (s *IndexService) Get(ctx context.Context, asset common.Address) (domain.AssetIndex, error) {
	if _, err := s.assets.Params(asset); err != nil {
		return domain.AssetIndex{}, fmt.Errorf("index_service: get: %w", err)
	}
	idx, err := s.cache.Get(ctx, asset)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "index_service: cache get failed",
			slog.String("asset", asset.Hex()),
			slog.String("error", err.Error()),
		)
	}

	idx, err = s.store.Get(ctx, asset)
	if err != nil {
		return domain.AssetIndex{}, fmt.Errorf("index_service: get %s: %w", asset.Hex(), err)
	}
	if err := s.cache.Set(ctx, idx); err != nil {
		s.logger.WarnContext(ctx, "index_service: cache backfill failed", slog.String("error", err.Error()))
	}
	return idx, nil
}

// List returns every stored index.
func (s *IndexService) List(ctx context.Context) ([]domain.AssetIndex, error) {
	out, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("index_service: list: %w", err)
	}
	return out, nil
}

// IbtPrice returns the IBT price of asset accrued to asOf.
func (s *IndexService) IbtPrice(ctx context.Context, asset common.Address, asOf uint64) (*uint256.Int, error) {
	params, err := s.assets.Params(asset)
	if err != nil {
		return nil, fmt.Errorf("index_service: ibt price: %w", err)
	}
	idx, err := s.Get(ctx, asset)
	if err != nil {
		return nil, err
	}
	price, err := accrual.IbtPrice(idx, asOf, params.SecondsPerYear)
	if err != nil {
		return nil, fmt.Errorf("index_service: ibt price %s: %w", params.Symbol, err)
	}
	return price, nil
}
