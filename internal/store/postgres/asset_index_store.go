package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

// AssetIndexStore implements domain.AssetIndexStore using PostgreSQL.
type AssetIndexStore struct {
	pool *pgxpool.Pool
}

// NewAssetIndexStore creates a new AssetIndexStore backed by the given pool.
func NewAssetIndexStore(pool *pgxpool.Pool) *AssetIndexStore {
	return &AssetIndexStore{pool: pool}
}

const assetIndexColumns = `
	asset,
	index_value::text,
	quasi_index_accumulator::text,
	exponential_moving_average::text,
	exponential_weighted_moving_variance::text,
	last_update_timestamp`

// Upsert replaces the stored state of idx.Asset.
func (s *AssetIndexStore) Upsert(ctx context.Context, idx domain.AssetIndex) error {
	return upsertAssetIndex(ctx, s.pool, idx)
}

func upsertAssetIndex(ctx context.Context, q querier, idx domain.AssetIndex) error {
	ts, err := timestamp(idx.LastUpdateTimestamp)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO asset_indexes (
			asset, index_value, quasi_index_accumulator,
			exponential_moving_average, exponential_weighted_moving_variance,
			last_update_timestamp, updated_at
		) VALUES (
			$1, $2::numeric, $3::numeric,
			$4::numeric, $5::numeric,
			$6, NOW()
		)
		ON CONFLICT (asset) DO UPDATE SET
			index_value                          = EXCLUDED.index_value,
			quasi_index_accumulator              = EXCLUDED.quasi_index_accumulator,
			exponential_moving_average           = EXCLUDED.exponential_moving_average,
			exponential_weighted_moving_variance = EXCLUDED.exponential_weighted_moving_variance,
			last_update_timestamp                = EXCLUDED.last_update_timestamp,
			updated_at                           = NOW()`

	_, err = q.Exec(ctx, query,
		idx.Asset.Hex(),
		numeric(&idx.IndexValue),
		numeric(&idx.QuasiIndexAccumulator),
		numeric(&idx.ExponentialMovingAverage),
		numeric(&idx.ExponentialWeightedMovingVariance),
		ts,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert asset index %s: %w", idx.Asset.Hex(), err)
	}
	return nil
}

// Get returns the stored state of asset, or domain.ErrNotFound.
func (s *AssetIndexStore) Get(ctx context.Context, asset common.Address) (domain.AssetIndex, error) {
	query := `SELECT ` + assetIndexColumns + ` FROM asset_indexes WHERE asset = $1`
	idx, err := scanAssetIndex(s.pool.QueryRow(ctx, query, asset.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AssetIndex{}, domain.ErrNotFound
		}
		return domain.AssetIndex{}, fmt.Errorf("postgres: get asset index %s: %w", asset.Hex(), err)
	}
	return idx, nil
}

// List returns every stored asset index ordered by asset.
func (s *AssetIndexStore) List(ctx context.Context) ([]domain.AssetIndex, error) {
	return listAssetIndexes(ctx, s.pool)
}

func listAssetIndexes(ctx context.Context, q querier) ([]domain.AssetIndex, error) {
	query := `SELECT ` + assetIndexColumns + ` FROM asset_indexes ORDER BY asset`
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list asset indexes: %w", err)
	}
	defer rows.Close()

	var out []domain.AssetIndex
	for rows.Next() {
		idx, err := scanAssetIndex(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan asset index: %w", err)
		}
		out = append(out, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list asset indexes rows: %w", err)
	}
	return out, nil
}

func scanAssetIndex(row pgx.Row) (domain.AssetIndex, error) {
	var (
		asset                 string
		value, acc, ema, ewmv string
		ts                    int64
		idx                   domain.AssetIndex
	)
	if err := row.Scan(&asset, &value, &acc, &ema, &ewmv, &ts); err != nil {
		return domain.AssetIndex{}, err
	}
	idx.Asset = common.HexToAddress(asset)
	if err := errors.Join(
		decodeNumeric(&idx.IndexValue, "index_value", value),
		decodeNumeric(&idx.QuasiIndexAccumulator, "quasi_index_accumulator", acc),
		decodeNumeric(&idx.ExponentialMovingAverage, "exponential_moving_average", ema),
		decodeNumeric(&idx.ExponentialWeightedMovingVariance, "exponential_weighted_moving_variance", ewmv),
	); err != nil {
		return domain.AssetIndex{}, err
	}
	var err error
	if idx.LastUpdateTimestamp, err = decodeTimestamp("last_update_timestamp", ts); err != nil {
		return domain.AssetIndex{}, err
	}
	return idx, nil
}
