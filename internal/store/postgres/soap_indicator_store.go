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

// SoapIndicatorStore implements domain.SoapIndicatorStore using PostgreSQL.
type SoapIndicatorStore struct {
	pool *pgxpool.Pool
}

// NewSoapIndicatorStore creates a new SoapIndicatorStore backed by the given pool.
func NewSoapIndicatorStore(pool *pgxpool.Pool) *SoapIndicatorStore {
	return &SoapIndicatorStore{pool: pool}
}

const soapIndicatorColumns = `
	asset,
	direction,
	rebalance_timestamp,
	total_notional::text,
	average_interest_rate::text,
	total_ibt_quantity::text,
	quasi_hypothetical_interest_cumulative::text`

// Upsert replaces the stored (asset, direction) indicator.
func (s *SoapIndicatorStore) Upsert(ctx context.Context, ind domain.SoapIndicator) error {
	return upsertSoapIndicator(ctx, s.pool, ind)
}

func upsertSoapIndicator(ctx context.Context, q querier, ind domain.SoapIndicator) error {
	if !ind.Direction.Valid() {
		return fmt.Errorf("postgres: upsert soap indicator: %s: %w", ind.Direction, domain.ErrInvalidParameter)
	}
	ts, err := timestamp(ind.RebalanceTimestamp)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO soap_indicators (
			asset, direction, rebalance_timestamp,
			total_notional, average_interest_rate,
			total_ibt_quantity, quasi_hypothetical_interest_cumulative,
			updated_at
		) VALUES (
			$1, $2, $3,
			$4::numeric, $5::numeric,
			$6::numeric, $7::numeric,
			NOW()
		)
		ON CONFLICT (asset, direction) DO UPDATE SET
			rebalance_timestamp                    = EXCLUDED.rebalance_timestamp,
			total_notional                         = EXCLUDED.total_notional,
			average_interest_rate                  = EXCLUDED.average_interest_rate,
			total_ibt_quantity                     = EXCLUDED.total_ibt_quantity,
			quasi_hypothetical_interest_cumulative = EXCLUDED.quasi_hypothetical_interest_cumulative,
			updated_at                             = NOW()`

	_, err = q.Exec(ctx, query,
		ind.Asset.Hex(),
		int16(ind.Direction),
		ts,
		numeric(&ind.TotalNotional),
		numeric(&ind.AverageInterestRate),
		numeric(&ind.TotalIbtQuantity),
		numeric(&ind.QuasiHypotheticalInterestCumulative),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert soap indicator %s/%s: %w", ind.Asset.Hex(), ind.Direction, err)
	}
	return nil
}

// Get returns the (asset, dir) indicator. When none is stored it returns
// the empty indicator for that book together with domain.ErrNotFound.
func (s *SoapIndicatorStore) Get(ctx context.Context, asset common.Address, dir domain.Direction) (domain.SoapIndicator, error) {
	query := `SELECT ` + soapIndicatorColumns + ` FROM soap_indicators WHERE asset = $1 AND direction = $2`
	ind, err := scanSoapIndicator(s.pool.QueryRow(ctx, query, asset.Hex(), int16(dir)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SoapIndicator{Asset: asset, Direction: dir}, domain.ErrNotFound
		}
		return domain.SoapIndicator{}, fmt.Errorf("postgres: get soap indicator %s/%s: %w", asset.Hex(), dir, err)
	}
	return ind, nil
}

// List returns every stored indicator ordered by asset then direction.
func (s *SoapIndicatorStore) List(ctx context.Context) ([]domain.SoapIndicator, error) {
	return listSoapIndicators(ctx, s.pool)
}

func listSoapIndicators(ctx context.Context, q querier) ([]domain.SoapIndicator, error) {
	query := `SELECT ` + soapIndicatorColumns + ` FROM soap_indicators ORDER BY asset, direction`
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list soap indicators: %w", err)
	}
	defer rows.Close()

	var out []domain.SoapIndicator
	for rows.Next() {
		ind, err := scanSoapIndicator(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan soap indicator: %w", err)
		}
		out = append(out, ind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list soap indicators rows: %w", err)
	}
	return out, nil
}

func scanSoapIndicator(row pgx.Row) (domain.SoapIndicator, error) {
	var (
		asset                      string
		dir                        int16
		ts                         int64
		notional, rate, ibt, quasi string
		ind                        domain.SoapIndicator
	)
	if err := row.Scan(&asset, &dir, &ts, &notional, &rate, &ibt, &quasi); err != nil {
		return domain.SoapIndicator{}, err
	}
	ind.Asset = common.HexToAddress(asset)
	ind.Direction = domain.Direction(dir)
	if !ind.Direction.Valid() {
		return domain.SoapIndicator{}, fmt.Errorf("postgres: stored direction %d: %w", dir, domain.ErrInvalidParameter)
	}
	if err := errors.Join(
		decodeNumeric(&ind.TotalNotional, "total_notional", notional),
		decodeNumeric(&ind.AverageInterestRate, "average_interest_rate", rate),
		decodeNumeric(&ind.TotalIbtQuantity, "total_ibt_quantity", ibt),
		decodeNumeric(&ind.QuasiHypotheticalInterestCumulative, "quasi_hypothetical_interest_cumulative", quasi),
	); err != nil {
		return domain.SoapIndicator{}, err
	}
	var err error
	if ind.RebalanceTimestamp, err = decodeTimestamp("rebalance_timestamp", ts); err != nil {
		return domain.SoapIndicator{}, err
	}
	return ind, nil
}
