package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

// StateStore implements domain.StateStore. Loads run in one read-only
// REPEATABLE READ transaction so indexes and indicators come from the same
// snapshot; restores run in one transaction.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a StateStore backed by the given pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

func (s *StateStore) LoadState(ctx context.Context) (domain.State, error) {
	var st domain.State
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		var err error
		if st.Indexes, err = listAssetIndexes(ctx, tx); err != nil {
			return err
		}
		st.Indicators, err = listSoapIndicators(ctx, tx)
		return err
	})
	if err != nil {
		return domain.State{}, fmt.Errorf("postgres: load state: %w", err)
	}
	return st, nil
}

func (s *StateStore) RestoreState(ctx context.Context, st domain.State) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, idx := range st.Indexes {
			if err := upsertAssetIndex(ctx, tx, idx); err != nil {
				return err
			}
		}
		for _, ind := range st.Indicators {
			if err := upsertSoapIndicator(ctx, tx, ind); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: restore state: %w", err)
	}
	return nil
}

var _ domain.StateStore = (*StateStore)(nil)
