package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Event  string
}

// AssetIndexStore persists the accrual state of each asset's index.
type AssetIndexStore interface {
	Get(ctx context.Context, asset common.Address) (AssetIndex, error)
	Upsert(ctx context.Context, idx AssetIndex) error
	List(ctx context.Context) ([]AssetIndex, error)
}

// SoapIndicatorStore persists the aggregate position books. Get returns
// ErrNotFound for a pair that has never been opened.
type SoapIndicatorStore interface {
	Get(ctx context.Context, asset common.Address, dir Direction) (SoapIndicator, error)
	Upsert(ctx context.Context, ind SoapIndicator) error
	List(ctx context.Context) ([]SoapIndicator, error)
}

// State is every index and indicator row at one instant.
type State struct {
	Indexes    []AssetIndex
	Indicators []SoapIndicator
}

// StateStore reads and writes the whole accounting state at once. LoadState
// returns a consistent view across both tables; RestoreState upserts every
// row or none of them.
type StateStore interface {
	LoadState(ctx context.Context) (State, error)
	RestoreState(ctx context.Context, st State) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
