// Package memory provides in-process implementations of the ratecore store,
// cache, bus and blob interfaces. They back the service and HTTP tests and
// a single-node deployment without Postgres or Redis.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/ratecore/internal/domain"
)

// AssetIndexStore implements domain.AssetIndexStore.
type AssetIndexStore struct {
	mu   sync.RWMutex
	rows map[common.Address]domain.AssetIndex
}

// NewAssetIndexStore returns an empty store.
func NewAssetIndexStore() *AssetIndexStore {
	return &AssetIndexStore{rows: make(map[common.Address]domain.AssetIndex)}
}

func (s *AssetIndexStore) Get(_ context.Context, asset common.Address) (domain.AssetIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.rows[asset]
	if !ok {
		return domain.AssetIndex{}, domain.ErrNotFound
	}
	return idx, nil
}

func (s *AssetIndexStore) Upsert(_ context.Context, idx domain.AssetIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[idx.Asset] = idx
	return nil
}

func (s *AssetIndexStore) List(_ context.Context) ([]domain.AssetIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AssetIndex, 0, len(s.rows))
	for _, idx := range s.rows {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.Cmp(out[j].Asset) < 0 })
	return out, nil
}

// IndexCache implements domain.IndexCache. Like the Redis cache it ignores
// writes older than the cached entry.
type IndexCache struct {
	mu   sync.RWMutex
	rows map[common.Address]domain.AssetIndex
}

// NewIndexCache returns an empty cache.
func NewIndexCache() *IndexCache {
	return &IndexCache{rows: make(map[common.Address]domain.AssetIndex)}
}

func (c *IndexCache) Set(_ context.Context, idx domain.AssetIndex) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.rows[idx.Asset]; ok && cur.LastUpdateTimestamp > idx.LastUpdateTimestamp {
		return nil
	}
	c.rows[idx.Asset] = idx
	return nil
}

func (c *IndexCache) Get(_ context.Context, asset common.Address) (domain.AssetIndex, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.rows[asset]
	if !ok {
		return domain.AssetIndex{}, domain.ErrNotFound
	}
	return idx, nil
}

func (c *IndexCache) Delete(_ context.Context, asset common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, asset)
	return nil
}

type bookKey struct {
	asset common.Address
	dir   domain.Direction
}

// SoapIndicatorStore implements domain.SoapIndicatorStore.
type SoapIndicatorStore struct {
	mu   sync.RWMutex
	rows map[bookKey]domain.SoapIndicator
}

// NewSoapIndicatorStore returns an empty store.
func NewSoapIndicatorStore() *SoapIndicatorStore {
	return &SoapIndicatorStore{rows: make(map[bookKey]domain.SoapIndicator)}
}

func (s *SoapIndicatorStore) Get(_ context.Context, asset common.Address, dir domain.Direction) (domain.SoapIndicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ind, ok := s.rows[bookKey{asset, dir}]
	if !ok {
		return domain.SoapIndicator{Asset: asset, Direction: dir}, domain.ErrNotFound
	}
	return ind, nil
}

func (s *SoapIndicatorStore) Upsert(_ context.Context, ind domain.SoapIndicator) error {
	if !ind.Direction.Valid() {
		return fmt.Errorf("memory: upsert soap indicator: %s: %w", ind.Direction, domain.ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[bookKey{ind.Asset, ind.Direction}] = ind
	return nil
}

func (s *SoapIndicatorStore) List(_ context.Context) ([]domain.SoapIndicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SoapIndicator, 0, len(s.rows))
	for _, ind := range s.rows {
		out = append(out, ind)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Asset.Cmp(out[j].Asset); c != 0 {
			return c < 0
		}
		return out[i].Direction < out[j].Direction
	})
	return out, nil
}

// StateStore implements domain.StateStore over an index store and an
// indicator store. Both locks are held for the whole load or restore.
type StateStore struct {
	indexes    *AssetIndexStore
	indicators *SoapIndicatorStore
}

// NewStateStore joins the two stores.
func NewStateStore(indexes *AssetIndexStore, indicators *SoapIndicatorStore) *StateStore {
	return &StateStore{indexes: indexes, indicators: indicators}
}

func (s *StateStore) LoadState(ctx context.Context) (domain.State, error) {
	s.indexes.mu.RLock()
	defer s.indexes.mu.RUnlock()
	s.indicators.mu.RLock()
	defer s.indicators.mu.RUnlock()

	st := domain.State{
		Indexes:    make([]domain.AssetIndex, 0, len(s.indexes.rows)),
		Indicators: make([]domain.SoapIndicator, 0, len(s.indicators.rows)),
	}
	for _, idx := range s.indexes.rows {
		st.Indexes = append(st.Indexes, idx)
	}
	for _, ind := range s.indicators.rows {
		st.Indicators = append(st.Indicators, ind)
	}
	sort.Slice(st.Indexes, func(i, j int) bool { return st.Indexes[i].Asset.Cmp(st.Indexes[j].Asset) < 0 })
	sort.Slice(st.Indicators, func(i, j int) bool {
		if c := st.Indicators[i].Asset.Cmp(st.Indicators[j].Asset); c != 0 {
			return c < 0
		}
		return st.Indicators[i].Direction < st.Indicators[j].Direction
	})
	return st, nil
}

// RestoreState validates every row before writing any.
func (s *StateStore) RestoreState(_ context.Context, st domain.State) error {
	for _, ind := range st.Indicators {
		if !ind.Direction.Valid() {
			return fmt.Errorf("memory: restore soap indicator %s: %s: %w", ind.Asset.Hex(), ind.Direction, domain.ErrInvalidParameter)
		}
	}

	s.indexes.mu.Lock()
	defer s.indexes.mu.Unlock()
	s.indicators.mu.Lock()
	defer s.indicators.mu.Unlock()

	for _, idx := range st.Indexes {
		s.indexes.rows[idx.Asset] = idx
	}
	for _, ind := range st.Indicators {
		s.indicators.rows[bookKey{ind.Asset, ind.Direction}] = ind
	}
	return nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore returns an empty log.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        uuid.NewString(),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Event != "" && e.Event != opts.Event {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// LockManager implements domain.LockManager within one process. TTLs are
// honoured lazily on the next Acquire.
type LockManager struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLockManager returns a lock manager with no keys held.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]time.Time), now: time.Now}
}

func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, fmt.Errorf("memory: lock %s: %w", key, domain.ErrLockHeld)
	}
	exp := now.Add(ttl)
	l.held[key] = exp
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key] == exp {
				delete(l.held, key)
			}
		})
	}, nil
}

// SignalBus implements domain.SignalBus with in-process fan-out. Slow
// subscribers drop messages rather than block publishers.
type SignalBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewSignalBus returns a bus with no subscribers.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string][]chan []byte)}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// BlobStore implements domain.BlobWriter and domain.BlobReader.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]blob
}

type blob struct {
	data     []byte
	modified time.Time
}

// NewBlobStore returns an empty bucket.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]blob)}
}

func (b *BlobStore) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("memory: put %s: %w", path, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = blob{data: buf, modified: time.Now()}
	return nil
}

func (b *BlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("memory: get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *BlobStore) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.BlobInfo
	for p, obj := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

var (
	_ domain.AssetIndexStore    = (*AssetIndexStore)(nil)
	_ domain.IndexCache         = (*IndexCache)(nil)
	_ domain.StateStore         = (*StateStore)(nil)
	_ domain.SoapIndicatorStore = (*SoapIndicatorStore)(nil)
	_ domain.AuditStore         = (*AuditStore)(nil)
	_ domain.LockManager        = (*LockManager)(nil)
	_ domain.SignalBus          = (*SignalBus)(nil)
	_ domain.BlobWriter         = (*BlobStore)(nil)
	_ domain.BlobReader         = (*BlobStore)(nil)
)
