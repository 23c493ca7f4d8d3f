package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/ratecore/internal/crypto"
	"github.com/alanyoungcy/ratecore/internal/domain"
)

// sealSuffix names the seal object written next to a sealed snapshot.
const sealSuffix = ".seal"

// Snapshot is the full accounting state at one instant.
type Snapshot struct {
	TakenAt    time.Time              `json:"taken_at"`
	Indexes    []domain.AssetIndex    `json:"indexes"`
	Indicators []domain.SoapIndicator `json:"indicators"`
}

// Snapshotter writes Snapshots to object storage under
// {prefix}/YYYY/MM/DD/{unix}.json and restores them.
type Snapshotter struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	state  domain.StateStore
	audit  domain.AuditStore
	cache  domain.IndexCache
	sealer *crypto.Sealer
	prefix string
	now    func() time.Time
}

// NewSnapshotter creates a Snapshotter. reader may be nil when restores are
// not needed.
func NewSnapshotter(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	state domain.StateStore,
	audit domain.AuditStore,
	prefix string,
) *Snapshotter {
	return &Snapshotter{
		writer: writer,
		reader: reader,
		state:  state,
		audit:  audit,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// WithIndexCache evicts the cached index of every restored asset so readers
// fall back to the restored store rows.
func (s *Snapshotter) WithIndexCache(cache domain.IndexCache) *Snapshotter {
	s.cache = cache
	return s
}

// WithSealer seals every snapshot taken and requires a valid seal on
// restore.
func (s *Snapshotter) WithSealer(sealer *crypto.Sealer) *Snapshotter {
	s.sealer = sealer
	return s
}

// Take snapshots every stored index and indicator, read at one instant, and
// returns the object key written.
func (s *Snapshotter) Take(ctx context.Context) (string, error) {
	st, err := s.state.LoadState(ctx)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot: %w", err)
	}

	snap := Snapshot{
		TakenAt:    s.now().UTC(),
		Indexes:    st.Indexes,
		Indicators: st.Indicators,
	}
	buf, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot marshal: %w", err)
	}

	key := s.snapshotPath(snap.TakenAt)
	if err := s.writer.Put(ctx, key, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: snapshot upload: %w", err)
	}
	if s.sealer != nil {
		if err := s.putSeal(ctx, key, buf); err != nil {
			return "", err
		}
	}

	if err := s.audit.Log(ctx, "snapshot.taken", map[string]any{
		"path":       key,
		"indexes":    len(snap.Indexes),
		"indicators": len(snap.Indicators),
		"keccak256":  crypto.Digest(buf),
		"sealed":     s.sealer != nil,
	}); err != nil {
		return key, fmt.Errorf("s3blob: snapshot audit log: %w", err)
	}
	return key, nil
}

// Latest returns the key of the most recent snapshot, or domain.ErrNotFound.
func (s *Snapshotter) Latest(ctx context.Context) (string, error) {
	if s.reader == nil {
		return "", fmt.Errorf("s3blob: latest snapshot: no reader: %w", domain.ErrInvalidParameter)
	}
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	infos, err := s.reader.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("s3blob: list snapshots: %w", err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".json") {
			keys = append(keys, info.Path)
		}
	}
	if len(keys) == 0 {
		return "", domain.ErrNotFound
	}
	// Keys sort chronologically: zero-padded dates then a fixed-width unix
	// timestamp.
	sort.Strings(keys)
	return keys[len(keys)-1], nil
}

// Restore loads the snapshot at key and writes every row back to the stores
// in one step: either all rows land or none do. Cached indexes of the
// restored assets are then evicted.
func (s *Snapshotter) Restore(ctx context.Context, key string) (Snapshot, error) {
	if s.reader == nil {
		return Snapshot{}, fmt.Errorf("s3blob: restore: no reader: %w", domain.ErrInvalidParameter)
	}
	body, err := s.reader.Get(ctx, key)
	if err != nil {
		return Snapshot{}, fmt.Errorf("s3blob: restore %s: %w", key, err)
	}
	buf, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return Snapshot{}, fmt.Errorf("s3blob: restore %s read: %w", key, err)
	}
	if s.sealer != nil {
		if err := s.verifySeal(ctx, key, buf); err != nil {
			return Snapshot{}, err
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("s3blob: restore %s decode: %w", key, err)
	}
	err = s.state.RestoreState(ctx, domain.State{Indexes: snap.Indexes, Indicators: snap.Indicators})
	if err != nil {
		return Snapshot{}, fmt.Errorf("s3blob: restore %s: %w", key, err)
	}
	if s.cache != nil {
		for _, idx := range snap.Indexes {
			if err := s.cache.Delete(ctx, idx.Asset); err != nil {
				return snap, fmt.Errorf("s3blob: restore evict %s: %w", idx.Asset.Hex(), err)
			}
		}
	}

	if err := s.audit.Log(ctx, "snapshot.restored", map[string]any{
		"path":       key,
		"taken_at":   snap.TakenAt.Format(time.RFC3339),
		"indexes":    len(snap.Indexes),
		"indicators": len(snap.Indicators),
	}); err != nil {
		return snap, fmt.Errorf("s3blob: restore audit log: %w", err)
	}
	return snap, nil
}

func (s *Snapshotter) putSeal(ctx context.Context, key string, body []byte) error {
	seal, err := s.sealer.Seal(body)
	if err != nil {
		return fmt.Errorf("s3blob: seal %s: %w", key, err)
	}
	raw, err := json.Marshal(seal)
	if err != nil {
		return fmt.Errorf("s3blob: seal %s marshal: %w", key, err)
	}
	if err := s.writer.Put(ctx, key+sealSuffix, bytes.NewReader(raw), "application/json"); err != nil {
		return fmt.Errorf("s3blob: seal %s upload: %w", key, err)
	}
	return nil
}

func (s *Snapshotter) verifySeal(ctx context.Context, key string, body []byte) error {
	rc, err := s.reader.Get(ctx, key+sealSuffix)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("s3blob: restore %s: seal missing: %w", key, domain.ErrIntegrity)
	}
	if err != nil {
		return fmt.Errorf("s3blob: restore %s seal: %w", key, err)
	}
	defer rc.Close()

	var seal crypto.Seal
	if err := json.NewDecoder(rc).Decode(&seal); err != nil {
		return fmt.Errorf("s3blob: restore %s seal decode: %w", key, domain.ErrIntegrity)
	}
	if err := s.sealer.Verify(body, seal); err != nil {
		return fmt.Errorf("s3blob: restore %s: %w", key, err)
	}
	return nil
}

// snapshotPath builds the object key for a snapshot taken at t.
//
//	snapshots/2025/01/31/1738281600.json
func (s *Snapshotter) snapshotPath(t time.Time) string {
	return path.Join(s.prefix, t.Format("2006/01/02"), fmt.Sprintf("%010d.json", t.Unix()))
}
