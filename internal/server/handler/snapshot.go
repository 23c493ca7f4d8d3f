package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// SnapshotTaker captures the accounting state to object storage and returns
// the written key.
type SnapshotTaker interface {
	Take(ctx context.Context) (string, error)
}

// SnapshotHandler serves the manual snapshot trigger.
type SnapshotHandler struct {
	snapshots SnapshotTaker
	logger    *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(snapshots SnapshotTaker, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots, logger: logger}
}

// TakeSnapshot writes one snapshot synchronously and returns its key.
// POST /api/snapshots
func (h *SnapshotHandler) TakeSnapshot(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: snapshot requested")
	key, err := h.snapshots.Take(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "take snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":     "written",
		"path":       key,
		"written_at": time.Now().UTC().Format(time.RFC3339),
	})
}
