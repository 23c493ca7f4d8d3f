package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/fixedpoint"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error onto a status code. Validation
// failures echo the error text since they describe the caller's input;
// anything unexpected is logged and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownAsset), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "resource busy, retry")
	case domain.IsValidation(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
		Event:  q.Get("event"),
	}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

// pathAsset parses the {asset} path parameter as a hex address.
func pathAsset(r *http.Request) (common.Address, error) {
	raw := r.PathValue("asset")
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("asset %q is not a hex address", raw)
	}
	return common.HexToAddress(raw), nil
}

// parseAmount parses a non-negative decimal integer string. name is used in
// the error message.
func parseAmount(name, raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	v, err := fixedpoint.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// parseTimestamp parses a unix-seconds value, defaulting to now when raw is
// empty.
func parseTimestamp(raw string, now func() time.Time) (uint64, error) {
	if raw == "" {
		return uint64(now().Unix()), nil
	}
	ts, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: %w", raw, err)
	}
	return ts, nil
}
