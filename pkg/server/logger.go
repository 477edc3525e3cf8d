package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mikeboe/searxng-scraper/pkg/database"
)

// DBLogHandler is a slog.Handler that writes records to the search_logs
// table, scoped to one batch.
type DBLogHandler struct {
	DB      *database.PostgresDB
	BatchID uuid.UUID
}

func NewDBLogHandler(db *database.PostgresDB, batchID uuid.UUID) *DBLogHandler {
	return &DBLogHandler{
		DB:      db,
		BatchID: batchID,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true // Log everything
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]interface{})
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO search_logs (batch_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`

	// Use background context for the insert so log rows survive even when
	// the batch context is cancelled mid-run.
	_, err = h.DB.Pool.Exec(context.Background(), query, h.BatchID, r.Time, r.Level.String(), r.Message, metaJSON)
	return err
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	return h
}
