package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/searxng-scraper/pkg/search"
)

// BatchRecord is a stored search batch.
type BatchRecord struct {
	ID           uuid.UUID `json:"id"`
	RawInput     string    `json:"raw_input"`
	Status       string    `json:"status"`
	TotalResults int       `json:"total_results"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateBatch stores a new batch and its queries in input order.
func (db *PostgresDB) CreateBatch(ctx context.Context, rawInput string, queries []search.Query) (*BatchRecord, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	record := &BatchRecord{}
	err = tx.QueryRow(ctx, `
		INSERT INTO search_batches (id, raw_input, status)
		VALUES ($1, $2, 'pending')
		RETURNING id, raw_input, status, total_results, created_at, updated_at
	`, uuid.New(), rawInput).Scan(
		&record.ID, &record.RawInput, &record.Status, &record.TotalResults,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	for i, q := range queries {
		_, err := tx.Exec(ctx, `
			INSERT INTO search_queries (batch_id, position, query_text, status)
			VALUES ($1, $2, $3, $4)
		`, record.ID, i, q.Text, string(q.Status))
		if err != nil {
			return nil, fmt.Errorf("failed to create query row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return record, nil
}

// UpdateBatchStatus moves the batch to a new status and records the result total.
func (db *PostgresDB) UpdateBatchStatus(ctx context.Context, batchID uuid.UUID, status string, totalResults int) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE search_batches
		SET status = $2, total_results = $3, updated_at = NOW()
		WHERE id = $1
	`, batchID, status, totalResults)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	return nil
}

// UpdateQueryStatus records a query's terminal state and contribution count.
func (db *PostgresDB) UpdateQueryStatus(ctx context.Context, batchID uuid.UUID, position int, status search.QueryStatus, resultsAdded int) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE search_queries
		SET status = $3, results_added = $4, updated_at = NOW()
		WHERE batch_id = $1 AND position = $2
	`, batchID, position, string(status), resultsAdded)
	if err != nil {
		return fmt.Errorf("failed to update query status: %w", err)
	}
	return nil
}

// GetBatch fetches one batch record.
func (db *PostgresDB) GetBatch(ctx context.Context, id uuid.UUID) (*BatchRecord, error) {
	record := &BatchRecord{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, raw_input, status, total_results, created_at, updated_at
		FROM search_batches
		WHERE id = $1
	`, id).Scan(
		&record.ID, &record.RawInput, &record.Status, &record.TotalResults,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return record, nil
}

// RecentBatches lists the most recently created batches.
func (db *PostgresDB) RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, raw_input, status, total_results, created_at, updated_at
		FROM search_batches
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []BatchRecord
	for rows.Next() {
		var b BatchRecord
		if err := rows.Scan(&b.ID, &b.RawInput, &b.Status, &b.TotalResults, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// QueryRecord is one stored query line of a batch.
type QueryRecord struct {
	Position     int    `json:"position"`
	QueryText    string `json:"query_text"`
	Status       string `json:"status"`
	ResultsAdded int    `json:"results_added"`
}

// ListBatchQueries returns a batch's queries in input order.
func (db *PostgresDB) ListBatchQueries(ctx context.Context, batchID uuid.UUID) ([]QueryRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT position, query_text, status, results_added
		FROM search_queries
		WHERE batch_id = $1
		ORDER BY position ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch queries: %w", err)
	}
	defer rows.Close()

	var queries []QueryRecord
	for rows.Next() {
		var q QueryRecord
		if err := rows.Scan(&q.Position, &q.QueryText, &q.Status, &q.ResultsAdded); err != nil {
			return nil, fmt.Errorf("failed to scan query row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// StoreResults persists accumulated results for a batch in one round trip.
func (db *PostgresDB) StoreResults(ctx context.Context, batchID uuid.UUID, results []search.Result) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(`
			INSERT INTO search_results
				(batch_id, title, url, description, domain, file_type, engines,
				 is_google_doc, is_google_drive, source_query_index, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, batchID, r.Title, r.URL, r.Description, r.Domain, r.FileType, r.Engines,
			r.IsGoogleDoc, r.IsGoogleDrive, r.SourceQueryIndex, r.CreatedAt)
	}

	br := db.Pool.SendBatch(ctx, batch)
	defer br.Close()

	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to store result: %w", err)
		}
	}
	return nil
}

// FullTextSearch matches stored results whose title, description, or URL
// contains the term, newest first.
func (db *PostgresDB) FullTextSearch(ctx context.Context, term string, limit int) ([]search.Result, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT title, url, COALESCE(description, ''), COALESCE(domain, ''),
		       COALESCE(file_type, ''), COALESCE(engines, '{}'),
		       is_google_doc, is_google_drive, source_query_index, created_at
		FROM search_results
		WHERE title ILIKE $1 OR description ILIKE $1 OR url ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2
	`, likePattern(term), limit)
	if err != nil {
		return nil, fmt.Errorf("full-text search failed: %w", err)
	}
	defer rows.Close()

	var results []search.Result
	for rows.Next() {
		var r search.Result
		err := rows.Scan(&r.Title, &r.URL, &r.Description, &r.Domain, &r.FileType,
			&r.Engines, &r.IsGoogleDoc, &r.IsGoogleDrive, &r.SourceQueryIndex, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// likePattern escapes LIKE metacharacters in the term and wraps it in
// wildcards for substring matching.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// LogEntry is a stored per-batch log record.
type LogEntry struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Metadata  []byte    `json:"metadata"`
}

// BatchLogs returns the persisted log records for one batch in order.
func (db *PostgresDB) BatchLogs(ctx context.Context, batchID uuid.UUID) ([]LogEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, timestamp, level, message, metadata
		FROM search_logs
		WHERE batch_id = $1
		ORDER BY id ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CountSummary is one bucket of an aggregate query.
type CountSummary struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// FileTypesSummary counts stored results per file type.
func (db *PostgresDB) FileTypesSummary(ctx context.Context) ([]CountSummary, error) {
	return db.countBy(ctx, `
		SELECT file_type, COUNT(*)
		FROM search_results
		WHERE file_type IS NOT NULL AND file_type <> ''
		GROUP BY file_type
		ORDER BY COUNT(*) DESC
	`)
}

// TopDomains counts stored results per domain.
func (db *PostgresDB) TopDomains(ctx context.Context, limit int) ([]CountSummary, error) {
	return db.countBy(ctx, `
		SELECT domain, COUNT(*)
		FROM search_results
		WHERE domain IS NOT NULL AND domain <> ''
		GROUP BY domain
		ORDER BY COUNT(*) DESC
		LIMIT $1
	`, limit)
}

func (db *PostgresDB) countBy(ctx context.Context, query string, args ...any) ([]CountSummary, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate query failed: %w", err)
	}
	defer rows.Close()

	var out []CountSummary
	for rows.Next() {
		var c CountSummary
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Statistics summarizes stored batches and results.
type Statistics struct {
	TotalBatches     int `json:"total_batches"`
	CompletedBatches int `json:"completed_batches"`
	FailedBatches    int `json:"failed_batches"`
	TotalResults     int `json:"total_results"`
	FileResults      int `json:"file_results"`
}

func (db *PostgresDB) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{}
	err := db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM search_batches),
			(SELECT COUNT(*) FROM search_batches WHERE status = 'completed'),
			(SELECT COUNT(*) FROM search_batches WHERE status = 'failed'),
			(SELECT COUNT(*) FROM search_results),
			(SELECT COUNT(*) FROM search_results WHERE file_type IS NOT NULL AND file_type <> '')
	`).Scan(
		&stats.TotalBatches, &stats.CompletedBatches, &stats.FailedBatches,
		&stats.TotalResults, &stats.FileResults,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	return stats, nil
}

// DeleteOldResults drops batches (and their queries, results, and logs via
// cascade) older than the retention window.
func (db *PostgresDB) DeleteOldResults(ctx context.Context, days int) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM search_batches
		WHERE created_at < NOW() - make_interval(days => $1)
	`, days)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old results: %w", err)
	}
	return tag.RowsAffected(), nil
}
