package database

import (
	"context"
	"fmt"
)

func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// 1. Searxng Instances Table
	instancesQuery := `
		CREATE TABLE IF NOT EXISTS searxng_instances (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			url TEXT NOT NULL UNIQUE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, instancesQuery); err != nil {
		return fmt.Errorf("failed to create searxng_instances table: %w", err)
	}

	// 2. Search Batches Table
	batchesQuery := `
		CREATE TABLE IF NOT EXISTS search_batches (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			raw_input TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			total_results INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, batchesQuery); err != nil {
		return fmt.Errorf("failed to create search_batches table: %w", err)
	}

	// 3. Search Queries Table (one row per query line of a batch)
	queriesQuery := `
		CREATE TABLE IF NOT EXISTS search_queries (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			batch_id UUID NOT NULL REFERENCES search_batches(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			query_text TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			results_added INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE (batch_id, position)
		);
	`
	if _, err := db.Pool.Exec(ctx, queriesQuery); err != nil {
		return fmt.Errorf("failed to create search_queries table: %w", err)
	}

	// 4. Search Results Table
	resultsQuery := `
		CREATE TABLE IF NOT EXISTS search_results (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			batch_id UUID NOT NULL REFERENCES search_batches(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			description TEXT,
			domain TEXT,
			file_type TEXT,
			engines TEXT[],
			is_google_doc BOOLEAN NOT NULL DEFAULT FALSE,
			is_google_drive BOOLEAN NOT NULL DEFAULT FALSE,
			source_query_index INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, resultsQuery); err != nil {
		return fmt.Errorf("failed to create search_results table: %w", err)
	}

	// 5. Search Logs Table
	logsQuery := `
		CREATE TABLE IF NOT EXISTS search_logs (
			id SERIAL PRIMARY KEY,
			batch_id UUID NOT NULL REFERENCES search_batches(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create search_logs table: %w", err)
	}

	// Indexes for faster querying
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_search_queries_batch_id ON search_queries(batch_id)",
		"CREATE INDEX IF NOT EXISTS idx_search_results_batch_id ON search_results(batch_id)",
		"CREATE INDEX IF NOT EXISTS idx_search_results_domain ON search_results(domain)",
		"CREATE INDEX IF NOT EXISTS idx_search_results_file_type ON search_results(file_type)",
		"CREATE INDEX IF NOT EXISTS idx_search_results_created_at ON search_results(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_search_logs_batch_id ON search_logs(batch_id)",
		"CREATE INDEX IF NOT EXISTS idx_search_batches_created_at ON search_batches(created_at DESC)",
	}
	for _, idx := range indexes {
		if _, err := db.Pool.Exec(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
