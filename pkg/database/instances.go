package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/searxng-scraper/pkg/searxng"
)

// InstanceRecord is a stored Searxng instance.
type InstanceRecord struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Instance converts the record to the client-facing instance type.
func (r InstanceRecord) Instance() searxng.Instance {
	return searxng.Instance{
		ID:       r.ID.String(),
		Name:     r.Name,
		URL:      r.URL,
		IsActive: r.IsActive,
	}
}

func (db *PostgresDB) ListInstances(ctx context.Context) ([]InstanceRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, url, is_active, created_at
		FROM searxng_instances
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []InstanceRecord
	for rows.Next() {
		var inst InstanceRecord
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.URL, &inst.IsActive, &inst.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (db *PostgresDB) GetActiveInstances(ctx context.Context) ([]InstanceRecord, error) {
	all, err := db.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	var active []InstanceRecord
	for _, inst := range all {
		if inst.IsActive {
			active = append(active, inst)
		}
	}
	return active, nil
}

func (db *PostgresDB) AddInstance(ctx context.Context, name, url string, isActive bool) (*InstanceRecord, error) {
	inst := &InstanceRecord{}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO searxng_instances (id, name, url, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, url, is_active, created_at
	`, uuid.New(), name, url, isActive).Scan(&inst.ID, &inst.Name, &inst.URL, &inst.IsActive, &inst.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add instance: %w", err)
	}
	return inst, nil
}

func (db *PostgresDB) UpdateInstance(ctx context.Context, id uuid.UUID, name, url string, isActive bool) (*InstanceRecord, error) {
	inst := &InstanceRecord{}
	err := db.Pool.QueryRow(ctx, `
		UPDATE searxng_instances
		SET name = $2, url = $3, is_active = $4
		WHERE id = $1
		RETURNING id, name, url, is_active, created_at
	`, id, name, url, isActive).Scan(&inst.ID, &inst.Name, &inst.URL, &inst.IsActive, &inst.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update instance: %w", err)
	}
	return inst, nil
}

func (db *PostgresDB) DeleteInstance(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, "DELETE FROM searxng_instances WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instance %s not found", id)
	}
	return nil
}
