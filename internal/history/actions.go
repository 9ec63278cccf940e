package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionRecord is one dispatched action, successful or not.
type ActionRecord struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent"`
	Connection string    `json:"connection"`
	Action     string    `json:"action"`
	Detail     string    `json:"detail,omitempty"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordAction inserts one audit row. A zero ID is assigned here.
func (s *Store) RecordAction(ctx context.Context, rec *ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO actions (id, agent, connection, action, detail, ok, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Agent, rec.Connection, rec.Action, rec.Detail, rec.OK, rec.Error, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// RecentActions returns the newest records first, up to limit.
func (s *Store) RecentActions(ctx context.Context, limit int) ([]ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, agent, connection, action, detail, ok, error, created_at
		FROM actions
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		var rec ActionRecord
		if err := rows.Scan(&rec.ID, &rec.Agent, &rec.Connection, &rec.Action,
			&rec.Detail, &rec.OK, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
