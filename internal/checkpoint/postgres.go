package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore keeps the checkpoint in the feed_checkpoints table. Save
// replaces every row in one transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open pool. The schema is created by
// database.RunMigrations.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context) (State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity_key, last_item_id FROM feed_checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	state := State{}
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		state[key] = Entry{LastItemID: id}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) Save(ctx context.Context, state State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_checkpoints`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear checkpoints: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feed_checkpoints (entity_key, last_item_id, updated_at)
		VALUES ($1, $2, NOW())
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare checkpoint insert: %w", err)
	}
	defer stmt.Close()

	for key, entry := range state {
		if _, err := stmt.ExecContext(ctx, key, entry.LastItemID); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert checkpoint %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoints: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
