package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/offsync/internal/model"
)

// Tx is a store transaction. It exposes the same collection, outbox and
// sync-state operations as Store; all of them commit or roll back together.
type Tx struct {
	conn
	tx *sql.Tx
}

// Update runs fn inside a single transaction. The transaction commits if fn
// returns nil and rolls back otherwise; fn's error is returned unchanged so
// callers can match it with errors.Is/As.
//
// This is the cross-collection primitive that keeps a record write and its
// outbox event atomic.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStorageError("begin", "", "", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{conn: conn{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return model.NewStorageError("commit", "", "", fmt.Errorf("commit: %w", err))
	}
	return nil
}
