// Package dbx lets the attachment row store run against either a plain
// connection or a transaction: repositories bind to the DBTX interface, and
// WithTx wraps multi-row operations (like inserting all attachments of a
// message) so they land atomically.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the query/exec surface the attachment repository needs. Both
// *sql.DB and *sql.Tx satisfy it, so the same repository code serves
// single-statement calls and transactional batches.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction on db: commit when fn returns nil,
// rollback on error or panic (panics are rethrown after the rollback).
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    repo := attachments.NewSQLiteRepository(tx)
//	    _, err := repo.Insert(ctx, row)
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
