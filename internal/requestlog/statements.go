package requestlog

import (
	"context"
	"database/sql"

	"github.com/Resinat/reqlog/internal/model"
)

// insertSQL holds one named-parameter insert per event kind.
var insertSQL = map[model.Kind]string{
	model.KindStarted: `INSERT INTO started_requests (
		line, timestamp, ip, method, controller, action
	) VALUES (:line, :timestamp, :ip, :method, :controller, :action)`,

	model.KindFailed: `INSERT INTO failed_requests (
		line, started_request_id
	) VALUES (:line, :started_request_id)`,

	model.KindCompleted: `INSERT INTO completed_requests (
		line, started_request_id, url, hashed_url, status,
		duration, rendering_time, database_time
	) VALUES (:line, :started_request_id, :url, :hashed_url, :status, :duration, :rendering, :db)`,
}

// Preparer is satisfied by *sql.Tx, *sql.Conn and *sql.DB.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// StatementPool owns the three prepared inserts of one batch.
// It is not safe for concurrent use.
type StatementPool struct {
	stmts map[model.Kind]*sql.Stmt
}

// Prepared reports whether the pool currently holds statements.
func (p *StatementPool) Prepared() bool {
	return p.stmts != nil
}

// Prepare compiles one insert per kind against p.
// A pool that is already prepared is left untouched and ErrAlreadyPrepared is
// returned. If any statement is rejected, the ones compiled before it are
// closed and a *PreparationError is returned.
func (p *StatementPool) Prepare(ctx context.Context, prep Preparer) error {
	if p.stmts != nil {
		return ErrAlreadyPrepared
	}
	stmts := make(map[model.Kind]*sql.Stmt, len(model.Kinds))
	for _, kind := range model.Kinds {
		stmt, err := prep.PrepareContext(ctx, insertSQL[kind])
		if err != nil {
			for _, s := range stmts {
				s.Close()
			}
			return &PreparationError{Kind: kind, Err: err}
		}
		stmts[kind] = stmt
	}
	p.stmts = stmts
	return nil
}

// Get returns the statement for kind.
func (p *StatementPool) Get(kind model.Kind) (*sql.Stmt, error) {
	if !kind.IsValid() {
		return nil, &UnknownKindError{Kind: kind}
	}
	if p.stmts == nil {
		return nil, ErrNotPrepared
	}
	stmt, ok := p.stmts[kind]
	if !ok {
		return nil, ErrNotPrepared
	}
	return stmt, nil
}

// Close releases every held statement and returns the first close error.
// All statements are closed even when an earlier one fails. Closing an
// unprepared pool is a no-op.
func (p *StatementPool) Close() error {
	var first error
	for _, kind := range model.Kinds {
		stmt, ok := p.stmts[kind]
		if !ok {
			continue
		}
		if err := stmt.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.stmts = nil
	return first
}
