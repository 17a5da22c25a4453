package requestlog

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Resinat/reqlog/internal/model"
	"github.com/Resinat/reqlog/internal/store"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.OpenDB(filepath.Join(t.TempDir(), "requests.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return db
}

func TestStatementPool_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var pool StatementPool
	if pool.Prepared() {
		t.Fatal("zero pool should be unprepared")
	}
	if _, err := pool.Get(model.KindStarted); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("Get before Prepare: got %v, want ErrNotPrepared", err)
	}

	if err := pool.Prepare(ctx, db); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for _, kind := range model.Kinds {
		stmt, err := pool.Get(kind)
		if err != nil {
			t.Fatalf("Get(%s): %v", kind, err)
		}
		if stmt == nil {
			t.Fatalf("Get(%s): nil statement", kind)
		}
	}

	if err := pool.Prepare(ctx, db); !errors.Is(err, ErrAlreadyPrepared) {
		t.Fatalf("second Prepare: got %v, want ErrAlreadyPrepared", err)
	}
	if !pool.Prepared() {
		t.Fatal("a rejected second Prepare must keep the existing statements")
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if pool.Prepared() {
		t.Fatal("pool should be unprepared after Close")
	}
	if _, err := pool.Get(model.KindCompleted); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("Get after Close: got %v, want ErrNotPrepared", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("Close on unprepared pool: %v", err)
	}

	// A closed pool can be prepared again.
	if err := pool.Prepare(ctx, db); err != nil {
		t.Fatalf("Prepare after Close: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestStatementPool_GetUnknownKind(t *testing.T) {
	var pool StatementPool
	_, err := pool.Get(model.Kind("redirected"))
	var unknown *UnknownKindError
	if !errors.As(err, &unknown) {
		t.Fatalf("error: got %v, want *UnknownKindError", err)
	}
	if unknown.Kind != "redirected" {
		t.Fatalf("kind: got %q, want %q", unknown.Kind, "redirected")
	}
}

func TestInsertSQL_CoversEveryKind(t *testing.T) {
	for _, kind := range model.Kinds {
		if insertSQL[kind] == "" {
			t.Fatalf("no insert for kind %s", kind)
		}
	}
	if len(insertSQL) != len(model.Kinds) {
		t.Fatalf("insertSQL has %d entries, want %d", len(insertSQL), len(model.Kinds))
	}
}
