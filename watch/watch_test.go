package watch

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/bannerhide/dbopen"
)

const pagesTable = `CREATE TABLE pages (id TEXT PRIMARY KEY, updated_at INTEGER NOT NULL)`

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(pagesTable))
}

func touch(t *testing.T, db *sql.DB, id string, ts int64) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO pages (id, updated_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`, id, ts); err != nil {
		t.Fatal(err)
	}
}

func TestMaxColumn(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	det := MaxColumn("pages", "updated_at")

	v, err := det(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("empty table: got %d, want 0", v)
	}

	touch(t, db, "a", 100)
	touch(t, db, "b", 50)
	if v, _ = det(ctx, db); v != 100 {
		t.Fatalf("got %d, want 100", v)
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent(`we"ird`); got != `"we""ird"` {
		t.Errorf("quoteIdent: got %s", got)
	}
}

func TestOnChange_FiresOnChange(t *testing.T) {
	db := testDB(t)
	touch(t, db, "a", 1)

	var runs atomic.Int32
	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: MaxColumn("pages", "updated_at")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	// The version present at start is the baseline.
	time.Sleep(80 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Fatalf("runs before any change: got %d, want 0", got)
	}

	touch(t, db, "b", 2)
	time.Sleep(80 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs after one change: got %d, want 1", got)
	}
	if w.Version() != 2 {
		t.Errorf("Version: got %d, want 2", w.Version())
	}

	time.Sleep(80 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs without change: got %d, want 1", got)
	}
}

func TestOnChange_Debounce(t *testing.T) {
	db := testDB(t)

	var runs atomic.Int32
	w := New(db, Options{
		Interval: 20 * time.Millisecond,
		Debounce: 100 * time.Millisecond,
		Detector: MaxColumn("pages", "updated_at"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	for i := int64(1); i <= 5; i++ {
		touch(t, db, "a", i)
		time.Sleep(15 * time.Millisecond)
	}
	if got := runs.Load(); got != 0 {
		t.Fatalf("runs during debounce: got %d, want 0", got)
	}

	time.Sleep(200 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs after settling: got %d, want 1", got)
	}
}

func TestOnChange_FailureRetries(t *testing.T) {
	db := testDB(t)

	var calls atomic.Int32
	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: MaxColumn("pages", "updated_at")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("browser busy")
		}
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	touch(t, db, "a", 7)
	time.Sleep(150 * time.Millisecond)

	if got := calls.Load(); got < 2 {
		t.Fatalf("calls: got %d, want a failure then a retry", got)
	}
	if v := w.Version(); v != 7 {
		t.Fatalf("Version: got %d, want 7", v)
	}
	if s := w.Stats(); s.Errors == 0 || s.Reloads != 1 || s.Checks == 0 {
		t.Errorf("Stats: got %+v", s)
	}
}

func TestOnChange_RunInitial(t *testing.T) {
	db := testDB(t)
	touch(t, db, "a", 5)

	var calls atomic.Int32
	w := New(db, Options{
		Interval:   20 * time.Millisecond,
		Detector:   MaxColumn("pages", "updated_at"),
		RunInitial: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func(context.Context) error {
		if calls.Add(1) == 1 {
			// A write landing while the first load runs.
			if _, err := db.Exec(`INSERT INTO pages (id, updated_at) VALUES ('b', 9)`); err != nil {
				t.Error(err)
			}
		}
		return nil
	})

	deadline := time.Now().Add(time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls: got %d, want the initial run and one for the concurrent write", got)
	}
	if v := w.Version(); v != 9 {
		t.Errorf("Version: got %d, want 9", v)
	}
}
