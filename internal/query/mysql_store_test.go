package query

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	driverMySQL "github.com/go-sql-driver/mysql"

	"PNCT-Query/internal/storage/mysql/mysqltest"
)

var recordColumnNames = []string{
	"id", "query_text", "container_id", "status", "answer", "result_json",
	"error_code", "last_error", "published", "submitted_at", "created_at", "updated_at",
}

func fixedStore(t *testing.T, ops ...mysqltest.Op) (*MySQLStore, *mysqltest.Driver) {
	t.Helper()
	db, drv := mysqltest.Open(t, ops...)
	store := NewMySQLStore(db)
	store.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return store, drv
}

func TestMySQLStoreCreateConflict(t *testing.T) {
	store, drv := fixedStore(t,
		mysqltest.Exec("", 1),
		mysqltest.ExecErr("", &driverMySQL.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	q := newQuery("m1", "where is CSQU3054383")

	if err := store.Create(context.Background(), q); err != nil {
		t.Fatalf("create: %v", err)
	}
	args := drv.Args(0)
	if args[0] != "m1" || args[2] != string(StatusPending) {
		t.Fatalf("unexpected insert args: %v", args)
	}
	if err := store.Create(context.Background(), q); err != ErrQueryConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreSaveResultPaths(t *testing.T) {
	q := newQuery("m2", "any holds on CSQU3054383")
	res := Result{QueryID: "m2", ContainerID: "CSQU3054383", Answer: "no holds", Status: StatusSucceeded}
	ctx := context.Background()

	t.Run("update existing row", func(t *testing.T) {
		store, drv := fixedStore(t, mysqltest.Exec(`UPDATE query_records SET container_id = ?, status = ?, answer = ?, result_json = ?, error_code = ?, last_error = '', updated_at = ?
            WHERE id = ? AND result_json IS NULL`, 1))
		stored, err := store.SaveResult(ctx, q, res)
		if err != nil || !stored {
			t.Fatalf("stored=%v err=%v", stored, err)
		}
		args := drv.Args(0)
		if args[0] != "CSQU3054383" || args[6] != "m2" {
			t.Fatalf("unexpected update args: %v", args)
		}
		drv.AssertConsumed(t)
	})

	t.Run("insert missing row", func(t *testing.T) {
		store, drv := fixedStore(t, mysqltest.Exec("", 0), mysqltest.Exec("", 1))
		stored, err := store.SaveResult(ctx, q, res)
		if err != nil || !stored {
			t.Fatalf("stored=%v err=%v", stored, err)
		}
		if args := drv.Args(1); args[0] != "m2" || args[1] != q.Text {
			t.Fatalf("unexpected insert args: %v", args)
		}
		drv.AssertConsumed(t)
	})

	t.Run("result already present", func(t *testing.T) {
		store, drv := fixedStore(t,
			mysqltest.Exec("", 0),
			mysqltest.ExecErr("", &driverMySQL.MySQLError{Number: 1062}),
		)
		stored, err := store.SaveResult(ctx, q, res)
		if err != nil || stored {
			t.Fatalf("expected duplicate to be ignored, stored=%v err=%v", stored, err)
		}
		drv.AssertConsumed(t)
	})
}

func TestMySQLStoreGet(t *testing.T) {
	payload, err := json.Marshal(Result{QueryID: "m3", ContainerID: "CSQU3054383", Answer: "in yard", Status: StatusSucceeded, Rounds: 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	submitted := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	row := []driver.Value{
		"m3", "where is CSQU3054383", "CSQU3054383", "succeeded", "in yard", string(payload),
		"", nil, int64(1), submitted.UnixMilli(), int64(100), int64(200),
	}
	store, drv := fixedStore(t,
		mysqltest.Query("", recordColumnNames, row),
		mysqltest.Query("", recordColumnNames),
	)

	rec, err := store.Get(context.Background(), "m3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != StatusSucceeded || !rec.Published || rec.UpdatedAt != 200 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.Query.SubmittedAt.Equal(submitted) {
		t.Fatalf("unexpected submitted_at: %v", rec.Query.SubmittedAt)
	}
	if rec.Result == nil || rec.Result.Rounds != 2 || rec.Result.Answer != "in yard" {
		t.Fatalf("unexpected result: %+v", rec.Result)
	}

	if _, err := store.Get(context.Background(), "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreMarkRunningOnFinishedQuery(t *testing.T) {
	row := []driver.Value{
		"m4", "q", "", "succeeded", "", `{"query_id":"m4","status":"succeeded"}`,
		"", "", int64(0), int64(0), int64(1), int64(1),
	}
	store, drv := fixedStore(t,
		mysqltest.Exec("", 0),
		mysqltest.Query("", recordColumnNames, row),
	)
	if err := store.MarkRunning(context.Background(), "m4"); err != ErrQueryConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	drv.AssertConsumed(t)
}
