package dbscan

import (
	"context"
	"database/sql"
	"path/filepath"
	"slices"
	"testing"

	_ "modernc.org/sqlite"
)

type item struct {
	ID     int64
	Name   string
	Status string
}

func itemRow(rows *sql.Rows) (item, error) {
	var it item
	err := rows.Scan(&it.ID, &it.Name, &it.Status)
	return it, err
}

func openScanDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "scan.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	const schema = `CREATE TABLE items (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create table: %v", err)
	}
	rows := []struct {
		id     int64
		name   string
		status string
	}{
		{1, "alpha", "ok"},
		{2, "bravo", "ok"},
		{3, "charlie", "failed"},
		{4, "delta", "ok"},
		{5, "echo", "ok"},
	}
	for _, r := range rows {
		if _, err := db.Exec("INSERT INTO items (id, name, status) VALUES (?, ?, ?)", r.id, r.name, r.status); err != nil {
			t.Fatalf("insert %d: %v", r.id, err)
		}
	}
	return db
}

func TestSQLSource_ScanTable(t *testing.T) {
	db := openScanDB(t)
	src := &SQLSource[item]{
		DB:        db,
		Table:     "items",
		KeyColumn: "id",
		Columns:   []string{"id", "name", "status"},
		Row:       itemRow,
	}

	got, err := Collect[int64, item](context.Background(), src, func(it item) int64 { return it.ID }, 1, 2)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	ids := make([]int64, len(got))
	for i, it := range got {
		ids[i] = it.ID
	}
	if !slices.Equal(ids, []int64{1, 2, 3, 4, 5}) {
		t.Fatalf("ids: %v", ids)
	}
	if got[4].Name != "echo" {
		t.Fatalf("row payload: %+v", got[4])
	}
}

func TestSQLSource_RefinedScan(t *testing.T) {
	db := openScanDB(t)
	src := &SQLSource[item]{
		DB:        db,
		Table:     "items",
		KeyColumn: "id",
		Columns:   []string{"id", "name", "status"},
		Where:     "status = ?",
		Args:      []any{"ok"},
		Row:       itemRow,
	}

	got, err := Collect[int64, item](context.Background(), src, func(it item) int64 { return it.ID }, 1, 2)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	ids := make([]int64, len(got))
	for i, it := range got {
		ids[i] = it.ID
	}
	if !slices.Equal(ids, []int64{1, 2, 4, 5}) {
		t.Fatalf("ids: %v", ids)
	}
}

func TestSQLSource_MidTableStart(t *testing.T) {
	db := openScanDB(t)
	src := &SQLSource[item]{
		DB:        db,
		Table:     "items",
		KeyColumn: "id",
		Columns:   []string{"id", "name", "status"},
		Row:       itemRow,
	}

	got, err := Collect[int64, item](context.Background(), src, func(it item) int64 { return it.ID }, 3, 10)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 3 || got[0].ID != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestMapRow(t *testing.T) {
	db := openScanDB(t)
	src := &SQLSource[map[string]any]{
		DB:        db,
		Table:     "items",
		KeyColumn: "id",
		Row:       MapRow,
	}

	recs, err := src.FetchWindow(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	first := recs[0]
	if first["id"] != int64(1) {
		t.Fatalf("id decoded as %T (%v)", first["id"], first["id"])
	}
	if first["name"] != "alpha" {
		t.Fatalf("name decoded as %T (%v)", first["name"], first["name"])
	}
}
