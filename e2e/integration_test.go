// Package e2e contains end-to-end integration tests exercising the full
// stack on real store files: schema-bound stores, the shard router,
// maintenance sweeps, and snapshot/restore. Everything runs against
// temporary directories; no external services are needed.
package e2e

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-db/lattice/backup"
	"github.com/lattice-db/lattice/kv"
	"github.com/lattice-db/lattice/maintain"
	"github.com/lattice-db/lattice/store"
)

func applicationSchema() *store.Schema {
	return &store.Schema{
		Name: "application",
		Fields: []store.Field{
			{Name: "client", Kind: store.KindString, Required: true},
			{Name: "county", Kind: store.KindString, Required: true},
			{Name: "status", Kind: store.KindString, Required: true},
			{Name: "units", Kind: store.KindInt},
			{Name: "filed", Kind: store.KindTime},
		},
		Composites: []store.Composite{
			{Name: "by_client_county_status", Fields: []string{"client", "county", "status"}},
			{Name: "by_status", Fields: []string{"status"}},
		},
	}
}

// TestSingleStoreLifecycle walks one record through every operation and
// checks that the indexes track it at each step.
func TestSingleStoreLifecycle(t *testing.T) {
	s, err := store.Open(store.Config{
		Path: filepath.Join(t.TempDir(), "app.db"),
	}, applicationSchema())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	filed := time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)
	id, err := s.Insert(store.Record{
		"client": "Acme", "county": "NY", "status": "Active",
		"units": 24, "filed": filed,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Visible through index, scan, and direct lookup.
	for _, q := range []store.Query{
		{Equals: store.Record{"client": "Acme", "county": "NY", "status": "Active"}},
		{Equals: store.Record{"units": 24}},
		{},
	} {
		recs, err := s.Filter(q)
		if err != nil {
			t.Fatalf("filter %v: %v", q.Equals, err)
		}
		if len(recs) != 1 || recs[0].ID() != id {
			t.Fatalf("query %v missed the record", q.Equals)
		}
	}

	if _, err := s.Update(id, store.Record{"status": "Closed", "units": 30}); err != nil {
		t.Fatalf("update: %v", err)
	}
	recs, err := s.Filter(store.Query{Equals: store.Record{"status": "Active"}})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(recs) != 0 {
		t.Fatal("old status still indexed after update")
	}
	recs, err = s.Filter(store.Query{Equals: store.Record{"status": "Closed"}})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(recs) != 1 || recs[0]["units"] != int64(30) {
		t.Fatalf("expected updated record under new status, got %v", recs)
	}

	if err := s.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, def := range applicationSchema().Composites {
		if err := s.VerifyIndex(def.Name); err != nil {
			t.Errorf("index %q inconsistent after delete: %v", def.Name, err)
		}
	}
}

// TestStorePersistsAcrossReopen closes and reopens the same file.
func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")

	s, err := store.Open(store.Config{Path: path}, applicationSchema())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := s.Insert(store.Record{"client": "Acme", "county": "NY", "status": "Active"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = store.Open(store.Config{Path: path}, applicationSchema())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	rec, err := s.Get(id)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if rec["client"] != "Acme" {
		t.Errorf("expected persisted record, got %v", rec)
	}
	if err := s.VerifyIndex("by_status"); err != nil {
		t.Errorf("index inconsistent after reopen: %v", err)
	}
}

// TestShardedDeployment runs the full operation set through a router,
// sweeps the shards, and snapshots one of them.
func TestShardedDeployment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := store.NewRouter(store.RouterConfig{
		Dir:        filepath.Join(dir, "shards"),
		NumShards:  4,
		ShardField: "county",
	}, applicationSchema())
	if err != nil {
		t.Fatalf("open router: %v", err)
	}
	defer r.Close()

	counties := []string{"NY", "CT", "NJ", "PA", "MA", "VT", "NH", "RI"}
	ids := make([]uuid.UUID, 0, len(counties))
	for i, county := range counties {
		id, err := r.Insert(ctx, store.Record{
			"client": "Acme", "county": county, "status": "Active", "units": i,
		})
		if err != nil {
			t.Fatalf("insert %s: %v", county, err)
		}
		ids = append(ids, id)
	}

	// Cross-shard query with global sort and pagination.
	recs, err := r.Filter(ctx, store.Query{
		Equals:    store.Record{"status": "Active"},
		SortField: "units",
		Page:      store.Page{Offset: 2, Limit: 3},
	})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(recs) != 3 || recs[0]["units"] != int64(2) {
		t.Fatalf("expected units 2..4, got %v", recs)
	}

	// Mutate a few records through the router.
	if _, err := r.Update(ctx, ids[0], store.Record{"status": "Closed"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := r.Delete(ctx, ids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	recs, err = r.FilterByComposite(ctx, "by_status", store.Record{"status": "Active"}, store.Page{})
	if err != nil {
		t.Fatalf("filter by composite: %v", err)
	}
	if len(recs) != len(counties)-2 {
		t.Fatalf("expected %d active records, got %d", len(counties)-2, len(recs))
	}

	// A sweep over the shards finds nothing to repair.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sw := maintain.NewSweeper(r.Shards(), logger)
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	// Snapshot shard 0 and restore it next to the live deployment.
	target, err := backup.NewLocalTarget(filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("local target: %v", err)
	}
	shard0 := r.Shards()[0]
	if err := backup.Snapshot(ctx, shard0.DB(), target, "shard-00.snap"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored := filepath.Join(dir, "restored.db")
	if err := backup.Restore(ctx, target, "shard-00.snap", restored); err != nil {
		t.Fatalf("restore: %v", err)
	}
	copyStore, err := store.Open(store.Config{Path: restored}, applicationSchema())
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer copyStore.Close()

	want, err := shard0.Filter(store.Query{})
	if err != nil {
		t.Fatalf("shard filter: %v", err)
	}
	got, err := copyStore.Filter(store.Query{})
	if err != nil {
		t.Fatalf("restored filter: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("restored shard has %d records, want %d", len(got), len(want))
	}
	for _, def := range applicationSchema().Composites {
		if err := copyStore.VerifyIndex(def.Name); err != nil {
			t.Errorf("restored index %q inconsistent: %v", def.Name, err)
		}
	}
}

// TestCorruptionRecovery damages an index on disk, confirms verification
// surfaces the inconsistency, and repairs it with a sweep.
func TestCorruptionRecovery(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(store.Config{
		Path: filepath.Join(t.TempDir(), "app.db"),
	}, applicationSchema())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := s.Insert(store.Record{"client": "Acme", "county": "NY", "status": "Active"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Plant an entry no record produces.
	err = s.DB().Update(func(tx *kv.Tx) error {
		idx, err := tx.Collection("application!idx!by_status")
		if err != nil {
			return err
		}
		return idx.Put([]byte("stale"), make([]byte, 16))
	})
	if err != nil {
		t.Fatalf("corrupt index: %v", err)
	}
	if err := s.VerifyIndex("by_status"); !errors.Is(err, store.ErrIndexInconsistent) {
		t.Fatalf("expected ErrIndexInconsistent, got %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sw := maintain.NewSweeper([]*store.Store{s}, logger)
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if err := s.VerifyIndex("by_status"); err != nil {
		t.Errorf("index still inconsistent after sweep: %v", err)
	}
}
