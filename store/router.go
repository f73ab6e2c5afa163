package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-db/lattice/internal/shard"
)

// Router fans the operation set out across N independent single-shard
// stores, each with its own store file. Inserts route by the configured
// shard field; identifier lookups and queries fan out and merge
// client-side. There is no cross-shard transaction: each shard's
// transaction commits independently.
type Router struct {
	cfg    RouterConfig
	schema *Schema
	stores []*Store
}

// NewRouter opens cfg.NumShards store files under cfg.Dir and binds the
// schema to each. The router owns the handles; Close releases them.
func NewRouter(cfg RouterConfig, schema *Schema) (*Router, error) {
	cfg.validate()
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if cfg.NumShards > 1 {
		if cfg.ShardField == "" {
			return nil, fmt.Errorf("lattice: router with %d shards needs a shard field", cfg.NumShards)
		}
		if _, ok := schema.field(cfg.ShardField); !ok {
			return nil, fmt.Errorf("lattice: shard field %q not declared by schema", cfg.ShardField)
		}
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("lattice: %w", err)
	}

	r := &Router{cfg: cfg, schema: schema}
	for i := 0; i < cfg.NumShards; i++ {
		st, err := Open(Config{
			Path:           filepath.Join(cfg.Dir, fmt.Sprintf("shard-%02x.db", i)),
			SizeLimit:      cfg.SizeLimit,
			MaxCollections: cfg.MaxCollections,
		}, schema)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.stores = append(r.stores, st)
	}
	return r, nil
}

// Close releases every shard's store handle.
func (r *Router) Close() error {
	var errs []error
	for _, st := range r.stores {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NumShards returns the number of engine instances behind the router.
func (r *Router) NumShards() int {
	return len(r.stores)
}

// Shards exposes the per-shard stores, e.g. for maintenance sweeps.
func (r *Router) Shards() []*Store {
	return r.stores
}

// storeFor routes by the shard field's canonical string form. The shard
// map is static: the same value always lands on the same shard.
func (r *Router) storeFor(rec Record) (*Store, error) {
	if len(r.stores) == 1 {
		return r.stores[0], nil
	}
	v, ok := rec[r.cfg.ShardField]
	if !ok {
		return nil, &ValidationError{Field: r.cfg.ShardField, Reason: "shard field missing"}
	}
	return r.stores[shard.Index(shardKeyString(v), len(r.stores))], nil
}

func shardKeyString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return strconv.FormatInt(x.UTC().UnixNano(), 10)
	default:
		return fmt.Sprint(x)
	}
}

// Insert validates fields, routes by the shard field, and inserts on the
// owning shard.
func (r *Router) Insert(ctx context.Context, fields Record) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	rec, err := r.schema.validateInsert(fields)
	if err != nil {
		return uuid.Nil, err
	}
	st, err := r.storeFor(rec)
	if err != nil {
		return uuid.Nil, err
	}
	return st.Insert(rec)
}

// Get fans out across shards; identifiers are unique across shards, so
// at most one shard answers.
func (r *Router) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	var (
		mu  sync.Mutex
		hit Record
	)
	err := r.fanOut(ctx, func(st *Store) error {
		rec, err := st.Get(id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		mu.Lock()
		hit = rec
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hit == nil {
		return nil, ErrNotFound
	}
	return hit, nil
}

// Update fans out; only the shard holding the identifier applies it.
// Changing the shard field's value does not move the record: the shard
// map applies at insert time only.
func (r *Router) Update(ctx context.Context, id uuid.UUID, fields Record) (Record, error) {
	if _, err := r.schema.validatePartial(fields); err != nil {
		return nil, err
	}
	var (
		mu  sync.Mutex
		hit Record
	)
	err := r.fanOut(ctx, func(st *Store) error {
		rec, err := st.Update(id, fields)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		mu.Lock()
		hit = rec
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hit == nil {
		return nil, ErrNotFound
	}
	return hit, nil
}

// Delete fans out; only the shard holding the identifier applies it.
func (r *Router) Delete(ctx context.Context, id uuid.UUID) error {
	found := false
	var mu sync.Mutex
	err := r.fanOut(ctx, func(st *Store) error {
		err := st.Delete(id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		mu.Lock()
		found = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Filter runs the query on every shard and merges the results
// client-side: shard results are concatenated, re-sorted under the
// query's total order, and paginated globally.
func (r *Router) Filter(ctx context.Context, q Query) ([]Record, error) {
	perShard := q
	perShard.Page = Page{}

	results := make([][]Record, len(r.stores))
	err := r.fanOutIndexed(ctx, func(i int, st *Store) error {
		recs, err := st.Filter(perShard)
		if err != nil {
			return err
		}
		results[i] = recs
		return nil
	})
	if err != nil {
		return nil, err
	}

	var merged []Record
	for _, recs := range results {
		merged = append(merged, recs...)
	}
	// Re-sort across shards; per-shard order does not interleave.
	r.shardStore().sortRecords(merged, q.SortField, q.Descending)
	return applyPage(merged, q.Page), nil
}

// FilterByComposite runs the named-definition query on every shard and
// merges in identifier order.
func (r *Router) FilterByComposite(ctx context.Context, composite string, equals Record, page Page) ([]Record, error) {
	results := make([][]Record, len(r.stores))
	err := r.fanOutIndexed(ctx, func(i int, st *Store) error {
		recs, err := st.FilterByComposite(composite, equals, Page{})
		if err != nil {
			return err
		}
		results[i] = recs
		return nil
	})
	if err != nil {
		return nil, err
	}

	var merged []Record
	for _, recs := range results {
		merged = append(merged, recs...)
	}
	r.shardStore().sortRecords(merged, "", false)
	return applyPage(merged, page), nil
}

// RebuildIndex rebuilds the named index on every shard. Shards rebuild
// independently; a failure on one shard leaves the others' rebuilt
// indexes in place (each is itself consistent).
func (r *Router) RebuildIndex(ctx context.Context, composite string) error {
	return r.fanOut(ctx, func(st *Store) error {
		return st.RebuildIndex(composite)
	})
}

func (r *Router) shardStore() *Store {
	return r.stores[0]
}

func (r *Router) fanOut(ctx context.Context, fn func(*Store) error) error {
	return r.fanOutIndexed(ctx, func(_ int, st *Store) error {
		return fn(st)
	})
}

func (r *Router) fanOutIndexed(ctx context.Context, fn func(int, *Store) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range r.stores {
		i, st := i, st
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(i, st)
		})
	}
	return g.Wait()
}
