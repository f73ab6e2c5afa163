// Package maintain provides index maintenance sweeps: every composite
// index is verified against a recomputation from the records, and any
// index found inconsistent is rebuilt. Inconsistencies are never
// silently ignored.
package maintain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lattice-db/lattice/store"
)

// Sweeper verifies and repairs the composite indexes of a set of stores
// (typically one, or one per shard via Router.Shards).
type Sweeper struct {
	stores []*store.Store
	logger *slog.Logger
}

// NewSweeper creates a sweeper over the given stores.
func NewSweeper(stores []*store.Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		stores: stores,
		logger: logger,
	}
}

// Sweep verifies every composite index of every store in order. An
// index failing verification is rebuilt and re-verified. Any other
// error stops the sweep.
func (sw *Sweeper) Sweep(ctx context.Context) error {
	for i, st := range sw.stores {
		for _, def := range st.Schema().Composites {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := sw.sweepIndex(i, st, def.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (sw *Sweeper) sweepIndex(shard int, st *store.Store, composite string) error {
	err := st.VerifyIndex(composite)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrIndexInconsistent) {
		return fmt.Errorf("verify index %q: %w", composite, err)
	}

	sw.logger.Warn("index inconsistent, rebuilding",
		"shard", shard,
		"schema", st.Schema().Name,
		"index", composite,
		"error", err,
	)

	if err := st.RebuildIndex(composite); err != nil {
		return fmt.Errorf("rebuild index %q: %w", composite, err)
	}
	if err := st.VerifyIndex(composite); err != nil {
		return fmt.Errorf("verify index %q after rebuild: %w", composite, err)
	}

	sw.logger.Info("index rebuilt",
		"shard", shard,
		"schema", st.Schema().Name,
		"index", composite,
	)
	return nil
}
