package catalog

import (
	"context"

	"github.com/noetl/noetl/internal/eventlog"
)

// Pruner applies an operator-invoked retention policy to the event log
// (§3: "events live forever (or until administrative pruning)"). It is a
// thin adapter over eventlog.Store.PruneEventsBefore — the catalog is
// where admin-facing retention operations live, since the event log
// package itself only exposes the storage primitive.
type Pruner struct {
	store eventlog.Store
}

func NewPruner(store eventlog.Store) *Pruner {
	return &Pruner{store: store}
}

// PruneExecution drops every event for executionID with seq < beforeSeq.
// The caller is responsible for ensuring beforeSeq does not exceed the
// last sequence already reflected in any durable snapshot a reader may
// rely on; the event log itself enforces no such bound.
func (p *Pruner) PruneExecution(ctx context.Context, executionID int64, beforeSeq int64) error {
	return p.store.PruneEventsBefore(ctx, executionID, beforeSeq)
}
