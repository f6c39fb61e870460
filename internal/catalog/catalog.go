package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noetl/noetl/internal/domain"
)

// spillThresholdBytes is the inline-size ceiling named in §1.2's blob
// spillover row: an event payload or context snapshot larger than this is
// written to the BlobStore and replaced with a reference, keeping the
// event log's JSON columns small regardless of step result size.
const spillThresholdBytes = 32 * 1024

// Catalog composes the playbook/credential stores with the optional graph
// and blob enrichments into the single facade the broker and the control
// API depend on. It is the concrete type broker.PlaybookSource's doc
// comment refers to.
type Catalog struct {
	Playbooks   *PlaybookStore
	Credentials *CredentialStore
	Graph       *GraphIndexer
	Blobs       BlobStore
	Pruner      *Pruner
}

func New(playbooks *PlaybookStore, credentials *CredentialStore, graph *GraphIndexer, blobs BlobStore, pruner *Pruner) *Catalog {
	return &Catalog{Playbooks: playbooks, Credentials: credentials, Graph: graph, Blobs: blobs, Pruner: pruner}
}

// Get implements broker.PlaybookSource.
func (c *Catalog) Get(ctx context.Context, path, version string) (*domain.Playbook, error) {
	return c.Playbooks.Get(ctx, path, version)
}

// Register stores pb and mirrors its step graph into Neo4j on a best-effort
// basis: a graph-sync failure is returned to the caller to log, but the
// playbook registration itself has already committed by the time Register
// reaches the indexing call, so a caller that wants registration to be
// atomic with indexing should treat a non-nil error here as "registered,
// graph view stale" rather than retry the whole call (retrying would hit
// PlaybookStore.Register's identical-content no-op path and just re-attempt
// indexing, which is fine).
func (c *Catalog) Register(ctx context.Context, pb *domain.Playbook) error {
	if err := c.Playbooks.Register(ctx, pb); err != nil {
		return err
	}
	if c.Graph != nil {
		return c.Graph.IndexPlaybook(ctx, pb)
	}
	return nil
}

// SpillIfLarge returns payload unchanged when its encoded size is at most
// spillThresholdBytes. Otherwise it writes the encoded payload to the blob
// store under key and returns a small reference payload in its place,
// matching the "oversized step results or context snapshots" spillover
// described in §1.2. A nil Blobs (no GCS bucket configured) makes this a
// no-op passthrough rather than an error, since spillover is enrichment,
// not a correctness requirement.
func (c *Catalog) SpillIfLarge(ctx context.Context, key string, payload map[string]any) (map[string]any, error) {
	if c.Blobs == nil || payload == nil {
		return payload, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("catalog: encoding payload for spill check: %w", err)
	}
	if len(encoded) <= spillThresholdBytes {
		return payload, nil
	}
	if err := c.Blobs.Put(ctx, key, encoded); err != nil {
		return nil, fmt.Errorf("catalog: spilling payload to blob store: %w", err)
	}
	return map[string]any{"blob_ref": key, "blob_bytes": len(encoded)}, nil
}

// ResolveSpilled reverses SpillIfLarge: given a payload that may carry a
// blob_ref, it fetches and decodes the original payload; a payload with no
// blob_ref is returned unchanged.
func (c *Catalog) ResolveSpilled(ctx context.Context, payload map[string]any) (map[string]any, error) {
	ref, ok := payload["blob_ref"].(string)
	if !ok || c.Blobs == nil {
		return payload, nil
	}
	data, err := c.Blobs.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("catalog: resolving spilled payload %q: %w", ref, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("catalog: decoding spilled payload %q: %w", ref, err)
	}
	return out, nil
}
