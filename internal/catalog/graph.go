package catalog

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/platform/neo4jdb"
)

// GraphIndexer mirrors a registered playbook's step graph into Neo4j for
// operator-facing visualization and lineage queries. It is pure
// enrichment: nothing in the core (catalog lookups, the interpreter, the
// broker) reads from it, so a nil client or a failed sync never blocks
// registration. Grounded on internal/data/graph's Upsert* functions —
// same nil-client short-circuit, same ExecuteWrite/session.Run shape —
// generalized from domain entity graphs (chat, concepts) to the playbook
// step DAG.
type GraphIndexer struct {
	client *neo4jdb.Client
}

func NewGraphIndexer(client *neo4jdb.Client) *GraphIndexer {
	return &GraphIndexer{client: client}
}

// IndexPlaybook upserts a (:Playbook)-[:HAS_STEP]->(:Step) graph with
// (:Step)-[:NEXT]->(:Step) edges for pb's workflow. Best-effort: errors are
// returned for the caller to log, never to fail registration on.
func (g *GraphIndexer) IndexPlaybook(ctx context.Context, pb *domain.Playbook) error {
	if g == nil || g.client == nil || g.client.Driver == nil {
		return nil
	}

	session := g.client.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: g.client.Database})
	defer session.Close(ctx)

	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (p:Playbook {path: $path, version: $version})
			SET p.api_version = $api_version, p.synced_at = $synced_at
		`, map[string]any{
			"path":        pb.Path,
			"version":     pb.Version,
			"api_version": pb.APIVersion,
			"synced_at":   now,
		}); err != nil {
			return nil, err
		}

		for _, step := range pb.Workflow {
			if _, err := tx.Run(ctx, `
				MATCH (p:Playbook {path: $path, version: $version})
				MERGE (s:Step {path: $path, version: $version, name: $name})
				SET s.tool = $tool, s.synced_at = $synced_at
				MERGE (p)-[:HAS_STEP]->(s)
			`, map[string]any{
				"path":       pb.Path,
				"version":    pb.Version,
				"name":       step.Name,
				"tool":       string(step.Tool),
				"synced_at":  now,
			}); err != nil {
				return nil, err
			}
			for _, succ := range step.Successors() {
				if _, err := tx.Run(ctx, `
					MATCH (from:Step {path: $path, version: $version, name: $from})
					MERGE (to:Step {path: $path, version: $version, name: $to})
					MERGE (from)-[:NEXT]->(to)
				`, map[string]any{
					"path":    pb.Path,
					"version": pb.Version,
					"from":    step.Name,
					"to":      succ.Step,
				}); err != nil {
					return nil, err
				}
			}
			for _, rule := range step.Case {
				for _, ref := range append(append([]domain.StepRef{}, rule.Then...), rule.Else...) {
					if _, err := tx.Run(ctx, `
						MATCH (from:Step {path: $path, version: $version, name: $from})
						MERGE (to:Step {path: $path, version: $version, name: $to})
						MERGE (from)-[:NEXT]->(to)
					`, map[string]any{
						"path":    pb.Path,
						"version": pb.Version,
						"from":    step.Name,
						"to":      ref.Step,
					}); err != nil {
						return nil, err
					}
				}
			}
		}
		return nil, nil
	})
	return err
}
