package catalog

import (
	"context"
	"testing"

	"github.com/noetl/noetl/internal/domain"
)

func TestGraphIndexer_NilClientIsNoop(t *testing.T) {
	g := NewGraphIndexer(nil)
	pb := &domain.Playbook{Path: "examples/single", Version: "1"}
	if err := g.IndexPlaybook(context.Background(), pb); err != nil {
		t.Fatalf("expected nil-client indexer to no-op, got %v", err)
	}
}

func TestClientOptionsFromEnv_EmptyWhenUnset(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	opts := clientOptionsFromEnv()
	if len(opts) != 0 {
		t.Fatalf("expected no client options when no credentials configured, got %d", len(opts))
	}
}
