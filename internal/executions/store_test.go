package executions

import "testing"

func TestEffectiveWorkload_MergeOverlaysPayload(t *testing.T) {
	defaults := map[string]any{"retries": 3, "region": "us"}
	payload := map[string]any{"region": "eu"}

	got := effectiveWorkload(defaults, payload, true)

	if got["retries"] != 3 {
		t.Fatalf("expected default retries to survive merge, got %v", got["retries"])
	}
	if got["region"] != "eu" {
		t.Fatalf("expected payload to override default region, got %v", got["region"])
	}
}

func TestEffectiveWorkload_NoMergeReplacesDefaults(t *testing.T) {
	defaults := map[string]any{"retries": 3}
	payload := map[string]any{"region": "eu"}

	got := effectiveWorkload(defaults, payload, false)

	if _, ok := got["retries"]; ok {
		t.Fatalf("expected defaults dropped when merge=false, got %v", got)
	}
	if got["region"] != "eu" {
		t.Fatalf("expected payload region preserved, got %v", got["region"])
	}
}

func TestEffectiveWorkload_NoMergeNilPayloadIsEmptyMap(t *testing.T) {
	got := effectiveWorkload(map[string]any{"retries": 3}, nil, false)
	if len(got) != 0 {
		t.Fatalf("expected empty workload, got %v", got)
	}
}
