package domain

import "time"

// WorkerStatus mirrors registry eligibility (§4.7): a worker missing N
// consecutive heartbeats is OFFLINE and its leases are reassigned.
type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "online"
	WorkerOffline WorkerStatus = "offline"
)

// Worker is a registered worker process (§3 "Worker").
type Worker struct {
	Name            string       `json:"name"`
	CapabilityTags  []string     `json:"capability_tags"`
	MaxConcurrency  int          `json:"max_concurrency"`
	Status          WorkerStatus `json:"status"`
	RegisteredAt    time.Time    `json:"registered_at"`
	LastHeartbeatAt time.Time    `json:"last_heartbeat_at"`
	LeasedJobKeys   []JobKey     `json:"leased_job_keys,omitempty"`
}

// DefaultWorkerStaleThreshold is the default heartbeat age past which a worker is
// considered OFFLINE; overridable via config.
const DefaultWorkerStaleThreshold = 90 * time.Second

// Credential is an external secret record; the core holds only an opaque
// handle (§3 "Credential"). Resolution of the underlying value happens
// worker-side via internal/tool.CredentialResolver, never in the broker or
// the event log, to minimize secret exposure in durable storage.
type Credential struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"` // e.g. "oauth2_token_source"
	Handle    string    `json:"handle"`
	CreatedAt time.Time `json:"created_at"`
}
