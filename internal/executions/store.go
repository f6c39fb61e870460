// Package executions is the execution row store backing the broker's
// ExecutionCreator/ExecutionLister contracts and the control API's
// create/list/status endpoints. It owns the one piece of durable state the
// event log does not: which (playbook path, version) an execution_id
// belongs to, and its ancestor chain for sub-playbook depth/cycle guards
// (§4.8, §9 "Recursive sub-playbook calls"). Grounded on the teacher's
// internal/domain/jobs.JobRun row — a single-table, GORM-backed, owner-less
// run record — generalized from a job_type/payload/result shape to a
// playbook-ref/workload/ancestor-chain shape.
package executions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/interpreter"
)

// ErrNotFound is returned by Get/PlaybookRefFor when no row matches.
var ErrNotFound = errors.New("executions: not found")

// ErrDepthExceeded is returned by SpawnChild when the ancestor chain has
// already reached MaxDepth; §4.8 requires this bound to be configurable and
// enforced before a child execution is created, not discovered later by a
// runaway broker loop.
var ErrDepthExceeded = errors.New("executions: sub-playbook recursion depth exceeded")

type executionRow struct {
	ID              int64          `gorm:"column:id;primaryKey;autoIncrement"`
	PlaybookPath    string         `gorm:"column:playbook_path;not null;index"`
	PlaybookVersion string         `gorm:"column:playbook_version;not null"`
	Workload        datatypes.JSON `gorm:"column:workload"`
	ParentExecution *int64         `gorm:"column:parent_execution;index"`
	ParentStep      string         `gorm:"column:parent_step"`
	ParentLoopIndex *int           `gorm:"column:parent_loop_index"`
	AncestorChain   datatypes.JSON `gorm:"column:ancestor_chain"`
	Status          string         `gorm:"column:status;not null;index;default:running"`
	CreatedAt       time.Time      `gorm:"column:created_at;not null"`
}

func (executionRow) TableName() string { return "execution" }

// AutoMigrate creates the execution table if it does not already exist.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&executionRow{})
}

// Store is the C1-adjacent execution registry: not part of the event log
// (C2) or the playbook catalog (C1), but the join between the two that the
// broker needs on every tick to resolve an execution_id back to its
// playbook and, on spawn, to mint a new execution_id with its ancestor
// chain recorded.
type Store struct {
	db       *gorm.DB
	log      eventlog.Store
	maxDepth int
}

// NewStore constructs the execution store. maxDepth bounds the ancestor
// chain length a SpawnChild call will accept (§4.8); a non-positive value
// disables the guard, which is never what an operator wants in production
// but keeps unit tests that don't care about depth simple.
func NewStore(db *gorm.DB, log eventlog.Store, maxDepth int) *Store {
	return &Store{db: db, log: log, maxDepth: maxDepth}
}

// CreateRoot creates a top-level execution (no parent) and durably appends
// its execution_started event at seq 0 with the effective workload, then
// returns the new execution_id. Effective workload is payload merged over
// (merge=true) or substituted for (merge=false) the playbook's declared
// defaults, matching the Control API's {playbook_ref, payload, merge}
// request shape (§6). Bypassing the interpreter's own NextSeq==0 bootstrap
// is deliberate: Decide only has access to playbook.Workload, never to a
// per-request override, so the merge has to happen here, once, at creation.
func (s *Store) CreateRoot(ctx context.Context, pb *domain.Playbook, payload map[string]any, merge bool) (int64, error) {
	workload := effectiveWorkload(pb.Workload, payload, merge)
	return s.create(ctx, pb.Path, pb.Version, workload, nil, "", nil, nil)
}

// SpawnChild implements broker.ExecutionCreator. The new row's ancestor
// chain is the parent's chain with the parent's own playbook path
// appended; a chain that would reach maxDepth (or already contains the
// child's playbook path and is at the guard limit) is rejected rather than
// silently truncated (§9: cycles are detected by inspecting the chain, not
// by call-stack depth).
func (s *Store) SpawnChild(ctx context.Context, spawn *interpreter.SpawnSubexecution, parentExecID int64) (int64, error) {
	var parent executionRow
	if err := s.db.WithContext(ctx).First(&parent, "id = ?", parentExecID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("executions: reading parent %d: %w", parentExecID, err)
	}

	var chain []string
	if len(parent.AncestorChain) > 0 {
		if err := json.Unmarshal(parent.AncestorChain, &chain); err != nil {
			return 0, fmt.Errorf("executions: decoding ancestor chain: %w", err)
		}
	}
	chain = append(append([]string{}, chain...), parent.PlaybookPath)

	if s.maxDepth > 0 && len(chain) >= s.maxDepth {
		return 0, ErrDepthExceeded
	}

	return s.create(ctx, spawn.PlaybookPath, spawn.PlaybookVersion, spawn.Workload, &parentExecID, spawn.ParentStepName, spawn.ParentLoopIndex, chain)
}

func (s *Store) create(ctx context.Context, path, version string, workload map[string]any, parentID *int64, parentStep string, parentLoopIndex *int, chain []string) (int64, error) {
	encodedWorkload, err := json.Marshal(workload)
	if err != nil {
		return 0, fmt.Errorf("executions: encoding workload: %w", err)
	}
	encodedChain, err := json.Marshal(chain)
	if err != nil {
		return 0, fmt.Errorf("executions: encoding ancestor chain: %w", err)
	}

	row := executionRow{
		PlaybookPath:    path,
		PlaybookVersion: version,
		Workload:        datatypes.JSON(encodedWorkload),
		ParentExecution: parentID,
		ParentStep:      parentStep,
		ParentLoopIndex: parentLoopIndex,
		AncestorChain:   datatypes.JSON(encodedChain),
		Status:          string(domain.ExecRunning),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("executions: creating execution row: %w", err)
	}

	ev := domain.Event{
		Kind:      domain.EventExecutionStarted,
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"workload": workload},
	}
	if _, err := s.log.Append(ctx, row.ID, 0, ev); err != nil && !eventlog.IsConflict(err) {
		return 0, fmt.Errorf("executions: appending execution_started: %w", err)
	}
	return row.ID, nil
}

// PlaybookRefFor implements broker.ExecutionLister.
func (s *Store) PlaybookRefFor(ctx context.Context, executionID int64) (path, version string, err error) {
	var row executionRow
	if err := s.db.WithContext(ctx).Select("playbook_path", "playbook_version").First(&row, "id = ?", executionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrNotFound
		}
		return "", "", fmt.Errorf("executions: reading execution %d: %w", executionID, err)
	}
	return row.PlaybookPath, row.PlaybookVersion, nil
}

// Get returns the full execution row, decoded into domain.Execution. The
// Status field here is a coarse, eventually-consistent cache for listing
// and filtering; callers that need the authoritative status (for
// GET /executions/{id}/status) should fold the event log via stateproj
// instead of trusting this column.
func (s *Store) Get(ctx context.Context, executionID int64) (*domain.Execution, error) {
	var row executionRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", executionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("executions: reading execution %d: %w", executionID, err)
	}
	return rowToDomain(row)
}

// ListByPath returns every execution recorded against path, most recent
// first, for GET /executions?path=….
func (s *Store) ListByPath(ctx context.Context, path string) ([]*domain.Execution, error) {
	var rows []executionRow
	if err := s.db.WithContext(ctx).Where("playbook_path = ?", path).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("executions: listing by path: %w", err)
	}
	out := make([]*domain.Execution, 0, len(rows))
	for _, row := range rows {
		ex, err := rowToDomain(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, nil
}

// MarkStatus updates the cached status column once the broker has
// durably appended a terminal execution event; it never drives behaviour,
// only keeps ListByPath/Get's cheap projection from drifting too far from
// the log's true state.
func (s *Store) MarkStatus(ctx context.Context, executionID int64, status domain.ExecStatus) error {
	return s.db.WithContext(ctx).Model(&executionRow{}).Where("id = ?", executionID).Update("status", string(status)).Error
}

func rowToDomain(row executionRow) (*domain.Execution, error) {
	var workload map[string]any
	if len(row.Workload) > 0 {
		if err := json.Unmarshal(row.Workload, &workload); err != nil {
			return nil, fmt.Errorf("executions: decoding workload: %w", err)
		}
	}
	var chain []string
	if len(row.AncestorChain) > 0 {
		if err := json.Unmarshal(row.AncestorChain, &chain); err != nil {
			return nil, fmt.Errorf("executions: decoding ancestor chain: %w", err)
		}
	}
	return &domain.Execution{
		ID:              row.ID,
		PlaybookPath:    row.PlaybookPath,
		PlaybookVersion: row.PlaybookVersion,
		Workload:        workload,
		ParentExecution: row.ParentExecution,
		ParentStep:      row.ParentStep,
		ParentLoopIndex: row.ParentLoopIndex,
		CreatedAt:       row.CreatedAt,
		Status:          domain.ExecStatus(row.Status),
		AncestorChain:   chain,
	}, nil
}

// effectiveWorkload merges payload over defaults when merge is true, or
// uses payload as-is (falling back to defaults for keys it omits is not
// done — merge=false means "replace") when merge is false.
func effectiveWorkload(defaults, payload map[string]any, merge bool) map[string]any {
	if !merge {
		if payload == nil {
			return map[string]any{}
		}
		return payload
	}
	out := make(map[string]any, len(defaults)+len(payload))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range payload {
		out[k] = v
	}
	return out
}
