package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noetl/noetl/internal/domain"
)

// eventRow is the GORM model backing the event_log table. Payload is stored
// as datatypes.JSON, mirroring the teacher's job_run.result column
// (internal/jobs/orchestrator state snapshots).
type eventRow struct {
	ExecutionID int64          `gorm:"column:execution_id;primaryKey;autoIncrement:false"`
	Seq         int64          `gorm:"column:seq;primaryKey;autoIncrement:false"`
	Timestamp   time.Time      `gorm:"column:timestamp"`
	Kind        string         `gorm:"column:kind"`
	StepName    string         `gorm:"column:step_name"`
	Attempt     int            `gorm:"column:attempt"`
	LoopIndex   *int           `gorm:"column:loop_index"`
	Payload     datatypes.JSON `gorm:"column:payload"`
}

func (eventRow) TableName() string { return "event_log" }

// AutoMigrate creates the event_log table and its uniqueness guards. Called
// from internal/data/db.AutoMigrateAll.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&eventRow{}); err != nil {
		return err
	}
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_event_log_execution_seq
		ON event_log (execution_id, seq);
	`).Error; err != nil {
		return err
	}
	// Backstop for the exactly-once-progression guarantee (§8 "redelivering
	// a completed job does not append a second step_completed"): at most
	// one terminal event per (execution_id, step_name, attempt, loop_index)
	// tuple. loop_index is coalesced to -1, matching domain.StepKey's
	// convention for "not a loop child", so non-loop steps are covered too.
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_event_log_step_terminal
		ON event_log (execution_id, step_name, attempt, COALESCE(loop_index, -1))
		WHERE kind IN ('step_completed', 'step_failed', 'step_skipped');
	`).Error
}

type postgresStore struct {
	db *gorm.DB
}

// NewPostgresStore constructs the Postgres-backed event log.
func NewPostgresStore(db *gorm.DB) Store {
	return &postgresStore{db: db}
}

// Append implements the compare-and-set guard described in §4.1. The
// transaction re-reads the execution's current max seq and only inserts
// when expectedSeq matches; a concurrent append that lands the same seq
// between that read and the insert is caught by the (execution_id, seq)
// key. Any unique-constraint violation on insert (ON CONFLICT DO NOTHING
// leaves zero rows affected) is treated as a concurrent-append conflict,
// not a transport error.
func (s *postgresStore) Append(ctx context.Context, executionID int64, expectedSeq int64, event domain.Event) (int64, error) {
	var resultSeq int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64 = -1
		row := tx.Model(&eventRow{}).
			Where("execution_id = ?", executionID).
			Select("COALESCE(MAX(seq), -1)")
		if err := row.Scan(&maxSeq).Error; err != nil {
			return err
		}
		if maxSeq+1 != expectedSeq {
			resultSeq = maxSeq
			return ErrConflict
		}

		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		rec := eventRow{
			ExecutionID: executionID,
			Seq:         expectedSeq,
			Timestamp:   event.Timestamp,
			Kind:        string(event.Kind),
			StepName:    event.StepName,
			Attempt:     event.Attempt,
			LoopIndex:   event.LoopIndex,
			Payload:     datatypes.JSON(payload),
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now().UTC()
		}

		create := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if create.Error != nil {
			return create.Error
		}
		if create.RowsAffected == 0 {
			// Another transaction won the race between our MAX() read and
			// our insert; report conflict so the caller re-folds.
			resultSeq = maxSeq
			return ErrConflict
		}
		resultSeq = expectedSeq
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return resultSeq, ErrConflict
		}
		return 0, err
	}
	return resultSeq, nil
}

func (s *postgresStore) ReadSince(ctx context.Context, executionID int64, fromSeq int64) ([]domain.Event, error) {
	var rows []eventRow
	err := s.db.WithContext(ctx).
		Where("execution_id = ? AND seq > ?", executionID, fromSeq).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(rows))
	for _, r := range rows {
		var payload map[string]any
		if len(r.Payload) > 0 {
			_ = json.Unmarshal(r.Payload, &payload)
		}
		out = append(out, domain.Event{
			ExecutionID: r.ExecutionID,
			Seq:         r.Seq,
			Timestamp:   r.Timestamp,
			Kind:        domain.EventKind(r.Kind),
			StepName:    r.StepName,
			Attempt:     r.Attempt,
			LoopIndex:   r.LoopIndex,
			Payload:     payload,
		})
	}
	return out, nil
}

// ListLiveExecutions finds every execution_id that has no terminal event.
// Implemented as one GROUP BY execution_id pass whose HAVING clause drops
// any execution carrying a terminal kind.
func (s *postgresStore) ListLiveExecutions(ctx context.Context) ([]int64, error) {
	terminal := []string{
		string(domain.EventExecutionCompleted),
		string(domain.EventExecutionFailed),
		string(domain.EventExecutionCancelled),
	}
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&eventRow{}).
		Select("execution_id").
		Group("execution_id").
		Having("MAX(CASE WHEN kind IN ? THEN 1 ELSE 0 END) = 0", terminal).
		Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *postgresStore) PruneEventsBefore(ctx context.Context, executionID int64, seq int64) error {
	return s.db.WithContext(ctx).
		Where("execution_id = ? AND seq < ?", executionID, seq).
		Delete(&eventRow{}).Error
}
