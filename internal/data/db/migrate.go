package db

import (
	"gorm.io/gorm"

	"github.com/noetl/noetl/internal/catalog"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/executions"
)

// AutoMigrateAll migrates every table the core durably owns: the event
// log (C2), the playbook/credential catalog (C1), and the execution
// registry. The job queue (Redis Streams) and the worker pool registry
// (in-memory, §5 "advisory, not a correctness dependency") own no
// Postgres tables and are not part of this list.
func AutoMigrateAll(gdb *gorm.DB) error {
	if err := eventlog.AutoMigrate(gdb); err != nil {
		return err
	}
	if err := catalog.AutoMigrate(gdb); err != nil {
		return err
	}
	if err := executions.AutoMigrate(gdb); err != nil {
		return err
	}
	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("auto migrating postgres tables")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("auto migration failed", "error", err)
		return err
	}
	return nil
}
