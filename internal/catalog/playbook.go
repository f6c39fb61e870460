// Package catalog implements the durable playbook/credential registry (C1):
// Postgres-backed storage for immutable playbook documents and credential
// metadata, plus two optional enrichments — a best-effort Neo4j graph
// indexer and a GCS blob store for oversized payload spillover. Grounded
// on internal/eventlog/postgres.go's GORM row/table/AutoMigrate shape,
// generalized from an append-only event table to an insert-once playbook
// table (content-addressed by (path, version) rather than by sequence).
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noetl/noetl/internal/domain"
)

// ErrPlaybookExists is returned when Register is called for a (path,
// version) pair that already has a different content hash on file:
// playbooks are immutable once registered (§3 "Playbook").
var ErrPlaybookExists = errors.New("catalog: playbook version already registered with different content")

// ErrNotFound is returned by Get when no matching row exists.
var ErrNotFound = errors.New("catalog: not found")

type playbookRow struct {
	Path         string `gorm:"primaryKey"`
	Version      string `gorm:"primaryKey"`
	ContentHash  string
	Document     datatypes.JSON
	RegisteredAt time.Time
}

func (playbookRow) TableName() string { return "playbook" }

// AutoMigrate creates the playbook and credential tables if they do not
// already exist.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&playbookRow{}, &credentialRow{})
}

// PlaybookStore is the C1 contract for playbook documents.
type PlaybookStore struct {
	db *gorm.DB
}

func NewPlaybookStore(db *gorm.DB) *PlaybookStore {
	return &PlaybookStore{db: db}
}

// Register inserts pb under (pb.Path, pb.Version), computing its content
// hash. Registering the same (path, version) with identical content is a
// no-op; registering it with different content is rejected, since the
// core treats a playbook version as immutable once any execution may have
// already read it.
func (s *PlaybookStore) Register(ctx context.Context, pb *domain.Playbook) error {
	// Hash the content only, not the two fields Register fills in below.
	hashed := *pb
	hashed.ContentHash = ""
	hashed.RegisteredAt = time.Time{}
	encoded, err := json.Marshal(&hashed)
	if err != nil {
		return fmt.Errorf("catalog: encoding playbook: %w", err)
	}
	sum := sha256.Sum256(encoded)
	hash := hex.EncodeToString(sum[:])

	var existing playbookRow
	err = s.db.WithContext(ctx).
		Where("path = ? AND version = ?", pb.Path, pb.Version).
		First(&existing).Error
	if err == nil {
		if existing.ContentHash != hash {
			return ErrPlaybookExists
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("catalog: checking existing playbook: %w", err)
	}

	pb.ContentHash = hash
	pb.RegisteredAt = time.Now().UTC()
	encoded, err = json.Marshal(pb)
	if err != nil {
		return fmt.Errorf("catalog: re-encoding playbook: %w", err)
	}

	row := playbookRow{
		Path:         pb.Path,
		Version:      pb.Version,
		ContentHash:  hash,
		Document:     datatypes.JSON(encoded),
		RegisteredAt: pb.RegisteredAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// Get resolves a playbook by path and version; an empty version resolves
// to the most recently registered version for that path.
func (s *PlaybookStore) Get(ctx context.Context, path, version string) (*domain.Playbook, error) {
	var row playbookRow
	q := s.db.WithContext(ctx).Where("path = ?", path)
	if version != "" {
		q = q.Where("version = ?", version)
	} else {
		q = q.Order("registered_at DESC")
	}
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: reading playbook: %w", err)
	}
	var pb domain.Playbook
	if err := json.Unmarshal(row.Document, &pb); err != nil {
		return nil, fmt.Errorf("catalog: decoding playbook: %w", err)
	}
	return &pb, nil
}

// ListVersions returns every registered version for path, most recent first.
func (s *PlaybookStore) ListVersions(ctx context.Context, path string) ([]string, error) {
	var rows []playbookRow
	if err := s.db.WithContext(ctx).
		Where("path = ?", path).
		Order("registered_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Version)
	}
	return out, nil
}

// ListPaths returns every distinct registered playbook path.
func (s *PlaybookStore) ListPaths(ctx context.Context) ([]string, error) {
	var paths []string
	if err := s.db.WithContext(ctx).
		Model(&playbookRow{}).
		Distinct("path").
		Pluck("path", &paths).Error; err != nil {
		return nil, err
	}
	return paths, nil
}
