package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noetl/noetl/internal/domain"
)

// credentialRow stores only a credential's metadata and opaque handle,
// never a secret value (§3 "Credential": the core holds a handle, the
// worker resolves it via internal/tool.CredentialResolver).
type credentialRow struct {
	Name      string `gorm:"primaryKey"`
	Kind      string
	Handle    string
	CreatedAt time.Time
}

func (credentialRow) TableName() string { return "credential" }

type CredentialStore struct {
	db *gorm.DB
}

func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Register upserts a credential's metadata. Re-registering an existing
// name updates its kind/handle, which lets an operator rotate which
// backing token source a credential name points at without touching any
// playbook that references it by name.
func (s *CredentialStore) Register(ctx context.Context, cred *domain.Credential) error {
	row := credentialRow{
		Name:      cred.Name,
		Kind:      cred.Kind,
		Handle:    cred.Handle,
		CreatedAt: cred.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "handle"}),
	}).Create(&row).Error
}

func (s *CredentialStore) Get(ctx context.Context, name string) (*domain.Credential, error) {
	var row credentialRow
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: reading credential: %w", err)
	}
	return &domain.Credential{
		Name:      row.Name,
		Kind:      row.Kind,
		Handle:    row.Handle,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *CredentialStore) Delete(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Where("name = ?", name).Delete(&credentialRow{}).Error
}
