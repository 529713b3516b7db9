package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/heap-analysis/pkg/errors"
)

// Catalog stores parse results keyed by dump path.
type Catalog interface {
	// Save inserts the record, or replaces the existing row for the same path.
	Save(ctx context.Context, rec *DumpRecord) error

	// GetByPath retrieves the record for a dump path.
	GetByPath(ctx context.Context, path string) (*DumpRecord, error)

	// Recent returns the most recently updated records, newest first.
	Recent(ctx context.Context, limit int) ([]*DumpRecord, error)

	// Delete removes the record for a dump path.
	Delete(ctx context.Context, path string) error
}

// GormCatalog implements Catalog using GORM.
type GormCatalog struct {
	db *gorm.DB
}

// NewGormCatalog creates a new GormCatalog.
func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

// Save inserts the record, or replaces the existing row for the same path.
func (c *GormCatalog) Save(ctx context.Context, rec *DumpRecord) error {
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"size_bytes", "id_size", "timestamp", "parse_mode",
				"class_count", "object_count", "gc_root_count",
				"index_dir", "duration_ms", "summary", "updated_at",
			}),
		}).
		Create(rec).Error

	if err != nil {
		return fmt.Errorf("failed to save dump record: %w", err)
	}
	return nil
}

// GetByPath retrieves the record for a dump path.
func (c *GormCatalog) GetByPath(ctx context.Context, path string) (*DumpRecord, error) {
	var rec DumpRecord

	err := c.db.WithContext(ctx).Where("path = ?", path).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "dump record not found: "+path)
		}
		return nil, fmt.Errorf("failed to get dump record: %w", err)
	}

	return &rec, nil
}

// Recent returns the most recently updated records, newest first.
func (c *GormCatalog) Recent(ctx context.Context, limit int) ([]*DumpRecord, error) {
	var recs []*DumpRecord

	err := c.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&recs).Error

	if err != nil {
		return nil, fmt.Errorf("failed to query dump records: %w", err)
	}

	return recs, nil
}

// Delete removes the record for a dump path.
func (c *GormCatalog) Delete(ctx context.Context, path string) error {
	result := c.db.WithContext(ctx).Where("path = ?", path).Delete(&DumpRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete dump record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeNotFound, "dump record not found: "+path)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *GormCatalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck verifies the database connection is still alive.
func (c *GormCatalog) HealthCheck(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB returns the underlying sql.DB connection.
func (c *GormCatalog) DB() *sql.DB {
	sqlDB, _ := c.db.DB()
	return sqlDB
}
