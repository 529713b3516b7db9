package catalog

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/heap-analysis/pkg/errors"
)

// MySQLCatalog implements Catalog with raw SQL for MySQL deployments that
// predate the GORM migration path.
type MySQLCatalog struct {
	db *sql.DB
}

// NewMySQLCatalog creates a new MySQLCatalog.
func NewMySQLCatalog(db *sql.DB) *MySQLCatalog {
	return &MySQLCatalog{db: db}
}

// Save inserts the record, or replaces the existing row for the same path.
func (c *MySQLCatalog) Save(ctx context.Context, rec *DumpRecord) error {
	query := `
		INSERT INTO heap_dumps
			(path, size_bytes, id_size, timestamp, parse_mode,
			 class_count, object_count, gc_root_count, index_dir, duration_ms, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			size_bytes = VALUES(size_bytes),
			id_size = VALUES(id_size),
			timestamp = VALUES(timestamp),
			parse_mode = VALUES(parse_mode),
			class_count = VALUES(class_count),
			object_count = VALUES(object_count),
			gc_root_count = VALUES(gc_root_count),
			index_dir = VALUES(index_dir),
			duration_ms = VALUES(duration_ms),
			summary = VALUES(summary)
	`

	_, err := c.db.ExecContext(ctx, query,
		rec.Path, rec.SizeBytes, rec.IDSize, rec.Timestamp, rec.ParseMode,
		rec.ClassCount, rec.ObjectCount, rec.GCRootCount, rec.IndexDir,
		rec.DurationMS, []byte(rec.Summary),
	)
	if err != nil {
		return fmt.Errorf("failed to save dump record: %w", err)
	}
	return nil
}

// GetByPath retrieves the record for a dump path.
func (c *MySQLCatalog) GetByPath(ctx context.Context, path string) (*DumpRecord, error) {
	query := `
		SELECT id, path, size_bytes, id_size, timestamp, parse_mode,
			   class_count, object_count, gc_root_count,
			   COALESCE(index_dir, ''), duration_ms, summary, created_at, updated_at
		FROM heap_dumps
		WHERE path = ?
	`

	rec := &DumpRecord{}
	var summary []byte

	err := c.db.QueryRowContext(ctx, query, path).Scan(
		&rec.ID, &rec.Path, &rec.SizeBytes, &rec.IDSize, &rec.Timestamp,
		&rec.ParseMode, &rec.ClassCount, &rec.ObjectCount, &rec.GCRootCount,
		&rec.IndexDir, &rec.DurationMS, &summary, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.New(apperrors.CodeNotFound, "dump record not found: "+path)
		}
		return nil, fmt.Errorf("failed to get dump record: %w", err)
	}

	rec.Summary = JSONField(summary)
	return rec, nil
}

// Recent returns the most recently updated records, newest first.
func (c *MySQLCatalog) Recent(ctx context.Context, limit int) ([]*DumpRecord, error) {
	query := `
		SELECT id, path, size_bytes, id_size, timestamp, parse_mode,
			   class_count, object_count, gc_root_count,
			   COALESCE(index_dir, ''), duration_ms, summary, created_at, updated_at
		FROM heap_dumps
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dump records: %w", err)
	}
	defer rows.Close()

	var recs []*DumpRecord
	for rows.Next() {
		rec := &DumpRecord{}
		var summary []byte

		err := rows.Scan(
			&rec.ID, &rec.Path, &rec.SizeBytes, &rec.IDSize, &rec.Timestamp,
			&rec.ParseMode, &rec.ClassCount, &rec.ObjectCount, &rec.GCRootCount,
			&rec.IndexDir, &rec.DurationMS, &summary, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dump record: %w", err)
		}

		rec.Summary = JSONField(summary)
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// Delete removes the record for a dump path.
func (c *MySQLCatalog) Delete(ctx context.Context, path string) error {
	result, err := c.db.ExecContext(ctx, "DELETE FROM heap_dumps WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("failed to delete dump record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete dump record: %w", err)
	}
	if affected == 0 {
		return apperrors.New(apperrors.CodeNotFound, "dump record not found: "+path)
	}
	return nil
}
