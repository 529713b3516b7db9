// Package catalog persists metadata about parsed heap dumps.
//
// Each successfully parsed dump gets one row keyed by its file path, holding
// the header fields, entity counts and the parse summary. The catalog lets a
// front end list known dumps without re-opening the files.
package catalog

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/heap-analysis/pkg/model"
)

// DumpRecord represents the heap_dumps table.
type DumpRecord struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Path        string    `gorm:"column:path;type:varchar(512);uniqueIndex"`
	SizeBytes   int64     `gorm:"column:size_bytes"`
	IDSize      uint32    `gorm:"column:id_size"`
	Timestamp   time.Time `gorm:"column:timestamp"`
	ParseMode   string    `gorm:"column:parse_mode;type:varchar(16)"`
	ClassCount  int       `gorm:"column:class_count"`
	ObjectCount int       `gorm:"column:object_count"`
	GCRootCount int       `gorm:"column:gc_root_count"`
	IndexDir    string    `gorm:"column:index_dir;type:varchar(512)"`
	DurationMS  int64     `gorm:"column:duration_ms"`
	Summary     JSONField `gorm:"column:summary;type:json"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the table name for DumpRecord.
func (DumpRecord) TableName() string {
	return "heap_dumps"
}

// ToSummary converts the record back into a model.DumpSummary.
func (r *DumpRecord) ToSummary() (*model.DumpSummary, error) {
	summary := &model.DumpSummary{
		DumpPath:    r.Path,
		FileSize:    r.SizeBytes,
		IDSize:      r.IDSize,
		Timestamp:   r.Timestamp,
		ParseMode:   r.ParseMode,
		ClassCount:  r.ClassCount,
		ObjectCount: r.ObjectCount,
		GCRootCount: r.GCRootCount,
		IndexDir:    r.IndexDir,
	}

	if r.Summary != nil {
		if err := json.Unmarshal(r.Summary, summary); err != nil {
			return nil, err
		}
	}

	return summary, nil
}

// NewDumpRecord builds a record from a parse summary.
func NewDumpRecord(summary *model.DumpSummary, duration time.Duration) (*DumpRecord, error) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}

	return &DumpRecord{
		Path:        summary.DumpPath,
		SizeBytes:   summary.FileSize,
		IDSize:      summary.IDSize,
		Timestamp:   summary.Timestamp,
		ParseMode:   summary.ParseMode,
		ClassCount:  summary.ClassCount,
		ObjectCount: summary.ObjectCount,
		GCRootCount: summary.GCRootCount,
		IndexDir:    summary.IndexDir,
		DurationMS:  duration.Milliseconds(),
		Summary:     JSONField(raw),
	}, nil
}

// JSONField is a custom type for handling JSON fields in GORM.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("unsupported type for JSONField")
	}
}

// MarshalJSON implements json.Marshaler interface.
func (j JSONField) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (j *JSONField) UnmarshalJSON(data []byte) error {
	if data == nil || string(data) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}
