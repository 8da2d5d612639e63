package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// SubmissionRecord is the logical submission of one student. Field limits
// follow the narrowest medium: the SQL column widths, and 32767 characters,
// the most a spreadsheet cell holds.
type SubmissionRecord struct {
	Username         string    `json:"username" validate:"required,max=100"`
	FullName         string    `json:"full_name" validate:"required,max=255"`
	ClassName        string    `json:"class_name" validate:"required,classname"`
	Cohort           string    `json:"cohort,omitempty" validate:"omitempty,cohort"`
	Teammates        []string  `json:"teammates" validate:"joinedmax=32767"`
	ArtifactLink     string    `json:"artifact_link" validate:"required,url,max=32767"`
	ArtifactFilename string    `json:"artifact_filename,omitempty" validate:"required,max=255"`
	Done             bool      `json:"done"`
	LastUpdated      time.Time `json:"last_updated"`
}

// SubmissionRow is a submission as it sits in storage. Teammates and Status keep
// whatever encoding the writer used; decoding happens in the store.
type SubmissionRow struct {
	ID               string     `gorm:"primaryKey;type:varchar(36)"`
	Username         string     `gorm:"uniqueIndex;type:varchar(100);not null"`
	FullName         string     `gorm:"type:varchar(255)"`
	ClassName        string     `gorm:"type:varchar(50)"`
	Cohort           string     `gorm:"type:varchar(20)"`
	Teammates        string     `gorm:"type:text"`
	ArtifactLink     string     `gorm:"column:colab_link;type:text"`
	ArtifactFilename string     `gorm:"type:varchar(255)"`
	Status           StatusCell `gorm:"type:varchar(32)"`
	LastUpdated      time.Time  `gorm:"column:last_updated"`
}

// TableName overrides the table name for SubmissionRow
func (SubmissionRow) TableName() string {
	return "submissions"
}

// StatusCell holds the raw status value: bool, string or nil.
type StatusCell struct {
	Raw any
}

// Scan implements sql.Scanner. Integer columns are how SQL dialects without a
// boolean type store one, so they come back as bool.
func (c *StatusCell) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		c.Raw = nil
	case bool:
		c.Raw = v
	case int64:
		c.Raw = v != 0
	case []byte:
		c.Raw = string(v)
	case string:
		c.Raw = v
	default:
		return fmt.Errorf("unsupported status value of type %T", src)
	}
	return nil
}

// Value implements driver.Valuer. The status column is text, so a native
// boolean is written as "TRUE"/"FALSE".
func (c StatusCell) Value() (driver.Value, error) {
	switch v := c.Raw.(type) {
	case nil:
		return nil, nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}

// ClassSummary counts submissions of one class for the admin view.
type ClassSummary struct {
	ClassName string `json:"class_name"`
	Done      int    `json:"done"`
	NotDone   int    `json:"not_done"`
	Total     int    `json:"total"`
}

// SubmissionSavedEvent is published after every successful upsert.
type SubmissionSavedEvent struct {
	Username    string    `json:"username"`
	ClassName   string    `json:"class_name"`
	Done        bool      `json:"done"`
	LastUpdated time.Time `json:"last_updated"`
}
