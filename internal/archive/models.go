// Package archive keeps a permanent, queryable record of terminal jobs.
// Terminal records in the queue store expire with their retention
// window; the archive outlives them and feeds usage accounting.
package archive

import "time"

type JobRecord struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID    string `gorm:"type:varchar(64);index"`
	OrgID     string `gorm:"type:varchar(64);index"`
	SessionID string `gorm:"type:varchar(64)"`

	Provider string `gorm:"type:varchar(32);not null"`
	Model    string `gorm:"type:varchar(64)"`
	Priority string `gorm:"type:varchar(16);not null"`

	Status   string `gorm:"type:varchar(16);index;not null"` // completed | failed
	Attempts int    `gorm:"not null"`

	// Filled when failed
	ErrorKind *string `gorm:"type:varchar(32)"`
	Error     *string `gorm:"type:text"`

	// Filled when completed
	Content          string `gorm:"type:text"`
	FinishReason     string `gorm:"type:varchar(32)"`
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	QueuedAt     time.Time
	FinishedAt   time.Time
	ProcessingMs int64

	CreatedAt time.Time
}

func (JobRecord) TableName() string { return "job_records" }

// Usage aggregates token consumption for a submitter.
type Usage struct {
	Jobs             int64 `json:"jobs"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}
