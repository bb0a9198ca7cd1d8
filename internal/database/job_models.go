package database

import (
	"time"

	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/types"
)

// OutputFormatHLS is the only output format produced.
const OutputFormatHLS = "hls"

// Job is one transcoding request and its lifecycle record.
type Job struct {
	ID                 string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID            string                      `gorm:"index;type:varchar(128);not null" json:"owner_id"`
	OriginalFilename   string                      `gorm:"type:varchar(512)" json:"original_filename"`
	InputFileURL       string                      `gorm:"type:text;not null" json:"input_file_url"`
	InputContentType   string                      `gorm:"type:varchar(128)" json:"input_content_type,omitempty"`
	OutputFormat       string                      `gorm:"type:varchar(16);not null;default:hls" json:"output_format"`
	Status             types.Status                `gorm:"type:varchar(16);not null;index" json:"status"`
	Progress           int                         `gorm:"not null;default:0" json:"progress"`
	OutputURL          string                      `gorm:"type:text" json:"output_url,omitempty"`
	ResolutionVariants []types.RenditionDescriptor `gorm:"type:text;serializer:json" json:"resolution_variants,omitempty"`
	TotalSizeBytes     int64                       `json:"total_size_bytes,omitempty"`
	ErrorMessage       string                      `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt          time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time                   `json:"updated_at"`
	StartedAt          *time.Time                  `json:"started_at,omitempty"`
	FinishedAt         *time.Time                  `json:"finished_at,omitempty"`
}

// TableName returns the table name for GORM
func (Job) TableName() string {
	return "jobs"
}
