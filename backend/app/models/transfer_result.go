package models

import "time"

// TransferResult is one persisted result record of a transfer session.
type TransferResult struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	SessionID         string    `gorm:"size:64;index" json:"session_id"`
	FileName          string    `gorm:"size:255" json:"file_name"`
	Status            string    `gorm:"size:32;index" json:"status"`
	Message           string    `gorm:"size:1024" json:"message"`
	ProcessedFileSize int64     `json:"processed_file_size"`
	OutputPath        string    `gorm:"size:1024" json:"output_path"`
	ProcessedAt       time.Time `gorm:"index" json:"processed_at"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}
