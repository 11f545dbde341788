package db

import "time"

const (
	StatusSending   = "Sending"
	StatusSent      = "Sent"
	StatusSendError = "SendFailed"
)

// DispatchedFile is one file handed to the transport, keyed by its session.
type DispatchedFile struct {
	ID          uint   `gorm:"primaryKey"`
	SessionID   string `gorm:"size:64;uniqueIndex"`
	Path        string `gorm:"size:1024;index"`
	FileName    string `gorm:"size:255"`
	FileSize    int64
	TotalChunks int
	SentChunks  int
	Status      string `gorm:"size:32;index"`
	Message     string `gorm:"size:1024"`
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
