package dto

import "time"

type SessionResponse struct {
	SessionID      string    `json:"session_id"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	SourceID       string    `json:"source_id"`
	ReceivedChunks int       `json:"received_chunks"`
	TotalChunks    int       `json:"total_chunks"`
	Progress       float64   `json:"progress"`
	Assembling     bool      `json:"assembling"`
	StartTime      time.Time `json:"start_time"`
	LastActivity   time.Time `json:"last_activity"`
	// Received is only filled for single-session lookups.
	Received []int `json:"received_indices,omitempty"`
}

type SessionListResponse struct {
	Count    int               `json:"count"`
	Sessions []SessionResponse `json:"sessions"`
}

type ResultResponse struct {
	Status            string    `json:"status"`
	FileName          string    `json:"file_name"`
	Message           string    `json:"message"`
	ProcessedFileSize int64     `json:"processed_file_size,omitempty"`
	OutputPath        string    `json:"output_path,omitempty"`
	ProcessedAt       time.Time `json:"processed_at"`
}

type ResultListResponse struct {
	SessionID string           `json:"session_id"`
	Results   []ResultResponse `json:"results"`
}
