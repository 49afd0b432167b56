package models

import "time"

// AnalysisRecord is a persisted report generated from one uploaded document.
// Records are immutable once created.
type AnalysisRecord struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	FileName     string    `json:"file_name"`
	FileType     string    `json:"file_type"`
	OriginalText string    `json:"original_text"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
}
