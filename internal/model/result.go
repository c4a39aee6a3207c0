package model

import (
	"time"

	"github.com/google/uuid"
)

// Result is one persisted exam outcome, append-only.
type Result struct {
	ID           int       `json:"id"`
	StudentID    int       `json:"student_id"`
	ExamID       uuid.UUID `json:"exam_id"`
	ScorePercent float64   `json:"score_percent"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// StudentResult joins a result with its exam metadata for display.
type StudentResult struct {
	Result
	ExamTitle string `json:"exam_title"`
	Subject   string `json:"subject"`
}
