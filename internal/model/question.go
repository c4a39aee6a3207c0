package model

import (
	"github.com/google/uuid"
)

// Question represents a single multiple-choice exam question. Options map
// positionally to the labels A through D.
type Question struct {
	ID           uuid.UUID `json:"id"`
	ExamID       uuid.UUID `json:"exam_id"`
	Text         string    `json:"text"`
	OptionA      string    `json:"option_a"`
	OptionB      string    `json:"option_b"`
	OptionC      string    `json:"option_c"`
	OptionD      string    `json:"option_d"`
	CorrectLabel string    `json:"correct_label"`
}

// Options returns the four choices in label order.
func (q *Question) Options() [4]string {
	return [4]string{q.OptionA, q.OptionB, q.OptionC, q.OptionD}
}
