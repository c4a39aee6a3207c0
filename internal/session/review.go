package session

// ReviewItem is one row of the review projection: everything the result
// screen needs to show for a single question.
type ReviewItem struct {
	QuestionID string    `json:"question_id"`
	Text       string    `json:"text"`
	Options    [4]string `json:"options"`
	Answered   bool      `json:"answered"`
	Chosen     Label     `json:"chosen,omitempty"`
	Correct    Label     `json:"correct"`
	IsCorrect  bool      `json:"is_correct"`
}

// Review derives the per-question outcome view from the recorded answers.
// It is a pure projection with no stored state of its own and can be
// recomputed at any time for display.
func (s *Session) Review() []ReviewItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]ReviewItem, len(s.questions))
	for i, q := range s.questions {
		chosen, answered := s.answers[q.ID]
		items[i] = ReviewItem{
			QuestionID: q.ID.String(),
			Text:       q.Text,
			Options:    q.Options,
			Answered:   answered,
			Chosen:     chosen,
			Correct:    q.Correct,
			IsCorrect:  answered && chosen == q.Correct,
		}
	}
	return items
}
