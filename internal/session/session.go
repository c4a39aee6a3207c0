package session

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session errors.
var (
	// ErrNoQuestions is returned by New when the exam has an empty question set.
	ErrNoQuestions = errors.New("exam has no questions")
	// ErrSessionClosed is returned by any mutating call after the session
	// reached a terminal state. It indicates caller misuse, not a transient
	// condition, and is never retried.
	ErrSessionClosed = errors.New("session is closed")
	// ErrInvalidLabel is returned by Answer for a label outside A-D or empty.
	ErrInvalidLabel = errors.New("answer label must be A, B, C, D or empty")
	// ErrUnknownQuestion is returned by Answer for a question id that is not
	// part of this session's question set.
	ErrUnknownQuestion = errors.New("question does not belong to this session")
)

// Label identifies one of the four positional answer choices.
type Label string

const (
	LabelA Label = "A"
	LabelB Label = "B"
	LabelC Label = "C"
	LabelD Label = "D"
	// LabelNone clears a previously recorded answer.
	LabelNone Label = ""
)

// Valid reports whether l is a selectable choice (A-D).
func (l Label) Valid() bool {
	switch l {
	case LabelA, LabelB, LabelC, LabelD:
		return true
	}
	return false
}

// Status enumerates session lifecycle states.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSubmitted Status = "SUBMITTED"
	StatusExpired   Status = "EXPIRED"
)

// Question is a single multiple-choice question, immutable for the lifetime
// of a session. Options are positional: index 0 is choice A, index 3 is D.
type Question struct {
	ID      uuid.UUID
	Text    string
	Options [4]string
	Correct Label
}

// ExamSpec describes the exam being attempted.
type ExamSpec struct {
	ExamID          uuid.UUID
	Title           string
	DurationSeconds int
}

// Result is the single persisted outcome of a completed or expired session.
type Result struct {
	StudentID    int       `json:"student_id"`
	ExamID       uuid.UUID `json:"exam_id"`
	ScorePercent float64   `json:"score_percent"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// ResultStore receives exactly one Result per terminated session.
// Save failures are surfaced to the caller of Submit/Tick as-is; the
// session itself never retries.
type ResultStore interface {
	Save(Result) error
}

// Session tracks one student's single timed attempt at one exam. All
// mutating methods are guarded by a single mutex so a clock goroutine and
// request handlers may drive the same session concurrently; the state
// machine defines a total order of legal transitions, so the lock only
// serializes.
type Session struct {
	mu sync.Mutex

	studentID int
	spec      ExamSpec
	questions []Question
	current   int
	answers   map[uuid.UUID]Label
	remaining int
	status    Status
	result    *Result
	store     ResultStore
}

// New builds a session for one attempt: shuffles the question set into a
// session-local order, arms the countdown at the exam duration and marks
// the session ACTIVE. Nothing is persisted until submission.
//
// The order returned by the question bank is irrelevant; New reshuffles
// regardless, and the permutation is independent across sessions.
func New(studentID int, spec ExamSpec, questions []Question, store ResultStore) (*Session, error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	shuffled := make([]Question, len(questions))
	copy(shuffled, questions)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return &Session{
		studentID: studentID,
		spec:      spec,
		questions: shuffled,
		answers:   make(map[uuid.UUID]Label, len(shuffled)),
		remaining: spec.DurationSeconds,
		status:    StatusActive,
		store:     store,
	}, nil
}

// Answer records, overwrites or clears the student's choice for a question.
// Scoring is deferred to submission; changing an answer while navigating
// back and forth is expected.
func (s *Session) Answer(questionID uuid.UUID, label Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return ErrSessionClosed
	}
	if label != LabelNone && !label.Valid() {
		return ErrInvalidLabel
	}
	if !s.contains(questionID) {
		return ErrUnknownQuestion
	}

	if label == LabelNone {
		delete(s.answers, questionID)
	} else {
		s.answers[questionID] = label
	}
	return nil
}

// Goto moves the cursor to index, clamped to the valid range. Moving before
// the first or past the last question is a harmless no-op.
func (s *Session) Goto(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return ErrSessionClosed
	}
	if index < 0 {
		index = 0
	}
	if index > len(s.questions)-1 {
		index = len(s.questions) - 1
	}
	s.current = index
	return nil
}

// Next advances the cursor by one question.
func (s *Session) Next() error {
	s.mu.Lock()
	index := s.current + 1
	s.mu.Unlock()
	return s.Goto(index)
}

// Previous moves the cursor back by one question.
func (s *Session) Previous() error {
	s.mu.Lock()
	index := s.current - 1
	s.mu.Unlock()
	return s.Goto(index)
}

// Tick advances the countdown by one second. It is invoked once per elapsed
// second by the caller's scheduling mechanism; the session has no internal
// timer of its own. When the countdown reaches zero the session expires and
// submits itself with whatever answers are recorded, so time running out
// can never leave the session without a score.
func (s *Session) Tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return ErrSessionClosed
	}
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining == 0 {
		s.status = StatusExpired
		return s.finalize()
	}
	return nil
}

// Submit scores the attempt and hands exactly one Result to the ResultStore.
// Unanswered questions count as incorrect; there is no partial credit. A
// second call after termination returns ErrSessionClosed without
// recomputing or re-persisting anything.
func (s *Session) Submit() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return Result{}, ErrSessionClosed
	}
	s.status = StatusSubmitted
	if err := s.finalize(); err != nil {
		return *s.result, err
	}
	return *s.result, nil
}

// finalize computes the score and hands the Result to the store.
// Caller must hold s.mu and have already moved status out of ACTIVE.
func (s *Session) finalize() error {
	correct := 0
	for _, q := range s.questions {
		if s.answers[q.ID] == q.Correct {
			correct++
		}
	}

	score := 100.0 * float64(correct) / float64(len(s.questions))
	score = math.Round(score*100) / 100

	res := Result{
		StudentID:    s.studentID,
		ExamID:       s.spec.ExamID,
		ScorePercent: score,
		SubmittedAt:  time.Now(),
	}
	s.result = &res

	return s.store.Save(res)
}

func (s *Session) contains(questionID uuid.UUID) bool {
	for _, q := range s.questions {
		if q.ID == questionID {
			return true
		}
	}
	return false
}

// Status returns the session lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RemainingSeconds returns the countdown value.
func (s *Session) RemainingSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// CurrentIndex returns the cursor position.
func (s *Session) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Current returns the question at the cursor.
func (s *Session) Current() Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questions[s.current]
}

// Spec returns the exam descriptor this session was started with.
func (s *Session) Spec() ExamSpec {
	return s.spec
}

// QuestionCount returns the size of the fixed question set.
func (s *Session) QuestionCount() int {
	return len(s.questions)
}

// Questions returns a copy of the session's shuffled question order.
func (s *Session) Questions() []Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// Chosen returns the recorded label for a question, if any.
func (s *Session) Chosen(questionID uuid.UUID) (Label, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.answers[questionID]
	return l, ok
}

// Answers returns a copy of the answer map keyed by question id.
func (s *Session) Answers() map[uuid.UUID]Label {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]Label, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// AnsweredCount returns how many questions have a recorded answer.
func (s *Session) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

// Result returns the produced Result once the session is terminal.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}
