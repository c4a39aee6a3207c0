package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/session"
)

// ErrNoActiveSession is returned when a student drives a session that does not exist.
var ErrNoActiveSession = errors.New("no active exam session")

type sessionKey struct {
	ExamID    uuid.UUID
	StudentID int
}

// SessionState is the snapshot handed to HTTP and WebSocket clients.
type SessionState struct {
	ExamID           uuid.UUID                   `json:"exam_id"`
	Title            string                      `json:"title"`
	Status           session.Status              `json:"status"`
	RemainingSeconds int                         `json:"remaining_seconds"`
	CurrentIndex     int                         `json:"current_index"`
	QuestionCount    int                         `json:"question_count"`
	AnsweredCount    int                         `json:"answered_count"`
	QuestionOrder    []uuid.UUID                 `json:"question_order"`
	Answers          map[uuid.UUID]session.Label `json:"answers"`
}

// reviewRetention is how long a terminated session stays in memory so the
// student can fetch the answer review before the clock prunes it.
const reviewRetention = 15 * time.Minute

// SessionService owns every live exam attempt in the process. Sessions exist
// only in memory; the single durable artifact is the Result, queued to Redis
// on termination and persisted by the result worker. Terminated sessions are
// kept for reviewRetention so review requests keep working, then pruned.
//
// One clock goroutine (RunClock) ticks all live sessions once per second, so
// a thousand concurrent attempts cost one timer, not a thousand.
type SessionService struct {
	mu   sync.RWMutex
	live map[sessionKey]*session.Session
	done map[sessionKey]time.Time

	exams     ExamStore
	questions QuestionBank
	rdb       *redis.Client
}

// NewSessionService creates a new SessionService.
func NewSessionService(exams ExamStore, questions QuestionBank, rdb *redis.Client) *SessionService {
	return &SessionService{
		live:      make(map[sessionKey]*session.Session),
		done:      make(map[sessionKey]time.Time),
		exams:     exams,
		questions: questions,
		rdb:       rdb,
	}
}

// queueSink satisfies session.ResultStore by pushing the result onto the
// Redis persistence queue. The session core stays free of Redis; only this
// adapter knows where results go.
type queueSink struct {
	rdb *redis.Client
}

func (q queueSink) Save(r session.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, data).Err(); err != nil {
		return fmt.Errorf("queue result: %w", err)
	}
	return nil
}

// Start begins an exam attempt for a student, or returns the existing live
// session when the student reconnects mid-attempt. The question set is
// loaded once and shuffled into a session-local order.
func (s *SessionService) Start(ctx context.Context, studentID int, examID uuid.UUID) (*session.Session, error) {
	key := sessionKey{ExamID: examID, StudentID: studentID}

	s.mu.RLock()
	existing := s.live[key]
	s.mu.RUnlock()
	// A reconnect resumes the running attempt; a terminal session means the
	// student is re-taking, so a fresh one replaces it below.
	if existing != nil && existing.Status() == session.StatusActive {
		return existing, nil
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, ErrExamNotAvailable
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}

	bank, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(bank) == 0 {
		return nil, session.ErrNoQuestions
	}

	questions := make([]session.Question, 0, len(bank))
	for _, q := range bank {
		questions = append(questions, session.Question{
			ID:      q.ID,
			Text:    q.Text,
			Options: q.Options(),
			Correct: session.Label(q.CorrectLabel),
		})
	}

	spec := session.ExamSpec{
		ExamID:          exam.ID,
		Title:           exam.Title,
		DurationSeconds: exam.DurationSeconds(),
	}

	sess, err := session.New(studentID, spec, questions, queueSink{rdb: s.rdb})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// A concurrent Start may have won the race; keep the first live session.
	if other := s.live[key]; other != nil && other.Status() == session.StatusActive {
		s.mu.Unlock()
		return other, nil
	}
	s.live[key] = sess
	delete(s.done, key)
	s.mu.Unlock()

	log.Info().
		Str("component", "session").
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Int("questions", len(questions)).
		Int("duration_seconds", spec.DurationSeconds).
		Msg("exam session started")

	return sess, nil
}

// Get returns the live session for a student and exam, if any.
func (s *SessionService) Get(studentID int, examID uuid.UUID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess := s.live[sessionKey{ExamID: examID, StudentID: studentID}]
	if sess == nil {
		return nil, ErrNoActiveSession
	}
	return sess, nil
}

// Answer records a choice on the student's live session.
func (s *SessionService) Answer(studentID int, examID, questionID uuid.UUID, label session.Label) error {
	sess, err := s.Get(studentID, examID)
	if err != nil {
		return err
	}
	return sess.Answer(questionID, label)
}

// Goto moves the cursor on the student's live session.
func (s *SessionService) Goto(studentID int, examID uuid.UUID, index int) error {
	sess, err := s.Get(studentID, examID)
	if err != nil {
		return err
	}
	return sess.Goto(index)
}

// Next advances the cursor on the student's live session.
func (s *SessionService) Next(studentID int, examID uuid.UUID) error {
	sess, err := s.Get(studentID, examID)
	if err != nil {
		return err
	}
	return sess.Next()
}

// Previous moves the cursor back on the student's live session.
func (s *SessionService) Previous(studentID int, examID uuid.UUID) error {
	sess, err := s.Get(studentID, examID)
	if err != nil {
		return err
	}
	return sess.Previous()
}

// Submit finalizes the student's live session. The returned Result is
// already on the persistence queue; the session itself is retained for
// review until the clock prunes it.
func (s *SessionService) Submit(studentID int, examID uuid.UUID) (session.Result, error) {
	sess, err := s.Get(studentID, examID)
	if err != nil {
		return session.Result{}, err
	}
	res, err := sess.Submit()
	if err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			return res, err
		}
		// The result could not be queued but the session is terminal
		// either way; keep the retention clock running and log loudly
		// so the score loss is visible.
		s.markDone(studentID, examID)
		log.Error().Err(err).
			Str("component", "session").
			Int("student_id", studentID).
			Str("exam_id", examID.String()).
			Msg("failed to queue result on submit")
		return res, err
	}
	s.markDone(studentID, examID)

	log.Info().
		Str("component", "session").
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Float64("score", res.ScorePercent).
		Msg("exam submitted")

	return res, nil
}

// Review returns the per-question correctness breakdown for a terminal session.
func (s *SessionService) Review(studentID int, examID uuid.UUID) ([]session.ReviewItem, error) {
	sess, err := s.Get(studentID, examID)
	if err != nil {
		return nil, err
	}
	return sess.Review(), nil
}

// State snapshots the student's live session for clients.
func (s *SessionService) State(studentID int, examID uuid.UUID) (*SessionState, error) {
	sess, err := s.Get(studentID, examID)
	if err != nil {
		return nil, err
	}
	return snapshot(sess), nil
}

func snapshot(sess *session.Session) *SessionState {
	questions := sess.Questions()
	order := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		order[i] = q.ID
	}
	spec := sess.Spec()
	return &SessionState{
		ExamID:           spec.ExamID,
		Title:            spec.Title,
		Status:           sess.Status(),
		RemainingSeconds: sess.RemainingSeconds(),
		CurrentIndex:     sess.CurrentIndex(),
		QuestionCount:    sess.QuestionCount(),
		AnsweredCount:    sess.AnsweredCount(),
		QuestionOrder:    order,
		Answers:          sess.Answers(),
	}
}

// LiveCount returns how many sessions are currently running.
func (s *SessionService) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}

func (s *SessionService) markDone(studentID int, examID uuid.UUID) {
	s.mu.Lock()
	s.done[sessionKey{ExamID: examID, StudentID: studentID}] = time.Now()
	s.mu.Unlock()
}

func (s *SessionService) remove(key sessionKey) {
	s.mu.Lock()
	delete(s.live, key)
	delete(s.done, key)
	s.mu.Unlock()
}

// RunClock drives every live session's countdown with a single 1-second
// ticker. Sessions that expire under the tick are finalized by the session
// core itself and pruned from the live map here. Blocks until ctx is done.
func (s *SessionService) RunClock(ctx context.Context) {
	logger := log.With().Str("component", "session_clock").Logger()
	logger.Info().Msg("session clock started")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Int("live", s.LiveCount()).Msg("session clock stopped")
			return
		case <-ticker.C:
			s.tickAll(logger)
		}
	}
}

// tickAll advances every active session by one second and prunes terminated
// ones whose review retention has passed. Ticking happens outside the service
// lock so a slow queue push on expiry never blocks Start/Submit on other
// sessions.
func (s *SessionService) tickAll(logger zerolog.Logger) {
	now := time.Now()

	s.mu.RLock()
	keys := make([]sessionKey, 0, len(s.live))
	sessions := make([]*session.Session, 0, len(s.live))
	for k, sess := range s.live {
		keys = append(keys, k)
		sessions = append(sessions, sess)
	}
	doneAt := make(map[sessionKey]time.Time, len(s.done))
	for k, at := range s.done {
		doneAt[k] = at
	}
	s.mu.RUnlock()

	for i, sess := range sessions {
		key := keys[i]

		if sess.Status() != session.StatusActive {
			if at, ok := doneAt[key]; ok && now.Sub(at) > reviewRetention {
				s.remove(key)
			}
			continue
		}

		err := sess.Tick()
		switch {
		case err == nil:
			if sess.Status() != session.StatusActive {
				// Expired on this tick; the core has already queued the result.
				s.markDone(key.StudentID, key.ExamID)
				logger.Info().
					Int("student_id", key.StudentID).
					Str("exam_id", key.ExamID.String()).
					Msg("exam session expired")
			}
		case errors.Is(err, session.ErrSessionClosed):
			// Submitted between snapshot and tick.
		default:
			// The result could not be queued on expiry. The session is
			// terminal either way; log loudly so the score loss is visible.
			s.markDone(key.StudentID, key.ExamID)
			logger.Error().Err(err).
				Int("student_id", key.StudentID).
				Str("exam_id", key.ExamID.String()).
				Msg("failed to queue result on expiry")
		}
	}
}
