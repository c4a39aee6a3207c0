package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/session"
)

type stubExamStore struct {
	exams map[uuid.UUID]*model.Exam
}

func (s *stubExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, ok := s.exams[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return exam, nil
}

func (s *stubExamStore) ListPublished(_ context.Context) ([]model.Exam, error) {
	var out []model.Exam
	for _, e := range s.exams {
		if e.Status == model.ExamStatusPublished {
			out = append(out, *e)
		}
	}
	return out, nil
}

type stubQuestionBank struct {
	questions map[uuid.UUID][]model.Question
}

func (s *stubQuestionBank) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	return s.questions[examID], nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func seedExam(status model.ExamStatus, questionCount int) (*stubExamStore, *stubQuestionBank, uuid.UUID) {
	examID := uuid.New()
	exam := &model.Exam{
		ID:              examID,
		Title:           "Algebra Basics",
		Subject:         "Mathematics",
		DurationMinutes: 1,
		Status:          status,
	}

	questions := make([]model.Question, 0, questionCount)
	for i := 0; i < questionCount; i++ {
		questions = append(questions, model.Question{
			ID:           uuid.New(),
			ExamID:       examID,
			Text:         "question",
			OptionA:      "a",
			OptionB:      "b",
			OptionC:      "c",
			OptionD:      "d",
			CorrectLabel: "A",
		})
	}

	exams := &stubExamStore{exams: map[uuid.UUID]*model.Exam{examID: exam}}
	bank := &stubQuestionBank{questions: map[uuid.UUID][]model.Question{examID: questions}}
	return exams, bank, examID
}

func TestStartCreatesLiveSession(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusPublished, 5)
	svc := NewSessionService(exams, bank, newTestRedis(t))

	sess, err := svc.Start(context.Background(), 1, examID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := sess.Status(); got != session.StatusActive {
		t.Fatalf("status = %v, want ACTIVE", got)
	}
	if got := sess.RemainingSeconds(); got != 60 {
		t.Fatalf("remaining = %d, want 60", got)
	}
	if svc.LiveCount() != 1 {
		t.Fatalf("live count = %d, want 1", svc.LiveCount())
	}
}

func TestStartReturnsExistingSessionOnReconnect(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusPublished, 5)
	svc := NewSessionService(exams, bank, newTestRedis(t))

	first, err := svc.Start(context.Background(), 1, examID)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := first.Answer(first.Current().ID, session.LabelB); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	second, err := svc.Start(context.Background(), 1, examID)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first != second {
		t.Fatal("reconnect created a new session instead of returning the live one")
	}
	if second.AnsweredCount() != 1 {
		t.Fatalf("answered count = %d, want 1", second.AnsweredCount())
	}
}

func TestStartIsIsolatedPerStudent(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusPublished, 5)
	svc := NewSessionService(exams, bank, newTestRedis(t))

	a, err := svc.Start(context.Background(), 1, examID)
	if err != nil {
		t.Fatalf("Start a: %v", err)
	}
	b, err := svc.Start(context.Background(), 2, examID)
	if err != nil {
		t.Fatalf("Start b: %v", err)
	}
	if a == b {
		t.Fatal("two students share one session")
	}
	if svc.LiveCount() != 2 {
		t.Fatalf("live count = %d, want 2", svc.LiveCount())
	}
}

func TestStartRejectsUnpublishedExam(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusDraft, 5)
	svc := NewSessionService(exams, bank, newTestRedis(t))

	if _, err := svc.Start(context.Background(), 1, examID); !errors.Is(err, ErrExamNotAvailable) {
		t.Fatalf("err = %v, want ErrExamNotAvailable", err)
	}
}

func TestStartRejectsEmptyQuestionSet(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusPublished, 0)
	svc := NewSessionService(exams, bank, newTestRedis(t))

	if _, err := svc.Start(context.Background(), 1, examID); !errors.Is(err, session.ErrNoQuestions) {
		t.Fatalf("err = %v, want ErrNoQuestions", err)
	}
}

func TestSubmitQueuesResultAndRetainsForReview(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusPublished, 4)
	rdb := newTestRedis(t)
	svc := NewSessionService(exams, bank, rdb)
	ctx := context.Background()

	sess, err := svc.Start(ctx, 7, examID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, q := range sess.Questions() {
		if err := svc.Answer(7, examID, q.ID, session.LabelA); err != nil {
			t.Fatalf("Answer: %v", err)
		}
	}

	res, err := svc.Submit(7, examID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.ScorePercent != 100.0 {
		t.Fatalf("score = %v, want 100", res.ScorePercent)
	}

	// The terminal session stays around so the student can review.
	items, err := svc.Review(7, examID)
	if err != nil {
		t.Fatalf("Review after submit: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("review items = %d, want 4", len(items))
	}
	if err := svc.Answer(7, examID, sess.Questions()[0].ID, session.LabelB); !errors.Is(err, session.ErrSessionClosed) {
		t.Fatalf("Answer after submit err = %v, want ErrSessionClosed", err)
	}

	raw, err := rdb.LRange(ctx, config.WorkerKey.PersistResultsQueue, 0, -1).Result()
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("queue length = %d, want 1", len(raw))
	}
	var queued session.Result
	if err := json.Unmarshal([]byte(raw[0]), &queued); err != nil {
		t.Fatalf("unmarshal queued result: %v", err)
	}
	if queued.StudentID != 7 || queued.ExamID != examID || queued.ScorePercent != 100.0 {
		t.Fatalf("queued result = %+v", queued)
	}
}

func TestSubmitWithQueueDownStillRetiresSession(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusPublished, 2)
	mr := miniredis.RunT(t)
	svc := NewSessionService(exams, bank, redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	if _, err := svc.Start(context.Background(), 4, examID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mr.SetError("redis is down")
	if _, err := svc.Submit(4, examID); err == nil {
		t.Fatal("Submit reported success with the queue down")
	}
	mr.SetError("")

	// The session is terminal despite the lost result, so the retention
	// index must know about it or the clock would never prune it.
	svc.mu.RLock()
	_, retained := svc.done[sessionKey{ExamID: examID, StudentID: 4}]
	svc.mu.RUnlock()
	if !retained {
		t.Fatal("terminal session missing from the retention index")
	}
	if _, err := svc.Review(4, examID); err != nil {
		t.Fatalf("Review after failed queue push: %v", err)
	}
	if _, err := svc.Submit(4, examID); !errors.Is(err, session.ErrSessionClosed) {
		t.Fatalf("second Submit err = %v, want ErrSessionClosed", err)
	}
}

func TestOperationsWithoutSessionFail(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusPublished, 4)
	svc := NewSessionService(exams, bank, newTestRedis(t))

	if err := svc.Answer(1, examID, uuid.New(), session.LabelA); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("Answer err = %v, want ErrNoActiveSession", err)
	}
	if _, err := svc.Submit(1, examID); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("Submit err = %v, want ErrNoActiveSession", err)
	}
	if _, err := svc.State(1, examID); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("State err = %v, want ErrNoActiveSession", err)
	}
}

func TestClockExpiryQueuesResultExactlyOnce(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusPublished, 4)
	rdb := newTestRedis(t)
	svc := NewSessionService(exams, bank, rdb)
	ctx := context.Background()

	sess, err := svc.Start(ctx, 3, examID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	logger := zerolog.Nop()
	for i := 0; i < 60; i++ {
		svc.tickAll(logger)
	}
	if got := sess.Status(); got != session.StatusExpired {
		t.Fatalf("status = %v, want EXPIRED after 60 ticks", got)
	}

	// Further ticks must not queue another result.
	for i := 0; i < 10; i++ {
		svc.tickAll(logger)
	}
	n, err := rdb.LLen(ctx, config.WorkerKey.PersistResultsQueue).Result()
	if err != nil {
		t.Fatalf("LLen: %v", err)
	}
	if n != 1 {
		t.Fatalf("queue length = %d, want exactly 1", n)
	}

	// Review of the expired attempt is still available.
	if _, err := svc.Review(3, examID); err != nil {
		t.Fatalf("Review after expiry: %v", err)
	}
}

func TestStartAfterSubmitBeginsFreshAttempt(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusPublished, 4)
	svc := NewSessionService(exams, bank, newTestRedis(t))
	ctx := context.Background()

	first, err := svc.Start(ctx, 2, examID)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := svc.Submit(2, examID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	second, err := svc.Start(ctx, 2, examID)
	if err != nil {
		t.Fatalf("retake Start: %v", err)
	}
	if first == second {
		t.Fatal("retake returned the terminal session")
	}
	if got := second.Status(); got != session.StatusActive {
		t.Fatalf("retake status = %v, want ACTIVE", got)
	}
}

func TestStateSnapshot(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusPublished, 6)
	svc := NewSessionService(exams, bank, newTestRedis(t))

	sess, err := svc.Start(context.Background(), 5, examID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Goto(5, examID, 2); err != nil {
		t.Fatalf("Goto: %v", err)
	}
	if err := svc.Answer(5, examID, sess.Questions()[0].ID, session.LabelC); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	state, err := svc.State(5, examID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.ExamID != examID {
		t.Fatalf("exam id = %v, want %v", state.ExamID, examID)
	}
	if state.CurrentIndex != 2 {
		t.Fatalf("current index = %d, want 2", state.CurrentIndex)
	}
	if state.QuestionCount != 6 || len(state.QuestionOrder) != 6 {
		t.Fatalf("question count = %d, order len = %d, want 6/6", state.QuestionCount, len(state.QuestionOrder))
	}
	if state.AnsweredCount != 1 || len(state.Answers) != 1 {
		t.Fatalf("answered = %d, answers len = %d, want 1/1", state.AnsweredCount, len(state.Answers))
	}
	if state.Status != session.StatusActive {
		t.Fatalf("status = %v, want ACTIVE", state.Status)
	}
}

func TestReviewRequiresLiveSession(t *testing.T) {
	exams, bank, examID := seedExam(model.ExamStatusPublished, 4)
	svc := NewSessionService(exams, bank, newTestRedis(t))

	if _, err := svc.Review(9, examID); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}

	sess, err := svc.Start(context.Background(), 9, examID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	items, err := svc.Review(9, examID)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(items) != sess.QuestionCount() {
		t.Fatalf("review items = %d, want %d", len(items), sess.QuestionCount())
	}
}
