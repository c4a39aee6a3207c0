package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/model"
)

// ErrExamNotAvailable is returned when an exam does not exist or is not published.
var ErrExamNotAvailable = errors.New("exam not available")

// ExamStore provides exam lookups. Satisfied by repository.ExamRepository.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListPublished(ctx context.Context) ([]model.Exam, error)
}

// QuestionBank provides the question set for an exam.
// Satisfied by repository.QuestionRepository.
type QuestionBank interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// ExamService serves the student-facing exam catalogue and keeps per-exam
// papers cached in Redis so session starts and paper reloads do not hit
// Postgres on the hot path.
type ExamService struct {
	exams     ExamStore
	questions QuestionBank
	rdb       *redis.Client
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamStore, questions QuestionBank, rdb *redis.Client) *ExamService {
	return &ExamService{exams: exams, questions: questions, rdb: rdb}
}

// ListPublished returns the exams students may take.
func (s *ExamService) ListPublished(ctx context.Context) ([]model.Exam, error) {
	return s.exams.ListPublished(ctx)
}

// GetExam returns a published exam or ErrExamNotAvailable.
func (s *ExamService) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, ErrExamNotAvailable
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}
	return exam, nil
}

// WarmExamCache builds the student-facing paper for one exam and stores it in
// Redis. Correct answers never enter the payload.
func (s *ExamService) WarmExamCache(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return err
	}

	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	payload := model.ExamPayload{
		ExamID:    exam.ID,
		Title:     exam.Title,
		Subject:   exam.Subject,
		Duration:  exam.DurationMinutes,
		Questions: make([]model.QuestionForStudent, 0, len(questions)),
	}
	for _, q := range questions {
		payload.Questions = append(payload.Questions, model.QuestionForStudent{
			ID:      q.ID,
			Text:    q.Text,
			Options: q.Options(),
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	key := config.CacheKey.ExamPayloadKey(examID.String())
	if err := s.rdb.Set(ctx, key, data, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("cache payload: %w", err)
	}
	return nil
}

// PrewarmAllCaches warms the paper cache for every published exam.
// Called at startup; a failed exam is logged and skipped.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) {
	logger := log.With().Str("component", "exam_cache").Logger()

	exams, err := s.exams.ListPublished(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list exams for prewarm")
		return
	}

	warmed := 0
	for _, exam := range exams {
		if err := s.WarmExamCache(ctx, exam.ID); err != nil {
			logger.Error().Err(err).Str("exam_id", exam.ID.String()).Msg("failed to warm exam cache")
			continue
		}
		warmed++
	}
	logger.Info().Int("warmed", warmed).Int("total", len(exams)).Msg("exam caches prewarmed")
}

// GetExamPayload returns the cached paper for an exam, warming the cache on a miss.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())

	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		if err := s.WarmExamCache(ctx, examID); err != nil {
			return nil, err
		}
		data, err = s.rdb.Get(ctx, key).Bytes()
	}
	if err != nil {
		return nil, fmt.Errorf("read payload cache: %w", err)
	}

	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}
