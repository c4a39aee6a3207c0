package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/examhall/examhall-backend/internal/model"
)

// StudentStore provides student lookups. Satisfied by repository.StudentRepository.
type StudentStore interface {
	GetByID(ctx context.Context, id int) (*model.Student, error)
	GetByUsername(ctx context.Context, username string) (*model.Student, error)
}

// ResultLog provides read access to persisted results.
// Satisfied by repository.ResultRepository.
type ResultLog interface {
	ListByStudent(ctx context.Context, studentID int) ([]model.StudentResult, error)
	LatestByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Result, error)
}

// LobbyEntry is one row of the student lobby: a published exam overlaid with
// the student's latest score, if any.
type LobbyEntry struct {
	Exam        model.Exam `json:"exam"`
	Taken       bool       `json:"taken"`
	LatestScore *float64   `json:"latest_score,omitempty"`
}

// StudentService serves the student portal: profile, lobby and result history.
type StudentService struct {
	students StudentStore
	exams    ExamStore
	results  ResultLog
}

// NewStudentService creates a new StudentService.
func NewStudentService(students StudentStore, exams ExamStore, results ResultLog) *StudentService {
	return &StudentService{students: students, exams: exams, results: results}
}

// GetProfile returns a student by id.
func (s *StudentService) GetProfile(ctx context.Context, id int) (*model.Student, error) {
	return s.students.GetByID(ctx, id)
}

// GetByUsername returns a student by username.
func (s *StudentService) GetByUsername(ctx context.Context, username string) (*model.Student, error) {
	return s.students.GetByUsername(ctx, username)
}

// Lobby lists the published exams with the student's latest score overlaid.
func (s *StudentService) Lobby(ctx context.Context, studentID int) ([]LobbyEntry, error) {
	exams, err := s.exams.ListPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}

	entries := make([]LobbyEntry, 0, len(exams))
	for _, exam := range exams {
		entry := LobbyEntry{Exam: exam}
		latest, err := s.results.LatestByExamAndStudent(ctx, exam.ID, studentID)
		switch {
		case err == nil:
			entry.Taken = true
			score := latest.ScorePercent
			entry.LatestScore = &score
		case errors.Is(err, pgx.ErrNoRows):
			// Never taken; leave the overlay empty.
		default:
			return nil, fmt.Errorf("load latest result: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListResults returns the student's result history, newest first.
func (s *StudentService) ListResults(ctx context.Context, studentID int) ([]model.StudentResult, error) {
	return s.results.ListByStudent(ctx, studentID)
}
