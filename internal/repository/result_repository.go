package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examhall/examhall-backend/internal/model"
)

// ResultRepository handles the append-only result store. Writes normally
// arrive in batches through the result worker; Create is the single-row
// fallback path.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Create inserts one result record.
func (r *ResultRepository) Create(ctx context.Context, res *model.Result) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO results (student_id, exam_id, score_percent, submitted_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		res.StudentID, res.ExamID, res.ScorePercent, res.SubmittedAt,
	).Scan(&res.ID)
}

// ListByStudent retrieves a student's results, newest first.
func (r *ResultRepository) ListByStudent(ctx context.Context, studentID int) ([]model.StudentResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.student_id, r.exam_id, r.score_percent, r.submitted_at, e.title, e.subject
		 FROM results r
		 JOIN exams e ON r.exam_id = e.id
		 WHERE r.student_id = $1
		 ORDER BY r.submitted_at DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.StudentResult
	for rows.Next() {
		var sr model.StudentResult
		if err := rows.Scan(&sr.ID, &sr.StudentID, &sr.ExamID, &sr.ScorePercent, &sr.SubmittedAt, &sr.ExamTitle, &sr.Subject); err != nil {
			return nil, err
		}
		results = append(results, sr)
	}
	return results, rows.Err()
}

// LatestByExamAndStudent retrieves the most recent result for one
// exam-student pair, or nil if the student has never finished the exam.
func (r *ResultRepository) LatestByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Result, error) {
	res := &model.Result{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, student_id, exam_id, score_percent, submitted_at
		 FROM results
		 WHERE exam_id = $1 AND student_id = $2
		 ORDER BY submitted_at DESC
		 LIMIT 1`, examID, studentID,
	).Scan(&res.ID, &res.StudentID, &res.ExamID, &res.ScorePercent, &res.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}
