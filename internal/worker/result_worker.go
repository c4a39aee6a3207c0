package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/session"
)

const (
	ResultBatchSize    = 50
	ResultBatchTimeout = 2 * time.Second
	ResultPollTimeout  = 1 * time.Second
)

// ResultDB is the slice of pgxpool.Pool the worker needs.
type ResultDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ResultWorker drains the Redis result queue and persists scores to
// Postgres in batches. The results table is append-only; a retake adds a
// new row instead of overwriting the previous one.
type ResultWorker struct {
	db  ResultDB
	rdb *redis.Client
	log zerolog.Logger
}

func NewResultWorker(db ResultDB, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		db:  db,
		rdb: rdb,
		log: log.With().Str("component", "result_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")

	batch := make([]*session.Result, 0, ResultBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= ResultBatchSize || time.Since(lastFlush) >= ResultBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ResultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var res session.Result
			if err := json.Unmarshal([]byte(item[1]), &res); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &res)
		}
	}
}

// ----------------------------------------------------------------
// Batch insert wrapper with fallback + requeue
// ----------------------------------------------------------------

func (w *ResultWorker) flushSafe(ctx context.Context, batch []*session.Result) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkInsertResults(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("bulk result insert failed, using fallback")

		for _, res := range batch {
			if err := w.persistSingle(ctx, res); err != nil {
				w.log.Error().Err(err).Msg("persistSingle failed — requeueing")
				raw, _ := json.Marshal(res)
				w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw)
			}
		}
		return
	}

	w.log.Debug().Int("count", len(batch)).Msg("results persisted")
}

// ----------------------------------------------------------------
// BULK PostgreSQL INSERT using UNNEST
// ----------------------------------------------------------------

func (w *ResultWorker) bulkInsertResults(ctx context.Context, batch []*session.Result) error {
	n := len(batch)

	students := make([]int, 0, n)
	examIDs := make([]uuid.UUID, 0, n)
	scores := make([]float64, 0, n)
	submittedAts := make([]time.Time, 0, n)

	for _, res := range batch {
		students = append(students, res.StudentID)
		examIDs = append(examIDs, res.ExamID)
		scores = append(scores, res.ScorePercent)
		submittedAts = append(submittedAts, res.SubmittedAt)
	}

	query := `
		INSERT INTO results (student_id, exam_id, score_percent, submitted_at)
		SELECT
			u.student_id,
			u.exam_id,
			u.score_percent,
			u.submitted_at
		FROM UNNEST(
			$1::int[],
			$2::uuid[],
			$3::float8[],
			$4::timestamptz[]
		) AS u (student_id, exam_id, score_percent, submitted_at)
	`

	_, err := w.db.Exec(ctx, query, students, examIDs, scores, submittedAts)
	return err
}

// ----------------------------------------------------------------
// FALLBACK single insert
// ----------------------------------------------------------------

func (w *ResultWorker) persistSingle(ctx context.Context, res *session.Result) error {
	_, err := w.db.Exec(ctx,
		`INSERT INTO results (student_id, exam_id, score_percent, submitted_at)
		 VALUES ($1, $2, $3, $4)`,
		res.StudentID, res.ExamID, res.ScorePercent, res.SubmittedAt,
	)
	return err
}
