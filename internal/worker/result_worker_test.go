package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/session"
)

type execCall struct {
	sql  string
	args []any
}

// stubDB records every Exec attempt, failed ones included.
type stubDB struct {
	mu    sync.Mutex
	calls []execCall
	fail  func(sql string) error
}

func (s *stubDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, execCall{sql: sql, args: args})
	if s.fail != nil {
		if err := s.fail(sql); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.CommandTag{}, nil
}

func (s *stubDB) snapshot() []execCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]execCall(nil), s.calls...)
}

func newTestWorker(t *testing.T, db *stubDB) (*ResultWorker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewResultWorker(db, rdb, zerolog.Nop()), mr, rdb
}

func sampleResults(n int) []*session.Result {
	out := make([]*session.Result, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &session.Result{
			StudentID:    i + 1,
			ExamID:       uuid.New(),
			ScorePercent: float64(25 * i),
			SubmittedAt:  time.Now().UTC().Truncate(time.Second),
		})
	}
	return out
}

func TestFlushBulkInsertsWholeBatch(t *testing.T) {
	db := &stubDB{}
	w, _, _ := newTestWorker(t, db)
	batch := sampleResults(3)

	w.flushSafe(context.Background(), batch)

	calls := db.snapshot()
	if len(calls) != 1 {
		t.Fatalf("exec calls = %d, want 1 bulk insert", len(calls))
	}
	if !strings.Contains(calls[0].sql, "UNNEST") {
		t.Fatalf("expected UNNEST insert, got: %s", calls[0].sql)
	}

	students, ok := calls[0].args[0].([]int)
	if !ok || len(students) != 3 {
		t.Fatalf("student column = %#v, want 3 ids", calls[0].args[0])
	}
	scores := calls[0].args[2].([]float64)
	for i, res := range batch {
		if students[i] != res.StudentID || scores[i] != res.ScorePercent {
			t.Fatalf("row %d: got (%d, %v), want (%d, %v)",
				i, students[i], scores[i], res.StudentID, res.ScorePercent)
		}
	}
}

func TestFlushFallsBackToSingleInserts(t *testing.T) {
	db := &stubDB{
		fail: func(sql string) error {
			if strings.Contains(sql, "UNNEST") {
				return errors.New("bulk insert rejected")
			}
			return nil
		},
	}
	w, _, rdb := newTestWorker(t, db)
	batch := sampleResults(3)

	w.flushSafe(context.Background(), batch)

	calls := db.snapshot()
	if len(calls) != 4 {
		t.Fatalf("exec calls = %d, want 1 bulk + 3 singles", len(calls))
	}
	for _, c := range calls[1:] {
		if strings.Contains(c.sql, "UNNEST") {
			t.Fatalf("fallback reused the bulk statement: %s", c.sql)
		}
	}

	// Every row landed, so nothing goes back on the queue.
	n, err := rdb.LLen(context.Background(), config.WorkerKey.PersistResultsQueue).Result()
	if err != nil {
		t.Fatalf("LLen: %v", err)
	}
	if n != 0 {
		t.Fatalf("queue length = %d, want 0", n)
	}
}

func TestFlushRequeuesWhenPersistFails(t *testing.T) {
	db := &stubDB{
		fail: func(string) error { return errors.New("database down") },
	}
	w, _, rdb := newTestWorker(t, db)
	batch := sampleResults(2)

	w.flushSafe(context.Background(), batch)

	raw, err := rdb.LRange(context.Background(), config.WorkerKey.PersistResultsQueue, 0, -1).Result()
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("requeued = %d, want 2", len(raw))
	}

	// The requeued payload must round-trip so a later drain can persist it.
	var requeued session.Result
	if err := json.Unmarshal([]byte(raw[0]), &requeued); err != nil {
		t.Fatalf("unmarshal requeued result: %v", err)
	}
	want := *batch[0]
	if requeued.StudentID != want.StudentID ||
		requeued.ExamID != want.ExamID ||
		requeued.ScorePercent != want.ScorePercent ||
		!requeued.SubmittedAt.Equal(want.SubmittedAt) {
		t.Fatalf("requeued result = %+v, want %+v", requeued, want)
	}
}

func TestStartDrainsQueueAndSkipsBadPayloads(t *testing.T) {
	db := &stubDB{}
	w, _, rdb := newTestWorker(t, db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queued := sampleResults(2)
	for _, res := range queued {
		data, err := json.Marshal(res)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, data).Err(); err != nil {
			t.Fatalf("RPush: %v", err)
		}
	}
	if err := rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, "not json").Err(); err != nil {
		t.Fatalf("RPush garbage: %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	// Wait for the loop to consume the queue, then let shutdown drain the batch.
	deadline := time.Now().Add(3 * time.Second)
	for {
		n, err := rdb.LLen(context.Background(), config.WorkerKey.PersistResultsQueue).Result()
		if err != nil {
			t.Fatalf("LLen: %v", err)
		}
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never consumed the queue")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	calls := db.snapshot()
	if len(calls) != 1 {
		t.Fatalf("exec calls = %d, want 1 drain flush", len(calls))
	}
	students := calls[0].args[0].([]int)
	if len(students) != 2 {
		t.Fatalf("persisted rows = %d, want 2 (garbage payload must be dropped)", len(students))
	}
	for i, res := range queued {
		if students[i] != res.StudentID {
			t.Fatalf("row %d student = %d, want %d", i, students[i], res.StudentID)
		}
	}
}
