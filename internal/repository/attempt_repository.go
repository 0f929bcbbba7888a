package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizdesk/user-service/internal/model"
)

// ErrActiveAttemptExists is returned by Create when the student already has an
// IN_PROGRESS attempt for the exam. The partial unique index on
// (exam_id, student_id) WHERE status = 'IN_PROGRESS' makes the check-and-create
// atomic; there is no separate existence query to race against.
var ErrActiveAttemptExists = errors.New("an in-progress attempt already exists for this exam and student")

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a new attempt if no IN_PROGRESS attempt exists for the same
// (exam, student) pair. Concurrent duplicate starts lose the conflict and get
// ErrActiveAttemptExists.
func (r *AttemptRepository) Create(ctx context.Context, a *model.ExamAttempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, student_id, status, started_at, ends_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (exam_id, student_id) WHERE status = 'IN_PROGRESS' DO NOTHING
		 RETURNING id`,
		a.ExamID, a.StudentID, model.AttemptStatusInProgress, a.StartedAt, a.EndsAt,
	).Scan(&a.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrActiveAttemptExists
	}
	if err != nil {
		return err
	}
	a.Status = model.AttemptStatusInProgress
	return nil
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, started_at, ends_at, finished_at, score
		 FROM exam_attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartedAt, &a.EndsAt, &a.FinishedAt, &a.Score)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Finish transitions an attempt from IN_PROGRESS to FINISHED at most once.
// Returns false when the attempt was already finished (or does not exist), so
// concurrent double-finishes resolve to a single scoring pass.
func (r *AttemptRepository) Finish(ctx context.Context, id uuid.UUID, finishedAt time.Time, score float64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $1, finished_at = $2, score = $3
		 WHERE id = $4 AND status = $5`,
		model.AttemptStatusFinished, finishedAt, score, id, model.AttemptStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListOverdue retrieves IN_PROGRESS attempts whose deadline passed before now.
// Used by the expiry sweep; the read paths expire lazily on their own.
func (r *AttemptRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.ExamAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, status, started_at, ends_at, finished_at, score
		 FROM exam_attempts
		 WHERE status = $1 AND ends_at < $2
		 ORDER BY ends_at
		 LIMIT $3`, model.AttemptStatusInProgress, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.ExamAttempt
	for rows.Next() {
		var a model.ExamAttempt
		if err := rows.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartedAt, &a.EndsAt, &a.FinishedAt, &a.Score); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListByStudent retrieves all attempts for a given student, newest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]model.ExamAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, status, started_at, ends_at, finished_at, score
		 FROM exam_attempts
		 WHERE student_id = $1
		 ORDER BY started_at DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.ExamAttempt
	for rows.Next() {
		var a model.ExamAttempt
		if err := rows.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartedAt, &a.EndsAt, &a.FinishedAt, &a.Score); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
