package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizdesk/user-service/internal/model"
)

// AnswerRepository handles answer submission data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert stores a submission, overwriting any earlier answer for the same
// (attempt, question) pair. The primary key makes the write atomic; concurrent
// submissions resolve to last write wins.
func (r *AnswerRepository) Upsert(ctx context.Context, s *model.AnswerSubmission) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO answer_submissions (attempt_id, question_id, answer, submitted_at, is_correct, awarded_points)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer,
		     submitted_at = EXCLUDED.submitted_at,
		     is_correct = EXCLUDED.is_correct,
		     awarded_points = EXCLUDED.awarded_points`,
		s.AttemptID, s.QuestionID, s.Answer, s.SubmittedAt, s.IsCorrect, s.AwardedPoints)
	return err
}

// ListByAttempt retrieves all submissions for an attempt.
func (r *AnswerRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.AnswerSubmission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, answer, submitted_at, is_correct, awarded_points
		 FROM answer_submissions
		 WHERE attempt_id = $1`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []model.AnswerSubmission
	for rows.Next() {
		var s model.AnswerSubmission
		if err := rows.Scan(&s.AttemptID, &s.QuestionID, &s.Answer, &s.SubmittedAt, &s.IsCorrect, &s.AwardedPoints); err != nil {
			return nil, err
		}
		submissions = append(submissions, s)
	}
	return submissions, rows.Err()
}

// CountByAttempt returns the number of answered questions for an attempt.
func (r *AnswerRepository) CountByAttempt(ctx context.Context, attemptID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM answer_submissions WHERE attempt_id = $1`, attemptID,
	).Scan(&n)
	return n, err
}
