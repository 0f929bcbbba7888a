package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/quizdesk/user-service/internal/model"
	"github.com/quizdesk/user-service/internal/repository"
	"github.com/rs/zerolog"
)

// Attempt workflow errors.
var (
	ErrExamNotFound         = errors.New("exam not found")
	ErrExamNotEligible      = errors.New("exam is not open for taking")
	ErrAttemptAlreadyActive = errors.New("an attempt is already in progress for this exam")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrAttemptNotOwned      = errors.New("attempt does not belong to this student")
	ErrAttemptNotActive     = errors.New("attempt is not in progress")
	ErrAttemptExpired       = errors.New("attempt deadline has passed")
	ErrAttemptNotFinished   = errors.New("attempt is not finished yet")
	ErrQuestionNotFound     = errors.New("question not found")
	ErrQuestionNotInExam    = errors.New("question does not belong to the attempt's exam")
)

// Store contracts for the attempt workflow. The pgx repositories satisfy them;
// tests use in-memory fakes. All atomicity (insert-if-absent on start,
// upsert on submit, at-most-once finish) is delegated to these collaborators.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

type QuestionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

type AttemptStore interface {
	Create(ctx context.Context, a *model.ExamAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	Finish(ctx context.Context, id uuid.UUID, finishedAt time.Time, score float64) (bool, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.ExamAttempt, error)
	ListByStudent(ctx context.Context, studentID int) ([]model.ExamAttempt, error)
}

type AnswerStore interface {
	Upsert(ctx context.Context, s *model.AnswerSubmission) error
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.AnswerSubmission, error)
	CountByAttempt(ctx context.Context, attemptID uuid.UUID) (int, error)
}

// PaperStore serves the student-facing question set (answer keys stripped).
// The concrete implementation caches papers in Redis.
type PaperStore interface {
	GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error)
}

const expireBatchSize = 200

// AttemptService manages the lifecycle of one student's attempt at one exam:
// start, question delivery, answer submission, finish, scoring and expiry.
type AttemptService struct {
	exams     ExamStore
	questions QuestionStore
	attempts  AttemptStore
	answers   AnswerStore
	papers    PaperStore
	log       zerolog.Logger
	now       func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	exams ExamStore,
	questions QuestionStore,
	attempts AttemptStore,
	answers AnswerStore,
	papers PaperStore,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		exams:     exams,
		questions: questions,
		attempts:  attempts,
		answers:   answers,
		papers:    papers,
		log:       log.With().Str("component", "attempt_service").Logger(),
		now:       time.Now,
	}
}

// StartAttempt creates an IN_PROGRESS attempt for the student. The attempt's
// deadline is start + exam duration, capped by the exam's scheduled end.
// Concurrent duplicate starts resolve to one attempt and one
// ErrAttemptAlreadyActive.
func (s *AttemptService) StartAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	now := s.now()
	if !examOpenAt(exam, now) {
		return nil, ErrExamNotEligible
	}

	endsAt := now.Add(time.Duration(exam.DurationMinutes) * time.Minute)
	if exam.ScheduledEnd != nil && endsAt.After(*exam.ScheduledEnd) {
		endsAt = *exam.ScheduledEnd
	}

	attempt := &model.ExamAttempt{
		ExamID:    examID,
		StudentID: studentID,
		StartedAt: now,
		EndsAt:    endsAt,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		if isActiveAttemptConflict(err) {
			return nil, ErrAttemptAlreadyActive
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Time("ends_at", endsAt).
		Msg("attempt started")

	return attempt, nil
}

// GetQuestions returns the exam's question set in its fixed order with the
// student's prior answers attached. Answer keys are never included.
func (s *AttemptService) GetQuestions(ctx context.Context, attemptID uuid.UUID, studentID int) ([]model.AttemptQuestion, error) {
	attempt, status, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if status != model.AttemptStatusInProgress {
		return nil, ErrAttemptNotActive
	}

	paper, err := s.papers.GetPaper(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}

	submissions, err := s.answers.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	answered := make(map[uuid.UUID]string, len(submissions))
	for _, sub := range submissions {
		answered[sub.QuestionID] = sub.Answer
	}

	questions := make([]model.AttemptQuestion, 0, len(paper.Questions))
	for _, q := range paper.Questions {
		aq := model.AttemptQuestion{QuestionForStudent: q}
		if ans, ok := answered[q.ID]; ok {
			aq.SubmittedAnswer = &ans
		}
		questions = append(questions, aq)
	}
	return questions, nil
}

// SubmitAnswer upserts the student's answer for one question and grades it
// immediately when the question type allows. Submissions past the attempt's
// deadline are rejected after the expiry transition is materialized.
func (s *AttemptService) SubmitAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, questionID uuid.UUID, answer string) (*model.SubmitAnswerResult, error) {
	attempt, status, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	switch status {
	case model.AttemptStatusInProgress:
		// accept
	case model.AttemptStatusExpired:
		return nil, ErrAttemptExpired
	default:
		return nil, ErrAttemptNotActive
	}

	question, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("get question: %w", err)
	}
	if question.ExamID != attempt.ExamID {
		return nil, ErrQuestionNotInExam
	}

	outcome := GradeAnswer(question, answer)
	submission := &model.AnswerSubmission{
		AttemptID:     attemptID,
		QuestionID:    questionID,
		Answer:        answer,
		SubmittedAt:   s.now(),
		IsCorrect:     outcome.IsCorrect,
		AwardedPoints: outcome.AwardedPoints,
	}
	if err := s.answers.Upsert(ctx, submission); err != nil {
		return nil, fmt.Errorf("store submission: %w", err)
	}

	return &model.SubmitAnswerResult{
		QuestionID:  questionID,
		Verdict:     submission.Verdict(),
		SubmittedAt: submission.SubmittedAt,
	}, nil
}

// FinishAttempt transitions the attempt to FINISHED and computes the total
// score once. Finishing an already-finished attempt returns the existing
// result unchanged.
func (s *AttemptService) FinishAttempt(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamResult, error) {
	attempt, status, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	if status == model.AttemptStatusInProgress {
		finishedAt := s.now()
		if finishedAt.After(attempt.EndsAt) {
			finishedAt = attempt.EndsAt
		}
		if err := s.finalize(ctx, attempt, finishedAt); err != nil {
			return nil, err
		}
	}
	// Expired attempts were already finalized by loadOwned; finished ones are
	// served as-is.

	return s.buildResult(ctx, attempt)
}

// ListAttempts returns the student's attempt history, newest first. Overdue
// attempts are finalized on the way out, same as every other read path.
func (s *AttemptService) ListAttempts(ctx context.Context, studentID int) ([]model.ExamAttempt, error) {
	attempts, err := s.attempts.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	now := s.now()
	for i := range attempts {
		if attempts[i].EffectiveStatus(now) == model.AttemptStatusExpired {
			if err := s.finalize(ctx, &attempts[i], attempts[i].EndsAt); err != nil {
				return nil, err
			}
		}
	}
	return attempts, nil
}

// GetResult returns the read-only result view over a finished attempt.
func (s *AttemptService) GetResult(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamResult, error) {
	attempt, status, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if status == model.AttemptStatusInProgress {
		return nil, ErrAttemptNotFinished
	}
	return s.buildResult(ctx, attempt)
}

// GetProgress reports answered vs total questions and the remaining time.
func (s *AttemptService) GetProgress(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptProgress, error) {
	attempt, _, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	paper, err := s.papers.GetPaper(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}
	answered, err := s.answers.CountByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}

	total := len(paper.Questions)
	if answered > total {
		answered = total
	}

	remaining := attempt.EndsAt.Sub(s.now()).Seconds()
	if remaining < 0 || attempt.Status == model.AttemptStatusFinished {
		remaining = 0
	}

	return &model.AttemptProgress{
		AttemptID:           attemptID,
		TotalQuestions:      total,
		AnsweredQuestions:   answered,
		UnansweredQuestions: total - answered,
		Percentage:          roundPercent(answered, total),
		RemainingSeconds:    remaining,
	}, nil
}

// ExpireOverdueAttempts finalizes IN_PROGRESS attempts whose deadline has
// passed, using the same scoring path as an explicit finish. The read paths
// already expire lazily; this exists so history does not depend on a student
// ever coming back.
func (s *AttemptService) ExpireOverdueAttempts(ctx context.Context) (int, error) {
	overdue, err := s.attempts.ListOverdue(ctx, s.now(), expireBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list overdue attempts: %w", err)
	}

	expired := 0
	for i := range overdue {
		attempt := &overdue[i]
		if err := s.finalize(ctx, attempt, attempt.EndsAt); err != nil {
			s.log.Error().Err(err).
				Str("attempt_id", attempt.ID.String()).
				Msg("failed to expire attempt")
			continue
		}
		expired++
	}
	return expired, nil
}

// loadOwned fetches the attempt, verifies ownership and materializes the
// expiry transition when the deadline has passed. The returned status is the
// attempt's effective state at call time: IN_PROGRESS, EXPIRED (just
// finalized) or FINISHED.
func (s *AttemptService) loadOwned(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamAttempt, model.AttemptStatus, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrAttemptNotFound
		}
		return nil, "", fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, "", ErrAttemptNotOwned
	}

	status := attempt.EffectiveStatus(s.now())
	if status == model.AttemptStatusExpired {
		if err := s.finalize(ctx, attempt, attempt.EndsAt); err != nil {
			return nil, "", err
		}
	}
	return attempt, status, nil
}

// finalize computes the total score and performs the at-most-once FINISHED
// transition. When a concurrent caller wins the transition, the attempt is
// reloaded so both callers observe identical results.
func (s *AttemptService) finalize(ctx context.Context, attempt *model.ExamAttempt, finishedAt time.Time) error {
	submissions, err := s.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}

	score := 0.0
	for _, sub := range submissions {
		if sub.AwardedPoints != nil {
			score += *sub.AwardedPoints
		}
	}

	won, err := s.attempts.Finish(ctx, attempt.ID, finishedAt, score)
	if err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	if won {
		attempt.Status = model.AttemptStatusFinished
		attempt.FinishedAt = &finishedAt
		attempt.Score = &score
		return nil
	}

	// Lost the race: adopt the winner's persisted state.
	current, err := s.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		return fmt.Errorf("reload attempt: %w", err)
	}
	*attempt = *current
	return nil
}

// buildResult assembles the per-question breakdown for a finished attempt.
// Unanswered auto-graded questions count as incorrect with zero points;
// ungraded essays stay pending and contribute zero.
func (s *AttemptService) buildResult(ctx context.Context, attempt *model.ExamAttempt) (*model.ExamResult, error) {
	exam, err := s.exams.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	questions, err := s.questions.ListByExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	submissions, err := s.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	byQuestion := make(map[uuid.UUID]*model.AnswerSubmission, len(submissions))
	for i := range submissions {
		byQuestion[submissions[i].QuestionID] = &submissions[i]
	}

	breakdown := make([]model.QuestionResult, 0, len(questions))
	for _, q := range questions {
		row := model.QuestionResult{
			QuestionID: q.ID,
			Verdict:    model.VerdictIncorrect,
			MaxPoints:  q.Points,
		}
		if sub, ok := byQuestion[q.ID]; ok {
			row.Verdict = sub.Verdict()
			if sub.AwardedPoints != nil {
				row.AwardedPoints = *sub.AwardedPoints
			}
		} else if q.QuestionType == model.QuestionTypeEssay {
			row.Verdict = model.VerdictPending
		}
		breakdown = append(breakdown, row)
	}

	score := 0.0
	if attempt.Score != nil {
		score = *attempt.Score
	}
	finishedAt := attempt.EndsAt
	if attempt.FinishedAt != nil {
		finishedAt = *attempt.FinishedAt
	}

	return &model.ExamResult{
		AttemptID:  attempt.ID,
		ExamID:     attempt.ExamID,
		Score:      score,
		Passed:     score >= exam.PassingScore,
		FinishedAt: finishedAt,
		Breakdown:  breakdown,
	}, nil
}

// isActiveAttemptConflict reports whether the store rejected the insert
// because an IN_PROGRESS attempt already exists.
func isActiveAttemptConflict(err error) bool {
	return errors.Is(err, repository.ErrActiveAttemptExists)
}

// examOpenAt reports whether the exam can be started at the given instant.
func examOpenAt(exam *model.Exam, now time.Time) bool {
	if exam.Status != model.ExamStatusPublished {
		return false
	}
	if exam.ScheduledStart != nil && now.Before(*exam.ScheduledStart) {
		return false
	}
	if exam.ScheduledEnd != nil && !now.Before(*exam.ScheduledEnd) {
		return false
	}
	return true
}

// roundPercent rounds answered/total to a two-decimal percentage using
// round-half-up semantics.
func roundPercent(answered, total int) float64 {
	if total == 0 {
		return 0
	}
	pct := float64(answered) / float64(total) * 100
	return math.Floor(pct*100+0.5) / 100
}
