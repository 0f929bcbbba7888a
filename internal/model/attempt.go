package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates exam attempt states. Only IN_PROGRESS and FINISHED
// are ever persisted; NOT_STARTED is the absence of a row and EXPIRED is a
// derived view of an IN_PROGRESS row whose deadline has passed (see
// EffectiveStatus).
type AttemptStatus string

const (
	AttemptStatusNotStarted AttemptStatus = "NOT_STARTED"
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusFinished   AttemptStatus = "FINISHED"
	AttemptStatusExpired    AttemptStatus = "EXPIRED"
)

// ExamAttempt represents one student's instance of taking one exam.
type ExamAttempt struct {
	ID         uuid.UUID     `json:"id"`
	ExamID     uuid.UUID     `json:"exam_id"`
	StudentID  int           `json:"student_id"`
	Status     AttemptStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	EndsAt     time.Time     `json:"ends_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Score      *float64      `json:"score,omitempty"`
}

// EffectiveStatus resolves the attempt's state at a given instant. Every
// operation in the attempt workflow goes through this single function instead
// of comparing status strings and clocks on its own.
func (a *ExamAttempt) EffectiveStatus(now time.Time) AttemptStatus {
	if a.Status == AttemptStatusFinished {
		return AttemptStatusFinished
	}
	if now.After(a.EndsAt) {
		return AttemptStatusExpired
	}
	return AttemptStatusInProgress
}

// AnswerVerdict is the per-question grading outcome of a submission.
type AnswerVerdict string

const (
	VerdictCorrect   AnswerVerdict = "correct"
	VerdictIncorrect AnswerVerdict = "incorrect"
	VerdictPending   AnswerVerdict = "pending"
)

// AnswerSubmission is a student's answer to one question within one attempt,
// keyed uniquely by (attempt_id, question_id). A later submission for the
// same pair overwrites the earlier one.
type AnswerSubmission struct {
	AttemptID     uuid.UUID `json:"attempt_id"`
	QuestionID    uuid.UUID `json:"question_id"`
	Answer        string    `json:"answer"`
	SubmittedAt   time.Time `json:"submitted_at"`
	IsCorrect     *bool     `json:"is_correct,omitempty"`
	AwardedPoints *float64  `json:"awarded_points,omitempty"`
}

// Verdict derives the grading outcome from the stored correctness flag.
func (s *AnswerSubmission) Verdict() AnswerVerdict {
	if s.IsCorrect == nil {
		return VerdictPending
	}
	if *s.IsCorrect {
		return VerdictCorrect
	}
	return VerdictIncorrect
}

// SubmitAnswerRequest is the payload for answering a question.
type SubmitAnswerRequest struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Answer     string    `json:"answer" binding:"required,max=10000"`
}

// SubmitAnswerResult is returned after a submission is stored.
type SubmitAnswerResult struct {
	QuestionID  uuid.UUID     `json:"question_id"`
	Verdict     AnswerVerdict `json:"verdict"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// AttemptQuestion pairs a student-facing question with the student's prior
// submitted answer, if any.
type AttemptQuestion struct {
	QuestionForStudent
	SubmittedAnswer *string `json:"submitted_answer,omitempty"`
}

// QuestionResult is one row of a finished attempt's per-question breakdown.
type QuestionResult struct {
	QuestionID    uuid.UUID     `json:"question_id"`
	Verdict       AnswerVerdict `json:"verdict"`
	AwardedPoints float64       `json:"awarded_points"`
	MaxPoints     float64       `json:"max_points"`
}

// ExamResult is the read-only view over a finished attempt.
type ExamResult struct {
	AttemptID  uuid.UUID        `json:"attempt_id"`
	ExamID     uuid.UUID        `json:"exam_id"`
	Score      float64          `json:"score"`
	Passed     bool             `json:"passed"`
	FinishedAt time.Time        `json:"finished_at"`
	Breakdown  []QuestionResult `json:"breakdown"`
}

// AttemptProgress reports answered vs total questions for an attempt.
type AttemptProgress struct {
	AttemptID           uuid.UUID `json:"attempt_id"`
	TotalQuestions      int       `json:"total_questions"`
	AnsweredQuestions   int       `json:"answered_questions"`
	UnansweredQuestions int       `json:"unanswered_questions"`
	// Percentage is rounded half-up to two decimal places.
	Percentage float64 `json:"percentage"`
	// RemainingSeconds is zero once the deadline has passed.
	RemainingSeconds float64 `json:"remaining_seconds"`
}
