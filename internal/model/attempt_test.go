package model

import (
	"testing"
	"time"
)

func TestExamAttempt_EffectiveStatus(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	tests := []struct {
		name   string
		status AttemptStatus
		now    time.Time
		want   AttemptStatus
	}{
		{name: "in progress before deadline", status: AttemptStatusInProgress, now: start.Add(30 * time.Minute), want: AttemptStatusInProgress},
		{name: "in progress exactly at deadline", status: AttemptStatusInProgress, now: end, want: AttemptStatusInProgress},
		{name: "in progress past deadline", status: AttemptStatusInProgress, now: end.Add(time.Second), want: AttemptStatusExpired},
		{name: "finished stays finished", status: AttemptStatusFinished, now: start.Add(30 * time.Minute), want: AttemptStatusFinished},
		{name: "finished past deadline stays finished", status: AttemptStatusFinished, now: end.Add(time.Hour), want: AttemptStatusFinished},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := &ExamAttempt{Status: tc.status, StartedAt: start, EndsAt: end}
			if got := a.EffectiveStatus(tc.now); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestAnswerSubmission_Verdict(t *testing.T) {
	correct := true
	incorrect := false

	tests := []struct {
		name      string
		isCorrect *bool
		want      AnswerVerdict
	}{
		{name: "graded correct", isCorrect: &correct, want: VerdictCorrect},
		{name: "graded incorrect", isCorrect: &incorrect, want: VerdictIncorrect},
		{name: "ungraded", isCorrect: nil, want: VerdictPending},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &AnswerSubmission{IsCorrect: tc.isCorrect}
			if got := s.Verdict(); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
