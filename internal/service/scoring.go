package service

import (
	"sort"
	"strings"

	"github.com/quizdesk/user-service/internal/model"
)

// GradeOutcome is the result of grading one submission. A nil IsCorrect means
// the answer is waiting for manual grading and contributes zero to the
// automatic score.
type GradeOutcome struct {
	IsCorrect     *bool
	AwardedPoints *float64
}

// grader decides correctness for one question type. Adding a question type
// means adding a grader here; the attempt workflow never branches on types.
type grader interface {
	Grade(submitted, correct string) *bool
}

var graders = map[model.QuestionType]grader{
	model.QuestionTypeSingleChoice:   exactMatchGrader{},
	model.QuestionTypeShortAnswer:    exactMatchGrader{},
	model.QuestionTypeMultipleChoice: setMatchGrader{},
	model.QuestionTypeEssay:          manualGrader{},
}

// GradeAnswer grades a submission against the question's answer key. A correct
// match awards the question's full point value; there is no partial credit.
// Unknown question types are treated as manually graded.
func GradeAnswer(q *model.Question, answer string) GradeOutcome {
	g, ok := graders[q.QuestionType]
	if !ok {
		g = manualGrader{}
	}

	correct := g.Grade(answer, q.CorrectAnswer)
	if correct == nil {
		return GradeOutcome{}
	}

	points := 0.0
	if *correct {
		points = q.Points
	}
	return GradeOutcome{IsCorrect: correct, AwardedPoints: &points}
}

// exactMatchGrader compares answers case-insensitively after trimming
// whitespace. Used for single-choice and short-answer questions.
type exactMatchGrader struct{}

func (exactMatchGrader) Grade(submitted, correct string) *bool {
	ok := normalize(submitted) == normalize(correct)
	return &ok
}

// setMatchGrader compares comma-separated selections as sets, so the order a
// student ticks options in does not matter. Used for multiple-choice.
type setMatchGrader struct{}

func (setMatchGrader) Grade(submitted, correct string) *bool {
	ok := sameSet(splitSelections(submitted), splitSelections(correct))
	return &ok
}

// manualGrader defers to a human: essays are stored ungraded.
type manualGrader struct{}

func (manualGrader) Grade(_, _ string) *bool { return nil }

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func splitSelections(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if n := normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
