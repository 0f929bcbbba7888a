package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/quizdesk/user-service/internal/model"
	"github.com/quizdesk/user-service/internal/repository"
	"github.com/rs/zerolog"
)

// memStore is an in-memory stand-in for the pgx repositories. It mirrors
// their contracts: pgx.ErrNoRows for missing rows, insert-if-absent on
// attempt creation and an at-most-once finish transition.
type memStore struct {
	mu        sync.Mutex
	exams     map[uuid.UUID]model.Exam
	questions map[uuid.UUID]model.Question
	attempts  map[uuid.UUID]model.ExamAttempt
	answers   map[uuid.UUID]map[uuid.UUID]model.AnswerSubmission
}

func newMemStore() *memStore {
	return &memStore{
		exams:     make(map[uuid.UUID]model.Exam),
		questions: make(map[uuid.UUID]model.Question),
		attempts:  make(map[uuid.UUID]model.ExamAttempt),
		answers:   make(map[uuid.UUID]map[uuid.UUID]model.AnswerSubmission),
	}
}

func (m *memStore) addExam(e model.Exam) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
}

func (m *memStore) addQuestion(q model.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[q.ID] = q
}

func (m *memStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

type questionStore struct{ m *memStore }

func (s questionStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	q, ok := s.m.questions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &q, nil
}

func (s questionStore) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.Question
	for _, q := range s.m.questions {
		if q.ExamID == examID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNum < out[j].OrderNum })
	return out, nil
}

type attemptStore struct{ m *memStore }

func (s attemptStore) Create(ctx context.Context, a *model.ExamAttempt) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.attempts {
		if existing.ExamID == a.ExamID && existing.StudentID == a.StudentID &&
			existing.Status == model.AttemptStatusInProgress {
			return repository.ErrActiveAttemptExists
		}
	}
	a.ID = uuid.New()
	a.Status = model.AttemptStatusInProgress
	s.m.attempts[a.ID] = *a
	return nil
}

func (s attemptStore) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &a, nil
}

func (s attemptStore) Finish(ctx context.Context, id uuid.UUID, finishedAt time.Time, score float64) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.attempts[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	a.Status = model.AttemptStatusFinished
	a.FinishedAt = &finishedAt
	a.Score = &score
	s.m.attempts[id] = a
	return true, nil
}

func (s attemptStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.ExamAttempt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.ExamAttempt
	for _, a := range s.m.attempts {
		if a.Status == model.AttemptStatusInProgress && now.After(a.EndsAt) {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s attemptStore) ListByStudent(ctx context.Context, studentID int) ([]model.ExamAttempt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.ExamAttempt
	for _, a := range s.m.attempts {
		if a.StudentID == studentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

type answerStore struct{ m *memStore }

func (s answerStore) Upsert(ctx context.Context, sub *model.AnswerSubmission) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	byQuestion, ok := s.m.answers[sub.AttemptID]
	if !ok {
		byQuestion = make(map[uuid.UUID]model.AnswerSubmission)
		s.m.answers[sub.AttemptID] = byQuestion
	}
	byQuestion[sub.QuestionID] = *sub
	return nil
}

func (s answerStore) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.AnswerSubmission, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.AnswerSubmission
	for _, sub := range s.m.answers[attemptID] {
		out = append(out, sub)
	}
	return out, nil
}

func (s answerStore) CountByAttempt(ctx context.Context, attemptID uuid.UUID) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return len(s.m.answers[attemptID]), nil
}

type paperStore struct{ m *memStore }

func (s paperStore) GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	exam, err := s.m.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	questions, err := questionStore{s.m}.ListByExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	paper := &model.ExamPaper{
		ExamID:          examID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		Questions:       make([]model.QuestionForStudent, 0, len(questions)),
	}
	for _, q := range questions {
		paper.Questions = append(paper.Questions, q.ForStudent())
	}
	return paper, nil
}

func newTestService(m *memStore, at time.Time) *AttemptService {
	svc := NewAttemptService(m, questionStore{m}, attemptStore{m}, answerStore{m}, paperStore{m}, zerolog.Nop())
	svc.now = func() time.Time { return at }
	return svc
}

// seedExam creates a published 60-minute exam with five auto-graded
// questions worth 20 points each.
func seedExam(m *memStore) (uuid.UUID, []uuid.UUID) {
	examID := uuid.New()
	m.addExam(model.Exam{
		ID:              examID,
		Title:           "Biology Midterm",
		DurationMinutes: 60,
		PassingScore:    60,
		Status:          model.ExamStatusPublished,
	})

	seeds := []struct {
		qtype   model.QuestionType
		correct string
	}{
		{model.QuestionTypeSingleChoice, "A"},
		{model.QuestionTypeSingleChoice, "B"},
		{model.QuestionTypeSingleChoice, "C"},
		{model.QuestionTypeShortAnswer, "osmosis"},
		{model.QuestionTypeMultipleChoice, "A,C"},
	}
	ids := make([]uuid.UUID, 0, len(seeds))
	for i, seed := range seeds {
		id := uuid.New()
		m.addQuestion(model.Question{
			ID:            id,
			ExamID:        examID,
			QuestionText:  "question",
			QuestionType:  seed.qtype,
			CorrectAnswer: seed.correct,
			Points:        20,
			OrderNum:      i + 1,
		})
		ids = append(ids, id)
	}
	return examID, ids
}

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

const studentID = 101

func TestStartAttempt(t *testing.T) {
	m := newMemStore()
	examID, _ := seedExam(m)
	svc := newTestService(m, t0)

	attempt, err := svc.StartAttempt(context.Background(), examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	if attempt.Status != model.AttemptStatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", attempt.Status)
	}
	if !attempt.StartedAt.Equal(t0) {
		t.Errorf("expected started_at %v, got %v", t0, attempt.StartedAt)
	}
	if want := t0.Add(60 * time.Minute); !attempt.EndsAt.Equal(want) {
		t.Errorf("expected ends_at %v, got %v", want, attempt.EndsAt)
	}
}

func TestStartAttempt_DeadlineCappedByScheduledEnd(t *testing.T) {
	m := newMemStore()
	end := t0.Add(30 * time.Minute)
	examID := uuid.New()
	m.addExam(model.Exam{
		ID:              examID,
		DurationMinutes: 60,
		ScheduledEnd:    &end,
		Status:          model.ExamStatusPublished,
	})
	svc := newTestService(m, t0)

	attempt, err := svc.StartAttempt(context.Background(), examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	if !attempt.EndsAt.Equal(end) {
		t.Errorf("expected ends_at capped at %v, got %v", end, attempt.EndsAt)
	}
}

func TestStartAttempt_Eligibility(t *testing.T) {
	later := t0.Add(time.Hour)
	earlier := t0.Add(-time.Hour)

	tests := []struct {
		name string
		exam model.Exam
		want error
	}{
		{
			name: "draft exam",
			exam: model.Exam{Status: model.ExamStatusDraft, DurationMinutes: 60},
			want: ErrExamNotEligible,
		},
		{
			name: "archived exam",
			exam: model.Exam{Status: model.ExamStatusArchived, DurationMinutes: 60},
			want: ErrExamNotEligible,
		},
		{
			name: "before scheduled start",
			exam: model.Exam{Status: model.ExamStatusPublished, DurationMinutes: 60, ScheduledStart: &later},
			want: ErrExamNotEligible,
		},
		{
			name: "after scheduled end",
			exam: model.Exam{Status: model.ExamStatusPublished, DurationMinutes: 60, ScheduledEnd: &earlier},
			want: ErrExamNotEligible,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newMemStore()
			tc.exam.ID = uuid.New()
			m.addExam(tc.exam)
			svc := newTestService(m, t0)

			_, err := svc.StartAttempt(context.Background(), tc.exam.ID, studentID)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	t.Run("unknown exam", func(t *testing.T) {
		svc := newTestService(newMemStore(), t0)
		_, err := svc.StartAttempt(context.Background(), uuid.New(), studentID)
		if !errors.Is(err, ErrExamNotFound) {
			t.Fatalf("expected ErrExamNotFound, got %v", err)
		}
	})
}

func TestStartAttempt_ConcurrentDuplicate(t *testing.T) {
	m := newMemStore()
	examID, _ := seedExam(m)
	svc := newTestService(m, t0)

	const callers = 2
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.StartAttempt(context.Background(), examID, studentID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAttemptAlreadyActive):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected 1 success and 1 rejection, got %d and %d", succeeded, rejected)
	}
	if n := len(m.attempts); n != 1 {
		t.Fatalf("expected exactly 1 stored attempt, got %d", n)
	}
}

func TestSubmitAnswer_GradesAndOverwrites(t *testing.T) {
	m := newMemStore()
	examID, qIDs := seedExam(m)
	svc := newTestService(m, t0)
	ctx := context.Background()

	attempt, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}

	res, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, qIDs[0], "B")
	if err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	if res.Verdict != model.VerdictIncorrect {
		t.Errorf("expected incorrect, got %s", res.Verdict)
	}

	// Resubmitting the same question replaces the stored answer.
	res, err = svc.SubmitAnswer(ctx, attempt.ID, studentID, qIDs[0], "A")
	if err != nil {
		t.Fatalf("resubmit answer: %v", err)
	}
	if res.Verdict != model.VerdictCorrect {
		t.Errorf("expected correct after resubmit, got %s", res.Verdict)
	}

	count, _ := answerStore{m}.CountByAttempt(ctx, attempt.ID)
	if count != 1 {
		t.Fatalf("expected 1 stored submission, got %d", count)
	}
	stored := m.answers[attempt.ID][qIDs[0]]
	if stored.Answer != "A" {
		t.Fatalf("expected stored answer %q, got %q", "A", stored.Answer)
	}
	if stored.AwardedPoints == nil || *stored.AwardedPoints != 20 {
		t.Fatalf("expected 20 awarded points, got %+v", stored.AwardedPoints)
	}
}

func TestSubmitAnswer_Rejections(t *testing.T) {
	m := newMemStore()
	examID, qIDs := seedExam(m)
	_, otherQIDs := seedExam(m)
	svc := newTestService(m, t0)
	ctx := context.Background()

	attempt, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}

	if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID+1, qIDs[0], "A"); !errors.Is(err, ErrAttemptNotOwned) {
		t.Errorf("foreign student: expected ErrAttemptNotOwned, got %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, uuid.New(), "A"); !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("unknown question: expected ErrQuestionNotFound, got %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, otherQIDs[0], "A"); !errors.Is(err, ErrQuestionNotInExam) {
		t.Errorf("cross-exam question: expected ErrQuestionNotInExam, got %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, uuid.New(), studentID, qIDs[0], "A"); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("unknown attempt: expected ErrAttemptNotFound, got %v", err)
	}

	if _, err := svc.FinishAttempt(ctx, attempt.ID, studentID); err != nil {
		t.Fatalf("finish attempt: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, qIDs[0], "A"); !errors.Is(err, ErrAttemptNotActive) {
		t.Errorf("finished attempt: expected ErrAttemptNotActive, got %v", err)
	}
}

func TestSubmitAnswer_AfterDeadline(t *testing.T) {
	m := newMemStore()
	examID, qIDs := seedExam(m)
	svc := newTestService(m, t0)
	ctx := context.Background()

	attempt, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, qIDs[0], "A"); err != nil {
		t.Fatalf("submit answer: %v", err)
	}

	svc.now = func() time.Time { return t0.Add(61 * time.Minute) }
	if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, qIDs[1], "B"); !errors.Is(err, ErrAttemptExpired) {
		t.Fatalf("expected ErrAttemptExpired, got %v", err)
	}

	// Crossing the deadline is materialized: the attempt is now finished with
	// the score it had, and the late answer was never stored.
	stored := m.attempts[attempt.ID]
	if stored.Status != model.AttemptStatusFinished {
		t.Errorf("expected FINISHED after expiry, got %s", stored.Status)
	}
	if stored.Score == nil || *stored.Score != 20 {
		t.Errorf("expected score 20, got %+v", stored.Score)
	}
	if stored.FinishedAt == nil || !stored.FinishedAt.Equal(attempt.EndsAt) {
		t.Errorf("expected finished_at at the deadline, got %+v", stored.FinishedAt)
	}
	if count, _ := (answerStore{m}).CountByAttempt(ctx, attempt.ID); count != 1 {
		t.Errorf("expected late answer to be dropped, have %d submissions", count)
	}
}

func TestFinishAttempt_ScoresAndPasses(t *testing.T) {
	m := newMemStore()
	examID, qIDs := seedExam(m)
	svc := newTestService(m, t0)
	ctx := context.Background()

	attempt, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}

	// Three correct, one wrong, one unanswered.
	answers := map[uuid.UUID]string{
		qIDs[0]: "A",
		qIDs[1]: "B",
		qIDs[2]: "D",
		qIDs[3]: " Osmosis ",
	}
	for qid, ans := range answers {
		if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, qid, ans); err != nil {
			t.Fatalf("submit answer: %v", err)
		}
	}

	finishTime := t0.Add(10 * time.Minute)
	svc.now = func() time.Time { return finishTime }
	result, err := svc.FinishAttempt(ctx, attempt.ID, studentID)
	if err != nil {
		t.Fatalf("finish attempt: %v", err)
	}

	if result.Score != 60 {
		t.Errorf("expected score 60, got %v", result.Score)
	}
	if !result.Passed {
		t.Error("expected passed at exactly the passing score")
	}
	if !result.FinishedAt.Equal(finishTime) {
		t.Errorf("expected finished_at %v, got %v", finishTime, result.FinishedAt)
	}
	if len(result.Breakdown) != 5 {
		t.Fatalf("expected 5 breakdown rows, got %d", len(result.Breakdown))
	}

	wantVerdicts := map[uuid.UUID]model.AnswerVerdict{
		qIDs[0]: model.VerdictCorrect,
		qIDs[1]: model.VerdictCorrect,
		qIDs[2]: model.VerdictIncorrect,
		qIDs[3]: model.VerdictCorrect,
		qIDs[4]: model.VerdictIncorrect, // unanswered
	}
	for _, row := range result.Breakdown {
		if row.Verdict != wantVerdicts[row.QuestionID] {
			t.Errorf("question %s: expected %s, got %s", row.QuestionID, wantVerdicts[row.QuestionID], row.Verdict)
		}
		if row.MaxPoints != 20 {
			t.Errorf("question %s: expected max 20 points, got %v", row.QuestionID, row.MaxPoints)
		}
	}

	if stored := m.attempts[attempt.ID]; stored.Status != model.AttemptStatusFinished {
		t.Errorf("expected FINISHED, got %s", stored.Status)
	}
}

func TestFinishAttempt_Idempotent(t *testing.T) {
	m := newMemStore()
	examID, qIDs := seedExam(m)
	svc := newTestService(m, t0)
	ctx := context.Background()

	attempt, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, qIDs[0], "A"); err != nil {
		t.Fatalf("submit answer: %v", err)
	}

	svc.now = func() time.Time { return t0.Add(5 * time.Minute) }
	first, err := svc.FinishAttempt(ctx, attempt.ID, studentID)
	if err != nil {
		t.Fatalf("first finish: %v", err)
	}

	// A later repeat call must not rescore or move the finish time, even if
	// more answers could in theory have arrived.
	svc.now = func() time.Time { return t0.Add(50 * time.Minute) }
	second, err := svc.FinishAttempt(ctx, attempt.ID, studentID)
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}

	if first.Score != second.Score {
		t.Errorf("scores differ: %v vs %v", first.Score, second.Score)
	}
	if !first.FinishedAt.Equal(second.FinishedAt) {
		t.Errorf("finish times differ: %v vs %v", first.FinishedAt, second.FinishedAt)
	}
}

func TestFinishAttempt_ConcurrentCallersAgree(t *testing.T) {
	m := newMemStore()
	examID, qIDs := seedExam(m)
	svc := newTestService(m, t0)
	ctx := context.Background()

	attempt, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, qIDs[0], "A"); err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	svc.now = func() time.Time { return t0.Add(5 * time.Minute) }

	const callers = 4
	results := make(chan *model.ExamResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.FinishAttempt(ctx, attempt.ID, studentID)
			if err != nil {
				t.Errorf("concurrent finish: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	var reference *model.ExamResult
	for res := range results {
		if reference == nil {
			reference = res
			continue
		}
		if res.Score != reference.Score || !res.FinishedAt.Equal(reference.FinishedAt) {
			t.Fatalf("concurrent callers disagree: (%v, %v) vs (%v, %v)",
				res.Score, res.FinishedAt, reference.Score, reference.FinishedAt)
		}
	}
	if reference == nil {
		t.Fatal("no finish call succeeded")
	}
}

func TestGetResult(t *testing.T) {
	m := newMemStore()
	examID, _ := seedExam(m)
	svc := newTestService(m, t0)
	ctx := context.Background()

	attempt, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}

	if _, err := svc.GetResult(ctx, attempt.ID, studentID); !errors.Is(err, ErrAttemptNotFinished) {
		t.Fatalf("in-progress attempt: expected ErrAttemptNotFinished, got %v", err)
	}
	if _, err := svc.GetResult(ctx, attempt.ID, studentID+1); !errors.Is(err, ErrAttemptNotOwned) {
		t.Fatalf("foreign student: expected ErrAttemptNotOwned, got %v", err)
	}

	// Reading the result after the deadline finalizes the attempt with the
	// score it had: nothing answered, score zero.
	svc.now = func() time.Time { return t0.Add(2 * time.Hour) }
	result, err := svc.GetResult(ctx, attempt.ID, studentID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if result.Score != 0 {
		t.Errorf("expected score 0, got %v", result.Score)
	}
	if result.Passed {
		t.Error("expected failed result")
	}
	if !result.FinishedAt.Equal(attempt.EndsAt) {
		t.Errorf("expected finished_at at the deadline, got %v", result.FinishedAt)
	}
	for _, row := range result.Breakdown {
		if row.Verdict != model.VerdictIncorrect {
			t.Errorf("question %s: expected incorrect, got %s", row.QuestionID, row.Verdict)
		}
	}
}

func TestGetResult_UnansweredEssayStaysPending(t *testing.T) {
	m := newMemStore()
	examID := uuid.New()
	m.addExam(model.Exam{
		ID:              examID,
		DurationMinutes: 30,
		PassingScore:    50,
		Status:          model.ExamStatusPublished,
	})
	essayID := uuid.New()
	m.addQuestion(model.Question{
		ID:           essayID,
		ExamID:       examID,
		QuestionType: model.QuestionTypeEssay,
		Points:       50,
		OrderNum:     1,
	})
	svc := newTestService(m, t0)
	ctx := context.Background()

	attempt, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	result, err := svc.FinishAttempt(ctx, attempt.ID, studentID)
	if err != nil {
		t.Fatalf("finish attempt: %v", err)
	}
	if len(result.Breakdown) != 1 || result.Breakdown[0].Verdict != model.VerdictPending {
		t.Fatalf("expected a single pending row, got %+v", result.Breakdown)
	}
}

func TestGetQuestions(t *testing.T) {
	m := newMemStore()
	examID, qIDs := seedExam(m)
	svc := newTestService(m, t0)
	ctx := context.Background()

	attempt, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, qIDs[1], "B"); err != nil {
		t.Fatalf("submit answer: %v", err)
	}

	questions, err := svc.GetQuestions(ctx, attempt.ID, studentID)
	if err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if len(questions) != 5 {
		t.Fatalf("expected 5 questions, got %d", len(questions))
	}
	for i, q := range questions {
		if q.OrderNum != i+1 {
			t.Errorf("position %d: expected order_num %d, got %d", i, i+1, q.OrderNum)
		}
	}
	if questions[1].SubmittedAnswer == nil || *questions[1].SubmittedAnswer != "B" {
		t.Errorf("expected answered question to carry %q, got %+v", "B", questions[1].SubmittedAnswer)
	}
	if questions[0].SubmittedAnswer != nil {
		t.Errorf("expected unanswered question to carry no answer, got %q", *questions[0].SubmittedAnswer)
	}

	if _, err := svc.GetQuestions(ctx, attempt.ID, studentID+1); !errors.Is(err, ErrAttemptNotOwned) {
		t.Errorf("foreign student: expected ErrAttemptNotOwned, got %v", err)
	}

	if _, err := svc.FinishAttempt(ctx, attempt.ID, studentID); err != nil {
		t.Fatalf("finish attempt: %v", err)
	}
	if _, err := svc.GetQuestions(ctx, attempt.ID, studentID); !errors.Is(err, ErrAttemptNotActive) {
		t.Errorf("finished attempt: expected ErrAttemptNotActive, got %v", err)
	}
}

func TestGetProgress(t *testing.T) {
	m := newMemStore()
	examID, qIDs := seedExam(m)
	svc := newTestService(m, t0)
	ctx := context.Background()

	attempt, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, qIDs[0], "A"); err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, attempt.ID, studentID, qIDs[1], "X"); err != nil {
		t.Fatalf("submit answer: %v", err)
	}

	svc.now = func() time.Time { return t0.Add(10 * time.Minute) }
	progress, err := svc.GetProgress(ctx, attempt.ID, studentID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}

	if progress.TotalQuestions != 5 || progress.AnsweredQuestions != 2 {
		t.Errorf("expected 2/5 answered, got %d/%d", progress.AnsweredQuestions, progress.TotalQuestions)
	}
	if progress.AnsweredQuestions+progress.UnansweredQuestions != progress.TotalQuestions {
		t.Errorf("answered %d + unanswered %d != total %d",
			progress.AnsweredQuestions, progress.UnansweredQuestions, progress.TotalQuestions)
	}
	if progress.Percentage != 40 {
		t.Errorf("expected 40%%, got %v", progress.Percentage)
	}
	if progress.RemainingSeconds != 3000 {
		t.Errorf("expected 3000 remaining seconds, got %v", progress.RemainingSeconds)
	}

	svc.now = func() time.Time { return t0.Add(2 * time.Hour) }
	progress, err = svc.GetProgress(ctx, attempt.ID, studentID)
	if err != nil {
		t.Fatalf("get progress after deadline: %v", err)
	}
	if progress.RemainingSeconds != 0 {
		t.Errorf("expected 0 remaining seconds after deadline, got %v", progress.RemainingSeconds)
	}
}

func TestListAttempts_FinalizesOverdue(t *testing.T) {
	m := newMemStore()
	examID, _ := seedExam(m)
	otherExamID, _ := seedExam(m)
	svc := newTestService(m, t0)
	ctx := context.Background()

	first, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start first attempt: %v", err)
	}
	if _, err := svc.FinishAttempt(ctx, first.ID, studentID); err != nil {
		t.Fatalf("finish first attempt: %v", err)
	}
	second, err := svc.StartAttempt(ctx, otherExamID, studentID)
	if err != nil {
		t.Fatalf("start second attempt: %v", err)
	}
	if _, err := svc.StartAttempt(ctx, examID, studentID+1); err != nil {
		t.Fatalf("start foreign attempt: %v", err)
	}

	svc.now = func() time.Time { return t0.Add(2 * time.Hour) }
	attempts, err := svc.ListAttempts(ctx, studentID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	for _, a := range attempts {
		if a.Status != model.AttemptStatusFinished {
			t.Errorf("attempt %s: expected FINISHED, got %s", a.ID, a.Status)
		}
	}
	if stored := m.attempts[second.ID]; stored.Status != model.AttemptStatusFinished {
		t.Errorf("overdue attempt was not finalized, still %s", stored.Status)
	}
}

func TestRoundPercent(t *testing.T) {
	tests := []struct {
		answered, total int
		want            float64
	}{
		{0, 5, 0},
		{2, 5, 40},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{1, 8, 12.5},
		{5, 5, 100},
		{0, 0, 0},
	}
	for _, tc := range tests {
		if got := roundPercent(tc.answered, tc.total); got != tc.want {
			t.Errorf("roundPercent(%d, %d) = %v, want %v", tc.answered, tc.total, got, tc.want)
		}
	}
}

func TestExpireOverdueAttempts(t *testing.T) {
	m := newMemStore()
	examID, qIDs := seedExam(m)
	svc := newTestService(m, t0)
	ctx := context.Background()

	first, err := svc.StartAttempt(ctx, examID, studentID)
	if err != nil {
		t.Fatalf("start first attempt: %v", err)
	}
	second, err := svc.StartAttempt(ctx, examID, studentID+1)
	if err != nil {
		t.Fatalf("start second attempt: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, first.ID, studentID, qIDs[0], "A"); err != nil {
		t.Fatalf("submit answer: %v", err)
	}

	svc.now = func() time.Time { return t0.Add(90 * time.Minute) }
	expired, err := svc.ExpireOverdueAttempts(ctx)
	if err != nil {
		t.Fatalf("expire sweep: %v", err)
	}
	if expired != 2 {
		t.Fatalf("expected 2 expired attempts, got %d", expired)
	}

	a := m.attempts[first.ID]
	if a.Status != model.AttemptStatusFinished || a.Score == nil || *a.Score != 20 {
		t.Errorf("first attempt: expected FINISHED score 20, got %s %+v", a.Status, a.Score)
	}
	b := m.attempts[second.ID]
	if b.Status != model.AttemptStatusFinished || b.Score == nil || *b.Score != 0 {
		t.Errorf("second attempt: expected FINISHED score 0, got %s %+v", b.Status, b.Score)
	}

	// Second sweep finds nothing left.
	expired, err = svc.ExpireOverdueAttempts(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected idempotent sweep, expired %d", expired)
	}
}
