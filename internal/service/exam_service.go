package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quizdesk/user-service/internal/config"
	"github.com/quizdesk/user-service/internal/model"
	"github.com/quizdesk/user-service/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const paperCacheTTL = 12 * time.Hour

// ExamService serves the read-only exam surface: the published-exam catalog
// and the student-facing paper (questions with answer keys stripped), cached
// in Redis with a PostgreSQL fallback.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.examRepo.GetByID(ctx, id)
}

// ListPublished retrieves all exams students may currently see.
func (s *ExamService) ListPublished(ctx context.Context) ([]model.Exam, error) {
	return s.examRepo.ListPublished(ctx)
}

// GetPaper returns the student-facing question set for an exam. Cache hit
// path reads Redis; on a miss the paper is rebuilt from PostgreSQL and put
// back so the next request is fast.
func (s *ExamService) GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	key := config.CacheKey.ExamPaperKey(examID.String())

	raw, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		paper := &model.ExamPaper{}
		if err := json.Unmarshal([]byte(raw), paper); err == nil {
			return paper, nil
		}
		// Corrupt cache entry: fall through and rebuild.
		s.log.Warn().Str("exam_id", examID.String()).Msg("invalid cached paper, rebuilding")
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read paper cache: %w", err)
	}

	paper, err := s.buildPaper(ctx, examID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(paper); err == nil {
		if err := s.rdb.Set(ctx, key, raw, paperCacheTTL).Err(); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("failed to cache paper")
		}
	}
	return paper, nil
}

// PrewarmPapers loads every published exam's paper into Redis. Called before
// the server accepts traffic to avoid a thundering herd of cache misses.
func (s *ExamService) PrewarmPapers(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}
	for _, exam := range exams {
		if _, err := s.GetPaper(ctx, exam.ID); err != nil {
			s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("prewarm failed for exam")
		}
	}
	s.log.Info().Int("exams", len(exams)).Msg("paper cache prewarmed")
	return nil
}

func (s *ExamService) buildPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	paper := &model.ExamPaper{
		ExamID:          exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		Questions:       make([]model.QuestionForStudent, 0, len(questions)),
	}
	for _, q := range questions {
		paper.Questions = append(paper.Questions, q.ForStudent())
	}
	return paper, nil
}
