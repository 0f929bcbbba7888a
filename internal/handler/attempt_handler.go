package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quizdesk/user-service/internal/middleware"
	"github.com/quizdesk/user-service/internal/model"
	"github.com/quizdesk/user-service/internal/response"
	"github.com/quizdesk/user-service/internal/service"
	"github.com/quizdesk/user-service/internal/validator"
)

// AttemptHandler handles student-facing exam-taking endpoints.
type AttemptHandler struct {
	attemptService *service.AttemptService
	examService    *service.ExamService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, examService *service.ExamService) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		examService:    examService,
	}
}

// ListExams godoc
// GET /api/v1/student/exams
// Returns the published exams a student may take.
func (h *AttemptHandler) ListExams(c *gin.Context) {
	exams, err := h.examService.ListPublished(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// ListAttempts godoc
// GET /api/v1/student/attempts
// Returns the caller's attempt history, newest first.
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempts, err := h.attemptService.ListAttempts(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if attempts == nil {
		attempts = []model.ExamAttempt{}
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempts
// Creates an IN_PROGRESS attempt for the caller.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.StartAttempt(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"attempt": attempt})
}

// GetQuestions godoc
// GET /api/v1/student/attempts/:attempt_id/questions
// Returns the question set with prior answers attached, answer keys stripped.
func (h *AttemptHandler) GetQuestions(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	questions, err := h.attemptService.GetQuestions(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// SubmitAnswer godoc
// POST /api/v1/student/attempts/:attempt_id/answers
// Upserts one answer; auto-gradable questions are graded immediately.
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attemptService.SubmitAnswer(c.Request.Context(), attemptID, claims.UserID, req.QuestionID, req.Answer)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// FinishAttempt godoc
// POST /api/v1/student/attempts/:attempt_id/finish
// Finishes the attempt and returns its result. Idempotent.
func (h *AttemptHandler) FinishAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	result, err := h.attemptService.FinishAttempt(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// GetResult godoc
// GET /api/v1/student/attempts/:attempt_id/result
// Returns the result view over a finished (or expired) attempt.
func (h *AttemptHandler) GetResult(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	result, err := h.attemptService.GetResult(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// GetProgress godoc
// GET /api/v1/student/attempts/:attempt_id/progress
// Returns answered/total counts and the remaining time.
func (h *AttemptHandler) GetProgress(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	progress, err := h.attemptService.GetProgress(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"progress": progress})
}

// attemptParams extracts the claims and attempt ID shared by every attempt
// endpoint, writing the error response itself when either is missing.
func (h *AttemptHandler) attemptParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, attemptID, true
}

// failAttemptError maps attempt workflow errors onto HTTP status codes and
// error codes.
func failAttemptError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound),
		errors.Is(err, service.ErrAttemptNotFound),
		errors.Is(err, service.ErrQuestionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrAttemptNotOwned):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrExamNotEligible):
		response.Fail(c, http.StatusConflict, response.ErrExamNotEligible)
	case errors.Is(err, service.ErrAttemptAlreadyActive):
		response.Fail(c, http.StatusConflict, response.ErrAttemptActive)
	case errors.Is(err, service.ErrAttemptNotActive):
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotActive)
	case errors.Is(err, service.ErrAttemptExpired):
		response.Fail(c, http.StatusConflict, response.ErrAttemptExpired)
	case errors.Is(err, service.ErrAttemptNotFinished):
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotFinished)
	case errors.Is(err, service.ErrQuestionNotInExam):
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionNotInExam)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
