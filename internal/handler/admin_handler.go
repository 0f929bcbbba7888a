package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/quizdesk/user-service/internal/response"
	"github.com/quizdesk/user-service/internal/service"
)

// AdminHandler handles administrative endpoints.
type AdminHandler struct {
	authService *service.AuthService
	userService *service.UserService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(authService *service.AuthService, userService *service.UserService) *AdminHandler {
	return &AdminHandler{
		authService: authService,
		userService: userService,
	}
}

// ResetStudentSession godoc
// POST /api/v1/admin/students/:id/reset-session
// Clears a student's single-device session so they can log in again.
func (h *AdminHandler) ResetStudentSession(c *gin.Context) {
	studentID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if _, err := h.userService.GetByID(c.Request.Context(), studentID); err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	if err := h.authService.ResetSession(c.Request.Context(), studentID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}
