package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quizdesk/user-service/internal/middleware"
	"github.com/quizdesk/user-service/internal/service"
	"github.com/rs/zerolog"
)

const clockTickInterval = time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams attempt progress over WebSocket so exam clients keep
// their countdown in sync with the server clock.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// clockMessage is one tick of the attempt clock stream.
type clockMessage struct {
	AttemptID        uuid.UUID `json:"attempt_id"`
	RemainingSeconds float64   `json:"remaining_seconds"`
	Answered         int       `json:"answered_questions"`
	Total            int       `json:"total_questions"`
	Expired          bool      `json:"expired"`
}

// AttemptClockStream godoc
// WS /ws/v1/student/attempts/:attempt_id/clock
// Streams the remaining time and answer counts once per second until the
// attempt's deadline passes or the client disconnects.
func (h *WSHandler) AttemptClockStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}

	// Validate ownership and state before upgrading.
	if _, err := h.attemptService.GetProgress(c.Request.Context(), attemptID, claims.UserID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "no access to this attempt"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(clockTickInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			progress, err := h.attemptService.GetProgress(ctx, attemptID, claims.UserID)
			if err != nil {
				h.log.Debug().Err(err).Str("attempt_id", attemptID.String()).Msg("clock stream stopped")
				return
			}

			msg := clockMessage{
				AttemptID:        attemptID,
				RemainingSeconds: progress.RemainingSeconds,
				Answered:         progress.AnsweredQuestions,
				Total:            progress.TotalQuestions,
				Expired:          progress.RemainingSeconds <= 0,
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			if msg.Expired {
				return
			}
		}
	}
}
