package worker

import (
	"context"
	"time"

	"github.com/quizdesk/user-service/internal/service"
	"github.com/rs/zerolog"
)

// ExpiryWorker periodically finalizes IN_PROGRESS attempts whose deadline has
// passed. Lazy expiry on the read paths is authoritative; the sweep only
// ensures abandoned attempts get their score materialized without waiting for
// the student to come back.
type ExpiryWorker struct {
	attemptService *service.AttemptService
	interval       time.Duration
	log            zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(attemptService *service.AttemptService, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		attemptService: attemptService,
		interval:       interval,
		log:            log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			expired, err := w.attemptService.ExpireOverdueAttempts(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Error().Err(err).Msg("expiry sweep failed")
				}
				continue
			}
			if expired > 0 {
				w.log.Info().Int("expired", expired).Msg("overdue attempts finalized")
			}
		}
	}
}
