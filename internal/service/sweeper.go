package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/bioqr/internal/repository"
)

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Sessions int64
	QRTokens int64
}

// Sweeper periodically deletes rows that can no longer be used: expired or
// inactive sessions and expired QR tokens. Nothing depends on it for
// correctness (dead rows are already refused); it only bounds table growth.
type Sweeper struct {
	sessions repository.SessionRepository
	qrTokens repository.QRTokenRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewSweeper(sessions repository.SessionRepository, qrTokens repository.QRTokenRepository, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		sessions: sessions,
		qrTokens: qrTokens,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start runs a sweep every interval in a background goroutine. Calling it
// more than once has no further effect.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting sweeper", slog.Duration("interval", s.interval))
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop ends the loop and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval/2)
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}

// RunOnce performs a single sweep. Both deletions are attempted even if the
// first fails.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	n, sessErr := s.sessions.DeleteStaleSessions(ctx, now)
	if sessErr != nil {
		sessErr = fmt.Errorf("service/sweeper: sessions: %w", sessErr)
	}
	res.Sessions = n

	n, qrErr := s.qrTokens.DeleteExpiredQRTokens(ctx, now)
	if qrErr != nil {
		qrErr = fmt.Errorf("service/sweeper: QR tokens: %w", qrErr)
	}
	res.QRTokens = n

	if sessErr != nil || qrErr != nil {
		return res, errors.Join(sessErr, qrErr)
	}

	s.logger.Info("sweep complete",
		slog.Int64("sessionsDeleted", res.Sessions),
		slog.Int64("qrTokensDeleted", res.QRTokens),
	)
	return res, nil
}
