package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often triggered alerts are purged.
const DefaultSweepInterval = time.Hour

// Sweeper runs Service.Sweep on a schedule.
type Sweeper struct {
	service  *Service
	interval time.Duration
	cron     *gocron.Scheduler
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper. The first sweep runs on Start.
func NewSweeper(service *Service, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	return &Sweeper{
		service:  service,
		interval: interval,
		cron:     cron,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start schedules the sweep job.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if _, err := s.cron.Every(s.interval).Do(s.run); err != nil {
		return fmt.Errorf("failed to schedule alert sweep: %w", err)
	}
	s.cron.StartAsync()
	s.running = true

	s.logger.Info().Dur("interval", s.interval).Msg("Alert sweeper started")
	return nil
}

// Stop halts the schedule.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cron.Stop()
	s.cron.Clear()
	s.running = false
	s.logger.Info().Msg("Alert sweeper stopped")
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.service.Sweep(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Alert sweep failed")
	}
}
