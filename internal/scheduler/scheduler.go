package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/pulseboard/data-gateway/internal/alerts"
)

// Scheduler fires the severe-weather scan on a fixed interval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	scanner   *alerts.Scanner
	interval  time.Duration
}

// New creates a new Scheduler.
func New(scanner *alerts.Scanner, interval time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		scanner:   scanner,
		interval:  interval,
	}
}

// Start schedules the scan job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 30
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		log.Println("scheduler: running alert scan")

		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		defer cancel()

		if err := s.scanner.Scan(ctx); err != nil {
			log.Printf("scheduler: alert scan failed: %v", err)
		}
		log.Println("scheduler: completed alert scan")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
