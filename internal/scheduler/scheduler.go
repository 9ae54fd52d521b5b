package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-globe-cache/internal/cache"
	"github.com/i474232898/weather-globe-cache/internal/manifest"
)

// Scheduler periodically rebuilds layer timelines as new forecast cycles are
// published, re-registering each layer and warming it up around the current
// time.
type Scheduler struct {
	scheduler    *gocron.Scheduler
	controller   *cache.Controller
	builder      *manifest.Builder
	params       []manifest.Param
	historyDays  int
	forecastDays int
	interval     time.Duration
}

// New creates a new Scheduler.
func New(controller *cache.Controller, builder *manifest.Builder, params []manifest.Param, historyDays, forecastDays int, interval time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler:    s,
		controller:   controller,
		builder:      builder,
		params:       params,
		historyDays:  historyDays,
		forecastDays: forecastDays,
		interval:     interval,
	}
}

// Start schedules the periodic refresh job and starts the underlying
// scheduler.
func (s *Scheduler) Start() error {
	if len(s.params) == 0 {
		log.Println("scheduler: no layer parameters configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 360
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		log.Println("scheduler: running timeline refresh job")

		var wg sync.WaitGroup
		for _, param := range s.params {
			param := param
			wg.Add(1)
			go func() {
				defer wg.Done()

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()

				if err := s.Refresh(ctx, param); err != nil {
					log.Printf("scheduler: refresh failed for %s: %v", param.Name, err)
				}
			}()
		}
		wg.Wait()
		log.Println("scheduler: completed timeline refresh job")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Refresh rebuilds one layer's timeline and warms it up around the current
// time. Re-registration resets all timestep state; previously loaded data is
// refetched on demand.
func (s *Scheduler) Refresh(ctx context.Context, param manifest.Param) error {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -s.historyDays)
	to := now.AddDate(0, 0, s.forecastDays)

	steps := s.builder.Timeline(param, from, to)
	s.controller.RegisterLayer(param.Name, steps)
	return s.controller.InitializeLayer(ctx, param.Name, now, nil)
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
