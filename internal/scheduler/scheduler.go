package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/wind-grid-service/internal/weather"
)

// Retriever is the part of weather.Service the warm-up job uses.
type Retriever interface {
	Retrieve(ctx context.Context, req weather.Request) (weather.Result, error)
}

// Scheduler periodically builds the global converted artifact of the
// configured models for the latest cycle, so first requests hit the cache.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Retriever
	models    []weather.Model
	format    string
	interval  time.Duration
	timeout   time.Duration
	now       func() time.Time
}

// New creates a new Scheduler. timeout bounds one warm-up of one model.
func New(models []weather.Model, interval, timeout time.Duration, service Retriever) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		models:    models,
		format:    "json",
		interval:  interval,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first run happens immediately.
func (s *Scheduler) Start() error {
	if len(s.models) == 0 {
		log.Println("INFO: scheduler: no warm-up models configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 30
	}

	_, err := s.scheduler.Every(minutes).Minutes().SingletonMode().Do(s.Warm)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Warm retrieves the current global artifact for every model in parallel.
func (s *Scheduler) Warm() {
	log.Println("INFO: scheduler: running warm-up job")

	now := s.now()
	var wg sync.WaitGroup
	for _, m := range s.models {
		wg.Add(1)
		go func(m weather.Model) {
			defer wg.Done()

			ctx := context.Background()
			if s.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.timeout)
				defer cancel()
			}

			res, err := s.service.Retrieve(ctx, weather.Request{Model: m, Format: s.format, Timestamp: now})
			if err != nil {
				log.Printf("ERROR: scheduler: warm-up failed for %s: %v", m, err)
				return
			}
			log.Printf("INFO: scheduler: warmed %s", res.Key)
		}(m)
	}
	wg.Wait()
	log.Println("INFO: scheduler: completed warm-up job")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
