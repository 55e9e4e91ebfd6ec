// Package scheduler runs the periodic jobs on tickers when no external
// scheduler drives the job hooks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/treasury-functions/internal/logging"
)

// Task is one periodic job
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	// Timeout bounds a single run; zero means the interval
	Timeout time.Duration
}

// Scheduler runs each task on its own ticker until stopped
type Scheduler struct {
	tasks []Task
	wg    sync.WaitGroup
}

// New creates a scheduler. Tasks with a non-positive interval are ignored.
func New(tasks ...Task) *Scheduler {
	s := &Scheduler{}
	for _, t := range tasks {
		if t.Interval <= 0 {
			logrus.Warnf("Scheduler: task %s has no interval, skipping", t.Name)
			continue
		}
		s.tasks = append(s.tasks, t)
	}
	return s
}

// Start launches one goroutine per task. Runs stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.tasks {
		s.wg.Add(1)
		go func(t Task) {
			defer s.wg.Done()
			s.loop(ctx, t)
		}(t)
		logrus.Infof("Scheduler: %s every %s", t.Name, t.Interval)
	}
}

// Wait blocks until every task loop has returned
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Infof("Scheduler: %s stopped", t.Name)
			return
		case <-ticker.C:
			runOnce(ctx, t)
		}
	}
}

// runOnce executes one run; a failure is logged and the next tick retries
func runOnce(ctx context.Context, t Task) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = t.Interval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := t.Run(ctx); err != nil {
		logging.Event(t.Name, logrus.Fields{"error": err.Error()}).Warn("Scheduled run failed")
		return
	}
	logging.Event(t.Name, logrus.Fields{"elapsed": time.Since(start).String()}).Debug("Scheduled run complete")
}
