// Package dispatcher drives the pipeline's polling loops.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task performs one unit of pipeline work. It reports how many items it
// handled; zero means the stage is idle.
type Task interface {
	RunOnce(ctx context.Context) (int, error)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) (int, error)

// RunOnce calls f.
func (f TaskFunc) RunOnce(ctx context.Context) (int, error) { return f(ctx) }

// Loop describes one polling loop.
type Loop struct {
	Name string
	Task Task
	// Idle is the sleep after a pass that found no work.
	Idle time.Duration
	// ErrorBackoff is the sleep after a failed pass.
	ErrorBackoff time.Duration
	// Workers is how many copies of the loop run. Zero means one.
	Workers int
}

// Dispatcher runs loops until its context is canceled.
type Dispatcher struct {
	loops  []Loop
	logger *zap.Logger
}

// New validates loops and returns a Dispatcher.
func New(logger *zap.Logger, loops ...Loop) (*Dispatcher, error) {
	if len(loops) == 0 {
		return nil, errors.New("at least one loop is required")
	}
	for i := range loops {
		if loops[i].Task == nil {
			return nil, errors.New("loop " + loops[i].Name + " has no task")
		}
		if loops[i].Idle <= 0 {
			loops[i].Idle = time.Minute
		}
		if loops[i].ErrorBackoff <= 0 {
			loops[i].ErrorBackoff = time.Minute
		}
		if loops[i].Workers <= 0 {
			loops[i].Workers = 1
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{loops: loops, logger: logger}, nil
}

// Run starts every loop and blocks until ctx is done and all loops have
// finished their current pass.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, loop := range d.loops {
		for i := 0; i < loop.Workers; i++ {
			wg.Add(1)
			go func(l Loop, worker int) {
				defer wg.Done()
				RunLoop(ctx, l, d.logger.With(zap.String("loop", l.Name), zap.Int("worker", worker)))
			}(loop, i)
		}
	}
	wg.Wait()
}

// RunLoop polls l.Task until ctx is canceled. Work found means the next pass
// starts at once.
func RunLoop(ctx context.Context, l Loop, logger *zap.Logger) {
	logger.Info("loop started")
	defer logger.Info("loop stopped")
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := l.Task.RunOnce(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Error("loop pass failed", zap.Error(err), zap.Duration("backoff", l.ErrorBackoff))
			wait = l.ErrorBackoff
		case n == 0:
			wait = l.Idle
		default:
			logger.Debug("loop pass", zap.Int("processed", n))
			continue
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
