package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrStopped is returned by [Loop.Wait] when the loop was stopped before it
// settled on its own.
var ErrStopped = errors.New("poller: loop stopped")

// State is the lifecycle state of a [Loop].
type State int

const (
	// StateIdle means no timer is pending and no fetch is running.
	StateIdle State = iota

	// StateFetching means a cycle is running.
	StateFetching

	// StateScheduled means a timer is pending for the next cycle.
	StateScheduled

	// StateStopped means the loop was stopped and will never run again.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateScheduled:
		return "scheduled"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Cycle runs one poll cycle. It reports whether another cycle should be
// scheduled. A non-nil error is reported but never stops the loop; the more
// flag alone decides rescheduling.
type Cycle func(ctx context.Context) (more bool, err error)

// Loop drives a [Cycle] through the Idle, Fetching and Scheduled states.
//
// At most one cycle runs at a time and at most one timer is pending. Cycles
// never overlap: the next one is scheduled only after the previous one
// returned. A Loop is safe for concurrent use.
type Loop struct {
	name  string
	cycle Cycle
	cfg   config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	timer   *time.Timer
	settled chan struct{}
	kicked  bool // Start called while a cycle was running

	wg sync.WaitGroup
}

func newLoop(name string, cycle Cycle, cfg config) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	settled := make(chan struct{})
	close(settled)
	return &Loop{
		name:    name,
		cycle:   cycle,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		settled: settled,
	}
}

// Name returns the loop's name.
func (l *Loop) Name() string {
	return l.name
}

// State returns the loop's current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start runs a cycle immediately if the loop is idle. While a cycle is
// running, Start makes sure the loop does not settle on that cycle's result
// and runs once more if it would have. It is a no-op while a timer is pending
// and after [Loop.Stop].
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateFetching {
		l.kicked = true
		return
	}
	if l.state != StateIdle {
		return
	}
	l.settled = make(chan struct{})
	l.state = StateFetching
	l.wg.Add(1)
	go l.run()
}

// Stop clears any pending timer, cancels a running cycle's context and waits
// for that cycle to return. No cycle runs after Stop returns. Stop is
// idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state == StateStopped {
		l.mu.Unlock()
		l.wg.Wait()
		return
	}
	prev := l.state
	l.state = StateStopped
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if prev != StateIdle {
		close(l.settled)
	}
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
}

// Wait blocks until the loop settles. It returns nil when the loop went idle
// because nothing is left to poll, [ErrStopped] if the loop was stopped, or
// the context's error.
func (l *Loop) Wait(ctx context.Context) error {
	l.mu.Lock()
	settled := l.settled
	l.mu.Unlock()

	select {
	case <-settled:
	case <-ctx.Done():
		return ctx.Err()
	}

	if l.State() == StateStopped {
		return ErrStopped
	}
	return nil
}

// fire is the timer callback.
func (l *Loop) fire() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateScheduled {
		return
	}
	l.timer = nil
	l.state = StateFetching
	l.wg.Add(1)
	go l.run()
}

func (l *Loop) run() {
	defer l.wg.Done()

	start := time.Now()
	more, err := l.runCycle()
	elapsed := time.Since(start)

	l.mu.Lock()
	if l.state == StateStopped {
		l.mu.Unlock()
		// late completion after Stop: never reschedule or report
		l.cfg.logger.Debug("poll cycle finished after stop",
			"loop", l.name,
			"duration", elapsed,
		)
		return
	}
	l.cfg.metrics.recordCycle(l.ctx, l.name, elapsed, err)
	l.mu.Unlock()

	if err != nil {
		l.cfg.logger.Warn("poll cycle failed",
			"loop", l.name,
			"error", err,
			"duration", elapsed,
		)
		// the handler may call back into the loop, so it runs unlocked
		if l.cfg.onError != nil {
			l.cfg.onError(err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateStopped {
		return
	}

	kicked := l.kicked
	l.kicked = false

	if !more && kicked {
		// Start was called while this cycle was finishing; its work may not
		// have been seen, so run again now instead of settling
		l.wg.Add(1)
		go l.run()
		return
	}

	if !more {
		l.state = StateIdle
		close(l.settled)
		l.cfg.logger.Debug("poll loop settled", "loop", l.name)
		return
	}

	l.state = StateScheduled
	l.timer = time.AfterFunc(l.cfg.delay, l.fire)
}

// runCycle calls the cycle inside a span. A panicking cycle is reported as an
// error and rescheduled.
func (l *Loop) runCycle() (more bool, err error) {
	ctx, span := l.cfg.tracer.Start(l.ctx, "poll.cycle",
		trace.WithAttributes(attribute.String("poll.loop", l.name)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			id := uuid.New().String()
			l.cfg.logger.Error("poll cycle panicked",
				slog.String("loop", l.name),
				slog.String("correlation_id", id),
				slog.Any("panic", r),
			)
			more = true
			err = fmt.Errorf("poll cycle panicked (correlation_id=%s): %v", id, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("poll.more", more))
	}()

	return l.cycle(ctx)
}
