package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bassista/go_reel/internal/logger"
)

// ConnectivityCheck reports whether the network is reachable. One-shot tasks
// only run while it returns true.
type ConnectivityCheck func(ctx context.Context) bool

type recurringTask struct {
	interval time.Duration
	lastRun  time.Time
}

// PollingScheduler implements Capabilities on a fixed polling interval.
//
// Semantics:
// - A recurring task first runs one interval after registration, then at most
// once per interval. A failed run still counts as a run.
// - A one-shot task runs on the first tick where the check reports online and
// is dropped once it succeeds. A failed run is retried on the next tick.
// - Registering an id again replaces the previous registration.
//
// NOTE: Registrations are in-memory only.
type PollingScheduler struct {
	poll   time.Duration
	online ConnectivityCheck
	now    func() time.Time

	mu        sync.Mutex
	recurring map[string]*recurringTask
	oneShot   map[string]struct{}
}

// NewPollingScheduler creates a scheduler. A nil check treats the host as
// always online.
func NewPollingScheduler(poll time.Duration, check ConnectivityCheck) *PollingScheduler {
	if check == nil {
		check = func(context.Context) bool { return true }
	}
	return &PollingScheduler{
		poll:      poll,
		online:    check,
		now:       time.Now,
		recurring: map[string]*recurringTask{},
		oneShot:   map[string]struct{}{},
	}
}

func (s *PollingScheduler) RegisterRecurringTask(id string, minInterval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recurring[id] = &recurringTask{interval: minInterval, lastRun: s.now()}
	logger.WithComponent("sched").Infof("registered recurring task %s (every %v)", id, minInterval)
	return nil
}

func (s *PollingScheduler) RegisterOneShotTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oneShot[id] = struct{}{}
	logger.WithComponent("sched").Infof("registered one-shot task %s", id)
	return nil
}

// Pending lists the one-shot tasks waiting to run.
func (s *PollingScheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.oneShot))
	for id := range s.oneShot {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start polls until ctx is done, running due tasks on runner.
func (s *PollingScheduler) Start(ctx context.Context, runner TaskRunner) {
	logger.WithComponent("sched").Debugf("starting task scheduler with interval: %v", s.poll)
	ticker := time.NewTicker(s.poll)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.WithComponent("sched").Info("scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx, runner)
			}
		}
	}()
}

func (s *PollingScheduler) tick(ctx context.Context, runner TaskRunner) {
	logger.WithComponent("sched").Tracef("task scheduler tick started")

	for _, id := range s.dueRecurring() {
		if ctx.Err() != nil {
			return
		}
		if err := s.run(ctx, runner, id); err != nil {
			logger.WithComponent("sched").Errorf("recurring task %s failed: %v", id, err)
		}
	}

	pending := s.Pending()
	if len(pending) == 0 {
		return
	}
	if !s.online(ctx) {
		logger.WithComponent("sched").Debugf("offline, deferring %d one-shot tasks", len(pending))
		return
	}
	for _, id := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.run(ctx, runner, id); err != nil {
			logger.WithComponent("sched").Warnf("one-shot task %s failed, will retry: %v", id, err)
			continue
		}
		s.mu.Lock()
		delete(s.oneShot, id)
		s.mu.Unlock()
	}
}

// dueRecurring returns the recurring tasks whose interval has elapsed and
// marks them as run.
func (s *PollingScheduler) dueRecurring() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []string
	for id, task := range s.recurring {
		if now.Sub(task.lastRun) < task.interval {
			continue
		}
		task.lastRun = now
		due = append(due, id)
	}
	sort.Strings(due)
	return due
}

func (s *PollingScheduler) run(ctx context.Context, runner TaskRunner, id string) error {
	logger.WithComponent("sched").Debugf("running task %s", id)
	return runner.RunTask(ctx, id)
}
