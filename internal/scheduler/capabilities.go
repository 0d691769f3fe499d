package scheduler

import (
	"context"
	"time"

	"github.com/bassista/go_reel/internal/logger"
)

// RecurringTaskRegistrar runs a task repeatedly, no more often than
// minInterval.
type RecurringTaskRegistrar interface {
	RegisterRecurringTask(id string, minInterval time.Duration) error
}

// OneShotTaskRegistrar runs a task once, the next time the host is online.
type OneShotTaskRegistrar interface {
	RegisterOneShotTask(id string) error
}

// Capabilities is what a worker needs from its host to schedule work.
type Capabilities interface {
	RecurringTaskRegistrar
	OneShotTaskRegistrar
}

// TaskRunner executes a registered task by id.
type TaskRunner interface {
	RunTask(ctx context.Context, id string) error
}

// NoopCapabilities accepts registrations and never runs anything. It stands
// in on hosts without background scheduling.
type NoopCapabilities struct{}

func (NoopCapabilities) RegisterRecurringTask(id string, minInterval time.Duration) error {
	logger.WithComponent("sched").Debugf("recurring task %s ignored (every %v): no scheduler", id, minInterval)
	return nil
}

func (NoopCapabilities) RegisterOneShotTask(id string) error {
	logger.WithComponent("sched").Debugf("one-shot task %s ignored: no scheduler", id)
	return nil
}
