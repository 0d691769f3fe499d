package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/metrics"
)

// Command is a queued message with a stable id for log correlation.
type Command struct {
	ID       string    `json:"id"`
	Message  Message   `json:"message"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Outbox is the foreground end of the command channel. Commands sent while no
// controller is attached are buffered and delivered in order once one
// attaches. Delivery failures are retried with exponential backoff; a command
// that still cannot be delivered stays at the head of the queue until the
// next attach or send.
type Outbox struct {
	baseCtx       context.Context
	maxRetry      int
	retryInterval time.Duration

	mu         sync.Mutex
	controller Controller
	queue      []Command

	// flushMu keeps a single delivery loop so order is preserved.
	flushMu sync.Mutex
	wg      sync.WaitGroup
}

func NewOutbox(baseCtx context.Context, maxRetry int, retryInterval time.Duration) *Outbox {
	return &Outbox{baseCtx: baseCtx, maxRetry: maxRetry, retryInterval: retryInterval}
}

// Send queues m and, if a controller is attached, starts delivery in the
// background. It only fails for malformed messages.
func (o *Outbox) Send(_ context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}

	cmd := Command{ID: uuid.NewString(), Message: m, QueuedAt: time.Now().UTC()}
	o.mu.Lock()
	o.queue = append(o.queue, cmd)
	depth := len(o.queue)
	attached := o.controller != nil
	o.mu.Unlock()
	metrics.SetOutboxDepth(depth)

	if !attached {
		logger.WithComponent("outbox").Infof("no controller attached, buffered %s (%s), %d pending", m, cmd.ID, depth)
		return nil
	}
	o.flushAsync()
	return nil
}

// Attach makes c the controller and flushes anything buffered.
func (o *Outbox) Attach(c Controller) {
	o.mu.Lock()
	o.controller = c
	pending := len(o.queue)
	o.mu.Unlock()

	logger.WithComponent("outbox").Infof("controller attached, %d commands pending", pending)
	if pending > 0 {
		o.flushAsync()
	}
}

// Detach drops the controller. Later sends are buffered.
func (o *Outbox) Detach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.controller != nil {
		logger.WithComponent("outbox").Info("controller detached")
	}
	o.controller = nil
}

func (o *Outbox) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.controller != nil
}

// Pending returns a copy of the queued commands, oldest first.
func (o *Outbox) Pending() []Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Command(nil), o.queue...)
}

func (o *Outbox) flushAsync() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Flush(o.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithComponent("outbox").Warnf("delivery stalled: %v", err)
		}
	}()
}

// Wait blocks until background deliveries started so far have returned.
func (o *Outbox) Wait() {
	o.wg.Wait()
}

// Flush delivers queued commands in order until the queue is empty, no
// controller is attached, or a command exhausts its retries.
func (o *Outbox) Flush(ctx context.Context) error {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	log := logger.WithComponent("outbox")
	for {
		o.mu.Lock()
		if len(o.queue) == 0 || o.controller == nil {
			o.mu.Unlock()
			return nil
		}
		cmd := o.queue[0]
		c := o.controller
		o.mu.Unlock()

		err := o.deliver(ctx, c, cmd)
		switch {
		case err == nil:
			log.Debugf("delivered %s (%s)", cmd.Message, cmd.ID)
		case errors.Is(err, ErrRejected), errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrUnknownMessage):
			log.Errorf("dropping %s (%s): %v", cmd.Message, cmd.ID, err)
		default:
			return fmt.Errorf("deliver %s (%s): %w", cmd.Message, cmd.ID, err)
		}

		o.mu.Lock()
		if len(o.queue) > 0 && o.queue[0].ID == cmd.ID {
			o.queue = o.queue[1:]
		}
		depth := len(o.queue)
		o.mu.Unlock()
		metrics.SetOutboxDepth(depth)
	}
}

func (o *Outbox) deliver(ctx context.Context, c Controller, cmd Command) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.retryInterval
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	op := func() error {
		err := c.PostMessage(ctx, cmd.Message)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRejected) || errors.Is(err, ErrInvalidMessage) || errors.Is(err, ErrUnknownMessage) {
			return backoff.Permanent(err)
		}
		logger.WithComponent("outbox").Debugf("delivery of %s failed, retrying: %v", cmd.ID, err)
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(o.maxRetry)), ctx))
}
