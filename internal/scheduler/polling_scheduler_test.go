package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockRunner records task runs and fails ids listed in failing.
type MockRunner struct {
	mu      sync.Mutex
	runs    []string
	failing map[string]error
}

func NewMockRunner() *MockRunner {
	return &MockRunner{failing: map[string]error{}}
}

func (m *MockRunner) RunTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, id)
	return m.failing[id]
}

func (m *MockRunner) Runs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.runs...)
}

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestScheduler(check ConnectivityCheck) (*PollingScheduler, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)}
	s := NewPollingScheduler(time.Second, check)
	s.now = clock.Now
	return s, clock
}

func TestNewPollingScheduler(t *testing.T) {
	s := NewPollingScheduler(30*time.Second, nil)

	if s == nil {
		t.Fatal("expected scheduler to be created")
	}
	if s.poll != 30*time.Second {
		t.Errorf("expected poll to be 30s, got %v", s.poll)
	}
	if !s.online(context.Background()) {
		t.Error("expected nil check to default to online")
	}
}

func TestPollingScheduler_ImplementsCapabilities(t *testing.T) {
	var _ Capabilities = NewPollingScheduler(time.Second, nil)
	var _ Capabilities = NoopCapabilities{}
}

func TestRecurringTask_RunsOncePerInterval(t *testing.T) {
	s, clock := newTestScheduler(nil)
	runner := NewMockRunner()
	ctx := context.Background()

	if err := s.RegisterRecurringTask("update-content-periodically", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.tick(ctx, runner)
	if len(runner.Runs()) != 0 {
		t.Fatalf("expected no run before the interval elapsed, got %v", runner.Runs())
	}

	clock.Advance(time.Hour)
	s.tick(ctx, runner)
	s.tick(ctx, runner)
	if got := runner.Runs(); len(got) != 1 || got[0] != "update-content-periodically" {
		t.Fatalf("expected exactly one run, got %v", got)
	}

	clock.Advance(59 * time.Minute)
	s.tick(ctx, runner)
	if len(runner.Runs()) != 1 {
		t.Errorf("expected no run within the interval, got %v", runner.Runs())
	}

	clock.Advance(time.Minute)
	s.tick(ctx, runner)
	if len(runner.Runs()) != 2 {
		t.Errorf("expected a second run, got %v", runner.Runs())
	}
}

func TestRecurringTask_FailureStillCountsAsRun(t *testing.T) {
	s, clock := newTestScheduler(nil)
	runner := NewMockRunner()
	runner.failing["refresh"] = errors.New("boom")
	ctx := context.Background()

	_ = s.RegisterRecurringTask("refresh", time.Minute)
	clock.Advance(time.Minute)
	s.tick(ctx, runner)
	s.tick(ctx, runner)

	if len(runner.Runs()) != 1 {
		t.Errorf("expected failed recurring task not to rerun before its interval, got %v", runner.Runs())
	}
}

func TestOneShotTask_WaitsForConnectivity(t *testing.T) {
	var mu sync.Mutex
	online := false
	check := func(context.Context) bool {
		mu.Lock()
		defer mu.Unlock()
		return online
	}
	s, _ := newTestScheduler(check)
	runner := NewMockRunner()
	ctx := context.Background()

	_ = s.RegisterOneShotTask("retry-failed-videos")
	s.tick(ctx, runner)
	if len(runner.Runs()) != 0 {
		t.Fatalf("expected no run while offline, got %v", runner.Runs())
	}

	mu.Lock()
	online = true
	mu.Unlock()

	s.tick(ctx, runner)
	s.tick(ctx, runner)
	if got := runner.Runs(); len(got) != 1 || got[0] != "retry-failed-videos" {
		t.Fatalf("expected one run once online, got %v", got)
	}
	if len(s.Pending()) != 0 {
		t.Errorf("expected task to be dropped after success, pending=%v", s.Pending())
	}
}

func TestOneShotTask_RetriedUntilSuccess(t *testing.T) {
	s, _ := newTestScheduler(nil)
	runner := NewMockRunner()
	runner.failing["retry-failed-videos"] = errors.New("still offline")
	ctx := context.Background()

	_ = s.RegisterOneShotTask("retry-failed-videos")
	s.tick(ctx, runner)
	s.tick(ctx, runner)
	if len(runner.Runs()) != 2 {
		t.Fatalf("expected failed one-shot task to be retried, got %v", runner.Runs())
	}

	runner.mu.Lock()
	delete(runner.failing, "retry-failed-videos")
	runner.mu.Unlock()

	s.tick(ctx, runner)
	s.tick(ctx, runner)
	if len(runner.Runs()) != 3 {
		t.Errorf("expected task to stop after success, got %v", runner.Runs())
	}
}

func TestOneShotTask_RegisteringTwiceRunsOnce(t *testing.T) {
	s, _ := newTestScheduler(nil)
	runner := NewMockRunner()

	_ = s.RegisterOneShotTask("retry-failed-videos")
	_ = s.RegisterOneShotTask("retry-failed-videos")
	s.tick(context.Background(), runner)

	if len(runner.Runs()) != 1 {
		t.Errorf("expected one run, got %v", runner.Runs())
	}
}

func TestPollingScheduler_StartStopsOnCancel(t *testing.T) {
	s := NewPollingScheduler(10*time.Millisecond, nil)
	runner := NewMockRunner()
	_ = s.RegisterOneShotTask("retry-failed-videos")

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx, runner)

	deadline := time.Now().Add(2 * time.Second)
	for len(runner.Runs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if len(runner.Runs()) != 1 {
		t.Errorf("expected the pending task to run once, got %v", runner.Runs())
	}
}

func TestNoopCapabilities(t *testing.T) {
	var caps NoopCapabilities
	if err := caps.RegisterRecurringTask("x", time.Hour); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := caps.RegisterOneShotTask("y"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
