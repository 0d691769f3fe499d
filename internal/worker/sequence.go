package worker

import "sync"

// sequencer orders background commands. Commands for the same URL run in
// arrival order; a command for every URL (key "") waits for everything queued
// before it and holds back everything queued after it. Commands for
// different URLs still run concurrently.
type sequencer struct {
	mu      sync.Mutex
	tails   map[string]chan struct{}
	barrier chan struct{}
}

// enqueue reserves the next slot for key. The caller waits on every returned
// channel before running and calls done when finished.
func (s *sequencer) enqueue(key string) (wait []<-chan struct{}, done func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tails == nil {
		s.tails = map[string]chan struct{}{}
	}

	slot := make(chan struct{})
	if key == "" {
		for k, t := range s.tails {
			wait = append(wait, t)
			delete(s.tails, k)
		}
		if s.barrier != nil {
			wait = append(wait, s.barrier)
		}
		s.barrier = slot
		return wait, func() {
			close(slot)
			s.mu.Lock()
			if s.barrier == slot {
				s.barrier = nil
			}
			s.mu.Unlock()
		}
	}

	if t, ok := s.tails[key]; ok {
		// t already waits for any barrier before it
		wait = append(wait, t)
	} else if s.barrier != nil {
		wait = append(wait, s.barrier)
	}
	s.tails[key] = slot
	return wait, func() {
		close(slot)
		s.mu.Lock()
		if s.tails[key] == slot {
			delete(s.tails, key)
		}
		s.mu.Unlock()
	}
}
