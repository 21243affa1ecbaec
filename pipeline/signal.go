package pipeline

import (
	"sync"
	"time"
)

// Signal is a process-wide broadcast flag. It is set at most once and never unset.
type Signal struct {
	once sync.Once
	done chan struct{}
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Fire sets the signal. Repeat calls are no-ops.
func (s *Signal) Fire() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Fired reports whether Fire has been called
func (s *Signal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed when the signal fires
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Wait blocks for up to d and returns true if the signal fired in the meantime
func (s *Signal) Wait(d time.Duration) bool {
	if d <= 0 {
		return s.Fired()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-s.done:
		return true
	case <-t.C:
		return false
	}
}
