package shared

import "errors"

// Semaphore is a counting semaphore over a single signed 32-bit permit
// word. Waiters compete on wake-up; no fairness is guaranteed.
type Semaphore struct {
	state *Buffer // one signed 32-bit word of available permits
}

func NewSemaphore(permits int32) *Semaphore {
	s := &Semaphore{state: NewBuffer(4)}
	s.state.Store32(0, permits)
	return s
}

func NewSemaphoreFromBuffer(state *Buffer) *Semaphore {
	return &Semaphore{state: state}
}

func (s *Semaphore) State() *Buffer {
	return s.state
}

func (s *Semaphore) SetState(state *Buffer) {
	s.state = state
}

func (s *Semaphore) Permits() int32 {
	p, _ := s.state.Load32(0)
	return p
}

// TryAcquire takes n permits without waiting. A compare-exchange lost to
// another acquirer is retried as long as enough permits remain; false
// means the count was observed below n.
func (s *Semaphore) TryAcquire(n int32) (bool, error) {
	if n <= 0 {
		return false, errors.New("permit count must be positive")
	}
	for {
		permits, err := s.state.Load32(0)
		if err != nil {
			return false, err
		}
		if permits < n {
			return false, nil
		}
		if ok, err := s.state.CompareAndSwap32(0, permits, permits-n); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
}

// Park returns a wake-up channel registered against the currently
// observed permit count.
func (s *Semaphore) Park() (<-chan struct{}, error) {
	permits, err := s.state.Load32(0)
	if err != nil {
		return nil, err
	}
	return Wait(s.state, 0, permits)
}

// Acquire blocks the calling goroutine until n permits are taken.
func (s *Semaphore) Acquire(n int32) error {
	for {
		ok, err := s.TryAcquire(n)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		ch, err := s.Park()
		if err != nil {
			return err
		}
		<-ch
	}
}

// Release returns n permits and wakes all waiters. The permit word may
// exceed the initially configured count if releases outnumber acquires;
// the word itself is the contract.
func (s *Semaphore) Release(n int32) error {
	if n <= 0 {
		return errors.New("permit count must be positive")
	}
	if _, err := s.state.Add32(0, n); err != nil {
		return err
	}
	Notify(s.state, 0, -1)
	return nil
}
