package shared

import "errors"

// Mutex word values. The state is a single 32-bit word in a shared
// buffer: 0 表示未上锁，1 表示已上锁.
const (
	mutexUnlocked = int32(0)
	mutexLocked   = int32(1)
)

// Mutex is the cross-isolate mutual exclusion core. It is not reentrant:
// an isolate taking its own lock twice deadlocks.
type Mutex struct {
	state *Buffer // one 32-bit word
	data  *Buffer // optional user payload the mutex protects
}

func NewMutex(data *Buffer) *Mutex {
	return &Mutex{
		state: NewBuffer(4),
		data:  data,
	}
}

// NewMutexFromBuffers rehydrates a mutex around existing buffers, used
// when a serialized shadow or a registry entry is promoted back to a
// live instance on a worker.
func NewMutexFromBuffers(state *Buffer, data *Buffer) *Mutex {
	return &Mutex{state: state, data: data}
}

func (m *Mutex) State() *Buffer {
	return m.state
}

func (m *Mutex) Data() *Buffer {
	return m.data
}

func (m *Mutex) SetState(state *Buffer) {
	m.state = state
}

func (m *Mutex) SetData(data *Buffer) {
	m.data = data
}

// TryLock attempts the 0→1 compare-exchange once.
func (m *Mutex) TryLock() bool {
	ok, _ := m.state.CompareAndSwap32(0, mutexUnlocked, mutexLocked)
	return ok
}

// Park returns a channel that closes once the word may have left the
// locked state. The caller retries TryLock after each wake-up.
func (m *Mutex) Park() (<-chan struct{}, error) {
	return Wait(m.state, 0, mutexLocked)
}

// Lock blocks the calling goroutine until the lock is held.
func (m *Mutex) Lock() error {
	for {
		if m.TryLock() {
			return nil
		}
		ch, err := m.Park()
		if err != nil {
			return err
		}
		<-ch
	}
}

// Unlock releases the lock and wakes exactly one waiter. Releasing an
// unlocked mutex is an invariant violation.
func (m *Mutex) Unlock() error {
	ok, err := m.state.CompareAndSwap32(0, mutexLocked, mutexUnlocked)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("mutex is not locked")
	}
	Notify(m.state, 0, 1)
	return nil
}
