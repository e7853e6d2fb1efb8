package spawn

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"weave/internal/shared"
)

//#region SharedBuffer

// SharedBuffer is the script-facing shell around a shared byte region.
// Copies of the shell travel between isolates; the buffer behind it does
// not move.
type SharedBuffer struct {
	host   Host
	buffer *shared.Buffer
}

func (s *SharedBuffer) Length() int {
	return s.buffer.Size()
}

func (s *SharedBuffer) Get(index int) (int, error) {
	b, err := s.buffer.Get(index)
	return int(b), err
}

func (s *SharedBuffer) Set(index int, value int) error {
	return s.buffer.Set(index, byte(value))
}

func (s *SharedBuffer) Load32(offset int) (int32, error) {
	return s.buffer.Load32(offset)
}

func (s *SharedBuffer) Store32(offset int, value int32) error {
	return s.buffer.Store32(offset, value)
}

func (s *SharedBuffer) Add32(offset int, delta int32) (int32, error) {
	return s.buffer.Add32(offset, delta)
}

func (s *SharedBuffer) CompareExchange32(offset int, old int32, new int32) (bool, error) {
	return s.buffer.CompareAndSwap32(offset, old, new)
}

// Wait32 parks until the word at offset leaves the expected value. The
// promise resolves on the host's event loop.
func (s *SharedBuffer) Wait32(offset int, expect int32) *goja.Promise {
	runtime := s.host.Runtime()
	promise, resolve, reject := runtime.NewPromise()

	ch, err := shared.Wait(s.buffer, offset, expect)
	if err != nil {
		reject(runtime.NewGoError(err))
		return promise
	}

	trigger := s.host.EventLoop().NewEventTaskTrigger()
	go func() {
		<-ch
		trigger.AddTask(func() {
			resolve(goja.Undefined())
			trigger.Cancel()
		})
	}()
	return promise
}

func (s *SharedBuffer) Notify32(offset int, count int) int {
	return shared.Notify(s.buffer, offset, count)
}

// ToArrayBuffer exposes the same bytes as an ArrayBuffer of the host's
// runtime. The view must not leave its isolate (it would be transferred
// as a plain buffer); cross-isolate access goes through the shell.
func (s *SharedBuffer) ToArrayBuffer() goja.ArrayBuffer {
	return s.host.Runtime().NewArrayBuffer(s.buffer.Bytes())
}

//#endregion

//#region Mutex

type Mutex struct {
	host  Host
	inner *shared.Mutex
}

// Lock resolves to a one-shot guard once the 0→1 exchange succeeds. The
// mutex is not reentrant: an isolate locking twice deadlocks itself.
func (m *Mutex) Lock() *goja.Promise {
	runtime := m.host.Runtime()
	promise, resolve, reject := runtime.NewPromise()

	if m.inner.TryLock() { // 无竞争时同步完成
		resolve(m.newGuard())
		return promise
	}

	trigger := m.host.EventLoop().NewEventTaskTrigger()
	go func() {
		err := m.inner.Lock()
		trigger.AddTask(func() {
			if err != nil {
				reject(runtime.NewGoError(err))
			} else {
				resolve(m.newGuard())
			}
			trigger.Cancel()
		})
	}()
	return promise
}

func (m *Mutex) TryLock() goja.Value {
	if m.inner.TryLock() {
		return m.host.Runtime().ToValue(m.newGuard())
	}
	return goja.Null()
}

func (m *Mutex) newGuard() *Guard {
	return &Guard{host: m.host, mutex: m.inner}
}

// Guard is the scoped token for one acquisition. Release is idempotent.
type Guard struct {
	host     Host
	mutex    *shared.Mutex
	released bool
}

func (g *Guard) Data() goja.Value {
	if g.mutex.Data() == nil {
		return goja.Null()
	}
	return g.host.Runtime().ToValue(&SharedBuffer{host: g.host, buffer: g.mutex.Data()})
}

func (g *Guard) Release() error {
	if g.released {
		return nil
	}
	g.released = true
	return g.mutex.Unlock()
}

func (g *Guard) Dispose() error {
	return g.Release()
}

//#endregion

//#region Semaphore

type Semaphore struct {
	host  Host
	inner *shared.Semaphore
}

func (s *Semaphore) Permits() int32 {
	return s.inner.Permits()
}

// Acquire resolves to a release token once n permits are taken (n
// defaults to 1). Waiters compete on wake-up, no fairness.
func (s *Semaphore) Acquire(n int32) *goja.Promise {
	if n <= 0 {
		n = 1
	}
	runtime := s.host.Runtime()
	promise, resolve, reject := runtime.NewPromise()

	if ok, err := s.inner.TryAcquire(n); err != nil {
		reject(runtime.NewGoError(err))
		return promise
	} else if ok {
		resolve(&Permit{host: s.host, semaphore: s.inner, count: n})
		return promise
	}

	trigger := s.host.EventLoop().NewEventTaskTrigger()
	go func() {
		err := s.inner.Acquire(n)
		trigger.AddTask(func() {
			if err != nil {
				reject(runtime.NewGoError(err))
			} else {
				resolve(&Permit{host: s.host, semaphore: s.inner, count: n})
			}
			trigger.Cancel()
		})
	}()
	return promise
}

// Release returns n permits (default 1). Releasing more than was ever
// acquired is allowed; the permit word is the contract.
func (s *Semaphore) Release(n int32) error {
	if n <= 0 {
		n = 1
	}
	return s.inner.Release(n)
}

// Permit is the release token for one acquisition; idempotent.
type Permit struct {
	host      Host
	semaphore *shared.Semaphore
	count     int32
	released  bool
}

func (p *Permit) Release() error {
	if p.released {
		return nil
	}
	p.released = true
	return p.semaphore.Release(p.count)
}

func (p *Permit) Dispose() error {
	return p.Release()
}

//#endregion

//#region Global

// globalize gives the inner primitive cross-isolate identity: the
// construction site becomes the registry key for its backing buffers.
// On the main side buffers register (or rebind, when the key is already
// bound); on a worker the rebind goes through the hydration cache and
// may park until the memory snapshot arrives.
func globalize(host Host, call goja.FunctionCall) goja.Value {
	runtime := host.Runtime()

	site, err := Locate(runtime)
	if err != nil {
		panic(runtime.NewGoError(err))
	}
	origin := host.Origin(site.Path)
	baseKey := fmt.Sprintf("%s:%d:%d", origin, site.Line, site.Column)

	inner := call.Argument(0)
	object, ok := inner.(*goja.Object)
	if !ok {
		panic(runtime.NewTypeError("Global expects a Mutex, Semaphore or SharedBuffer"))
	}

	var rebind func()
	switch e := object.Export().(type) {
	case *Mutex:
		rebind = func() {
			e.inner.SetState(resolveBuffer(host, baseKey+"::state", e.inner.State()))
			if e.inner.Data() != nil {
				e.inner.SetData(resolveBuffer(host, baseKey+"::data", e.inner.Data()))
			}
		}
	case *Semaphore:
		rebind = func() {
			e.inner.SetState(resolveBuffer(host, baseKey+"::state", e.inner.State()))
		}
	case *SharedBuffer:
		rebind = func() {
			e.buffer = resolveBuffer(host, baseKey+"::data", e.buffer)
		}
	default:
		panic(runtime.NewTypeError("Global expects a Mutex, Semaphore or SharedBuffer"))
	}

	if p, ok := host.(parking); ok && p.Park(rebind) {
		return inner // 快照未到达，先挂起等待
	}
	rebind()
	return inner
}

// resolveBuffer returns the canonical buffer for a key: the worker's
// hydration cache first, then the process registry, registering the
// fresh buffer when the key was never bound.
func resolveBuffer(host Host, key string, b *shared.Buffer) *shared.Buffer {
	if cache, ok := host.(bufferCache); ok {
		if cached, ok := cache.CachedBuffer(key); ok {
			return cached
		}
	}
	return shared.Register(key, b)
}

//#endregion

var errTerminated = errors.New("worker terminated")
