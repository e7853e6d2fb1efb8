package builtin

import (
	"errors"
	"time"

	"github.com/dop251/goja"
)

func init() {
	Builtins = append(Builtins, func(worker Worker) {
		runtime, loop := worker.Runtime(), worker.EventLoop()

		runtime.Set("setTimeout", func(call goja.FunctionCall) goja.Value { // 此处必须返回单个 goja.Value 类型，否则将会出现异常：TypeError: 'caller', 'callee', and 'arguments' properties may not be accessed on strict mode functions ...
			value, _ := loop.NewTimeoutOrInterval(call, false)
			return runtime.ToValue(value)
		})
		runtime.Set("clearTimeout", func(t *Timeout) {
			if t != nil && t.trigger.Cancel() {
				t.timer.Stop()
			}
		})

		runtime.Set("setInterval", func(call goja.FunctionCall) goja.Value {
			value, _ := loop.NewTimeoutOrInterval(call, true)
			return runtime.ToValue(value)
		})
		runtime.Set("clearInterval", func(i *Interval) {
			if i != nil && i.trigger.Cancel() {
				close(i.stop)
			}
		})
	})
}

//#region 事件循环

// EventLoop drives one isolate: a macrotask queue (timers, completed
// asynchronous work) and a microtask queue (promise settlement). The
// loop runs on the isolate's own goroutine; other goroutines feed it
// exclusively through triggers.
type EventLoop struct {
	tasks      chan func()      // 宏任务队列
	microtasks chan func()      // 微任务队列，优先于宏任务执行
	count      int              // 未完成的触发器计数，归零后循环退出
	interrupt  chan interface{} // 中断信号
}

func NewEventLoop() *EventLoop {
	return &EventLoop{
		tasks:      make(chan func(), 64),
		microtasks: make(chan func(), 64),
		interrupt:  make(chan interface{}, 1),
	}
}

// Run executes the synchronous main function, then drains queued tasks
// until every trigger has completed or the loop is interrupted.
func (l *EventLoop) Run(main func() (goja.Value, error)) (goja.Value, error) {
	value, err := main()

L:
	for l.count > 0 {
		select {
		case <-l.interrupt:
			break L
		case microtask := <-l.microtasks:
			microtask()
		case task := <-l.tasks:
			task()
		}
	}

	return value, err
}

func (l *EventLoop) Interrupt() {
	if len(l.interrupt) == 0 { // 防止重复发送中断信号导致过满
		l.interrupt <- nil
	}
}

func (l *EventLoop) Reset() {
	l.count = 0
	for len(l.tasks) > 0 {
		<-l.tasks
	}
	for len(l.microtasks) > 0 {
		<-l.microtasks
	}
	for len(l.interrupt) > 0 {
		<-l.interrupt
	}
}

//#endregion

//#region 触发器、定时器

// EventTaskTrigger keeps the loop alive for one pending piece of
// asynchronous work and carries its completion back onto the loop
// goroutine.
type EventTaskTrigger struct {
	cancelled bool
	loop      *EventLoop
}

func (t *EventTaskTrigger) AddTask(fn func()) {
	t.loop.tasks <- fn
}

func (t *EventTaskTrigger) AddMicroTask(fn func()) {
	t.loop.microtasks <- fn
}

func (t *EventTaskTrigger) IsCancelled() bool {
	return t.cancelled
}

func (t *EventTaskTrigger) Cancel() bool {
	if t.cancelled {
		return false
	}
	t.cancelled = true
	t.loop.count--
	return true
}

func (l *EventLoop) NewEventTaskTrigger() *EventTaskTrigger {
	l.count++
	return &EventTaskTrigger{
		loop: l,
	}
}

type Timeout struct {
	trigger *EventTaskTrigger
	timer   *time.Timer
}

type Interval struct {
	trigger *EventTaskTrigger
	ticker  *time.Ticker
	stop    chan struct{}
}

func (l *EventLoop) NewTimeoutOrInterval(call goja.FunctionCall, isInterval bool) (interface{}, error) {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return nil, errors.New("invalid argument callback, not a function")
	}

	// 等待时间，单位毫秒，默认为 0
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond

	var params []goja.Value
	if len(call.Arguments) > 2 {
		params = append(params, call.Arguments[2:]...)
	}

	trigger := l.NewEventTaskTrigger()

	if isInterval {
		if delay <= 0 {
			delay = time.Millisecond
		}

		i := &Interval{trigger, time.NewTicker(delay), make(chan struct{}, 1)}
		go func() {
		L:
			for {
				select {
				case <-i.stop:
					i.ticker.Stop() // ticker 的 Stop() 方法不会关闭通道 ticker.C，因此需要自定义通道 stop 以退出循环
					break L
				case <-i.ticker.C:
					if !trigger.IsCancelled() {
						trigger.AddTask(func() {
							fn(nil, params...)
						})
					}
				}
			}
		}()
		return i, nil
	}

	return &Timeout{
		trigger,
		time.AfterFunc(delay, func() {
			trigger.AddTask(func() {
				if trigger.Cancel() {
					fn(nil, params...)
				}
			})
		}),
	}, nil
}

//#endregion
