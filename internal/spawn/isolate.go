package spawn

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"weave/internal/builtin"
	"weave/internal/shared"
	"weave/internal/util"
)

// Result is the sealed outcome of one worker job.
type Result interface {
	isResult()
}

type Success struct {
	Value *Payload
}

type Failure struct {
	Err error
}

func (Success) isResult() {}
func (Failure) isResult() {}

// job is the caller → worker message: the props payload (value tree
// plus its transferable manifest) and the shared-memory snapshot.
type job struct {
	payload  *Payload
	memory   map[string]*shared.Buffer
	response chan Result
}

// Isolate is one spawned worker: a fresh goja runtime on its own
// goroutine, created from a generated entry source. It serves one job at
// a time (the pool's busy flag enforces this).
type Isolate struct {
	id      string
	path    string // generated entry file
	origin  string // module path the entry was generated from
	runtime *goja.Runtime
	loop    *builtin.EventLoop
	handler goja.Callable
	defers  []func()

	jobs chan *job
	quit chan struct{}
	done chan struct{}
	once sync.Once

	// worker-side hydration state, touched only on the isolate goroutine
	memory          map[string]*shared.Buffer
	pending         []func()
	snapshotApplied bool
}

//#region Host implementation

func (i *Isolate) Runtime() *goja.Runtime {
	return i.runtime
}

func (i *Isolate) EventLoop() *builtin.EventLoop {
	return i.loop
}

func (i *Isolate) AddDefer(d func()) {
	i.defers = append(i.defers, d)
}

func (i *Isolate) Origin(path string) string {
	if path == i.path {
		return i.origin
	}
	return path
}

// Park queues a primitive rebind until the memory snapshot arrives.
// Returns false once the snapshot has been applied, at which point
// constructions bind immediately.
func (i *Isolate) Park(rebind func()) bool {
	if i.snapshotApplied {
		return false
	}
	i.pending = append(i.pending, rebind)
	return true
}

func (i *Isolate) IsMain() bool {
	return false
}

// CachedBuffer consults the worker-local hydration cache.
func (i *Isolate) CachedBuffer(key string) (*shared.Buffer, bool) {
	b, ok := i.memory[key]
	return b, ok
}

//#endregion

// newIsolate provisions a worker from a generated entry file. It blocks
// until the entry program finished executing (the module top level runs,
// $worker registers the job handler) and the isolate is ready for jobs.
func newIsolate(path string, source string, origin string) (*Isolate, error) {
	i := &Isolate{
		id:     util.CreateULID(),
		path:   path,
		origin: origin,
		loop:   builtin.NewEventLoop(),
		jobs:   make(chan *job, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		memory: make(map[string]*shared.Buffer),
	}

	program, err := goja.Compile(path, source, false)
	if err != nil {
		return nil, err
	}

	ready := make(chan error, 1)
	go i.run(program, ready)
	if err := <-ready; err != nil {
		i.Terminate()
		return nil, err
	}
	return i, nil
}

func (i *Isolate) run(program *goja.Program, ready chan<- error) {
	defer close(i.done)

	runtime := goja.New()
	runtime.SetFieldNameMapper(goja.UncapFieldNameMapper())
	runtime.SetMaxCallStackSize(2048)
	i.runtime = runtime

	builtin.Install(i)
	Install(i)
	installRequire(i)
	runtime.Set("$worker", func(fn goja.Value) {
		if callable, ok := goja.AssertFunction(fn); ok {
			i.handler = callable
		}
	})

	// 执行入口源码：模块顶层代码运行，$worker 注册任务处理器
	_, err := i.loop.Run(func() (goja.Value, error) {
		return runtime.RunProgram(program)
	})
	if err == nil && i.handler == nil {
		err = errors.New("the worker entry did not register a handler")
	}
	ready <- err
	if err != nil {
		return
	}
	i.loop.Reset()

	for {
		select {
		case <-i.quit:
			return
		case j := <-i.jobs:
			j.response <- i.serve(j)
			i.cleanDefers()
			i.loop.Reset()
		}
	}
}

// serve runs one job to its sealed outcome.
func (i *Isolate) serve(j *job) Result {
	i.applyMemory(j.memory)

	props, err := Materialize(i, j.payload)
	if err != nil {
		return Failure{Err: err}
	}

	value, err := i.loop.Run(func() (goja.Value, error) {
		return i.handler(goja.Undefined(), props)
	})
	if err != nil {
		return Failure{Err: unwrapException(err)}
	}

	// async 处理器返回 promise，事件循环排空后已经落定
	if object, ok := value.(*goja.Object); ok {
		if p, ok := object.Export().(*goja.Promise); ok {
			switch p.State() {
			case goja.PromiseStateFulfilled:
				value = p.Result()
			case goja.PromiseStateRejected:
				return Failure{Err: errors.New(p.Result().String())}
			default:
				return Failure{Err: errors.New("the worker job did not settle")}
			}
		}
	}

	// 返回值同样收集可转移对象，随响应转移所有权
	transferables := CollectTransferables(i, value)
	result, err := Capture(i, value)
	if err != nil {
		return Failure{Err: err}
	}
	if err := detachTransferables(transferables); err != nil {
		return Failure{Err: err}
	}
	return Success{Value: result}
}

// applyMemory feeds the registry snapshot into the hydration cache and
// completes the parked primitive constructions.
func (i *Isolate) applyMemory(memory map[string]*shared.Buffer) {
	for key, buffer := range memory {
		if _, ok := i.memory[key]; !ok {
			i.memory[key] = buffer
		}
	}
	i.snapshotApplied = true
	pending := i.pending
	i.pending = nil
	for _, rebind := range pending {
		rebind()
	}
}

func (i *Isolate) cleanDefers() {
	for _, d := range i.defers {
		d()
	}
	i.defers = nil
}

// execute submits a job and awaits its outcome, failing with a
// terminated-worker error if the isolate dies first.
func (i *Isolate) execute(j *job) Result {
	select {
	case i.jobs <- j:
	case <-i.done:
		return Failure{Err: errTerminated}
	}
	select {
	case r := <-j.response:
		return r
	case <-i.done:
		// 终止与响应可能同时就绪，优先取响应
		select {
		case r := <-j.response:
			return r
		default:
			return Failure{Err: errTerminated}
		}
	}
}

// Terminate shuts the isolate down. Safe to call more than once and
// from any goroutine.
func (i *Isolate) Terminate() {
	i.once.Do(func() {
		close(i.quit)
		if i.runtime != nil {
			i.runtime.Interrupt(errTerminated.Error())
		}
		i.loop.Interrupt()
	})
}

func unwrapException(err error) error {
	if exception, ok := err.(*goja.Exception); ok {
		return errors.New(exception.Error())
	}
	return err
}

//#region require

// installRequire wires a file-based CommonJS require into a worker
// isolate. Top-level ids resolve against the module the entry was
// generated from, so relative specifiers inside the user closure keep
// working even though the entry itself lives under the workers
// directory.
func installRequire(i *Isolate) {
	i.runtime.Set("require", NewModuleLoader(i, filepath.Dir(i.origin)))
}

// NewModuleLoader builds a CommonJS require rooted at a directory:
// absolute ids load as-is, relative ids resolve against the requiring
// module, bare ids resolve under node_modules beside the requiring module
// (beside the root for top-level calls). Loaded
// modules are cached per runtime; cycles resolve to the partial exports.
func NewModuleLoader(host Host, root string) func(id string) (goja.Value, error) {
	modules := map[string]goja.Value{}
	runtime := host.Runtime()

	var load func(from string, id string) (goja.Value, error)
	load = func(from string, id string) (goja.Value, error) {
		path, err := resolveModule(from, id)
		if err != nil {
			return nil, err
		}
		if exports, ok := modules[path]; ok {
			return exports, nil
		}

		source, err := LoadSource(path)
		if err != nil {
			return nil, err
		}
		text := source.Text
		if idx := strings.Index(text, injectionMarker); idx >= 0 {
			text = text[:idx]
		}

		wrapped := text
		if !strings.HasPrefix(text, ModuleWrapperPrefix) { // 镜像文件已经带了包装
			wrapped = WrapModule(text)
		}
		program, err := goja.Compile(path, wrapped, false)
		if err != nil {
			return nil, err
		}
		entry, err := runtime.RunProgram(program)
		if err != nil {
			return nil, err
		}
		function, ok := goja.AssertFunction(entry)
		if !ok {
			return nil, errors.New("module entry is not a function")
		}

		exports := runtime.NewObject()
		module := runtime.NewObject()
		module.Set("exports", exports)
		modules[path] = exports // 先占位，容忍模块间的循环引用

		dir := filepath.Dir(path)
		require := runtime.ToValue(func(id string) (goja.Value, error) {
			return load(dir, id)
		})
		if _, err := function(exports, exports, require, module); err != nil {
			delete(modules, path)
			return nil, err
		}

		final := module.Get("exports")
		modules[path] = final
		return final, nil
	}

	return func(id string) (goja.Value, error) {
		return load(root, id)
	}
}

// resolveModule maps a specifier to an existing file, probing the bare
// path, then the .ts and .js extensions.
func resolveModule(from string, id string) (string, error) {
	var base string
	switch {
	case filepath.IsAbs(id):
		base = id
	case strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../"):
		base = filepath.Join(from, id)
	default:
		base = filepath.Join(from, "node_modules", id)
	}
	for _, candidate := range []string{base, base + ".ts", base + ".js"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.New("module is not found: " + id)
}

//#endregion
