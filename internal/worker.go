package internal

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"

	"weave/internal/builtin"
	"weave/internal/config"
	m "weave/internal/module"
	"weave/internal/spawn"
)

// Worker is one pooled caller isolate. Its scripts come from the source
// store (mirrored to disk so spawn can resolve call sites) or, in
// run-file mode, straight from the filesystem.
type Worker struct {
	id          int
	runtime     *goja.Runtime
	function    goja.Callable
	defers      []func()
	loop        *builtin.EventLoop
	fileRequire func(id string) (goja.Value, error) // 磁盘模块加载，用于 run-file 模式和绝对路径
	err         error // 中断异常
}

func (w *Worker) Run(params ...goja.Value) (goja.Value, error) {
	return w.loop.Run(func() (goja.Value, error) {
		val, err := w.function(nil, params...)
		if w.err != nil { // 优先返回 interrupt 的中断信息
			return val, w.err
		}
		return val, err
	})
}

// RunScript executes an on-disk script file directly (run-file mode).
// The absolute path doubles as the program name, so spawn call sites
// inside the script resolve to the file itself.
func (w *Worker) RunScript(file string) (goja.Value, error) {
	source, err := spawn.LoadSource(file)
	if err != nil {
		return nil, err
	}
	program, err := goja.Compile(file, source.Text, false)
	if err != nil {
		return nil, err
	}
	return w.loop.Run(func() (goja.Value, error) {
		val, err := w.runtime.RunProgram(program)
		if w.err != nil {
			return val, w.err
		}
		return val, err
	})
}

func (w *Worker) Id() int {
	return w.id
}

func (w *Worker) Runtime() *goja.Runtime {
	return w.runtime
}

func (w *Worker) EventLoop() *builtin.EventLoop {
	return w.loop
}

// Origin is the identity on the caller side: main-thread scripts run
// from their real paths.
func (w *Worker) Origin(path string) string {
	return path
}

func (w *Worker) IsMain() bool {
	return true
}

func (w *Worker) AddDefer(d func()) {
	w.defers = append(w.defers, d)
}

func (w *Worker) CleanDefers() {
	if len(w.defers) == 0 {
		return
	}

	for _, d := range w.defers {
		d()
	}

	w.defers = make([]func(), 0)
}

func (w *Worker) Interrupt(reason string) {
	// 中断事件循环
	w.loop.Interrupt()

	// 发送中断信号
	w.runtime.Interrupt(reason)

	// 记录中断异常
	w.err = errors.New(reason)

	// 清理句柄，防止阻塞导致中断信号无法被触发
	w.CleanDefers()
}

func (w *Worker) Reset() {
	// 清理句柄
	w.CleanDefers()

	// 清理中断信号
	w.runtime.ClearInterrupt()

	// 清理中断异常
	w.err = nil

	// 重置事件循环
	w.loop.Reset()
}

func CreateWorker(program *goja.Program, id int) *Worker {
	runtime := goja.New()

	entry, err := runtime.RunProgram(program) // 这里使用 RunProgram，可复用已编译的代码，相比直接调用 RunString 更显著提升性能
	if err != nil {
		panic(err)
	}
	function, ok := goja.AssertFunction(entry)
	if !ok {
		panic("program is not a function")
	}

	worker := Worker{id: id, runtime: runtime, function: function, defers: make([]func(), 0), loop: builtin.NewEventLoop()}

	fileRoot, _ := os.Getwd()
	if config.File != "" {
		if abs, err := filepath.Abs(config.File); err == nil {
			fileRoot = filepath.Dir(abs)
		}
	}
	worker.fileRequire = spawn.NewModuleLoader(&worker, fileRoot)

	runtime.Set("require", func(id string) (goja.Value, error) {
		if filepath.IsAbs(id) || (config.File != "" && (strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../"))) {
			return worker.fileRequire(id)
		}

		program := Cache.Modules[id]
		if program == nil { // 如果缓存不存在，则查询数据库
			// 获取名称、类型
			var name, stype string
			if strings.HasPrefix(id, "./controller/") {
				name, stype = id[13:], "controller"
			} else if strings.HasPrefix(id, "./crontab/") {
				name, stype = id[10:], "crontab"
			} else if strings.HasPrefix(id, "./") {
				name, stype = path.Clean(id[2:]), "module"
			} else { // 如果没有 "./" 前缀，则视为 node_modules
				name, stype = "node_modules/"+id, "module"
			}

			// 根据名称查找源码
			var src string
			if err := Db.QueryRow("select compiled from source where name = ? and type = ? and active = true", name, stype).Scan(&src); err != nil {
				return nil, err
			}

			// 编译。程序名使用磁盘镜像的绝对路径，使 spawn 能在镜像文件中解析调用位置
			mirror := MirrorPath(stype, name)
			parsed, err := goja.Parse(
				mirror,
				spawn.WrapModule(src),
				parser.WithSourceMapLoader(func(p string) ([]byte, error) {
					return []byte(src), nil
				}),
			)
			if err != nil {
				return nil, err
			}
			program, err = goja.CompileAST(parsed, false)
			if err != nil {
				return nil, err
			}

			// 缓存当前 module 的 program
			// 这里不应该直接缓存 module，因为 module 依赖当前 vm 实例，在开启多个 vm 实例池的情况下，调用会错乱
			Cache.Modules[id] = program
		}

		exports := runtime.NewObject()
		module := runtime.NewObject()
		module.Set("exports", exports)

		// 运行
		entry, err := runtime.RunProgram(program)
		if err != nil {
			return nil, err
		}
		if function, ok := goja.AssertFunction(entry); ok {
			_, err = function(
				exports,                // this
				exports,                // exports
				runtime.Get("require"), // require
				module,                 // module
			)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, errors.New("entry is not a function")
		}

		return module.Get("exports"), nil
	})

	runtime.Set("exports", runtime.NewObject())

	runtime.SetFieldNameMapper(goja.UncapFieldNameMapper()) // 该转换器会将 go 对象中的属性、方法以小驼峰式命名规则映射到 js 对象中

	runtime.Set("$native", func(name string) (interface{}, error) {
		factory, ok := m.Factories[name]
		if ok {
			return factory(&worker, Db), nil
		}
		return nil, errors.New("module is not found: " + name)
	})

	builtin.Install(&worker)
	spawn.Install(&worker)

	runtime.SetMaxCallStackSize(2048)

	return &worker
}
