package spawn

import (
	"github.com/dop251/goja"

	"weave/internal/shared"
)

// Install wires the spawn surface into a host runtime: the spawn
// builtin, the hidden dispatch entry, the shared primitive constructors
// and the codec helpers. Both pooled caller workers and spawned isolates
// go through here, so workers can spawn recursively.
func Install(host Host) {
	runtime := host.Runtime()

	installCodec(runtime)

	runtime.Set("isMainThread", host.IsMain())

	// spawn performs the static part synchronously (call-site
	// resolution, scope analysis) and returns the bridge expression; the
	// caller evaluates it in place with eval so the name:name pairs see
	// its local bindings:
	//
	//	const result = await eval(spawn(() => heavy(data)))
	runtime.Set("spawn", func(call goja.FunctionCall) goja.Value {
		site, err := Locate(runtime)
		if err != nil {
			panic(runtime.NewGoError(err))
		}
		analysis, err := Analyze(site)
		if err != nil {
			panic(runtime.NewGoError(err))
		}
		return runtime.ToValue(EmitBridge(analysis, site))
	})

	runtime.Set(dispatchName, dispatchEntry(host))

	runtime.Set("shutdown", func() {
		Shutdown()
	})

	runtime.Set("SharedBuffer", func(call goja.ConstructorCall) *goja.Object {
		size := int(call.Argument(0).ToInteger())
		instance := runtime.ToValue(&SharedBuffer{
			host:   host,
			buffer: shared.NewBuffer(size),
		}).(*goja.Object)
		instance.SetPrototype(call.This.Prototype())
		return instance
	})

	runtime.Set("Mutex", func(call goja.ConstructorCall) *goja.Object {
		var data *shared.Buffer
		argument := call.Argument(0)
		if !goja.IsUndefined(argument) && !goja.IsNull(argument) {
			if object, ok := argument.(*goja.Object); ok {
				buffer, ok := object.Export().(*SharedBuffer)
				if !ok {
					panic(runtime.NewTypeError("invalid argument, not a SharedBuffer or size"))
				}
				data = buffer.buffer
			} else {
				data = shared.NewBuffer(int(argument.ToInteger()))
			}
		}
		instance := runtime.ToValue(&Mutex{
			host:  host,
			inner: shared.NewMutex(data),
		}).(*goja.Object)
		instance.SetPrototype(call.This.Prototype())
		return instance
	})

	runtime.Set("Semaphore", func(call goja.ConstructorCall) *goja.Object {
		var inner *shared.Semaphore
		argument := call.Argument(0)
		if object, ok := argument.(*goja.Object); ok {
			buffer, ok := object.Export().(*SharedBuffer)
			if !ok {
				panic(runtime.NewTypeError("invalid argument, not a SharedBuffer or permit count"))
			}
			inner = shared.NewSemaphoreFromBuffer(buffer.buffer)
		} else {
			inner = shared.NewSemaphore(int32(argument.ToInteger()))
		}
		instance := runtime.ToValue(&Semaphore{
			host:  host,
			inner: inner,
		}).(*goja.Object)
		instance.SetPrototype(call.This.Prototype())
		return instance
	})

	runtime.Set("Global", func(call goja.FunctionCall) goja.Value {
		return globalize(host, call)
	})
}
