package builtin

import "github.com/dop251/goja"

// Builtins are installed into every runtime weave creates: pooled caller
// workers and spawned isolates alike. Each entry registers its globals
// on the worker's runtime.
var Builtins []func(worker Worker)

// Worker is the least surface a builtin needs from its host isolate.
type Worker interface {
	Runtime() *goja.Runtime
	EventLoop() *EventLoop
	AddDefer(d func())
}

func Install(worker Worker) {
	for _, register := range Builtins {
		register(worker)
	}
}
