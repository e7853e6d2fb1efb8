package spawn

import (
	"github.com/dop251/goja"

	"weave/internal/builtin"
)

// Host is an isolate the spawn machinery can live in: a pooled caller
// worker on the main side, or a spawned worker isolate. All methods are
// called from the goroutine owning the host's runtime.
type Host interface {
	Runtime() *goja.Runtime
	EventLoop() *builtin.EventLoop
	AddDefer(d func())

	// Origin translates a stack-frame source path to the logical module
	// path used in location keys. On the main side this is the identity;
	// a worker isolate maps its generated entry file back to the module
	// it was generated from, so keys agree across isolates.
	Origin(path string) string

	// IsMain distinguishes caller isolates from spawned workers. Scripts
	// see it as the isMainThread global and use it to keep module-scope
	// side effects from re-running when a worker re-executes the module.
	IsMain() bool
}

// parking is implemented by worker isolates: primitives constructed
// before the memory snapshot arrives park a reconciliation thunk instead
// of binding immediately.
type parking interface {
	Park(rebind func()) bool
}
