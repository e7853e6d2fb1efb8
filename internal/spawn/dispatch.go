package spawn

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"weave/internal/shared"
)

// dispatchEntry receives the evaluated bridge: the raw capture object,
// the top-level candidate names, the user function source, the caller
// path and the call-site key. It filters the capture, routes the job to
// a pooled worker and resolves to the user function's return value.
func dispatchEntry(host Host) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		runtime := host.Runtime()

		props := call.Argument(0).ToObject(runtime)
		topLevels := exportNames(call.Argument(1))
		fnSource := call.Argument(2).String()
		callerPath := call.Argument(3).String()
		siteKey := call.Argument(4).String()

		// 1. filter the top-level candidates: location-keyed primitives
		// rematerialize from the registry, non-replicable values are
		// visible through the module's own execution on the worker
		dropped := map[string]bool{}
		for _, name := range topLevels {
			value := props.Get(name)
			if isLocationKeyed(value) {
				dropped[name] = true
				continue
			}
			if !IsClonable(host, value) {
				dropped[name] = true
			}
		}

		var names []string
		for _, name := range props.Keys() {
			if !dropped[name] {
				names = append(names, name)
			}
		}
		sort.Strings(names)

		// 2. the signature identifies a reusable worker binary: the
		// generated entry depends only on the call site and these names
		signature := siteKey + "|" + strings.Join(names, ",")

		promise, resolve, reject := runtime.NewPromise()

		// 3. collect the transferables reachable from the surviving props:
		// non-shared buffers move with the message instead of copying
		survivors := make([]interface{}, len(names))
		for i, name := range names {
			survivors[i] = props.Get(name)
		}
		transferables := CollectTransferables(host, runtime.NewArray(survivors...))

		// serialize on the caller's thread, before anything runs off-loop
		payload, err := CaptureObject(host, props, names)
		if err != nil {
			reject(runtime.NewGoError(err))
			return runtime.ToValue(promise)
		}
		memory := shared.Snapshot()

		// posting the message: the sender's buffer objects neuter here,
		// the manifest inside the payload is now the only owner
		if err := detachTransferables(transferables); err != nil {
			reject(runtime.NewGoError(err))
			return runtime.ToValue(promise)
		}
		origin := host.Origin(callerPath)

		trigger := host.EventLoop().NewEventTaskTrigger()
		go func() {
			entry, err := acquire(signature, func() (*Isolate, string, error) {
				path, source, err := generateEntry(callerPath, fnSource, names, signature)
				if err != nil {
					return nil, "", err
				}
				isolate, err := newIsolate(path, source, origin)
				return isolate, path, err
			})
			if err != nil {
				trigger.AddTask(func() {
					reject(runtime.NewGoError(err))
					trigger.Cancel()
				})
				return
			}

			result := entry.isolate.execute(&job{
				payload:  payload,
				memory:   memory,
				response: make(chan Result, 1),
			})
			release(entry)

			trigger.AddTask(func() {
				switch r := result.(type) {
				case Failure:
					reject(runtime.NewGoError(r.Err))
				case Success:
					value, err := Materialize(host, r.Value)
					if err != nil {
						reject(runtime.NewGoError(err))
					} else {
						resolve(value)
					}
				}
				trigger.Cancel()
			})
		}()

		return runtime.ToValue(promise)
	}
}

// isLocationKeyed reports whether the value is a shared primitive that
// went through Global: its state buffer carries a registry key, so the
// worker resolves it from the memory snapshot instead of the capture.
func isLocationKeyed(value goja.Value) bool {
	object, ok := value.(*goja.Object)
	if !ok {
		return false
	}
	switch e := object.Export().(type) {
	case *Mutex:
		return e.inner.State().Key() != ""
	case *Semaphore:
		return e.inner.State().Key() != ""
	case *SharedBuffer:
		return e.buffer.Key() != ""
	}
	return false
}

func exportNames(value goja.Value) []string {
	var names []string
	if object, ok := value.(*goja.Object); ok {
		length := int(object.Get("length").ToInteger())
		for i := 0; i < length; i++ {
			names = append(names, object.Get(strconv.Itoa(i)).String())
		}
	}
	return names
}
