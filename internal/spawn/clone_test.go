package spawn

import (
	"testing"

	"github.com/dop251/goja"

	"weave/internal/builtin"
)

// testHost is a bare caller isolate for exercising the capture pipeline
// without the server around it.
type testHost struct {
	runtime *goja.Runtime
	loop    *builtin.EventLoop
	defers  []func()
}

func newTestHost() *testHost {
	h := &testHost{
		runtime: goja.New(),
		loop:    builtin.NewEventLoop(),
	}
	h.runtime.SetFieldNameMapper(goja.UncapFieldNameMapper())
	builtin.Install(h)
	Install(h)
	return h
}

func (h *testHost) Runtime() *goja.Runtime { return h.runtime }

func (h *testHost) EventLoop() *builtin.EventLoop { return h.loop }

func (h *testHost) AddDefer(d func()) { h.defers = append(h.defers, d) }

func (h *testHost) Origin(path string) string { return path }

func (h *testHost) IsMain() bool { return true }

func (h *testHost) eval(t *testing.T, src string) goja.Value {
	t.Helper()
	value, err := h.runtime.RunString(src)
	if err != nil {
		t.Fatal(err)
	}
	return value
}


func TestCaptureRoundTrip(t *testing.T) {
	caller := newTestHost()
	worker := newTestHost()

	value := caller.eval(t, `({
		n: 123.45,
		i: 7,
		s: "Hi",
		ok: true,
		none: null,
		m: new Map([["a", 10]]),
		set: new Set(["x"]),
		arr: [1, 2, 3, { deep: true }],
		d: new Date(1700000000000),
		bytes: new Uint8Array([1, 2, 250]),
	})`)

	captured, err := Capture(caller, value)
	if err != nil {
		t.Fatal(err)
	}
	if captured.Transfers() != 1 { // bytes 的底层 buffer 进转移清单
		t.Fatalf("expected 1 manifest entry, got %d", captured.Transfers())
	}
	out, err := Materialize(worker, captured)
	if err != nil {
		t.Fatal(err)
	}
	worker.runtime.Set("r", out)

	checks := []string{
		`r.n === 123.45`,
		`r.i === 7`,
		`r.s === "Hi"`,
		`r.ok === true`,
		`r.none === null`,
		`r.m instanceof Map && r.m.get("a") === 10 && r.m.size === 1`,
		`r.set instanceof Set && r.set.has("x") && r.set.size === 1`,
		`Array.isArray(r.arr) && r.arr.length === 4 && r.arr[3].deep === true`,
		`r.d instanceof Date && r.d.getTime() === 1700000000000`,
		`r.bytes instanceof Uint8Array && r.bytes.length === 3 && r.bytes[2] === 250`,
	}
	for _, check := range checks {
		if !worker.eval(t, check).ToBoolean() {
			t.Fatal("round trip failed: " + check)
		}
	}

	// 深拷贝：worker 侧修改不影响 caller
	caller.runtime.Set("orig", value)
	worker.eval(t, `r.m.set("a", 99)`)
	if !caller.eval(t, `orig.m.get("a") === 10`).ToBoolean() {
		t.Fatal("the map was not deep copied")
	}
}

func TestCaptureCycle(t *testing.T) {
	caller := newTestHost()
	worker := newTestHost()

	value := caller.eval(t, `(() => { const o = { name: "loop" }; o.self = o; return o; })()`)
	captured, err := Capture(caller, value)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Materialize(worker, captured)
	if err != nil {
		t.Fatal(err)
	}
	worker.runtime.Set("r", out)
	if !worker.eval(t, `r.self === r && r.name === "loop"`).ToBoolean() {
		t.Fatal("cycle identity lost")
	}
}

func TestCaptureRejectsNonClonables(t *testing.T) {
	h := newTestHost()

	for _, src := range []string{
		`(() => 1)`,
		`Symbol("x")`,
		`Promise.resolve(1)`,
	} {
		if IsClonable(h, h.eval(t, src)) {
			t.Fatal("expected non-clonable: " + src)
		}
	}

	for _, src := range []string{
		`42`, `"s"`, `null`, `undefined`, `[1, [2]]`, `({a: {b: 1}})`, `new ArrayBuffer(4)`,
	} {
		if !IsClonable(h, h.eval(t, src)) {
			t.Fatal("expected clonable: " + src)
		}
	}
}

func TestSharedBufferIdentityAcrossCapture(t *testing.T) {
	caller := newTestHost()
	worker := newTestHost()

	value := caller.eval(t, `({ buf: new SharedBuffer(4) })`)
	captured, err := Capture(caller, value)
	if err != nil {
		t.Fatal(err)
	}
	if captured.Transfers() != 0 { // 共享内存不进转移清单
		t.Fatalf("expected no manifest entries, got %d", captured.Transfers())
	}
	out, err := Materialize(worker, captured)
	if err != nil {
		t.Fatal(err)
	}
	worker.runtime.Set("r", out)
	worker.eval(t, `r.buf.set(0, 42)`)

	callerBuffer := value.(*goja.Object).Get("buf").Export().(*SharedBuffer)
	if b, _ := callerBuffer.Get(0); b != 42 {
		t.Fatal("shared buffer identity lost across capture")
	}
}

func TestMutexShadowRehydration(t *testing.T) {
	caller := newTestHost()
	worker := newTestHost()

	value := caller.eval(t, `new Mutex(new SharedBuffer(4))`)
	captured, err := Capture(caller, value)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Materialize(worker, captured)
	if err != nil {
		t.Fatal(err)
	}

	original := value.Export().(*Mutex)
	shadow := out.Export().(*Mutex)
	if !original.inner.TryLock() {
		t.Fatal("lock should succeed")
	}
	if shadow.inner.TryLock() {
		t.Fatal("the rehydrated mutex must share the state word")
	}
	original.inner.Unlock()
}

func TestDetachAtPostTime(t *testing.T) {
	caller := newTestHost()
	worker := newTestHost()

	value := caller.eval(t, `({ buf: new Uint8Array([9, 8, 7]).buffer })`)
	payload, err := Capture(caller, value)
	if err != nil {
		t.Fatal(err)
	}

	// 捕获本身无副作用，试克隆不会使 buffer 失效
	buffer := value.(*goja.Object).Get("buf").Export().(goja.ArrayBuffer)
	if buffer.Detached() {
		t.Fatal("capture alone must not detach")
	}

	transferables := CollectTransferables(caller, value)
	if err := detachTransferables(transferables); err != nil {
		t.Fatal(err)
	}
	if !buffer.Detached() {
		t.Fatal("the sender buffer must neuter at post time")
	}

	// 接收方独占底层存储
	out, err := Materialize(worker, payload)
	if err != nil {
		t.Fatal(err)
	}
	worker.runtime.Set("r", out)
	if !worker.eval(t, `new Uint8Array(r.buf)[0] === 9 && r.buf.byteLength === 3`).ToBoolean() {
		t.Fatal("the moved store did not arrive intact")
	}
}

func TestCollectTransferables(t *testing.T) {
	h := newTestHost()

	value := h.eval(t, `(() => {
		const plain = new ArrayBuffer(4);
		const view = new Uint8Array(8);
		const shared = new SharedBuffer(4);
		return { plain, view, shared, nested: [plain] };
	})()`)

	transfers := CollectTransferables(h, value)
	if len(transfers) != 2 { // plain 去重后一次，view 的 backing buffer 一次
		t.Fatalf("expected 2 transferables, got %d", len(transfers))
	}

	// 对自身输出幂等
	h.runtime.Set("found", h.runtime.NewArray(transfers[0], transfers[1]))
	again := CollectTransferables(h, h.runtime.Get("found"))
	if len(again) != 2 {
		t.Fatalf("transferable walk is not idempotent, got %d", len(again))
	}
}
