package spawn

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dop251/goja"
)

// runScript executes a script file on a test host the way run-file mode
// does, drains the event loop and unwraps the script's trailing promise.
// Scripts guard their spawning block with isMainThread and end with a
// bare `main;` so the program completion value is the block's promise.
func runScript(t *testing.T, h *testHost, text string) interface{} {
	t.Helper()

	path := writeScript(t, "main.ts", text)
	source, err := LoadSource(path)
	if err != nil {
		t.Fatal(err)
	}
	program, err := goja.Compile(path, source.Text, false)
	if err != nil {
		t.Fatal(err)
	}

	value, err := h.loop.Run(func() (goja.Value, error) {
		return h.runtime.RunProgram(program)
	})
	h.loop.Reset()
	if err != nil {
		t.Fatal(err)
	}

	if object, ok := value.(*goja.Object); ok {
		if p, ok := object.Export().(*goja.Promise); ok {
			switch p.State() {
			case goja.PromiseStateFulfilled:
				return p.Result().Export()
			case goja.PromiseStateRejected:
				t.Fatal("script rejected: " + p.Result().String())
			default:
				t.Fatal("script did not settle")
			}
		}
	}
	return value.Export()
}

func withWorkersDir(t *testing.T) {
	t.Helper()
	WorkersDir = filepath.Join(t.TempDir(), ".workers")
	t.Cleanup(Shutdown)
}

func TestSpawnDeepCloneRoundTrip(t *testing.T) {
	withWorkersDir(t)
	h := newTestHost()

	result := runScript(t, h, `const payload = {
	n: 123.45,
	s: "Hi",
	m: new Map([["a", 10]]),
	set: new Set(["x"]),
	arr: [1, 2, 3, { deep: true }],
};
const buf = new SharedBuffer(4);
const main = isMainThread ? (async () => {
	const greeting = await eval(spawn(() => {
		if (payload.n !== 123.45) throw new Error("n was mangled");
		if (payload.s !== "Hi") throw new Error("s was mangled");
		if (payload.m.get("a") !== 10) throw new Error("m was mangled");
		if (!payload.set.has("x")) throw new Error("set was mangled");
		if (payload.arr[3].deep !== true) throw new Error("arr was mangled");
		payload.m.set("a", 99); // 拷贝件，修改不应传回
		buf.set(0, 42);
		return payload.s + "!";
	}));
	if (buf.get(0) !== 42) throw new Error("the shared buffer did not share");
	if (payload.m.get("a") !== 10) throw new Error("the map was not deep copied");
	return greeting;
})() : null;
main;
`)

	if result != "Hi!" {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestSpawnCrossIsolateMutex(t *testing.T) {
	withWorkersDir(t)
	h := newTestHost()

	result := runScript(t, h, `const L = Global(new Mutex(new SharedBuffer(4)));
const main = isMainThread ? (async () => {
	const guard = await L.lock();
	guard.data().set(0, 1);

	const job = eval(spawn(async () => {
		const g = await L.lock();
		const seen = g.data().get(0);
		g.data().set(0, 2);
		g.release();
		return seen;
	}));

	setTimeout(() => { guard.release(); }, 100);

	const seen = await job;
	if (seen !== 1) throw new Error("the worker acquired before the release");

	const again = await L.lock();
	const final = again.data().get(0);
	again.release();
	if (final !== 2) throw new Error("the worker write was lost");
	return "ok";
})() : null;
main;
`)

	if result != "ok" {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestSpawnNestedIdentity(t *testing.T) {
	withWorkersDir(t)
	h := newTestHost()

	result := runScript(t, h, `const B = Global(new SharedBuffer(4));
const main = isMainThread ? (async () => {
	const inner = await eval(spawn(async () => {
		B.store32(0, 200);
		const verified = await eval(spawn(() => {
			if (B.load32(0) !== 200) throw new Error("identity lost in the nested worker");
			B.store32(0, 300);
			return B.load32(0);
		}));
		return verified;
	}));
	if (inner !== 300) throw new Error("nested result lost");
	if (B.load32(0) !== 300) throw new Error("identity lost on the main side");
	return inner;
})() : null;
main;
`)

	if result != int64(300) {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestSpawnFiltersNonClonableTopLevels(t *testing.T) {
	withWorkersDir(t)
	h := newTestHost()

	result := runScript(t, h, `const helper = () => 7;
const num = 5;
const main = isMainThread ? (async () => {
	// helper 是模块顶层的函数绑定：从捕获中剔除，worker 通过模块自身执行看到它
	return await eval(spawn(() => helper() + num));
})() : null;
main;
`)

	if result != int64(12) {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestSpawnSignalGatedLock(t *testing.T) {
	withWorkersDir(t)
	h := newTestHost()

	result := runScript(t, h, `const L = Global(new Mutex(new SharedBuffer(4)));
const signal = Global(new SharedBuffer(4));
const main = isMainThread ? (async () => {
	const guard = await L.lock();

	const job = eval(spawn(async () => {
		signal.store32(0, 1);
		signal.notify32(0, -1);
		const g = await L.lock();
		g.data().set(0, 7);
		g.release();
		return true;
	}));

	if (signal.load32(0) === 0) {
		await signal.wait32(0, 0); // 等待 worker 就绪
	}
	guard.release();

	await job;
	const check = await L.lock();
	const v = check.data().get(0);
	check.release();
	if (v !== 7) throw new Error("the gated write was lost");
	return "ok";
})() : null;
main;
`)

	if result != "ok" {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestSpawnTransfersBuffers(t *testing.T) {
	withWorkersDir(t)
	h := newTestHost()

	result := runScript(t, h, `const main = isMainThread ? (async () => {
	const bytes = new Uint8Array([1, 2, 3]);
	const sum = await eval(spawn(() => bytes[0] + bytes[1] + bytes[2]));
	// buffer 的所有权随任务转移，发送方的视图随之失效
	return sum + "," + bytes.byteLength;
})() : null;
main;
`)

	if result != "6,0" {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestSpawnWorkerError(t *testing.T) {
	withWorkersDir(t)
	h := newTestHost()

	result := runScript(t, h, `const main = isMainThread ? (async () => {
	try {
		await eval(spawn(() => { throw new Error("boom"); }));
		return "no error";
	} catch (e) {
		return String(e).includes("boom") ? "caught" : "wrong error: " + e;
	}
})() : null;
main;
`)

	if result != "caught" {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestSpawnIdleEviction(t *testing.T) {
	withWorkersDir(t)
	previous := IdleTimeout
	IdleTimeout = 150 * time.Millisecond
	t.Cleanup(func() { IdleTimeout = previous })

	h := newTestHost()

	runScript(t, h, `const main = isMainThread ? (async () => eval(spawn(() => 1)))() : null;
main;
`)
	if ActiveWorkers() != 1 {
		t.Fatalf("expected one live worker, got %d", ActiveWorkers())
	}

	deadline := time.Now().Add(3 * time.Second)
	for ActiveWorkers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("the idle worker was not evicted")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// 再次 spawn 会创建新的 worker
	runScript(t, h, `const main = isMainThread ? (async () => eval(spawn(() => 2)))() : null;
main;
`)
	if ActiveWorkers() != 1 {
		t.Fatalf("expected a fresh worker, got %d", ActiveWorkers())
	}
}

func TestSpawnPoolReuseAndShutdown(t *testing.T) {
	withWorkersDir(t)
	h := newTestHost()

	// 串行任务复用同一个 worker，池不增长
	runScript(t, h, `const main = isMainThread ? (async () => {
	for (let i = 0; i < 3; i++) {
		await eval(spawn(() => 0));
	}
	return true;
})() : null;
main;
`)
	if ActiveWorkers() != 1 {
		t.Fatalf("sequential jobs must reuse one worker, got %d", ActiveWorkers())
	}

	Shutdown()
	if ActiveWorkers() != 0 {
		t.Fatalf("expected an empty pool after shutdown, got %d", ActiveWorkers())
	}
}
