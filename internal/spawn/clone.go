package spawn

import (
	"errors"
	"strconv"
	"time"

	"github.com/dop251/goja"

	"weave/internal/shared"
)

// The capture payload travels between isolates as a runtime-independent
// tree: goja values cannot cross runtimes, so the caller serializes into
// nodes on its own thread and the worker materializes on its own.
// ArrayBuffer backing stores are moved, not copied (the transferable
// set); shared buffers and primitive shadows keep pointer identity.

type kind int

const (
	kUndefined kind = iota
	kNull
	kBool
	kInt
	kFloat
	kString
	kBytes // ArrayBuffer, backing store moved through the manifest
	kView  // typed array or DataView over a kBytes node
	kDate
	kArray
	kObject
	kMap
	kSet
	kShared // shared.Buffer, identity preserved
	kShadow // serialized shell of a registered primitive class
	kRef    // back reference into the graph
)

type viewNode struct {
	ctor   string
	buffer *node
	offset int
	length int
}

type shadowNode struct {
	class string // "Mutex" | "Semaphore"
	state *shared.Buffer
	data  *shared.Buffer
}

type node struct {
	kind     kind
	id       int // >0 when the node is the target of a kRef
	b        bool
	i        int64
	f        float64
	s        string
	transfer int // kBytes: index into the payload's transfer manifest
	view     *viewNode
	t        time.Time
	elems    []*node
	keys     []string
	entries  [][2]*node
	shared   *shared.Buffer
	shadow   *shadowNode
	ref      int
}

// Payload is one serialized message body: the value tree plus the
// transferable manifest, the ArrayBuffer backing stores that move with
// the message. kBytes nodes reference manifest entries by index; the
// sender neuters its own buffer objects at post time, so the receiver
// becomes the sole owner of each store.
type Payload struct {
	root      *node
	transfers [][]byte
}

// Transfers is the number of backing stores moved with the payload.
func (p *Payload) Transfers() int {
	return len(p.transfers)
}

//#region codec helpers

// A small compiled snippet gives Go access to Map/Set/Date construction
// and typed-view introspection, which goja does not expose directly.
const codecSource = `({
	isMap: v => v instanceof Map,
	isSet: v => v instanceof Set,
	mapEntries: m => { const out = []; m.forEach((v, k) => out.push([k, v])); return out; },
	setValues: s => { const out = []; s.forEach(v => out.push(v)); return out; },
	newMap: () => new Map(),
	mapSet: (m, k, v) => { m.set(k, v); },
	newSet: () => new Set(),
	setAdd: (s, v) => { s.add(v); },
	newDate: t => new Date(t),
	newView: (ctor, buffer, offset, length) => new globalThis[ctor](buffer, offset, length),
	viewInfo: v => ({ ctor: v.constructor.name, offset: v.byteOffset, length: v.length !== undefined ? v.length : v.byteLength }),
})`

var codecProgram = func() *goja.Program {
	return goja.MustCompile("weave:codec", codecSource, false)
}()

type codec struct {
	runtime    *goja.Runtime
	object     *goja.Object
	isMap      goja.Callable
	isSet      goja.Callable
	mapEntries goja.Callable
	setValues  goja.Callable
	newMap     goja.Callable
	mapSet     goja.Callable
	newSet     goja.Callable
	setAdd     goja.Callable
	newDate    goja.Callable
	newView    goja.Callable
	viewInfo   goja.Callable
}

func installCodec(runtime *goja.Runtime) {
	value, err := runtime.RunProgram(codecProgram)
	if err != nil {
		panic(err)
	}
	runtime.Set("$codec", value)
}

func getCodec(runtime *goja.Runtime) (*codec, error) {
	o, ok := runtime.Get("$codec").(*goja.Object)
	if !ok {
		return nil, errors.New("codec helpers are not installed")
	}
	c := &codec{runtime: runtime, object: o}
	for name, target := range map[string]*goja.Callable{
		"isMap":      &c.isMap,
		"isSet":      &c.isSet,
		"mapEntries": &c.mapEntries,
		"setValues":  &c.setValues,
		"newMap":     &c.newMap,
		"mapSet":     &c.mapSet,
		"newSet":     &c.newSet,
		"setAdd":     &c.setAdd,
		"newDate":    &c.newDate,
		"newView":    &c.newView,
		"viewInfo":   &c.viewInfo,
	} {
		fn, ok := goja.AssertFunction(o.Get(name))
		if !ok {
			return nil, errors.New("codec helper " + name + " is not a function")
		}
		*target = fn
	}
	return c, nil
}

func (c *codec) call(fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	return fn(goja.Undefined(), args...)
}

func (c *codec) is(fn goja.Callable, v goja.Value) bool {
	r, err := c.call(fn, v)
	return err == nil && r.ToBoolean()
}

//#endregion

//#region capture

var typedViewCtors = map[string]bool{
	"Int8Array": true, "Uint8Array": true, "Uint8ClampedArray": true,
	"Int16Array": true, "Uint16Array": true,
	"Int32Array": true, "Uint32Array": true,
	"Float32Array": true, "Float64Array": true,
	"BigInt64Array": true, "BigUint64Array": true,
	"DataView": true,
}

type capturer struct {
	host      Host
	codec     *codec
	seen      map[*goja.Object]*node
	transfers [][]byte
	next      int
}

// Capture serializes a goja value graph into a payload. It must run on
// the goroutine owning the value's runtime. Capturing alone moves
// nothing: the sender's buffers stay intact until detachTransferables
// runs at post time, so a trial capture is side-effect free.
func Capture(host Host, value goja.Value) (*Payload, error) {
	c, err := getCodec(host.Runtime())
	if err != nil {
		return nil, err
	}
	cc := &capturer{host: host, codec: c, seen: map[*goja.Object]*node{}}
	root, err := cc.capture(value)
	if err != nil {
		return nil, err
	}
	return &Payload{root: root, transfers: cc.transfers}, nil
}

// CaptureObject serializes the named properties of an object, used by
// the dispatch entry after capture filtering.
func CaptureObject(host Host, object *goja.Object, names []string) (*Payload, error) {
	c, err := getCodec(host.Runtime())
	if err != nil {
		return nil, err
	}
	cc := &capturer{host: host, codec: c, seen: map[*goja.Object]*node{}}
	n := &node{kind: kObject}
	for _, name := range names {
		child, err := cc.capture(object.Get(name))
		if err != nil {
			return nil, err
		}
		n.keys = append(n.keys, name)
		n.elems = append(n.elems, child)
	}
	return &Payload{root: n, transfers: cc.transfers}, nil
}

func (c *capturer) capture(value goja.Value) (*node, error) {
	if value == nil || goja.IsUndefined(value) {
		return &node{kind: kUndefined}, nil
	}
	if goja.IsNull(value) {
		return &node{kind: kNull}, nil
	}
	if _, ok := value.(*goja.Symbol); ok {
		return nil, errors.New("a symbol cannot be cloned")
	}

	object, isObject := value.(*goja.Object)
	if !isObject {
		switch e := value.Export().(type) {
		case bool:
			return &node{kind: kBool, b: e}, nil
		case int64:
			return &node{kind: kInt, i: e}, nil
		case float64:
			return &node{kind: kFloat, f: e}, nil
		case string:
			return &node{kind: kString, s: e}, nil
		}
		return nil, errors.New("value of an unsupported primitive type")
	}

	if n, ok := c.seen[object]; ok {
		if n.id == 0 {
			c.next++
			n.id = c.next
		}
		return &node{kind: kRef, ref: n.id}, nil
	}

	if _, ok := goja.AssertFunction(object); ok {
		return nil, errors.New("a function cannot be cloned")
	}

	switch e := object.Export().(type) {
	case goja.ArrayBuffer:
		n := &node{kind: kBytes, transfer: len(c.transfers)}
		c.transfers = append(c.transfers, e.Bytes()) // 零拷贝：底层存储随清单转移
		c.seen[object] = n
		return n, nil
	case *goja.Promise:
		return nil, errors.New("a promise cannot be cloned")
	case time.Time:
		return &node{kind: kDate, t: e}, nil
	case *SharedBuffer:
		n := &node{kind: kShared, shared: e.buffer}
		c.seen[object] = n
		return n, nil
	case *Mutex:
		n := &node{kind: kShadow, shadow: &shadowNode{
			class: "Mutex",
			state: e.inner.State(),
			data:  e.inner.Data(),
		}}
		c.seen[object] = n
		return n, nil
	case *Semaphore:
		n := &node{kind: kShadow, shadow: &shadowNode{
			class: "Semaphore",
			state: e.inner.State(),
		}}
		c.seen[object] = n
		return n, nil
	case *Guard, *Permit:
		return nil, errors.New("a lock guard cannot be cloned")
	}

	if c.codec.is(c.codec.isMap, object) {
		n := &node{kind: kMap}
		c.seen[object] = n
		entries, err := c.codec.call(c.codec.mapEntries, object)
		if err != nil {
			return nil, err
		}
		list := entries.(*goja.Object)
		length := int(list.Get("length").ToInteger())
		for i := 0; i < length; i++ {
			pair := list.Get(strconv.Itoa(i)).(*goja.Object)
			k, err := c.capture(pair.Get("0"))
			if err != nil {
				return nil, err
			}
			v, err := c.capture(pair.Get("1"))
			if err != nil {
				return nil, err
			}
			n.entries = append(n.entries, [2]*node{k, v})
		}
		return n, nil
	}

	if c.codec.is(c.codec.isSet, object) {
		n := &node{kind: kSet}
		c.seen[object] = n
		values, err := c.codec.call(c.codec.setValues, object)
		if err != nil {
			return nil, err
		}
		list := values.(*goja.Object)
		length := int(list.Get("length").ToInteger())
		for i := 0; i < length; i++ {
			v, err := c.capture(list.Get(strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			n.elems = append(n.elems, v)
		}
		return n, nil
	}

	if ctor := constructorName(object); typedViewCtors[ctor] {
		info, err := c.codec.call(c.codec.viewInfo, object)
		if err != nil {
			return nil, err
		}
		io := info.(*goja.Object)
		buffer, err := c.capture(object.Get("buffer"))
		if err != nil {
			return nil, err
		}
		n := &node{kind: kView, view: &viewNode{
			ctor:   ctor,
			buffer: buffer,
			offset: int(io.Get("offset").ToInteger()),
			length: int(io.Get("length").ToInteger()),
		}}
		c.seen[object] = n
		return n, nil
	}

	if object.ClassName() == "Array" {
		n := &node{kind: kArray}
		c.seen[object] = n
		length := int(object.Get("length").ToInteger())
		for i := 0; i < length; i++ {
			v, err := c.capture(object.Get(strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			n.elems = append(n.elems, v)
		}
		return n, nil
	}

	// 其余对象按普通对象处理：拷贝自身可枚举属性（试克隆）
	n := &node{kind: kObject}
	c.seen[object] = n
	for _, key := range object.Keys() {
		v, err := c.capture(object.Get(key))
		if err != nil {
			return nil, err
		}
		n.keys = append(n.keys, key)
		n.elems = append(n.elems, v)
	}
	return n, nil
}

func constructorName(object *goja.Object) string {
	ctor, ok := object.Get("constructor").(*goja.Object)
	if !ok {
		return ""
	}
	name := ctor.Get("name")
	if name == nil {
		return ""
	}
	return name.String()
}

// IsClonable reports whether a value would survive capture: primitives,
// plain aggregates, dates, maps, sets, typed views, byte buffers, shared
// buffers and primitive shells pass; functions, symbols and promises do
// not. For anything else the answer comes from a trial capture.
func IsClonable(host Host, value goja.Value) bool {
	_, err := Capture(host, value)
	return err == nil
}

// CollectTransferables walks a value graph breadth-first and returns the
// ArrayBuffer objects whose ownership moves with the payload, including
// the buffers backing typed views. Shared buffers never transfer; the
// walk is cycle-safe and idempotent over its own output.
func CollectTransferables(host Host, value goja.Value) []goja.Value {
	c, err := getCodec(host.Runtime())
	if err != nil {
		return nil
	}

	var out []goja.Value
	seen := map[*goja.Object]bool{}
	queue := []goja.Value{value}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			continue
		}
		object, ok := v.(*goja.Object)
		if !ok || seen[object] {
			continue
		}
		seen[object] = true

		switch object.Export().(type) {
		case goja.ArrayBuffer:
			out = append(out, object)
			continue
		case *SharedBuffer, *Mutex, *Semaphore: // 共享内存不转移
			continue
		}

		if ctor := constructorName(object); typedViewCtors[ctor] {
			queue = append(queue, object.Get("buffer"))
			continue
		}
		if c.is(c.isMap, object) {
			if entries, err := c.call(c.mapEntries, object); err == nil {
				queue = append(queue, entries)
			}
			continue
		}
		if c.is(c.isSet, object) {
			if values, err := c.call(c.setValues, object); err == nil {
				queue = append(queue, values)
			}
			continue
		}
		if object.ClassName() == "Array" {
			length := int(object.Get("length").ToInteger())
			for i := 0; i < length; i++ {
				queue = append(queue, object.Get(strconv.Itoa(i)))
			}
			continue
		}
		if _, ok := goja.AssertFunction(object); ok {
			continue
		}
		for _, key := range object.Keys() {
			queue = append(queue, object.Get(key))
		}
	}
	return out
}

// detachTransferables neuters the sender-side buffer objects at post
// time. Their backing stores have already been captured into the
// payload manifest, so after the detach the receiver is the only owner
// and the two isolates cannot race on the same bytes.
func detachTransferables(transferables []goja.Value) error {
	for _, value := range transferables {
		object, ok := value.(*goja.Object)
		if !ok {
			continue
		}
		if ab, ok := object.Export().(goja.ArrayBuffer); ok {
			if !ab.Detach() {
				return errors.New("a buffer in the payload is not transferable")
			}
		}
	}
	return nil
}

//#endregion

//#region materialize

type materializer struct {
	host      Host
	codec     *codec
	transfers [][]byte
	byID      map[int]goja.Value
}

// Materialize rebuilds a captured payload as values of the host's
// runtime, adopting the moved backing stores from the transfer manifest
// and promoting shared buffers and primitive shadows back to live
// shells. It must run on the goroutine owning the host's runtime.
func Materialize(host Host, payload *Payload) (goja.Value, error) {
	c, err := getCodec(host.Runtime())
	if err != nil {
		return nil, err
	}
	m := &materializer{host: host, codec: c, transfers: payload.transfers, byID: map[int]goja.Value{}}
	return m.materialize(payload.root)
}

func (m *materializer) materialize(n *node) (goja.Value, error) {
	runtime := m.host.Runtime()

	remember := func(v goja.Value) {
		if n.id > 0 {
			m.byID[n.id] = v
		}
	}

	switch n.kind {
	case kUndefined:
		return goja.Undefined(), nil
	case kNull:
		return goja.Null(), nil
	case kBool:
		return runtime.ToValue(n.b), nil
	case kInt:
		return runtime.ToValue(n.i), nil
	case kFloat:
		return runtime.ToValue(n.f), nil
	case kString:
		return runtime.ToValue(n.s), nil
	case kRef:
		v, ok := m.byID[n.ref]
		if !ok {
			return nil, errors.New("dangling reference in the capture payload")
		}
		return v, nil
	case kBytes:
		if n.transfer < 0 || n.transfer >= len(m.transfers) {
			return nil, errors.New("corrupted transfer manifest")
		}
		v := runtime.ToValue(runtime.NewArrayBuffer(m.transfers[n.transfer]))
		remember(v)
		return v, nil
	case kView:
		buffer, err := m.materialize(n.view.buffer)
		if err != nil {
			return nil, err
		}
		v, err := m.codec.call(m.codec.newView,
			runtime.ToValue(n.view.ctor),
			buffer,
			runtime.ToValue(n.view.offset),
			runtime.ToValue(n.view.length),
		)
		if err != nil {
			return nil, err
		}
		remember(v)
		return v, nil
	case kDate:
		return m.codec.call(m.codec.newDate, runtime.ToValue(n.t.UnixMilli()))
	case kArray:
		array := runtime.NewArray()
		remember(array)
		for i, child := range n.elems {
			v, err := m.materialize(child)
			if err != nil {
				return nil, err
			}
			if err := array.Set(strconv.Itoa(i), v); err != nil {
				return nil, err
			}
		}
		return array, nil
	case kObject:
		object := runtime.NewObject()
		remember(object)
		for i, key := range n.keys {
			v, err := m.materialize(n.elems[i])
			if err != nil {
				return nil, err
			}
			if err := object.Set(key, v); err != nil {
				return nil, err
			}
		}
		return object, nil
	case kMap:
		mv, err := m.codec.call(m.codec.newMap)
		if err != nil {
			return nil, err
		}
		remember(mv)
		for _, entry := range n.entries {
			k, err := m.materialize(entry[0])
			if err != nil {
				return nil, err
			}
			v, err := m.materialize(entry[1])
			if err != nil {
				return nil, err
			}
			if _, err := m.codec.call(m.codec.mapSet, mv, k, v); err != nil {
				return nil, err
			}
		}
		return mv, nil
	case kSet:
		sv, err := m.codec.call(m.codec.newSet)
		if err != nil {
			return nil, err
		}
		remember(sv)
		for _, child := range n.elems {
			v, err := m.materialize(child)
			if err != nil {
				return nil, err
			}
			if _, err := m.codec.call(m.codec.setAdd, sv, v); err != nil {
				return nil, err
			}
		}
		return sv, nil
	case kShared:
		v := runtime.ToValue(&SharedBuffer{host: m.host, buffer: m.rebind(n.shared)})
		remember(v)
		return v, nil
	case kShadow:
		var v goja.Value
		switch n.shadow.class {
		case "Mutex":
			v = runtime.ToValue(&Mutex{
				host:  m.host,
				inner: shared.NewMutexFromBuffers(m.rebind(n.shadow.state), m.rebind(n.shadow.data)),
			})
		case "Semaphore":
			v = runtime.ToValue(&Semaphore{
				host:  m.host,
				inner: shared.NewSemaphoreFromBuffer(m.rebind(n.shadow.state)),
			})
		default:
			return nil, errors.New("unknown primitive shadow " + n.shadow.class)
		}
		remember(v)
		return v, nil
	}
	return nil, errors.New("corrupted capture payload")
}

// rebind resolves a buffer through the host's hydration cache when the
// host is a worker and the buffer carries a location key, keeping the
// registry authoritative for identity.
func (m *materializer) rebind(b *shared.Buffer) *shared.Buffer {
	if b == nil {
		return nil
	}
	if key := b.Key(); key != "" {
		if h, ok := m.host.(bufferCache); ok {
			if cached, ok := h.CachedBuffer(key); ok {
				return cached
			}
		}
		if registered, ok := shared.Lookup(key); ok {
			return registered
		}
	}
	return b
}

type bufferCache interface {
	CachedBuffer(key string) (*shared.Buffer, bool)
}

//#endregion
