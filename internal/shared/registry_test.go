package shared

import "testing"

func TestRegisterBindOnce(t *testing.T) {
	a := NewBuffer(4)
	b := NewBuffer(4)

	bound := Register("test.ts:1:11::state", a)
	if bound != a {
		t.Fatal("first registration should bind the given buffer")
	}
	if a.Key() != "test.ts:1:11::state" {
		t.Fatal("registration should stamp the key")
	}

	// 同一个 key 再注册，返回第一次绑定的 buffer
	bound = Register("test.ts:1:11::state", b)
	if bound != a {
		t.Fatal("a bound key must never rebind")
	}
	if b.Key() != "" {
		t.Fatal("the rejected buffer must stay unkeyed")
	}

	if found, ok := Lookup("test.ts:1:11::state"); !ok || found != a {
		t.Fatal("lookup should return the bound buffer")
	}
}

func TestSnapshotCopies(t *testing.T) {
	a := NewBuffer(4)
	Register("test.ts:2:11::data", a)

	memory := Snapshot()
	if memory["test.ts:2:11::data"] != a {
		t.Fatal("snapshot should carry the binding")
	}

	// 快照是拷贝，修改快照不影响注册表
	delete(memory, "test.ts:2:11::data")
	if _, ok := Lookup("test.ts:2:11::data"); !ok {
		t.Fatal("registry must not observe snapshot mutation")
	}
}
