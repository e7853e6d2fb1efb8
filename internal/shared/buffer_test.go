package shared

import "testing"

func TestBufferBytes(t *testing.T) {
	b := NewBuffer(6)
	if b.Size() != 6 {
		t.Fatal("unexpected size")
	}

	if err := b.Set(0, 42); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.Get(0); v != 42 {
		t.Fatal("unexpected byte")
	}
	if _, err := b.Get(6); err == nil {
		t.Fatal("expected out of range error")
	}

	// byte view shares the word array
	b.Bytes()[1] = 7
	if v, _ := b.Get(1); v != 7 {
		t.Fatal("byte view is not shared")
	}
}

func TestBufferWordOps(t *testing.T) {
	b := NewBuffer(8)

	if err := b.Store32(4, 123); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.Load32(4); v != 123 {
		t.Fatal("unexpected word")
	}
	if v, _ := b.Add32(4, -23); v != 100 {
		t.Fatal("unexpected sum")
	}
	if ok, _ := b.CompareAndSwap32(4, 100, 1); !ok {
		t.Fatal("compare-exchange should succeed")
	}
	if ok, _ := b.CompareAndSwap32(4, 100, 2); ok {
		t.Fatal("compare-exchange should fail")
	}

	if _, err := b.Load32(2); err == nil {
		t.Fatal("expected unaligned offset error")
	}
	if _, err := b.Load32(8); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestBufferZeroSize(t *testing.T) {
	b := NewBuffer(0)
	if b.Bytes() != nil {
		t.Fatal("expected nil byte view")
	}
}
