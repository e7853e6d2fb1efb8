package builtin

import "testing"

func TestBufferEncodings(t *testing.T) {
	b := Buffer([]byte("hello, world"))

	h, err := b.ToString("hex")
	if err != nil {
		t.Fatal(err)
	}
	if h != "68656c6c6f2c20776f726c64" {
		t.Fatal("unexpected hex")
	}

	s, err := b.ToString("base64")
	if err != nil {
		t.Fatal(err)
	}
	if s != "aGVsbG8sIHdvcmxk" {
		t.Fatal("unexpected base64")
	}

	u, err := b.ToString("")
	if err != nil {
		t.Fatal(err)
	}
	if u != "hello, world" {
		t.Fatal("unexpected utf8")
	}

	if _, err := b.ToString("latin1"); err == nil {
		t.Fatal("expected unsupported encoding error")
	}
}

func TestBufferDecode(t *testing.T) {
	dat, err := decode([]byte("68656c6c6f"), "hex")
	if err != nil {
		t.Fatal(err)
	}
	if string(dat) != "hello" {
		t.Fatal("unexpected decode")
	}
}
