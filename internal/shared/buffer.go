package shared

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// Buffer is a byte region shared across isolates. The backing array is
// allocated as 32-bit words so that word offsets are always aligned for
// sync/atomic (见 shm 共享内存的实现：原子操作要求 4 字节对齐).
type Buffer struct {
	key   string // location key, set when the buffer is registered via Global
	words []int32
	size  int
}

func NewBuffer(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	return &Buffer{
		words: make([]int32, (size+3)/4),
		size:  size,
	}
}

func (b *Buffer) Key() string {
	return b.key
}

func (b *Buffer) Size() int {
	return b.size
}

// Bytes returns the raw byte view over the word array. Plain reads and
// writes through it are not atomic, same as a typed view over a shared
// array buffer.
func (b *Buffer) Bytes() []byte {
	if b.size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.words[0])), b.size)
}

func (b *Buffer) Get(index int) (byte, error) {
	if index < 0 || index >= b.size {
		return 0, errors.New("index out of range")
	}
	return b.Bytes()[index], nil
}

func (b *Buffer) Set(index int, value byte) error {
	if index < 0 || index >= b.size {
		return errors.New("index out of range")
	}
	b.Bytes()[index] = value
	return nil
}

func (b *Buffer) word(offset int) (*int32, error) {
	if offset < 0 || offset%4 != 0 || offset+4 > len(b.words)*4 {
		return nil, errors.New("word offset out of range or unaligned")
	}
	return &b.words[offset/4], nil
}

func (b *Buffer) Load32(offset int) (int32, error) {
	w, err := b.word(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadInt32(w), nil
}

func (b *Buffer) Store32(offset int, value int32) error {
	w, err := b.word(offset)
	if err != nil {
		return err
	}
	atomic.StoreInt32(w, value)
	return nil
}

func (b *Buffer) Add32(offset int, delta int32) (int32, error) {
	w, err := b.word(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddInt32(w, delta), nil
}

func (b *Buffer) CompareAndSwap32(offset int, old int32, new int32) (bool, error) {
	w, err := b.word(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapInt32(w, old, new), nil
}
