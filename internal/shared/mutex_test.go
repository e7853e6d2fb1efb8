package shared

import (
	"sync"
	"testing"
)

func TestMutexTryLock(t *testing.T) {
	m := NewMutex(nil)

	if !m.TryLock() {
		t.Fatal("first lock should succeed")
	}
	if m.TryLock() {
		t.Fatal("second lock should fail")
	}
	if err := m.Unlock(); err != nil {
		t.Fatal(err)
	}
	if !m.TryLock() {
		t.Fatal("relock should succeed")
	}
	m.Unlock()
}

func TestMutexUnlockInvariant(t *testing.T) {
	m := NewMutex(nil)
	if err := m.Unlock(); err == nil {
		t.Fatal("releasing an unlocked mutex must fail")
	}
}

func TestMutexSafety(t *testing.T) {
	data := NewBuffer(4)
	m := NewMutex(data)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := m.Lock(); err != nil {
					t.Error(err)
					return
				}
				// 非原子的读改写，由锁保证互斥
				v, _ := m.Data().Load32(0)
				m.Data().Store32(0, v+1)
				if err := m.Unlock(); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if v, _ := data.Load32(0); v != 800 {
		t.Fatalf("lost updates, counter = %d", v)
	}
}

func TestMutexRehydration(t *testing.T) {
	m := NewMutex(NewBuffer(4))

	// 影子实例围绕同一组 buffer 重建，锁状态共享
	shadow := NewMutexFromBuffers(m.State(), m.Data())
	if !m.TryLock() {
		t.Fatal("lock should succeed")
	}
	if shadow.TryLock() {
		t.Fatal("the shadow shares the state word")
	}
	if err := m.Unlock(); err != nil {
		t.Fatal(err)
	}
	if !shadow.TryLock() {
		t.Fatal("the shadow should lock after release")
	}
	shadow.Unlock()
}
