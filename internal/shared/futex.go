package shared

import "sync"

// The waiter table is the process-wide analog of atomic wait/notify: a
// goroutine parks on a (buffer, word offset) address and is woken by a
// notify on the same address. Registration happens before the value
// re-check, so a notify between the caller's failed compare-exchange and
// the wait cannot be missed (参考 shm 传输中 conditional wakeup 的实现).

type waitKey struct {
	buffer *Buffer
	offset int
}

var waitTable struct {
	sync.Mutex
	waiters map[waitKey][]chan struct{}
}

// Wait parks on the word at offset while it still holds expect. The
// returned channel is closed on wake-up. If the word no longer holds
// expect at registration time, the channel is closed immediately.
func Wait(b *Buffer, offset int, expect int32) (<-chan struct{}, error) {
	ch := make(chan struct{})

	waitTable.Lock()
	if waitTable.waiters == nil {
		waitTable.waiters = make(map[waitKey][]chan struct{})
	}
	key := waitKey{b, offset}
	waitTable.waiters[key] = append(waitTable.waiters[key], ch)
	waitTable.Unlock()

	value, err := b.Load32(offset)
	if err != nil {
		remove(key, ch)
		return nil, err
	}
	if value != expect { // 值已经变化，立即唤醒
		remove(key, ch)
		close(ch)
	}
	return ch, nil
}

// Notify wakes up to count waiters parked on the word at offset and
// returns the number woken. A negative count wakes all of them.
func Notify(b *Buffer, offset int, count int) int {
	waitTable.Lock()
	defer waitTable.Unlock()

	key := waitKey{b, offset}
	waiters := waitTable.waiters[key]
	if len(waiters) == 0 {
		return 0
	}

	n := count
	if n < 0 || n > len(waiters) {
		n = len(waiters)
	}
	for _, ch := range waiters[:n] {
		close(ch)
	}
	rest := waiters[n:]
	if len(rest) == 0 {
		delete(waitTable.waiters, key)
	} else {
		waitTable.waiters[key] = append([]chan struct{}{}, rest...)
	}
	return n
}

func remove(key waitKey, ch chan struct{}) {
	waitTable.Lock()
	defer waitTable.Unlock()

	waiters := waitTable.waiters[key]
	for i, c := range waiters {
		if c == ch {
			waitTable.waiters[key] = append(waiters[:i:i], waiters[i+1:]...)
			break
		}
	}
	if len(waitTable.waiters[key]) == 0 {
		delete(waitTable.waiters, key)
	}
}
