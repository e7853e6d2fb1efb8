package spawn

import (
	"log"
	goruntime "runtime"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
)

// IdleTimeout is how long an idle worker survives before eviction.
var IdleTimeout = 30 * time.Second

// PoolEntry is one reusable worker within its signature pool.
type PoolEntry struct {
	isolate   *Isolate
	signature string
	busy      bool
	timer     *time.Timer // armed while idle
	path      string      // generated entry source on disk
}

var pool struct {
	sync.Mutex
	entries map[string][]*PoolEntry
	active  int
}

// acquire hands out the first idle entry for the signature, creating a
// fresh one when every entry is busy. The soft ceiling is four times the
// hardware concurrency; crossing it only logs a warning.
func acquire(signature string, create func() (*Isolate, string, error)) (*PoolEntry, error) {
	pool.Lock()
	if pool.entries == nil {
		pool.entries = make(map[string][]*PoolEntry)
	}
	for _, entry := range pool.entries[signature] {
		if !entry.busy {
			entry.busy = true
			if entry.timer != nil {
				entry.timer.Stop()
				entry.timer = nil
			}
			pool.Unlock()
			return entry, nil
		}
	}
	pool.active++
	active := pool.active
	pool.Unlock()

	if threshold := hardwareConcurrency() * 4; active > threshold {
		log.Println("\033[0;33m" + time.Now().Format("2006-01-02 15:04:05.000") + " Warn the active worker count " +
			strconv.Itoa(active) + " exceeds " + strconv.Itoa(threshold) + " (4x hardware concurrency)\033[m")
	}

	isolate, path, err := create()
	if err != nil {
		pool.Lock()
		pool.active--
		pool.Unlock()
		return nil, err
	}

	entry := &PoolEntry{isolate: isolate, signature: signature, busy: true, path: path}
	pool.Lock()
	pool.entries[signature] = append(pool.entries[signature], entry)
	pool.Unlock()
	return entry, nil
}

// release unmarks the entry and arms a fresh idle-eviction timer.
func release(entry *PoolEntry) {
	pool.Lock()
	entry.busy = false
	entry.timer = time.AfterFunc(IdleTimeout, func() {
		evict(entry)
	})
	pool.Unlock()
}

func evict(entry *PoolEntry) {
	pool.Lock()
	if entry.busy { // 定时器触发前刚好被复用
		pool.Unlock()
		return
	}
	entries := pool.entries[entry.signature]
	found := false
	for i, e := range entries {
		if e == entry {
			pool.entries[entry.signature] = append(entries[:i:i], entries[i+1:]...)
			found = true
			break
		}
	}
	if !found { // 已经被 Shutdown 摘除
		pool.Unlock()
		return
	}
	if len(pool.entries[entry.signature]) == 0 {
		delete(pool.entries, entry.signature)
	}
	pool.active--
	pool.Unlock()

	entry.isolate.Terminate()
}

// ActiveWorkers reports the number of live spawn isolates.
func ActiveWorkers() int {
	pool.Lock()
	defer pool.Unlock()
	return pool.active
}

// Shutdown terminates every pooled worker and resets the counters.
// In-flight jobs reject with a terminated-worker error.
func Shutdown() {
	pool.Lock()
	var all []*PoolEntry
	for _, entries := range pool.entries {
		all = append(all, entries...)
	}
	pool.entries = make(map[string][]*PoolEntry)
	pool.active = 0
	pool.Unlock()

	for _, entry := range all {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.isolate.Terminate()
	}
}

var concurrencyOnce struct {
	sync.Once
	count int
}

// hardwareConcurrency is the logical CPU count, the analog of
// navigator.hardwareConcurrency.
func hardwareConcurrency() int {
	concurrencyOnce.Do(func() {
		if n, err := cpu.Counts(true); err == nil && n > 0 {
			concurrencyOnce.count = n
			return
		}
		concurrencyOnce.count = goruntime.NumCPU()
	})
	return concurrencyOnce.count
}
