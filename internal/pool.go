package internal

import (
	"github.com/dop251/goja"
)

// WorkerPool holds the fixed pool of caller isolates serving HTTP
// requests and cron jobs. Spawned worker isolates live in their own
// signature-keyed pool and are not part of this one.
var WorkerPool struct {
	Channels chan *Worker
	Workers  []*Worker
}

func CreateWorkerPool(count int) {
	if count < 1 {
		count = 1
	}
	WorkerPool.Workers = make([]*Worker, count) // 创建 goja 实例池
	WorkerPool.Channels = make(chan *Worker, count)

	// 编译程序，使用闭包防止全局变量污染
	program, _ := goja.Compile("weave:index", "(function (id, ...params) { return require(id).default(...params); })", false)

	for i := 0; i < count; i++ {
		worker := CreateWorker(program, i) // 创建 goja 运行时

		WorkerPool.Workers[i] = worker
		WorkerPool.Channels <- worker
	}
}
