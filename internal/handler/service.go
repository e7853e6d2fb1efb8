package handler

import (
	"net/http"
	"strings"
	"time"

	"weave/internal"
	"weave/internal/util"
)

func HandleService(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/service/")

	// 查询 controller
	name := internal.GetRoute(path)
	if name == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	source := internal.GetController(name)
	if source.Method != "" && source.Method != r.Method { // 校验请求方法
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// 获取 vm 实例
	var worker *internal.Worker
	select {
	case worker = <-internal.WorkerPool.Channels:
	default:
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		worker.Reset()
		internal.WorkerPool.Channels <- worker
	}()

	// 允许最大执行的时间为 60 秒
	timer := time.AfterFunc(60*time.Second, func() {
		worker.Interrupt("service executed timeout")
	})
	defer timer.Stop()

	// 脚本执行完成标记
	completed := false
	// 监听客户端是否主动取消请求
	go func() {
		<-r.Context().Done()
		if !completed { // 如果脚本已执行结束，不再中断 goja 运行时，否则中断信号无法被触发和清除，导致回收再复用时直接抛出异常
			worker.Interrupt("client cancelled")
		}
	}()

	ctx := internal.CreateServiceContext(r, w, timer)

	// 执行
	value, err := worker.Run(
		worker.Runtime().ToValue("./controller/"+source.Name),
		worker.Runtime().ToValue(ctx),
	)
	// 标记脚本执行完成
	completed = true

	if internal.Returnless(ctx) { // WebSocket 或流式响应不需要封装
		if err != nil {
			internal.LogWithError(err, worker)
		}
		return
	}

	if err != nil {
		toError(w, err)
		return
	}

	data, err := util.ExportGojaValue(value)
	if err != nil {
		toError(w, err)
		return
	}
	toSuccess(w, data)
}
