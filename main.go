package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/quic-go/quic-go/http3"

	. "weave/internal"
	"weave/internal/config"
	"weave/internal/handler"
	"weave/internal/spawn"
	"weave/internal/util"
)

func init() {
	// 初始化数据库
	InitDb()

	// 初始化日志文件
	InitLog()

	// 初始化缓存和磁盘镜像
	InitCache()
}

func main() {
	// run-file 模式：直接执行脚本文件后退出
	if config.File != "" {
		runFile(config.File)
		return
	}

	// 注册接口
	handler.InitHandle()

	// 创建虚拟机池
	CreateWorkerPool(config.Count)

	// 监控当前进程的内存和 cpu 使用率
	go RunMonitor()

	// 启动定时服务
	RunCrontabs("")

	// 启动服务
	if !config.Secure { // 启用 HTTP
		fmt.Println("Server has started on http://127.0.0.1:" + config.Port + " 🚀")
		http.ListenAndServe(":"+config.Port, nil)
	} else {
		fmt.Println("Server has started on https://127.0.0.1:" + config.Port + " 🚀")
		tlsConfig := &tls.Config{
			ClientAuth: tls.RequestClientCert, // 可通过 request.TLS.PeerCertificates 获取客户端证书
		}
		if config.ClientCertVerify { // 设置对客户端证书校验
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
			b, _ := os.ReadFile("./ca.crt")
			tlsConfig.ClientCAs = x509.NewCertPool()
			tlsConfig.ClientCAs.AppendCertsFromPEM(b)
		}
		if config.Http3 { // 启用 HTTP/3
			server := &http3.Server{
				Addr:      ":" + config.Port,
				TLSConfig: tlsConfig,
			}
			server.ListenAndServeTLS(config.ServerCert, config.ServerKey)
		} else { // 启用 HTTPS
			server := &http.Server{
				Addr:      ":" + config.Port,
				TLSConfig: tlsConfig,
			}
			server.ListenAndServeTLS(config.ServerCert, config.ServerKey)
		}
	}
}

// runFile executes one script on a single caller worker with the full
// runtime surface (spawn, shared primitives, builtins), then shuts the
// spawn pool down.
func runFile(file string) {
	if abs, err := filepath.Abs(file); err == nil {
		file = abs
	}

	CreateWorkerPool(1)
	worker := <-WorkerPool.Channels
	defer func() {
		WorkerPool.Channels <- worker
		spawn.Shutdown()
	}()

	value, err := worker.RunScript(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if data, err := util.ExportGojaValue(value); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	} else if data != nil {
		fmt.Println(data)
	}
}
