package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fori/server"
)

// FORI 房间服务入口：启动 HTTP + WebSocket 服务，并装配注册表与网关
func main() {
	var (
		addr      string
		logPath   string
		storeKind string
		nickFile  string
		redisAddr string
	)
	flag.StringVar(&addr, "addr", ":3001", "server listen address, e.g. :3001")
	flag.StringVar(&logPath, "log", "fori.log", "log file path")
	flag.StringVar(&storeKind, "nickstore", "file", "nickname store backend: file | redis")
	flag.StringVar(&nickFile, "nickfile", "nicknames.json", "nickname file path (file backend)")
	flag.StringVar(&redisAddr, "redis", "localhost:6379", "redis address (redis backend)")
	flag.Parse()

	if err := server.InitLogger(logPath); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	metrics := &server.Metrics{}
	reg := server.NewRegistry(metrics)
	gw := server.NewGateway(reg, metrics)
	admin := server.NewAdmin(reg, metrics)

	var store server.NicknameStore
	switch storeKind {
	case "redis":
		store = server.NewRedisNicknameStore(redisAddr)
	default:
		store = server.NewFileNicknameStore(nickFile)
	}
	nickAPI := server.NewNicknameAPI(store)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	mux.HandleFunc("/api/nickname/get", nickAPI.HandleGet)
	mux.HandleFunc("/api/nickname/save", nickAPI.HandleSave)
	// 管理与监控接口
	mux.HandleFunc("/admin/config", admin.HandleConfig)
	mux.HandleFunc("/metrics", admin.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		server.Log.Infof("FORI room listening on %s (nickstore=%s)", addr, storeKind)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）；房间状态不落盘，进程退出即清空
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
