package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fori/client"
	"fori/shared"
)

// 无头参考客户端：连上房间后随机走动、偶尔说话
// 既是联调工具，也是压测时的机器人
func main() {
	var (
		url      string
		nickname string
		wander   bool
	)
	flag.StringVar(&url, "url", "ws://localhost:3001/ws", "server websocket url")
	flag.StringVar(&nickname, "nickname", "bot", "nickname to announce")
	flag.BoolVar(&wander, "wander", true, "walk around randomly")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log := logger.Sugar()
	defer func() { _ = log.Sync() }()

	sess := client.NewSession(url, log)
	view := client.Viewport{Width: 1280, Height: 720, Header: 60, Avatar: 50}
	rec := client.NewReconciler(sess, nickname, view)
	rec.Start()

	ctrl := client.NewController(view, func(x, y float64, dir shared.Direction) {
		sess.Send(shared.ClientMessage{Type: shared.MsgMove, X: x, Y: y, Direction: string(dir)})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	if wander {
		go func() {
			dirs := []shared.Direction{shared.DirUp, shared.DirDown, shared.DirLeft, shared.DirRight}
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(500+rand.Intn(1500)) * time.Millisecond):
				}
				if rec.State() != client.StateActive {
					continue
				}
				dir := dirs[rand.Intn(len(dirs))]
				// 两段式移动：先按一下转向，再按一下起步
				ctrl.KeyDown(dir)
				ctrl.KeyUp()
				ctrl.KeyDown(dir)
				time.Sleep(time.Duration(rand.Intn(400)) * time.Millisecond)
				ctrl.KeyUp()
				if rand.Intn(10) == 0 {
					sess.Send(shared.ClientMessage{Type: shared.MsgSendMessage, Text: "hello from " + nickname})
				}
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	rec.Stop()
	log.Infof("bye: saw %d players, %d chat lines", len(rec.Players()), len(rec.Transcript()))
}
