package server

import (
	"context"
	"net/http"

	"flight-replay/internal/logger"
	"flight-replay/internal/session"

	"github.com/kataras/iris/v12"
)

// Options 服务参数
type Options struct {
	VideoID         string
	PathStride      int
	MapPreviewLimit int
	Static          http.FileSystem // 为空时不提供静态页面
}

// Server 回放服务: REST API、neffos 回放通道与视频同步 WebSocket
type Server struct {
	app      *iris.Application
	handlers *Handlers
	hub      *SocketHub
}

// New 创建服务并注册路由
func New(sess *session.Session, opts Options) *Server {
	app := iris.New()
	app.Logger().SetLevel("warn")

	// CORS
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")
		if ctx.Method() == "OPTIONS" {
			ctx.StatusCode(204)
			return
		}
		ctx.Next()
	})

	s := &Server{
		app:      app,
		handlers: NewHandlers(sess, opts),
		hub:      NewSocketHub(sess),
	}
	RegisterRoutes(app, s.handlers, s.hub)

	if opts.Static != nil {
		app.HandleDir("/", opts.Static, iris.DirOptions{
			IndexName: "index.html",
			SPA:       true,
		})
	}
	return s
}

// App iris 应用
func (s *Server) App() *iris.Application {
	return s.app
}

// Run 启动广播并监听 addr，直到 ctx 取消
func (s *Server) Run(ctx context.Context, addr string) error {
	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := s.hub.Run(hubCtx); err != nil {
			logger.LogError("[WS] 回放通道启动失败", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	logger.LogInfo("[SERVER] 开始监听", "addr", addr)
	return s.app.Listen(addr, iris.WithoutServerError(iris.ErrServerClosed), iris.WithoutStartupLog)
}

// Shutdown 关闭连接与 HTTP 服务
func (s *Server) Shutdown() {
	s.hub.Close()
	if err := s.app.Shutdown(context.Background()); err != nil {
		logger.LogWarn("[SERVER] 关闭失败", "error", err)
	}
}
