package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"flight-replay/internal/config"
	"flight-replay/internal/ingest"
	"flight-replay/internal/logger"
	"flight-replay/internal/models"
	"flight-replay/internal/protocol"
	"flight-replay/internal/server"
	"flight-replay/internal/session"
	"flight-replay/internal/store"
	"flight-replay/internal/timemap"
	"flight-replay/internal/transport"

	"github.com/spf13/pflag"
)

//go:embed static/*
var staticFS embed.FS

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.LogError("[MAIN] 启动失败", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// 遥测数据 (优先使用快照缓存)
	st, err := store.LoadCached(cfg.CacheDir, cfg.DataFile, func() ([]models.RawRecord, error) {
		return ingest.LoadFile(cfg.DataFile)
	})
	if err != nil {
		return fmt.Errorf("加载遥测数据 %s: %w", cfg.DataFile, err)
	}

	// 视频时间对应表；缺失或损坏时退回固定偏移
	mapper, err := timemap.Load(cfg.MappingFile, cfg.YouTubeStartOffset)
	if err != nil {
		logger.LogWarn("[MAIN] 对应表无效，使用固定偏移", "file", cfg.MappingFile, "error", err)
	}

	sess := session.New(st, mapper, cfg.SessionOptions())
	defer sess.Close()

	startSinks(ctx, cfg, sess)

	// 查找可用端口
	port := findAvailablePort(cfg.Host, cfg.Port)
	url := fmt.Sprintf("http://%s:%d", cfg.Host, port)

	fmt.Println("============================================================")
	fmt.Println("试飞遥测回放")
	fmt.Println("============================================================")
	fmt.Printf("数据文件: %s (%d 条, %.1fs)\n", cfg.DataFile, st.Len(), st.Duration())
	if cfg.YouTubeVideoID != "" {
		fmt.Printf("视频: %s (偏移 %.2fs, 对应表 %d 条)\n", cfg.YouTubeVideoID, mapper.StartOffset(), mapper.Len())
	}
	fmt.Printf("监听地址: %s\n", url)
	fmt.Println("============================================================")

	opts := server.Options{
		VideoID:         cfg.YouTubeVideoID,
		PathStride:      cfg.PathStride,
		MapPreviewLimit: cfg.MapPreviewLimit,
	}
	// 嵌入的静态文件
	if staticSub, err := fs.Sub(staticFS, "static"); err != nil {
		logger.LogWarn("[MAIN] 无法加载嵌入的静态文件", "error", err)
	} else {
		opts.Static = http.FS(staticSub)
	}
	srv := server.New(sess, opts)

	// 自动打开浏览器
	if !cfg.NoBrowser {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openBrowser(url)
		}()
	}

	err = srv.Run(ctx, fmt.Sprintf("%s:%d", cfg.Host, port))
	fmt.Println("\n已关闭")
	return err
}

// startSinks 启动 UDP 与 Redis 输出，失败只记录警告
func startSinks(ctx context.Context, cfg *config.Config, sess *session.Session) {
	var sinks []transport.Sink

	if cfg.UDPAddr != "" {
		udp, err := transport.NewUDPSink(cfg.UDPAddr)
		if err != nil {
			logger.LogWarn("[MAIN] UDP 输出不可用", "addr", cfg.UDPAddr, "error", err)
		} else {
			sinks = append(sinks, udp)
		}
	}
	if cfg.RedisAddr != "" {
		rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		rs, err := transport.NewRedisSink(rctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel)
		cancel()
		if err != nil {
			logger.LogWarn("[MAIN] Redis 输出不可用", "addr", cfg.RedisAddr, "error", err)
		} else {
			sinks = append(sinks, rs)
		}
	}

	for _, sink := range sinks {
		ch := make(chan protocol.Message, 256)
		if err := sess.Subscribe("sink-"+sink.Name(), ch); err != nil {
			logger.LogWarn("[MAIN] 订阅失败", "sink", sink.Name(), "error", err)
			sink.Close()
			continue
		}
		go func(sink transport.Sink) {
			defer sink.Close()
			transport.Pump(ctx, ch, sink)
		}(sink)
		logger.LogInfo("[MAIN] 输出已启用", "sink", sink.Name())
	}
}

// findAvailablePort 查找可用端口，如果指定端口被占用则递增
func findAvailablePort(host string, startPort int) int {
	for port := startPort; port < startPort+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
		if err == nil {
			ln.Close()
			return port
		}
	}
	return startPort // 回退到原始端口
}

// openBrowser 打开默认浏览器
func openBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("open", url).Start()
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	}
	if err != nil {
		fmt.Printf("无法自动打开浏览器，请手动访问: %s\n", url)
	}
}
