package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	logger    *log.Logger
	loggerMu  sync.RWMutex
	debugMode bool
)

func init() {
	logger = newLogger(os.Stdout, false)
}

func newLogger(out io.Writer, debug bool) *log.Logger {
	l := log.New()
	l.SetOutput(out)
	l.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := filepath.Base(f.File)
			return fmt.Sprintf("%s()", f.Function), fmt.Sprintf(" %s:%d", filename, f.Line)
		},
	})
	l.SetLevel(log.InfoLevel)
	if debug {
		l.SetLevel(log.DebugLevel)
		l.SetReportCaller(true)
	}
	return l
}

// SetDebugMode 设置调试模式
func SetDebugMode(enabled bool) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	debugMode = enabled
	logger = newLogger(logger.Out, enabled)
}

// SetLevel 按名称设置日志级别 (debug/info/warn/error)
func SetLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger.SetLevel(lvl)
	debugMode = lvl >= log.DebugLevel
	return nil
}

// SetOutput 重定向日志输出
func SetOutput(out io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger.SetOutput(out)
}

// IsDebugMode 是否调试模式
func IsDebugMode() bool {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return debugMode
}

// Logger 返回底层 logrus 实例
func Logger() *log.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// fields 把 key/value 参数转换为 logrus 字段
func fields(args []any) log.Fields {
	f := make(log.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 < len(args) {
			f[key] = args[i+1]
		} else {
			f[key] = "(MISSING)"
		}
	}
	return f
}

func entry(args []any) *log.Entry {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	return l.WithFields(fields(args))
}

// LogDebug 调试日志
func LogDebug(msg string, args ...any) {
	entry(args).Debug(msg)
}

// LogInfo 信息日志
func LogInfo(msg string, args ...any) {
	entry(args).Info(msg)
}

// LogWarn 警告日志
func LogWarn(msg string, args ...any) {
	entry(args).Warn(msg)
}

// LogError 错误日志
func LogError(msg string, args ...any) {
	entry(args).Error(msg)
}
