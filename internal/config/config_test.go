package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flight-replay/internal/logger"
)

// captureLog 把日志写入缓冲区，测试结束后恢复默认级别与输出
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetDebugMode(false)
		logger.SetLevel("info")
		logger.SetOutput(os.Stdout)
	})
	return &buf
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 5000 {
		t.Fatalf("listen = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.DataFile != "flight_data.csv" || cfg.MappingFile != "video_timestamps.json" {
		t.Fatalf("files = %q %q", cfg.DataFile, cfg.MappingFile)
	}
	if len(cfg.Markers) != len(DefaultMarkers) {
		t.Fatalf("markers = %d, want %d", len(cfg.Markers), len(DefaultMarkers))
	}
	if cfg.Markers[0].Name != "Takeoff" || cfg.Markers[0].Timestamp != 2643.0 {
		t.Fatalf("first marker = %+v", cfg.Markers[0])
	}
	if cfg.Sync.CacheSize != 10 || cfg.Sync.JumpSamples != 50 {
		t.Fatalf("sync = %+v", cfg.Sync)
	}
}

func TestLoadFlagsOverride(t *testing.T) {
	captureLog(t)
	cfg, err := Load([]string{"--port", "6000", "--youtube_video_id", "https://youtu.be/dQw4w9WgXcQ", "--debug"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 6000 {
		t.Fatalf("port = %d, want 6000", cfg.Port)
	}
	if cfg.YouTubeVideoID != "dQw4w9WgXcQ" {
		t.Fatalf("video id = %q", cfg.YouTubeVideoID)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadDebugDumpsConfig(t *testing.T) {
	buf := captureLog(t)

	if _, err := Load([]string{"--debug", "--port", "6123"}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !logger.IsDebugMode() {
		t.Fatal("debug mode not applied by Load")
	}
	out := buf.String()
	if !strings.Contains(out, "配置") || !strings.Contains(out, "6123") {
		t.Fatalf("config dump missing from log output: %q", out)
	}
}

func TestLoadInfoLevelHidesDump(t *testing.T) {
	buf := captureLog(t)

	if _, err := Load(nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if strings.Contains(buf.String(), "配置") {
		t.Fatalf("config dumped at info level: %q", buf.String())
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	captureLog(t)
	if _, err := Load([]string{"--log_level", "loud"}); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("YOUTUBE_START_OFFSET", "2500.5")
	t.Setenv("SYNC_CACHE_SIZE", "20")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.YouTubeStartOffset != 2500.5 {
		t.Fatalf("offset = %v", cfg.YouTubeStartOffset)
	}
	if cfg.Sync.CacheSize != 20 {
		t.Fatalf("cache size = %d, want 20", cfg.Sync.CacheSize)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.yaml")
	body := `
port: 7001
data_file: /data/flight.csv
playback:
  max_speed: 4
markers:
  - id: 0
    name: Engine start
    timestamp: 12.5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load([]string{"--config", path, "--port", "7002"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7002 {
		t.Fatalf("port = %d, flag should win over file", cfg.Port)
	}
	if cfg.DataFile != "/data/flight.csv" {
		t.Fatalf("data file = %q", cfg.DataFile)
	}
	if cfg.Playback.MaxSpeed != 4 || cfg.Playback.DefaultSpeed != 1 {
		t.Fatalf("playback = %+v", cfg.Playback)
	}
	if len(cfg.Markers) != 1 || cfg.Markers[0].Name != "Engine start" {
		t.Fatalf("markers = %+v", cfg.Markers)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	if _, err := Load([]string{"--port", "70000"}); err == nil {
		t.Fatal("expected error for port 70000")
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	if _, err := Load([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestOptionsConversion(t *testing.T) {
	cfg := Default()
	cfg.YouTubeStartOffset = 2600
	cfg.Sync.ValidStart = 2643

	p := cfg.PlaybackOptions()
	if p.DefaultDelay != 10*time.Millisecond || p.MaxGap != 10*time.Second || p.MaxSpeed != 2 {
		t.Fatalf("playback options = %+v", p)
	}

	s := cfg.SyncOptions()
	if s.SampleInterval != 16*time.Millisecond || s.FetchTimeout != 500*time.Millisecond {
		t.Fatalf("sync intervals = %+v", s)
	}
	if s.JumpThreshold != 2*time.Second || s.MaxInterpolationGap != time.Second {
		t.Fatalf("sync thresholds = %+v", s)
	}

	opts := cfg.SessionOptions()
	if opts.StartOffset != 2600 || opts.Sync.ValidStart != 2643 {
		t.Fatalf("session options = %+v", opts)
	}
	if len(opts.Markers) != len(DefaultMarkers) || opts.Markers[12].Name != "Landing" {
		t.Fatalf("markers = %+v", opts.Markers)
	}
}

func TestExtractVideoID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"  dQw4w9WgXcQ  ", "dQw4w9WgXcQ"},
	}
	for _, c := range cases {
		if got := ExtractVideoID(c.in); got != c.want {
			t.Errorf("ExtractVideoID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
