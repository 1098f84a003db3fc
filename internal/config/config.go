package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"flight-replay/internal/logger"
	"flight-replay/internal/playback"
	"flight-replay/internal/session"
	"flight-replay/internal/videosync"

	"github.com/kr/pretty"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Marker 试飞标记点
type Marker struct {
	ID        int     `mapstructure:"id" json:"id"`
	Name      string  `mapstructure:"name" json:"name"`
	Timestamp float64 `mapstructure:"timestamp" json:"timestamp"`
}

// PlaybackConfig 自主回放参数
type PlaybackConfig struct {
	DefaultDelayMs float64 `mapstructure:"default_delay_ms" json:"default_delay_ms"`
	MinDelayMs     float64 `mapstructure:"min_delay_ms" json:"min_delay_ms"`
	MaxDelayMs     float64 `mapstructure:"max_delay_ms" json:"max_delay_ms"`
	MaxGapSeconds  float64 `mapstructure:"max_gap_seconds" json:"max_gap_seconds"`
	MaxSpeed       float64 `mapstructure:"max_speed" json:"max_speed"`
	DefaultSpeed   float64 `mapstructure:"default_speed" json:"default_speed"`
}

// SyncConfig 视频同步参数
type SyncConfig struct {
	SampleIntervalMs     float64 `mapstructure:"sample_interval_ms" json:"sample_interval_ms"`
	FetchIntervalMs      float64 `mapstructure:"fetch_interval_ms" json:"fetch_interval_ms"`
	FetchTimeoutMs       float64 `mapstructure:"fetch_timeout_ms" json:"fetch_timeout_ms"`
	CacheSize            int     `mapstructure:"cache_size" json:"cache_size"`
	MaxInterpolationGap  float64 `mapstructure:"max_interpolation_gap" json:"max_interpolation_gap"`
	JumpThresholdSeconds float64 `mapstructure:"jump_threshold_seconds" json:"jump_threshold_seconds"`
	JumpSamples          int     `mapstructure:"jump_samples" json:"jump_samples"`
	CorrectionCooldownMs float64 `mapstructure:"correction_cooldown_ms" json:"correction_cooldown_ms"`
	FailureThreshold     int     `mapstructure:"failure_threshold" json:"failure_threshold"`
	ValidStart           float64 `mapstructure:"valid_start" json:"valid_start"` // 0 表示使用第一条记录
	LookaheadMs          float64 `mapstructure:"lookahead_ms" json:"lookahead_ms"`
}

// Config 服务配置
type Config struct {
	Host      string `mapstructure:"host" json:"host"`
	Port      int    `mapstructure:"port" json:"port"`
	Debug     bool   `mapstructure:"debug" json:"debug"`
	LogLevel  string `mapstructure:"log_level" json:"log_level"`
	NoBrowser bool   `mapstructure:"no_browser" json:"no_browser"`

	DataFile    string `mapstructure:"data_file" json:"data_file"`
	MappingFile string `mapstructure:"mapping_file" json:"mapping_file"`
	CacheDir    string `mapstructure:"cache_dir" json:"cache_dir"`

	YouTubeVideoID     string  `mapstructure:"youtube_video_id" json:"youtube_video_id"`
	YouTubeStartOffset float64 `mapstructure:"youtube_start_offset" json:"youtube_start_offset"`

	UDPAddr       string `mapstructure:"udp_addr" json:"udp_addr"`
	RedisAddr     string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" json:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" json:"redis_db"`
	RedisChannel  string `mapstructure:"redis_channel" json:"redis_channel"`

	PathStride      int `mapstructure:"path_stride" json:"path_stride"`
	MapPreviewLimit int `mapstructure:"map_preview_limit" json:"map_preview_limit"`

	Playback PlaybackConfig `mapstructure:"playback" json:"playback"`
	Sync     SyncConfig     `mapstructure:"sync" json:"sync"`
	Markers  []Marker       `mapstructure:"markers" json:"markers"`
}

// DefaultMarkers 试飞科目标记
var DefaultMarkers = []Marker{
	{0, "Takeoff", 2643.0},
	{1, "Test 1 - head movement", 2888.0},
	{2, "Test 2 - 90 turn left", 3190.0},
	{3, "Test 2 - 90 turn right", 3242.0},
	{4, "Test 2 - 360", 3299.0},
	{5, "Test 3 - 5 Up", 3451.0},
	{6, "Test 3 - 10 Up", 3466.0},
	{7, "Test 3 - 15 Up", 3495.0},
	{8, "Test 3 - 5 Down", 3519.0},
	{9, "Test 3 - 10 Down", 3539.0},
	{10, "Test 5 - Climb Turn", 3605.0},
	{11, "Test 5 - Descend Turn", 3712.0},
	{12, "Landing", 4823.02},
}

// Default 默认配置
func Default() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            5000,
		LogLevel:        "info",
		DataFile:        "flight_data.csv",
		MappingFile:     "video_timestamps.json",
		UDPAddr:         "127.0.0.1:1991",
		RedisChannel:    "flight-replay:frames",
		PathStride:      1,
		MapPreviewLimit: 2000,
		Playback: PlaybackConfig{
			DefaultDelayMs: 10,
			MinDelayMs:     1,
			MaxDelayMs:     100,
			MaxGapSeconds:  10,
			MaxSpeed:       2.0,
			DefaultSpeed:   1.0,
		},
		Sync: SyncConfig{
			SampleIntervalMs:     16,
			FetchIntervalMs:      100,
			FetchTimeoutMs:       500,
			CacheSize:            10,
			MaxInterpolationGap:  1.0,
			JumpThresholdSeconds: 2.0,
			JumpSamples:          50,
			CorrectionCooldownMs: 2000,
			FailureThreshold:     5,
		},
		Markers: DefaultMarkers,
	}
}

// Load 按 默认值 < 配置文件 < 环境变量 < 命令行 的优先级加载配置，并应用日志级别
func Load(args []string) (*Config, error) {
	def := Default()

	fs := pflag.NewFlagSet("flight-replay", pflag.ContinueOnError)
	configFile := fs.String("config", "", "config file path (yaml/json/toml)")
	fs.String("host", def.Host, "listen host")
	fs.Int("port", def.Port, "listen port")
	fs.Bool("debug", def.Debug, "enable debug logging")
	fs.String("log_level", def.LogLevel, "log level: debug|info|warn|error")
	fs.Bool("no_browser", def.NoBrowser, "don't open browser automatically")
	fs.String("data_file", def.DataFile, "telemetry CSV file")
	fs.String("mapping_file", def.MappingFile, "video timestamp mapping JSON")
	fs.String("cache_dir", def.CacheDir, "record snapshot cache directory (empty disables)")
	fs.String("youtube_video_id", def.YouTubeVideoID, "YouTube video id or URL")
	fs.Float64("youtube_start_offset", def.YouTubeStartOffset, "data seconds at video time 0")
	fs.String("udp_addr", def.UDPAddr, "3D display UDP address (empty disables)")
	fs.String("redis_addr", def.RedisAddr, "redis address for frame fan-out (empty disables)")
	fs.Int("path_stride", def.PathStride, "stride for complete path extraction")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()

	// 默认值
	b, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	// 配置文件
	// 配置文件格式按扩展名识别，单独读取后合并
	if *configFile != "" {
		fv := viper.New()
		fv.SetConfigFile(*configFile)
		if err := fv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file %s: %w", *configFile, err)
		}
		if err := v.MergeConfigMap(fv.AllSettings()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", *configFile, err)
		}
	}

	// 环境变量: sync.cache_size -> SYNC_CACHE_SIZE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	// 命令行
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	// 日志级别在输出配置前生效
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("config: invalid log_level %q: %w", cfg.LogLevel, err)
	}
	if cfg.Debug {
		logger.SetDebugMode(true)
	}
	logger.LogDebug(fmt.Sprintf("配置: %# v", pretty.Formatter(cfg)))
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.PathStride < 1 {
		c.PathStride = 1
	}
	if c.Playback.MaxSpeed <= 0 {
		return fmt.Errorf("config: playback.max_speed must be positive")
	}
	c.YouTubeVideoID = ExtractVideoID(c.YouTubeVideoID)
	return nil
}

// ==================== 转换 ====================

func ms(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// PlaybackOptions 转换为调度器参数
func (c *Config) PlaybackOptions() playback.Config {
	p := c.Playback
	return playback.Config{
		DefaultDelay: ms(p.DefaultDelayMs),
		MinDelay:     ms(p.MinDelayMs),
		MaxDelay:     ms(p.MaxDelayMs),
		MaxGap:       seconds(p.MaxGapSeconds),
		MaxSpeed:     p.MaxSpeed,
		DefaultSpeed: p.DefaultSpeed,
	}
}

// SyncOptions 转换为同步控制器参数
func (c *Config) SyncOptions() videosync.Config {
	s := c.Sync
	return videosync.Config{
		SampleInterval:      ms(s.SampleIntervalMs),
		FetchInterval:       ms(s.FetchIntervalMs),
		FetchTimeout:        ms(s.FetchTimeoutMs),
		CacheSize:           s.CacheSize,
		MaxInterpolationGap: seconds(s.MaxInterpolationGap),
		JumpThreshold:       seconds(s.JumpThresholdSeconds),
		JumpSamples:         s.JumpSamples,
		CorrectionCooldown:  ms(s.CorrectionCooldownMs),
		FailureThreshold:    s.FailureThreshold,
		ValidStart:          s.ValidStart,
		Lookahead:           ms(s.LookaheadMs),
	}
}

// SessionOptions 会话参数
func (c *Config) SessionOptions() session.Options {
	markers := make([]session.Marker, 0, len(c.Markers))
	for _, m := range c.Markers {
		markers = append(markers, session.Marker{ID: m.ID, Name: m.Name, Timestamp: m.Timestamp})
	}
	return session.Options{
		StartOffset: c.YouTubeStartOffset,
		Playback:    c.PlaybackOptions(),
		Sync:        c.SyncOptions(),
		Markers:     markers,
	}
}
