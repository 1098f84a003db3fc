package videosync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"flight-replay/internal/logger"
	"flight-replay/internal/protocol"
	"flight-replay/internal/timemap"
)

// Config 视频同步参数
type Config struct {
	SampleInterval      time.Duration // 轮询视频时钟的间隔
	FetchInterval       time.Duration // 两次获取之间的最小间隔
	FetchTimeout        time.Duration
	CacheSize           int
	MaxInterpolationGap time.Duration // 相邻缓存条目超过该间隔时不插值
	JumpThreshold       time.Duration // 视频时钟两次采样之间跳变超过该值视为 seek
	JumpSamples         int           // 获取结果的索引跳变超过该值时丢弃旧缓存
	CorrectionCooldown  time.Duration // 纠正 seek 的冷却时间
	FailureThreshold    int           // 连续失败达到该次数时上报错误
	ValidStart          float64       // 有效数据起点 (数据时间，秒)
	Lookahead           time.Duration // 获取目标相对当前视频时间的提前量
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		SampleInterval:      16 * time.Millisecond,
		FetchInterval:       100 * time.Millisecond,
		FetchTimeout:        500 * time.Millisecond,
		CacheSize:           10,
		MaxInterpolationGap: time.Second,
		JumpThreshold:       2 * time.Second,
		JumpSamples:         50,
		CorrectionCooldown:  2 * time.Second,
		FailureThreshold:    5,
	}
}

// Stats 运行统计
type Stats struct {
	Running     bool   `json:"running"`
	Fetches     uint64 `json:"fetches"`
	Dropped     uint64 `json:"dropped"`
	Stale       uint64 `json:"stale"`
	Failures    uint64 `json:"failures"`
	Corrections uint64 `json:"corrections"`
	Frames      uint64 `json:"frames"`
}

type fetchResult struct {
	seq       uint64
	epoch     uint64
	videoTime float64
	dataTime  float64
	frame     protocol.Frame
	err       error
}

// Controller 以外部视频时钟驱动的同步控制器
// 缓存及节流状态只在采样 goroutine 中修改；获取结果通过通道交回
type Controller struct {
	mapper  *timemap.Mapper
	fetcher Fetcher
	emit    protocol.Emitter
	cfg     Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	results chan fetchResult
	seeks   chan float64

	// 以下字段归采样 goroutine 所有
	clock          VideoClock
	cache          *FrameCache
	inFlight       bool
	fetchCancel    context.CancelFunc
	seq            uint64
	appliedSeq     uint64
	epoch          uint64
	lastFetch      time.Time
	lastVideoTime  float64
	haveLast       bool
	lastCorrection time.Time
	lastIndex      int
	failures       int
	escalated      bool

	fetches     atomic.Uint64
	dropped     atomic.Uint64
	stale       atomic.Uint64
	failCount   atomic.Uint64
	corrections atomic.Uint64
	frames      atomic.Uint64
}

// New 创建控制器
func New(mapper *timemap.Mapper, fetcher Fetcher, emit protocol.Emitter, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	return &Controller{
		mapper:    mapper,
		fetcher:   fetcher,
		emit:      emit,
		cfg:       cfg,
		results:   make(chan fetchResult, 4),
		seeks:     make(chan float64),
		cache:     NewFrameCache(cfg.CacheSize),
		lastIndex: -1,
	}
}

// Config 同步参数
func (c *Controller) Config() Config {
	return c.cfg
}

// Start 启动采样循环；已在运行时先停止旧循环
func (c *Controller) Start(parent context.Context, clock VideoClock) {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.clock = clock
	c.resetLocal()
	c.haveLast = false
	c.lastCorrection = time.Time{}
	c.failures = 0
	c.escalated = false

	logger.LogInfo("[SYNC] 视频同步已启动", "sample_interval", c.cfg.SampleInterval, "valid_start", c.cfg.ValidStart)
	go c.run(ctx, c.done)
}

// Stop 停止采样循环，进行中的获取结果被丢弃
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		logger.LogInfo("[SYNC] 视频同步已停止")
	}
}

// Running 是否在运行
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done != nil
}

// Seek 命令视频跳转到 videoTime，清空缓存并立即重新获取
func (c *Controller) Seek(videoTime float64) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return ErrNotRunning
	}
	select {
	case c.seeks <- videoTime:
		return nil
	case <-done:
		return ErrNotRunning
	}
}

// Stats 运行统计
func (c *Controller) Stats() Stats {
	return Stats{
		Running:     c.Running(),
		Fetches:     c.fetches.Load(),
		Dropped:     c.dropped.Load(),
		Stale:       c.stale.Load(),
		Failures:    c.failCount.Load(),
		Corrections: c.corrections.Load(),
		Frames:      c.frames.Load(),
	}
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.cancelFetch()
			return
		case res := <-c.results:
			c.applyResult(res)
		case vt := <-c.seeks:
			c.seekTo(vt, "")
		case now := <-ticker.C:
			c.step(ctx, now)
		}
	}
}

// step 一次采样: 读取视频时钟、边界检查、按需获取、输出插值帧
func (c *Controller) step(ctx context.Context, now time.Time) {
	vt, ok := c.clock.CurrentTime()
	if !ok || math.IsNaN(vt) {
		return
	}

	if c.haveLast && math.Abs(vt-c.lastVideoTime) > c.cfg.JumpThreshold.Seconds() {
		logger.LogDebug("[SYNC] 检测到视频跳转", "from", c.lastVideoTime, "to", vt)
		c.resetLocal()
	}
	c.lastVideoTime = vt
	c.haveLast = true

	dataTime := c.mapper.VideoToDataTime(vt)
	if dataTime < c.cfg.ValidStart {
		c.correct(now)
		return
	}

	if c.fetchDue(now) {
		c.requestFetch(ctx, vt+c.cfg.Lookahead.Seconds(), now)
	}

	f, ok := c.cache.Interpolate(vt, c.cfg.MaxInterpolationGap.Seconds())
	if !ok {
		return
	}
	c.frames.Add(1)
	c.emit.EmitFrame(f.WithVideoTime(vt, dataTime))
}

func (c *Controller) fetchDue(now time.Time) bool {
	if c.cache.Len() == 0 || c.lastFetch.IsZero() {
		return true
	}
	return now.Sub(c.lastFetch) >= c.cfg.FetchInterval
}

// requestFetch 发起一次获取；已有进行中的获取时丢弃本次请求
func (c *Controller) requestFetch(ctx context.Context, videoTime float64, now time.Time) bool {
	if c.inFlight {
		c.dropped.Add(1)
		return false
	}

	c.seq++
	seq, epoch := c.seq, c.epoch
	dataTime := c.mapper.VideoToDataTime(videoTime)

	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	c.inFlight = true
	c.fetchCancel = cancel
	c.lastFetch = now
	c.fetches.Add(1)

	go func() {
		defer cancel()

		type outcome struct {
			frame protocol.Frame
			err   error
		}
		ch := make(chan outcome, 1)
		go func() {
			f, err := c.fetcher.Fetch(fctx, dataTime)
			ch <- outcome{f, err}
		}()

		res := fetchResult{seq: seq, epoch: epoch, videoTime: videoTime, dataTime: dataTime}
		select {
		case o := <-ch:
			res.frame, res.err = o.frame, o.err
		case <-fctx.Done():
			res.err = fctx.Err()
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			res.err = fmt.Errorf("%w after %v (data time %.3f)", ErrFetchTimeout, c.cfg.FetchTimeout, dataTime)
		}

		select {
		case c.results <- res:
		case <-ctx.Done():
		}
	}()
	return true
}

// applyResult 应用获取结果；被 seek 取代或序号过期的结果被丢弃
func (c *Controller) applyResult(res fetchResult) {
	if res.epoch != c.epoch {
		c.stale.Add(1)
		return
	}
	c.inFlight = false
	c.fetchCancel = nil

	if res.seq <= c.appliedSeq {
		c.stale.Add(1)
		return
	}
	c.appliedSeq = res.seq

	if res.err != nil {
		c.fail(res.err)
		return
	}

	c.failures = 0
	c.escalated = false
	if c.lastIndex >= 0 && c.cfg.JumpSamples > 0 {
		if d := res.frame.Index - c.lastIndex; d > c.cfg.JumpSamples || -d > c.cfg.JumpSamples {
			c.cache.Clear()
		}
	}
	c.lastIndex = res.frame.Index
	c.cache.Insert(res.videoTime, res.frame)
}

// fail 记录失败，连续失败达到阈值时上报一次
func (c *Controller) fail(err error) {
	c.failures++
	c.failCount.Add(1)
	if errors.Is(err, ErrOutOfRange) {
		// 超出范围时不保留旧帧，避免静默夹取
		c.cache.Clear()
		c.lastIndex = -1
	}
	logger.LogDebug("[SYNC] 获取失败", "consecutive", c.failures, "error", err)

	if c.failures >= c.cfg.FailureThreshold && !c.escalated {
		c.escalated = true
		logger.LogWarn("[SYNC] 连续获取失败", "count", c.failures, "error", err)
		c.emit.EmitEvent(protocol.ErrorEvent(ErrorKind(err), err))
	}
}

// correct 视频位于有效起点之前时跳回起点，带冷却
func (c *Controller) correct(now time.Time) {
	if !c.lastCorrection.IsZero() && now.Sub(c.lastCorrection) < c.cfg.CorrectionCooldown {
		return
	}
	c.lastCorrection = now
	c.corrections.Add(1)

	target := c.mapper.DataToVideoTime(c.cfg.ValidStart)
	logger.LogDebug("[SYNC] 视频早于有效起点，纠正跳转", "target", target)
	c.seekTo(target, protocol.KindBeforeStart)
}

func (c *Controller) seekTo(videoTime float64, kind protocol.Kind) {
	c.clock.Seek(videoTime)
	c.resetLocal()
	c.haveLast = false
	c.emit.EmitEvent(protocol.Event{
		Type:      protocol.EventVideoSeek,
		VideoTime: protocol.FloatPtr(videoTime),
		Kind:      kind,
	})
}

// resetLocal 清空缓存与节流，使下一次采样立即获取；进行中的获取被取消
func (c *Controller) resetLocal() {
	c.epoch++
	c.cancelFetch()
	c.cache.Clear()
	c.lastFetch = time.Time{}
	c.lastIndex = -1
}

func (c *Controller) cancelFetch() {
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
	c.inFlight = false
}
