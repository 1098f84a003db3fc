package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"flight-replay/internal/logger"
	"flight-replay/internal/protocol"
	"flight-replay/internal/store"
)

// ErrInvalidSpeed 倍速必须为正数
var ErrInvalidSpeed = errors.New("playback: speed must be positive")

// Status 回放状态
type Status string

const (
	StatusStopped Status = "stopped"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
)

// State 回放状态快照
type State struct {
	CurrentIndex int     `json:"current_index"`
	Speed        float64 `json:"speed"`
	Status       Status  `json:"status"`
}

// Config 调度参数
type Config struct {
	DefaultDelay time.Duration // 首帧、时间戳回退或断档时的基准间隔 (1x)
	MinDelay     time.Duration
	MaxDelay     time.Duration
	MaxGap       time.Duration // 相邻记录间隔超过该值视为断档
	MaxSpeed     float64       // 视频控件支持的最大倍速
	DefaultSpeed float64
}

// DefaultConfig 默认调度参数
func DefaultConfig() Config {
	return Config{
		DefaultDelay: 10 * time.Millisecond,
		MinDelay:     1 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		MaxGap:       10 * time.Second,
		MaxSpeed:     2.0,
		DefaultSpeed: 1.0,
	}
}

// ComputeDelay 根据当前与下一条记录的时间戳 (秒) 计算下一次 tick 的间隔
// 时间戳回退或断档时重置为基准间隔，结果限制在 [MinDelay, MaxDelay]
func (c Config) ComputeDelay(cur, next, speed float64) time.Duration {
	if speed <= 0 {
		speed = 1
	}
	diff := next - cur

	var d time.Duration
	switch {
	case diff < 0 || diff > c.MaxGap.Seconds():
		d = time.Duration(float64(c.DefaultDelay) / speed)
	case diff == 0:
		d = time.Duration(float64(c.MinDelay) / speed)
	default:
		d = time.Duration(diff * float64(time.Second) / speed)
	}

	if d < c.MinDelay {
		d = c.MinDelay
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// Scheduler 自主回放调度器
// 通过自调度定时器逐条输出记录，任意时刻至多一个待执行 tick
type Scheduler struct {
	mu    sync.Mutex
	store *store.RecordStore
	emit  protocol.Emitter
	cfg   Config

	state    State
	finished bool

	gen     uint64      // 每次取消/重排递增，过期回调据此丢弃
	timer   *time.Timer // 待执行 tick
	nextDue time.Time   // 下一次 tick 的预定时间，用于漂移修正
}

// New 创建调度器
func New(s *store.RecordStore, emit protocol.Emitter, cfg Config) *Scheduler {
	if cfg.DefaultSpeed <= 0 {
		cfg.DefaultSpeed = 1
	}
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = cfg.DefaultSpeed
	}
	return &Scheduler{
		store: s,
		emit:  emit,
		cfg:   cfg,
		state: State{Speed: min(cfg.DefaultSpeed, cfg.MaxSpeed), Status: StatusStopped},
	}
}

// State 返回当前状态副本
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config 调度参数
func (s *Scheduler) Config() Config {
	return s.cfg
}

// ==================== 状态迁移 ====================

// Start 开始回放，可选起始索引与倍速
// 回放结束后不指定索引则从头开始
func (s *Scheduler) Start(from *int, speed *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if speed != nil {
		eff, err := s.effectiveSpeed(*speed)
		if err != nil {
			return err
		}
		s.state.Speed = eff
	}
	switch {
	case from != nil:
		s.state.CurrentIndex = s.clampIndex(*from)
	case s.finished:
		s.state.CurrentIndex = 0
	}

	s.finished = false
	s.state.Status = StatusPlaying
	s.emit.EmitEvent(protocol.Event{
		Type:  protocol.EventStarted,
		Index: protocol.IntPtr(s.state.CurrentIndex),
		Speed: protocol.FloatPtr(s.state.Speed),
	})
	logger.LogDebug("[PLAYBACK] 开始", "index", s.state.CurrentIndex, "speed", s.state.Speed)

	s.restartLocked()
	return nil
}

// Pause 暂停；非播放状态下无操作
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != StatusPlaying {
		return
	}
	s.cancelLocked()
	s.state.Status = StatusPaused
	s.emit.EmitEvent(protocol.Event{Type: protocol.EventPaused, Index: protocol.IntPtr(s.state.CurrentIndex)})
}

// Resume 从当前位置继续；已在播放时无操作
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status == StatusPlaying {
		return
	}
	if s.finished {
		s.state.CurrentIndex = 0
		s.finished = false
	}
	s.state.Status = StatusPlaying
	s.emit.EmitEvent(protocol.Event{
		Type:  protocol.EventResumed,
		Index: protocol.IntPtr(s.state.CurrentIndex),
		Speed: protocol.FloatPtr(s.state.Speed),
	})
	s.restartLocked()
}

// SetSpeed 设置倍速，超过上限时截断
// 播放中会取消待执行 tick，按新倍速重新计算下一帧的间隔
func (s *Scheduler) SetSpeed(x float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eff, err := s.effectiveSpeed(x)
	if err != nil {
		return s.state.Speed, err
	}
	s.state.Speed = eff
	s.emit.EmitEvent(protocol.Event{Type: protocol.EventSpeedChanged, Speed: protocol.FloatPtr(eff)})

	if s.state.Status == StatusPlaying {
		s.rescheduleLocked()
	}
	return eff, nil
}

// Seek 跳到指定索引 (夹到有效范围)，保持当前状态
func (s *Scheduler) Seek(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.CurrentIndex = s.clampIndex(index)
	s.finished = false
	s.emit.EmitEvent(protocol.Event{Type: protocol.EventSeeked, Index: protocol.IntPtr(s.state.CurrentIndex)})

	if s.state.Status == StatusPlaying {
		s.rescheduleLocked()
	}
	return s.state.CurrentIndex
}

// PauseAt 停在指定索引并进入暂停状态
func (s *Scheduler) PauseAt(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	s.state.CurrentIndex = s.clampIndex(index)
	s.state.Status = StatusPaused
	s.finished = false
	s.emit.EmitEvent(protocol.Event{Type: protocol.EventSeeked, Index: protocol.IntPtr(s.state.CurrentIndex)})
	s.emit.EmitEvent(protocol.Event{Type: protocol.EventPaused, Index: protocol.IntPtr(s.state.CurrentIndex)})
	return s.state.CurrentIndex
}

// Stop 停止回放
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	s.state.Status = StatusStopped
}

// ==================== 调度 ====================

func (s *Scheduler) effectiveSpeed(x float64) (float64, error) {
	if !(x > 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSpeed, x)
	}
	if x > s.cfg.MaxSpeed {
		logger.LogWarn("[PLAYBACK] 倍速超过上限，已截断", "requested", x, "max", s.cfg.MaxSpeed)
		return s.cfg.MaxSpeed, nil
	}
	return x, nil
}

func (s *Scheduler) clampIndex(i int) int {
	return max(0, min(i, s.store.Len()-1))
}

// cancelLocked 取消待执行 tick
func (s *Scheduler) cancelLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextDue = time.Time{}
}

// restartLocked 取消后立即调度一次 tick，并重置间隔基准
func (s *Scheduler) restartLocked() {
	s.cancelLocked()
	s.scheduleLocked(0)
}

// rescheduleLocked 取消待执行 tick，按当前倍速重新计算到当前索引的间隔
func (s *Scheduler) rescheduleLocked() {
	s.cancelLocked()
	s.scheduleLocked(s.pendingDelayLocked())
}

// pendingDelayLocked 上一条记录到当前索引的间隔，索引 0 时立即输出
func (s *Scheduler) pendingDelayLocked() time.Duration {
	idx := s.state.CurrentIndex
	if idx == 0 {
		return 0
	}
	prev, err := s.store.Get(idx - 1)
	if err != nil {
		return 0
	}
	cur, err := s.store.Get(idx)
	if err != nil {
		return 0
	}
	return s.cfg.ComputeDelay(prev.TimestampSeconds, cur.TimestampSeconds, s.state.Speed)
}

func (s *Scheduler) scheduleLocked(wait time.Duration) {
	gen := s.gen
	s.nextDue = time.Now().Add(wait)
	s.timer = time.AfterFunc(wait, func() { s.tick(gen) })
}

// tick 输出当前记录并调度下一次
func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state.Status != StatusPlaying {
		return
	}

	start := time.Now()
	var lateness time.Duration
	if !s.nextDue.IsZero() && start.After(s.nextDue) {
		lateness = start.Sub(s.nextDue)
	}

	idx := s.state.CurrentIndex
	rec, err := s.store.Get(idx)
	if err != nil {
		s.state.Status = StatusStopped
		s.timer = nil
		s.emit.EmitEvent(protocol.ErrorEvent(protocol.KindLookup, err))
		return
	}
	s.emit.EmitFrame(protocol.FrameFromRecord(rec, protocol.SourceAutonomous))

	if idx+1 >= s.store.Len() {
		s.state.Status = StatusStopped
		s.finished = true
		s.timer = nil
		s.nextDue = time.Time{}
		s.emit.EmitEvent(protocol.Event{Type: protocol.EventFinished, Index: protocol.IntPtr(idx)})
		logger.LogDebug("[PLAYBACK] 回放结束", "index", idx)
		return
	}

	next, _ := s.store.Get(idx + 1)
	delay := s.cfg.ComputeDelay(rec.TimestampSeconds, next.TimestampSeconds, s.state.Speed)
	s.state.CurrentIndex = idx + 1

	// 漂移修正: 扣除本次 tick 的耗时与迟到量
	wait := delay - time.Since(start) - lateness
	if wait < 0 {
		wait = 0
	}
	s.scheduleLocked(wait)
}
