package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"flight-replay/internal/logger"
	"flight-replay/internal/models"
	"flight-replay/internal/playback"
	"flight-replay/internal/protocol"
	"flight-replay/internal/store"
	"flight-replay/internal/timemap"
	"flight-replay/internal/transport"
	"flight-replay/internal/videosync"

	"github.com/google/uuid"
)

var (
	ErrMarkerNotFound  = errors.New("session: marker not found")
	ErrVideoSyncActive = errors.New("session: video-driven sync is active")
	ErrClosed          = errors.New("session: closed")
)

// Mode 输出驱动方式，同一时刻只有一个生效
type Mode string

const (
	ModeAutonomous Mode = "autonomous"
	ModeVideo      Mode = "video"
)

// Marker 命名时间点
type Marker struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Timestamp float64 `json:"timestamp"`
	Index     int     `json:"index"` // 最近记录索引，创建会话时解析
}

// Options 会话参数
type Options struct {
	StartOffset float64
	Playback    playback.Config
	Sync        videosync.Config
	Markers     []Marker
	Fetcher     videosync.Fetcher // 为空时读取本地存储
}

// Session 一次回放会话: 持有记录、时间换算、标记、调度器与同步控制器
type Session struct {
	id      string
	store   *store.RecordStore
	mapper  *timemap.Mapper
	markers map[int]Marker
	bus     *transport.Broadcaster

	scheduler *playback.Scheduler
	sync      *videosync.Controller

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	mode   Mode
	owner  string // 当前驱动同步的连接
	closed bool
}

// Initialize 由原始记录与对应表创建会话
func Initialize(raw []models.RawRecord, table []timemap.Entry, opts Options) (*Session, error) {
	st, err := store.Build(raw)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return New(st, timemap.New(table, opts.StartOffset), opts), nil
}

// New 由已构建的存储与换算器创建会话
func New(st *store.RecordStore, mapper *timemap.Mapper, opts Options) *Session {
	bus := transport.NewBroadcaster()

	syncCfg := opts.Sync
	if syncCfg.ValidStart <= 0 {
		syncCfg.ValidStart = st.First()
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = videosync.StoreFetcher{Store: st}
	}

	markers := make(map[int]Marker, len(opts.Markers))
	for _, m := range opts.Markers {
		m.Index = st.FindNearestIndex(m.Timestamp)
		markers[m.ID] = m
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        uuid.NewString(),
		store:     st,
		mapper:    mapper,
		markers:   markers,
		bus:       bus,
		scheduler: playback.New(st, bus, opts.Playback),
		sync:      videosync.New(mapper, fetcher, bus, syncCfg),
		ctx:       ctx,
		cancel:    cancel,
		mode:      ModeAutonomous,
	}

	logger.LogInfo("[SESSION] 会话已创建", "id", s.id, "records", st.Len(),
		"markers", len(markers), "has_table", mapper.HasTable(), "valid_start", syncCfg.ValidStart)
	return s
}

// ==================== 访问器 ====================

// ID 会话 ID
func (s *Session) ID() string { return s.id }

// Store 记录存储
func (s *Session) Store() *store.RecordStore { return s.store }

// Mapper 时间换算器
func (s *Session) Mapper() *timemap.Mapper { return s.mapper }

// ValidStart 视频同步的有效起点 (数据时间)
func (s *Session) ValidStart() float64 { return s.sync.Config().ValidStart }

// Markers 按 ID 排序的标记列表
func (s *Session) Markers() []Marker {
	out := make([]Marker, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Marker 查找标记
func (s *Session) Marker(id int) (Marker, error) {
	m, ok := s.markers[id]
	if !ok {
		return Marker{}, fmt.Errorf("%w: %d", ErrMarkerNotFound, id)
	}
	return m, nil
}

// Mode 当前驱动方式
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// PlaybackState 自主回放状态
func (s *Session) PlaybackState() playback.State {
	return s.scheduler.State()
}

// SyncStats 视频同步统计
func (s *Session) SyncStats() videosync.Stats {
	return s.sync.Stats()
}

// Subscribe 订阅帧与事件
func (s *Session) Subscribe(id string, ch chan<- protocol.Message) error {
	return s.bus.Subscribe(id, ch)
}

// Unsubscribe 取消订阅
func (s *Session) Unsubscribe(id string) error {
	return s.bus.Unsubscribe(id)
}

// ==================== 自主回放 ====================

// StartAutonomous 开始自主回放；视频同步生效时拒绝
func (s *Session) StartAutonomous(from *int, speed *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ModeAutonomous); err != nil {
		return err
	}
	return s.scheduler.Start(from, speed)
}

// Pause 暂停自主回放
func (s *Session) Pause() {
	s.scheduler.Pause()
}

// Resume 继续自主回放
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ModeAutonomous); err != nil {
		return err
	}
	s.scheduler.Resume()
	return nil
}

// SetSpeed 设置倍速，返回实际生效值
func (s *Session) SetSpeed(x float64) (float64, error) {
	return s.scheduler.SetSpeed(x)
}

// Seek 跳到索引
func (s *Session) Seek(index int) int {
	return s.scheduler.Seek(index)
}

// ==================== 视频同步 ====================

// EnableVideoDrivenSync 切换到视频驱动，自主回放被暂停
func (s *Session) EnableVideoDrivenSync(clock videosync.VideoClock) error {
	return s.EnableVideoDrivenSyncFor("", clock)
}

// EnableVideoDrivenSyncFor 以 owner 身份开启视频驱动，后开启者接管同步
func (s *Session) EnableVideoDrivenSyncFor(owner string, clock videosync.VideoClock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.scheduler.Pause()
	s.sync.Start(s.ctx, clock)
	s.owner = owner
	if s.mode != ModeVideo {
		s.mode = ModeVideo
		s.bus.EmitEvent(protocol.Event{Type: protocol.EventModeChanged, Mode: string(ModeVideo)})
	}
	return nil
}

// DisableVideoDrivenSync 停止视频驱动，回到自主模式 (保持暂停)
func (s *Session) DisableVideoDrivenSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disableSyncLocked()
}

// ReleaseVideoSync owner 仍驱动同步时停止视频驱动，返回是否生效
// 同步已被其它连接接管时不做任何改变
func (s *Session) ReleaseVideoSync(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeVideo || s.owner != owner {
		return false
	}
	s.disableSyncLocked()
	return true
}

func (s *Session) disableSyncLocked() {
	s.sync.Stop()
	s.owner = ""
	if s.mode != ModeAutonomous {
		s.mode = ModeAutonomous
		s.bus.EmitEvent(protocol.Event{Type: protocol.EventModeChanged, Mode: string(ModeAutonomous)})
	}
}

// SeekVideo 视频模式下命令视频跳转；自主模式下跳到对应数据时间的最近索引
func (s *Session) SeekVideo(videoTime float64) error {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()

	if mode == ModeVideo {
		return s.sync.Seek(videoTime)
	}
	s.scheduler.Seek(s.store.FindNearestIndex(s.mapper.VideoToDataTime(videoTime)))
	return nil
}

// JumpToMarker 跳到标记点: 回放停在对应索引并暂停；视频模式下同时跳转视频
func (s *Session) JumpToMarker(id int) (int, error) {
	m, err := s.Marker(id)
	if err != nil {
		return 0, err
	}

	idx := s.scheduler.PauseAt(m.Index)
	logger.LogDebug("[SESSION] 跳转标记", "marker", id, "name", m.Name, "index", idx)

	if s.Mode() == ModeVideo {
		if err := s.sync.Seek(s.mapper.DataToVideoTime(m.Timestamp)); err != nil {
			return idx, err
		}
	}
	return idx, nil
}

// ==================== 命令分发 ====================

// HandleCommand 执行客户端控制命令
// enable_sync 与 video_time 需要视频时钟连接，由传输层处理
func (s *Session) HandleCommand(cmd protocol.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	switch cmd.Action {
	case protocol.ActionStart:
		return s.StartAutonomous(cmd.Index, cmd.Speed)
	case protocol.ActionPause:
		s.Pause()
	case protocol.ActionResume:
		return s.Resume()
	case protocol.ActionSeek:
		if cmd.Index != nil {
			s.Seek(*cmd.Index)
			return nil
		}
		return s.SeekVideo(*cmd.VideoTime)
	case protocol.ActionSetSpeed:
		_, err := s.SetSpeed(*cmd.Speed)
		return err
	case protocol.ActionJump:
		_, err := s.JumpToMarker(*cmd.Marker)
		return err
	case protocol.ActionDisableSync:
		s.DisableVideoDrivenSync()
	default:
		return fmt.Errorf("%w: %s requires a video clock connection", protocol.ErrInvalidCommand, cmd.Action)
	}
	return nil
}

// Close 停止所有输出并关闭广播
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.sync.Stop()
	s.scheduler.Stop()
	s.cancel()
	s.bus.Close()
	logger.LogInfo("[SESSION] 会话已关闭", "id", s.id)
}

func (s *Session) checkLocked(want Mode) error {
	if s.closed {
		return ErrClosed
	}
	if want == ModeAutonomous && s.mode == ModeVideo {
		return ErrVideoSyncActive
	}
	return nil
}
