package videosync

import (
	"context"
	"errors"
	"fmt"

	"flight-replay/internal/protocol"
	"flight-replay/internal/store"
	"flight-replay/internal/timemap"
)

var (
	// ErrOutOfRange 数据时间超出记录范围，不做夹取
	ErrOutOfRange = errors.New("videosync: data time outside recorded range")
	// ErrBeforeValidStart 数据时间早于有效起点
	ErrBeforeValidStart = errors.New("videosync: data time before valid start")
	// ErrFetchTimeout 获取超时 (可重试)
	ErrFetchTimeout = errors.New("videosync: fetch timed out")
	// ErrNotRunning 同步未启动
	ErrNotRunning = errors.New("videosync: controller not running")
)

// VideoClock 外部视频时钟: 轮询读取当前时间，并可下达跳转命令
type VideoClock interface {
	// CurrentTime 返回当前播放时间 (秒)；时钟不可用时 ok=false
	CurrentTime() (t float64, ok bool)
	// Seek 命令视频跳转
	Seek(videoTime float64)
}

// ClockFuncs 用两个函数适配 VideoClock
type ClockFuncs struct {
	Now    func() (float64, bool)
	SeekTo func(videoTime float64)
}

// CurrentTime 实现 VideoClock
func (c ClockFuncs) CurrentTime() (float64, bool) {
	if c.Now == nil {
		return 0, false
	}
	return c.Now()
}

// Seek 实现 VideoClock
func (c ClockFuncs) Seek(videoTime float64) {
	if c.SeekTo != nil {
		c.SeekTo(videoTime)
	}
}

// Fetcher 按数据时间获取快照
type Fetcher interface {
	Fetch(ctx context.Context, dataTime float64) (protocol.Frame, error)
}

// StoreFetcher 从本地 RecordStore 读取
type StoreFetcher struct {
	Store *store.RecordStore
}

// Fetch 超出记录范围返回 ErrOutOfRange
func (f StoreFetcher) Fetch(ctx context.Context, dataTime float64) (protocol.Frame, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Frame{}, err
	}
	if dataTime > f.Store.Last() {
		return protocol.Frame{}, fmt.Errorf("%w: %.3f > last %.3f", ErrOutOfRange, dataTime, f.Store.Last())
	}
	if dataTime < f.Store.First() {
		return protocol.Frame{}, fmt.Errorf("%w: %.3f < first %.3f", ErrOutOfRange, dataTime, f.Store.First())
	}

	rec, err := f.Store.Get(f.Store.FindNearestIndex(dataTime))
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.FrameFromRecord(rec, protocol.SourceVideo), nil
}

// LookupVideoTime 单次换算查询: 视频时间 -> 数据时间 -> 最近记录
// 早于 validStart 返回 ErrBeforeValidStart，超出记录范围返回 ErrOutOfRange
func LookupVideoTime(ctx context.Context, m *timemap.Mapper, s *store.RecordStore, validStart, videoTime float64) (protocol.Frame, error) {
	dataTime := m.VideoToDataTime(videoTime)
	if dataTime < validStart {
		return protocol.Frame{}, fmt.Errorf("%w: %.3f < %.3f", ErrBeforeValidStart, dataTime, validStart)
	}
	f, err := StoreFetcher{Store: s}.Fetch(ctx, dataTime)
	if err != nil {
		return protocol.Frame{}, err
	}
	return f.WithVideoTime(videoTime, dataTime), nil
}

// ErrorKind 错误分类
func ErrorKind(err error) protocol.Kind {
	switch {
	case errors.Is(err, ErrOutOfRange):
		return protocol.KindOutOfRange
	case errors.Is(err, ErrBeforeValidStart):
		return protocol.KindBeforeStart
	case errors.Is(err, ErrFetchTimeout), errors.Is(err, context.DeadlineExceeded):
		return protocol.KindTimeout
	}
	return protocol.KindFetch
}
