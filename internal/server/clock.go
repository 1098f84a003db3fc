package server

import (
	"sync"
	"time"
)

// reportedClock 由客户端上报的播放器时间驱动的视频时钟
// 两次上报之间按 rate 外推
type reportedClock struct {
	mu      sync.Mutex
	base    float64
	at      time.Time
	playing bool
	rate    float64
	valid   bool
	now     func() time.Time
}

func newReportedClock() *reportedClock {
	return &reportedClock{rate: 1, now: time.Now}
}

// Report 记录一次播放器上报
func (c *reportedClock) Report(videoTime float64, playing bool, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.base = videoTime
	c.at = c.now()
	c.playing = playing
	if rate > 0 {
		c.rate = rate
	}
	c.valid = true
}

// CurrentTime 实现 videosync.VideoClock
func (c *reportedClock) CurrentTime() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		return 0, false
	}
	if !c.playing {
		return c.base, true
	}
	return c.base + c.now().Sub(c.at).Seconds()*c.rate, true
}

// Seek 实现 videosync.VideoClock；播放器的实际跳转由 video_seek 事件通知客户端
func (c *reportedClock) Seek(videoTime float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.base = videoTime
	c.at = c.now()
}
