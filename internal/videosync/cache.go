package videosync

import (
	"sort"

	"flight-replay/internal/models"
	"flight-replay/internal/protocol"
)

// cacheEntry 以视频时间为键的已获取快照
type cacheEntry struct {
	VideoTime float64
	Frame     protocol.Frame
}

// FrameCache 按视频时间排序的有界快照缓存
// 超出容量时淘汰视频时间最早的条目
type FrameCache struct {
	entries []cacheEntry
	max     int
}

// NewFrameCache 创建缓存
func NewFrameCache(max int) *FrameCache {
	if max < 2 {
		max = 2
	}
	return &FrameCache{entries: make([]cacheEntry, 0, max+1), max: max}
}

// Len 条目数
func (c *FrameCache) Len() int {
	return len(c.entries)
}

// Clear 清空 (seek 时调用)
func (c *FrameCache) Clear() {
	c.entries = c.entries[:0]
}

// Insert 按视频时间插入，相同视频时间的条目被替换
func (c *FrameCache) Insert(videoTime float64, f protocol.Frame) {
	i := sort.Search(len(c.entries), func(i int) bool {
		return c.entries[i].VideoTime >= videoTime
	})
	if i < len(c.entries) && c.entries[i].VideoTime == videoTime {
		c.entries[i].Frame = f
		return
	}

	c.entries = append(c.entries, cacheEntry{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = cacheEntry{VideoTime: videoTime, Frame: f}

	if len(c.entries) > c.max {
		c.entries = append(c.entries[:0], c.entries[len(c.entries)-c.max:]...)
	}
}

// VideoTimes 缓存中的视频时间 (升序)
func (c *FrameCache) VideoTimes() []float64 {
	out := make([]float64, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.VideoTime
	}
	return out
}

// Interpolate 计算任意视频时间的帧
// 超出缓存范围取最近端点；相邻条目间隔超过 maxGap 时取较近条目 (等距取较早)；
// 否则对两个四元数做 slerp、对高度和地速做线性插值，其余字段取较近条目
func (c *FrameCache) Interpolate(videoTime, maxGap float64) (protocol.Frame, bool) {
	n := len(c.entries)
	if n == 0 {
		return protocol.Frame{}, false
	}

	i := sort.Search(n, func(i int) bool {
		return c.entries[i].VideoTime >= videoTime
	})
	if i == 0 {
		return c.entries[0].Frame, true
	}
	if i == n {
		return c.entries[n-1].Frame, true
	}

	lo, hi := c.entries[i-1], c.entries[i]
	if hi.VideoTime == videoTime {
		return hi.Frame, true
	}

	gap := hi.VideoTime - lo.VideoTime
	t := (videoTime - lo.VideoTime) / gap
	if gap > maxGap {
		if t <= 0.5 {
			return lo.Frame, true
		}
		return hi.Frame, true
	}

	out := lo.Frame
	if t > 0.5 {
		out = hi.Frame
	}
	out.VehicleOrientation = models.Slerp(lo.Frame.VehicleOrientation, hi.Frame.VehicleOrientation, t)
	out.HelmetOrientationWorld = models.Slerp(lo.Frame.HelmetOrientationWorld, hi.Frame.HelmetOrientationWorld, t)
	out.Position.Alt = lerp(lo.Frame.Position.Alt, hi.Frame.Position.Alt, t)
	out.GroundSpeed = lerp(lo.Frame.GroundSpeed, hi.Frame.GroundSpeed, t)
	return out, true
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
