package timemap

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
)

// ErrMalformedTable 对应表无法解析，调用方应退回常量偏移
var ErrMalformedTable = errors.New("timemap: malformed correspondence table")

// Entry 数据时间与视频时间的对应点
type Entry struct {
	DataTimestamp float64 `json:"data_timestamp"`
	VideoTime     float64 `json:"video_time"`
}

// Mapper 数据时间 <-> 视频时间双向换算，构建后只读
type Mapper struct {
	byData      []Entry // 按数据时间排序
	byVideo     []Entry // 按视频时间排序，用于反向查找
	startOffset float64 // 无对应表时: video = data - startOffset
}

// New 创建换算器；entries 为空时只使用常量偏移
func New(entries []Entry, startOffset float64) *Mapper {
	m := &Mapper{startOffset: startOffset}
	if len(entries) == 0 {
		return m
	}

	m.byData = make([]Entry, len(entries))
	copy(m.byData, entries)
	sort.SliceStable(m.byData, func(i, j int) bool {
		a, b := m.byData[i], m.byData[j]
		if a.DataTimestamp != b.DataTimestamp {
			return a.DataTimestamp < b.DataTimestamp
		}
		return a.VideoTime < b.VideoTime
	})

	m.byVideo = make([]Entry, len(m.byData))
	copy(m.byVideo, m.byData)
	sort.SliceStable(m.byVideo, func(i, j int) bool {
		return m.byVideo[i].VideoTime < m.byVideo[j].VideoTime
	})
	return m
}

// Load 从 JSON 文件加载对应表
// 文件不存在返回纯偏移换算器且无错误；格式错误返回纯偏移换算器和 ErrMalformedTable
func Load(path string, startOffset float64) (*Mapper, error) {
	if path == "" {
		return New(nil, startOffset), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(nil, startOffset), nil
	}
	if err != nil {
		return New(nil, startOffset), err
	}

	entries, err := Parse(data)
	if err != nil {
		return New(nil, startOffset), fmt.Errorf("%s: %w", path, err)
	}
	return New(entries, startOffset), nil
}

// Parse 解析 [{"data_timestamp":..,"video_time":..}] 格式
func Parse(data []byte) ([]Entry, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}

	entries := make([]Entry, 0, len(raw))
	for i, item := range raw {
		var e Entry
		d, okD := item["data_timestamp"]
		v, okV := item["video_time"]
		if !okD || !okV {
			return nil, fmt.Errorf("%w: entry %d missing data_timestamp or video_time", ErrMalformedTable, i)
		}
		if err := json.Unmarshal(d, &e.DataTimestamp); err != nil {
			return nil, fmt.Errorf("%w: entry %d data_timestamp: %v", ErrMalformedTable, i, err)
		}
		if err := json.Unmarshal(v, &e.VideoTime); err != nil {
			return nil, fmt.Errorf("%w: entry %d video_time: %v", ErrMalformedTable, i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// HasTable 是否加载了对应表
func (m *Mapper) HasTable() bool {
	return len(m.byData) > 0
}

// Len 对应表条目数
func (m *Mapper) Len() int {
	return len(m.byData)
}

// StartOffset 常量偏移 (秒)
func (m *Mapper) StartOffset() float64 {
	return m.startOffset
}

// Entries 返回前 limit 个条目 (按数据时间)，limit <= 0 返回全部
func (m *Mapper) Entries(limit int) []Entry {
	n := len(m.byData)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	copy(out, m.byData[:n])
	return out
}

// DataToVideoTime 数据时间 -> 视频时间
func (m *Mapper) DataToVideoTime(t float64) float64 {
	if !m.HasTable() {
		return t - m.startOffset
	}
	return interpolate(m.byData, t,
		func(e Entry) float64 { return e.DataTimestamp },
		func(e Entry) float64 { return e.VideoTime })
}

// VideoToDataTime 视频时间 -> 数据时间
func (m *Mapper) VideoToDataTime(t float64) float64 {
	if !m.HasTable() {
		return t + m.startOffset
	}
	return interpolate(m.byVideo, t,
		func(e Entry) float64 { return e.VideoTime },
		func(e Entry) float64 { return e.DataTimestamp })
}

// interpolate 在按 key 排序的表上 lower-bound 查找并线性插值，超出范围夹到端点
func interpolate(table []Entry, t float64, key, value func(Entry) float64) float64 {
	if math.IsNaN(t) {
		return value(table[0])
	}
	i := sort.Search(len(table), func(i int) bool {
		return key(table[i]) >= t
	})

	if i == 0 {
		return value(table[0])
	}
	if i == len(table) {
		return value(table[len(table)-1])
	}

	prev, next := table[i-1], table[i]
	if key(next) == t {
		return value(next)
	}
	span := key(next) - key(prev)
	if span == 0 {
		return value(prev)
	}
	ratio := (t - key(prev)) / span
	return value(prev) + ratio*(value(next)-value(prev))
}
