package store

import (
	"errors"
	"fmt"
	"sort"

	"flight-replay/internal/logger"
	"flight-replay/internal/models"
)

var (
	// ErrNoData 没有任何有效记录，拒绝创建空存储
	ErrNoData = errors.New("store: no valid telemetry records")
	// ErrNotFound 索引越界
	ErrNotFound = errors.New("store: record not found")
)

// RecordStore 按时间排序的只读遥测记录集合
// 构建完成后不可变，可被多个 goroutine 并发读取
type RecordStore struct {
	records    []models.TelemetryRecord
	timestamps []int64 // 纳秒时间戳，与 records 一一对应
}

// Build 从原始记录构建存储
// 无效记录被跳过并计数，全部无效时返回 ErrNoData
func Build(raw []models.RawRecord) (*RecordStore, error) {
	records := make([]models.TelemetryRecord, 0, len(raw))
	skipped := 0
	var firstErr error

	for _, r := range raw {
		rec, err := models.NewTelemetryRecord(r)
		if err != nil {
			skipped++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		records = append(records, rec)
	}

	if skipped > 0 {
		logger.LogWarn("[STORE] 跳过无效记录", "skipped", skipped, "first_error", firstErr)
	}
	if len(records) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("%w (%d rows rejected, first: %v)", ErrNoData, skipped, firstErr)
		}
		return nil, ErrNoData
	}

	return FromRecords(records)
}

// FromRecords 从已构造的记录创建存储，重新排序并分配索引
func FromRecords(records []models.TelemetryRecord) (*RecordStore, error) {
	if len(records) == 0 {
		return nil, ErrNoData
	}

	sorted := make([]models.TelemetryRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampNs < sorted[j].TimestampNs
	})

	timestamps := make([]int64, len(sorted))
	for i := range sorted {
		sorted[i].Index = i
		timestamps[i] = sorted[i].TimestampNs
	}

	logger.LogInfo("[STORE] 记录已加载", "count", len(sorted),
		"first", sorted[0].TimestampSeconds, "last", sorted[len(sorted)-1].TimestampSeconds)

	return &RecordStore{records: sorted, timestamps: timestamps}, nil
}

// Len 记录数
func (s *RecordStore) Len() int {
	return len(s.records)
}

// First 第一条记录的时间戳 (秒)
func (s *RecordStore) First() float64 {
	return s.records[0].TimestampSeconds
}

// Last 最后一条记录的时间戳 (秒)
func (s *RecordStore) Last() float64 {
	return s.records[len(s.records)-1].TimestampSeconds
}

// Duration 数据时长 (秒)
func (s *RecordStore) Duration() float64 {
	return s.Last() - s.First()
}

// Get 按索引读取记录
func (s *RecordStore) Get(index int) (models.TelemetryRecord, error) {
	if index < 0 || index >= len(s.records) {
		return models.TelemetryRecord{}, fmt.Errorf("%w: index %d outside [0,%d)", ErrNotFound, index, len(s.records))
	}
	return s.records[index], nil
}

// Records 返回全部记录 (只读视图，调用方不得修改)
func (s *RecordStore) Records() []models.TelemetryRecord {
	return s.records
}

// FindNearestIndex 查找时间戳最接近 t (秒) 的记录索引
// 超出范围时夹到首尾；两侧距离相等时取较早的索引
func (s *RecordStore) FindNearestIndex(t float64) int {
	target := models.SecondsToNanos(t)
	n := len(s.timestamps)

	// 二分查找第一个 >= target 的位置
	i := sort.Search(n, func(i int) bool {
		return s.timestamps[i] >= target
	})

	if i == 0 {
		return 0
	}
	if i == n {
		return n - 1
	}

	prev := target - s.timestamps[i-1]
	next := s.timestamps[i] - target
	if next < prev {
		return i
	}
	return i - 1
}

// ==================== 路径 / 范围 ====================

// Bounds 经纬度与高度范围
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
	MinAlt float64 `json:"min_alt"`
	MaxAlt float64 `json:"max_alt"`
}

// Bounds 计算全部记录的包围范围
func (s *RecordStore) Bounds() Bounds {
	first := s.records[0].Position
	b := Bounds{
		MinLat: first.Lat, MaxLat: first.Lat,
		MinLon: first.Lon, MaxLon: first.Lon,
		MinAlt: first.Alt, MaxAlt: first.Alt,
	}
	for _, r := range s.records[1:] {
		p := r.Position
		b.MinLat = min(b.MinLat, p.Lat)
		b.MaxLat = max(b.MaxLat, p.Lat)
		b.MinLon = min(b.MinLon, p.Lon)
		b.MaxLon = max(b.MaxLon, p.Lon)
		b.MinAlt = min(b.MinAlt, p.Alt)
		b.MaxAlt = max(b.MaxAlt, p.Alt)
	}
	return b
}

// PathPoint 路径点
type PathPoint struct {
	Index int     `json:"index"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"alt"`
}

// Path 返回 [start, end) 区间的路径点，最多 limit 个
func (s *RecordStore) Path(start, end, limit int) []PathPoint {
	start = max(start, 0)
	end = min(end, len(s.records))
	if limit > 0 && end-start > limit {
		end = start + limit
	}
	if start >= end {
		return []PathPoint{}
	}

	points := make([]PathPoint, 0, end-start)
	for _, r := range s.records[start:end] {
		points = append(points, PathPoint{Index: r.Index, Lat: r.Position.Lat, Lon: r.Position.Lon, Alt: r.Position.Alt})
	}
	return points
}
