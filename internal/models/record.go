package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMissingField 原始记录缺少必填字段
	ErrMissingField = errors.New("models: missing required field")
	// ErrInvalidField 原始记录字段无法解析
	ErrInvalidField = errors.New("models: invalid field value")
)

// RawRecord 导入阶段产生的字段键值记录
type RawRecord map[string]string

// 原始字段名 (与 CSV 列头一致)
const (
	FieldTimestamp = "timestamp"
	FieldLat       = "lat"
	FieldLon       = "lon"
	FieldAlt       = "alt"
	FieldNorth     = "north"
	FieldEast      = "east"
	FieldDown      = "down"
	FieldMode      = "mode"
)

var (
	vehicleFields = [4]string{"x_vehicle", "y_vehicle", "z_vehicle", "w_vehicle"}
	helmetFields  = [4]string{"x_helmet", "y_helmet", "z_helmet", "w_helmet"}
)

// Position 地理位置
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// VelocityNED 北东地速度分量 (m/s)
type VelocityNED struct {
	North float64 `json:"north"`
	East  float64 `json:"east"`
	Down  float64 `json:"down"`
}

// GroundSpeed 速度向量模长
func (v VelocityNED) GroundSpeed() float64 {
	return math.Sqrt(v.North*v.North + v.East*v.East + v.Down*v.Down)
}

// TelemetryRecord 单个时刻的遥测记录
// Index 为排序后的位置，由 RecordStore 赋值
type TelemetryRecord struct {
	Index                  int
	TimestampSeconds       float64
	TimestampNs            int64
	Position               Position
	VehicleOrientation     Quaternion
	HelmetOrientationLocal Quaternion
	HelmetOrientationWorld Quaternion
	Velocity               VelocityNED
	GroundSpeed            float64
	Mode                   int
}

// NewTelemetryRecord 校验并构造遥测记录，缺字段或解析失败立即返回错误
func NewTelemetryRecord(raw RawRecord) (TelemetryRecord, error) {
	var rec TelemetryRecord

	ts, err := requiredField(raw, FieldTimestamp)
	if err != nil {
		return rec, err
	}
	seconds, err := ParseElapsed(ts)
	if err != nil {
		return rec, fmt.Errorf("%w: %s=%q: %v", ErrInvalidField, FieldTimestamp, ts, err)
	}

	nums := make(map[string]float64, 14)
	names := []string{FieldLat, FieldLon, FieldAlt, FieldNorth, FieldEast, FieldDown}
	names = append(names, vehicleFields[:]...)
	names = append(names, helmetFields[:]...)
	for _, name := range names {
		v, err := floatField(raw, name)
		if err != nil {
			return rec, err
		}
		nums[name] = v
	}

	vehicle, err := quaternionFrom(nums, vehicleFields)
	if err != nil {
		return rec, err
	}
	helmet, err := quaternionFrom(nums, helmetFields)
	if err != nil {
		return rec, err
	}

	mode := 0
	if s := strings.TrimSpace(raw[FieldMode]); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return rec, fmt.Errorf("%w: %s=%q", ErrInvalidField, FieldMode, s)
		}
		mode = int(f)
	}

	rec = TelemetryRecord{
		TimestampSeconds:       seconds,
		TimestampNs:            SecondsToNanos(seconds),
		Position:               Position{Lat: nums[FieldLat], Lon: nums[FieldLon], Alt: nums[FieldAlt]},
		VehicleOrientation:     vehicle,
		HelmetOrientationLocal: helmet,
		Velocity:               VelocityNED{North: nums[FieldNorth], East: nums[FieldEast], Down: nums[FieldDown]},
		Mode:                   mode,
	}
	rec.Derive()
	return rec, nil
}

// Derive 计算派生字段: 世界坐标系头盔姿态 = 机体姿态 ∘ 头盔相对姿态，地速 = 速度模长
func (r *TelemetryRecord) Derive() {
	r.HelmetOrientationWorld = r.VehicleOrientation.Mul(r.HelmetOrientationLocal).Normalize()
	r.GroundSpeed = r.Velocity.GroundSpeed()
}

// SecondsToNanos 秒转纳秒 (四舍五入)
func SecondsToNanos(s float64) int64 {
	return int64(math.Round(s * 1e9))
}

func requiredField(raw RawRecord, name string) (string, error) {
	v, ok := raw[name]
	v = strings.TrimSpace(v)
	if !ok || v == "" || strings.EqualFold(v, "nan") {
		return "", fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return v, nil
}

func floatField(raw RawRecord, name string) (float64, error) {
	s, err := requiredField(raw, name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidField, name, s)
	}
	return f, nil
}

func quaternionFrom(nums map[string]float64, keys [4]string) (Quaternion, error) {
	q := Quaternion{X: nums[keys[0]], Y: nums[keys[1]], Z: nums[keys[2]], W: nums[keys[3]]}
	if q.Norm() == 0 {
		return q, fmt.Errorf("%w: %s..%s is a zero quaternion", ErrInvalidField, keys[0], keys[3])
	}
	return q.Normalize(), nil
}
