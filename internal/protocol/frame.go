package protocol

import "flight-replay/internal/models"

// Source 帧来源
type Source string

const (
	SourceAutonomous Source = "autonomous"
	SourceVideo      Source = "video"
)

// Frame 发送给渲染端的快照，自主回放与视频同步共用同一结构
type Frame struct {
	Index                  int               `json:"index"`
	TimestampSeconds       float64           `json:"timestamp_seconds"`
	Position               models.Position   `json:"position"`
	VehicleOrientation     models.Quaternion `json:"vehicle_orientation"`
	HelmetOrientationWorld models.Quaternion `json:"helmet_orientation_world"`
	GroundSpeed            float64           `json:"ground_speed"`
	Mode                   int               `json:"mode"`
	Source                 Source            `json:"source"`

	// 仅视频同步模式
	VideoTime     *float64 `json:"video_time,omitempty"`
	DataTimestamp *float64 `json:"data_timestamp,omitempty"`
}

// FrameFromRecord 由遥测记录生成帧
func FrameFromRecord(rec models.TelemetryRecord, source Source) Frame {
	return Frame{
		Index:                  rec.Index,
		TimestampSeconds:       rec.TimestampSeconds,
		Position:               rec.Position,
		VehicleOrientation:     rec.VehicleOrientation,
		HelmetOrientationWorld: rec.HelmetOrientationWorld,
		GroundSpeed:            rec.GroundSpeed,
		Mode:                   rec.Mode,
		Source:                 source,
	}
}

// WithVideoTime 附加视频时间与映射后的数据时间
func (f Frame) WithVideoTime(videoTime, dataTimestamp float64) Frame {
	f.VideoTime = &videoTime
	f.DataTimestamp = &dataTimestamp
	return f
}

// OrientationPayload 3D 显示端使用的精简姿态数据
type OrientationPayload struct {
	VQX    float64 `json:"VQX"`
	VQY    float64 `json:"VQY"`
	VQZ    float64 `json:"VQZ"`
	VQW    float64 `json:"VQW"`
	HQX    float64 `json:"HQX"`
	HQY    float64 `json:"HQY"`
	HQZ    float64 `json:"HQZ"`
	HQW    float64 `json:"HQW"`
	GSPEED float64 `json:"GSPEED"`
	VALT   float64 `json:"VALT"`
}

// Orientation 提取精简姿态数据
func (f Frame) Orientation() OrientationPayload {
	v, h := f.VehicleOrientation, f.HelmetOrientationWorld
	return OrientationPayload{
		VQX: v.X, VQY: v.Y, VQZ: v.Z, VQW: v.W,
		HQX: h.X, HQY: h.Y, HQZ: h.Z, HQW: h.W,
		GSPEED: f.GroundSpeed,
		VALT:   f.Position.Alt,
	}
}
