package store

import (
	"errors"
	"fmt"

	"flight-replay/internal/models"
)

// ErrUnknownField 不支持的列名
var ErrUnknownField = errors.New("store: unknown column")

// Field 可提取的列
type Field string

const (
	FieldTimestamp   Field = "timestamp"
	FieldLat         Field = "lat"
	FieldLon         Field = "lon"
	FieldAlt         Field = "alt"
	FieldGroundSpeed Field = "ground_speed"
	FieldRoll        Field = "roll"
	FieldPitch       Field = "pitch"
	FieldYaw         Field = "yaw"
	FieldMode        Field = "mode"
)

// Columns 列名 -> 数据
type Columns map[Field][]float64

// ExtractColumns 单次遍历提取多列，步长在遍历时生效
// 输出长度为 ceil(n/stride)；stride < 1 视为 1
func (s *RecordStore) ExtractColumns(fields []Field, stride int) (Columns, error) {
	if stride < 1 {
		stride = 1
	}

	needAttitude := false
	for _, f := range fields {
		switch f {
		case FieldTimestamp, FieldLat, FieldLon, FieldAlt, FieldGroundSpeed, FieldMode:
		case FieldRoll, FieldPitch, FieldYaw:
			needAttitude = true
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, f)
		}
	}

	n := (len(s.records) + stride - 1) / stride
	cols := make(Columns, len(fields))
	for _, f := range fields {
		cols[f] = make([]float64, 0, n)
	}

	for i := 0; i < len(s.records); i += stride {
		r := &s.records[i]
		var att models.Attitude
		if needAttitude {
			att = r.VehicleOrientation.Euler()
		}
		for _, f := range fields {
			cols[f] = append(cols[f], columnValue(r, f, att))
		}
	}

	return cols, nil
}

func columnValue(r *models.TelemetryRecord, f Field, att models.Attitude) float64 {
	switch f {
	case FieldTimestamp:
		return r.TimestampSeconds
	case FieldLat:
		return r.Position.Lat
	case FieldLon:
		return r.Position.Lon
	case FieldAlt:
		return r.Position.Alt
	case FieldGroundSpeed:
		return r.GroundSpeed
	case FieldRoll:
		return att.Roll
	case FieldPitch:
		return att.Pitch
	case FieldYaw:
		return att.Yaw
	case FieldMode:
		return float64(r.Mode)
	}
	return 0
}
