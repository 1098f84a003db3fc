package models

import (
	"errors"
	"math"
	"testing"
)

func validRaw() RawRecord {
	return RawRecord{
		"timestamp": "0 days 00:44:03.050000",
		"lat":       "34.9",
		"lon":       "-117.88",
		"alt":       "700",
		"x_vehicle": "0", "y_vehicle": "0", "z_vehicle": "0", "w_vehicle": "2",
		"x_helmet": "0", "y_helmet": "0", "z_helmet": "0.7071067811865476", "w_helmet": "0.7071067811865476",
		"north": "3", "east": "4", "down": "0",
		"mode": "2",
	}
}

func TestNewTelemetryRecord(t *testing.T) {
	rec, err := NewTelemetryRecord(validRaw())
	if err != nil {
		t.Fatalf("NewTelemetryRecord: %v", err)
	}
	if math.Abs(rec.TimestampSeconds-2643.05) > 1e-9 {
		t.Errorf("TimestampSeconds = %v, want 2643.05", rec.TimestampSeconds)
	}
	if rec.TimestampNs != 2643050000000 {
		t.Errorf("TimestampNs = %d", rec.TimestampNs)
	}
	if rec.GroundSpeed != 5 {
		t.Errorf("GroundSpeed = %v, want 5", rec.GroundSpeed)
	}
	if rec.VehicleOrientation != Identity() {
		t.Errorf("vehicle orientation not normalized: %+v", rec.VehicleOrientation)
	}
	if !sameRotation(rec.HelmetOrientationWorld, rec.HelmetOrientationLocal) {
		t.Errorf("world helmet = %+v, want local %+v under identity vehicle",
			rec.HelmetOrientationWorld, rec.HelmetOrientationLocal)
	}
	if rec.Mode != 2 {
		t.Errorf("Mode = %d, want 2", rec.Mode)
	}
}

func TestNewTelemetryRecordComposesHelmet(t *testing.T) {
	raw := validRaw()
	yaw90 := axisAngle(0, 0, 1, 90)
	raw["x_vehicle"], raw["y_vehicle"], raw["z_vehicle"], raw["w_vehicle"] = "0", "0", "0.7071067811865476", "0.7071067811865476"
	rec, err := NewTelemetryRecord(raw)
	if err != nil {
		t.Fatalf("NewTelemetryRecord: %v", err)
	}
	if !sameRotation(rec.HelmetOrientationWorld, yaw90.Mul(yaw90)) {
		t.Fatalf("world helmet = %+v, want 180° yaw", rec.HelmetOrientationWorld)
	}
}

func TestNewTelemetryRecordFailsFast(t *testing.T) {
	tests := []struct {
		name string
		edit func(RawRecord)
		want error
	}{
		{"missing quaternion", func(r RawRecord) { delete(r, "w_helmet") }, ErrMissingField},
		{"nan timestamp", func(r RawRecord) { r["timestamp"] = "NaN" }, ErrMissingField},
		{"bad lat", func(r RawRecord) { r["lat"] = "north-ish" }, ErrInvalidField},
		{"zero quaternion", func(r RawRecord) { r["w_vehicle"] = "0" }, ErrInvalidField},
		{"bad timestamp", func(r RawRecord) { r["timestamp"] = "yesterday" }, ErrInvalidField},
		{"infinite timestamp", func(r RawRecord) { r["timestamp"] = "+Inf" }, ErrInvalidField},
		{"overflowing timestamp", func(r RawRecord) { r["timestamp"] = "1e300" }, ErrInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.edit(raw)
			if _, err := NewTelemetryRecord(raw); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestModeOptional(t *testing.T) {
	raw := validRaw()
	delete(raw, "mode")
	rec, err := NewTelemetryRecord(raw)
	if err != nil {
		t.Fatalf("NewTelemetryRecord: %v", err)
	}
	if rec.Mode != 0 {
		t.Fatalf("Mode = %d, want 0", rec.Mode)
	}
}

func TestParseElapsed(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"2643.05", 2643.05},
		{"00:44:03.05", 2643.05},
		{"44:03.05", 2643.05},
		{"0 days 00:44:03.050000", 2643.05},
		{"1 day 00:00:01", 86401},
		{"44m3.05s", 2643.05},
	}
	for _, tt := range tests {
		got, err := ParseElapsed(tt.in)
		if err != nil {
			t.Errorf("ParseElapsed(%q): %v", tt.in, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ParseElapsed(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "12:xx", "1:2:3:4", "00:00:75", "inf", "-Inf", "1e300", "9999999999999 days 00:00:01"} {
		if _, err := ParseElapsed(bad); err == nil {
			t.Errorf("ParseElapsed(%q) succeeded, want error", bad)
		}
	}
}
