package timemap

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestOffsetRoundTrip(t *testing.T) {
	m := New(nil, 98.0)
	if m.HasTable() {
		t.Fatal("HasTable() = true for empty table")
	}
	if got := m.VideoToDataTime(2.0); got != 100.0 {
		t.Fatalf("VideoToDataTime(2) = %v, want 100", got)
	}
	for _, v := range []float64{-3, 0, 2.5, 1234.567} {
		if got := m.DataToVideoTime(m.VideoToDataTime(v)); !approx(got, v) {
			t.Errorf("round trip %v -> %v", v, got)
		}
	}
}

func TestTableInterpolation(t *testing.T) {
	m := New([]Entry{
		{DataTimestamp: 2700, VideoTime: 60},
		{DataTimestamp: 2640, VideoTime: 0},
		{DataTimestamp: 2650, VideoTime: 10},
	}, 0)

	tests := []struct {
		name string
		fn   func(float64) float64
		in   float64
		want float64
	}{
		{"exact", m.DataToVideoTime, 2650, 10},
		{"between", m.DataToVideoTime, 2645, 5},
		{"between upper segment", m.DataToVideoTime, 2675, 35},
		{"clamp low", m.DataToVideoTime, 100, 0},
		{"clamp high", m.DataToVideoTime, 9999, 60},
		{"reverse exact", m.VideoToDataTime, 10, 2650},
		{"reverse between", m.VideoToDataTime, 35, 2675},
		{"reverse clamp low", m.VideoToDataTime, -5, 2640},
		{"reverse clamp high", m.VideoToDataTime, 61, 2700},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); !approx(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDuplicateKeys(t *testing.T) {
	m := New([]Entry{
		{DataTimestamp: 10, VideoTime: 1},
		{DataTimestamp: 10, VideoTime: 2},
		{DataTimestamp: 20, VideoTime: 3},
	}, 0)
	if got := m.DataToVideoTime(10); got != 1 {
		t.Fatalf("DataToVideoTime(10) = %v, want earlier entry 1", got)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	m, err := Load(filepath.Join(dir, "missing.json"), 5)
	if err != nil || m.HasTable() || m.StartOffset() != 5 {
		t.Fatalf("missing file: mapper=%+v err=%v", m, err)
	}

	good := filepath.Join(dir, "good.json")
	os.WriteFile(good, []byte(`[{"data_timestamp": 1, "video_time": 0}, {"data_timestamp": 3, "video_time": 2}]`), 0644)
	m, err = Load(good, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Len() != 2 || !approx(m.DataToVideoTime(2), 1) {
		t.Fatalf("unexpected mapper: len=%d", m.Len())
	}
	if got := m.Entries(1); len(got) != 1 || got[0].DataTimestamp != 1 {
		t.Fatalf("Entries(1) = %+v", got)
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`[{"data_timestamp": "soon"}]`), 0644)
	m, err = Load(bad, 7)
	if !errors.Is(err, ErrMalformedTable) {
		t.Fatalf("err = %v, want ErrMalformedTable", err)
	}
	if m == nil || m.HasTable() || m.VideoToDataTime(0) != 7 {
		t.Fatal("malformed table should fall back to the offset mapper")
	}
}
