package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"flight-replay/internal/models"
)

func TestFrameOmitsVideoFieldsInAutonomousMode(t *testing.T) {
	rec := models.TelemetryRecord{Index: 4, TimestampSeconds: 12.5, GroundSpeed: 3}
	data, err := json.Marshal(FrameFromRecord(rec, SourceAutonomous))
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if strings.Contains(s, "video_time") || strings.Contains(s, "data_timestamp") {
		t.Fatalf("autonomous frame carries video fields: %s", s)
	}
	if !strings.Contains(s, `"source":"autonomous"`) {
		t.Fatalf("missing source: %s", s)
	}

	vf := FrameFromRecord(rec, SourceVideo).WithVideoTime(2, 100)
	data, _ = json.Marshal(vf)
	if !strings.Contains(string(data), `"video_time":2`) || !strings.Contains(string(data), `"data_timestamp":100`) {
		t.Fatalf("video frame missing fields: %s", data)
	}
}

func TestOrientationPayload(t *testing.T) {
	f := Frame{
		VehicleOrientation:     models.Quaternion{X: 0.1, Y: 0.2, Z: 0.3, W: 0.9},
		HelmetOrientationWorld: models.Identity(),
		GroundSpeed:            42,
		Position:               models.Position{Alt: 1500},
	}
	p := f.Orientation()
	if p.VQZ != 0.3 || p.HQW != 1 || p.GSPEED != 42 || p.VALT != 1500 {
		t.Fatalf("unexpected payload %+v", p)
	}
	data, _ := json.Marshal(p)
	for _, key := range []string{"VQX", "HQW", "GSPEED", "VALT"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("payload JSON missing %s: %s", key, data)
		}
	}
}

func TestCommandValidate(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		ok   bool
	}{
		{"start", Command{Action: ActionStart}, true},
		{"seek index", Command{Action: ActionSeek, Index: IntPtr(3)}, true},
		{"seek video", Command{Action: ActionSeek, VideoTime: FloatPtr(1)}, true},
		{"seek empty", Command{Action: ActionSeek}, false},
		{"speed", Command{Action: ActionSetSpeed, Speed: FloatPtr(2)}, true},
		{"speed empty", Command{Action: ActionSetSpeed}, false},
		{"jump empty", Command{Action: ActionJump}, false},
		{"video time empty", Command{Action: ActionVideoTime}, false},
		{"unknown", Command{Action: "rewind"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidCommand) {
				t.Fatalf("err = %v, want ErrInvalidCommand", err)
			}
		})
	}
}

func TestCommandDecoding(t *testing.T) {
	var cmd Command
	if err := json.Unmarshal([]byte(`{"action":"video_time","video_time":12.5,"playing":true,"rate":1}`), &cmd); err != nil {
		t.Fatal(err)
	}
	if cmd.Action != ActionVideoTime || *cmd.VideoTime != 12.5 || !*cmd.Playing || *cmd.Rate != 1 {
		t.Fatalf("unexpected command %+v", cmd)
	}
}
