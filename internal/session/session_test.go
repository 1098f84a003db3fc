package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"flight-replay/internal/models"
	"flight-replay/internal/playback"
	"flight-replay/internal/protocol"
	"flight-replay/internal/store"
	"flight-replay/internal/timemap"
	"flight-replay/internal/videosync"
)

func raw(ts float64) models.RawRecord {
	return models.RawRecord{
		"timestamp": fmt.Sprintf("%.2f", ts), "lat": "34.1", "lon": "-117.2", "alt": "700",
		"x_vehicle": "0", "y_vehicle": "0", "z_vehicle": "0", "w_vehicle": "1",
		"x_helmet": "0", "y_helmet": "0", "z_helmet": "0", "w_helmet": "1",
		"north": "3", "east": "4", "down": "0",
	}
}

func newSession(t *testing.T, markers []Marker, timestamps ...float64) *Session {
	t.Helper()
	rows := make([]models.RawRecord, len(timestamps))
	for i, ts := range timestamps {
		rows[i] = raw(ts)
	}
	s, err := Initialize(rows, nil, Options{
		StartOffset: 100,
		Playback:    playback.DefaultConfig(),
		Sync:        videosync.DefaultConfig(),
		Markers:     markers,
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// drain 收集在 wait 内到达的事件
func drain(ch <-chan protocol.Message, wait time.Duration) []protocol.Event {
	var out []protocol.Event
	deadline := time.After(wait)
	for {
		select {
		case msg := <-ch:
			if msg.Event != nil {
				out = append(out, *msg.Event)
			}
		case <-deadline:
			return out
		}
	}
}

func hasEvent(events []protocol.Event, typ protocol.EventType) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func idleClock() videosync.VideoClock {
	return videosync.ClockFuncs{Now: func() (float64, bool) { return 0, false }}
}

func TestInitializeRejectsEmpty(t *testing.T) {
	_, err := Initialize(nil, nil, Options{})
	if !errors.Is(err, store.ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
	if ErrorKind(err) != protocol.KindInit {
		t.Fatalf("kind = %q, want %q", ErrorKind(err), protocol.KindInit)
	}
}

func TestInitializeResolvesMarkersAndValidStart(t *testing.T) {
	s := newSession(t, []Marker{{ID: 3, Name: "Land", Timestamp: 2643.2}, {ID: 0, Name: "Start", Timestamp: 2643.0}},
		2642.9, 2643.05, 2643.2)

	ms := s.Markers()
	if len(ms) != 2 || ms[0].ID != 0 || ms[1].ID != 3 {
		t.Fatalf("markers = %+v, want sorted by id", ms)
	}
	if ms[0].Index != 1 || ms[1].Index != 2 {
		t.Fatalf("marker indices = %d,%d want 1,2", ms[0].Index, ms[1].Index)
	}
	if got := s.ValidStart(); got != 2642.9 {
		t.Fatalf("ValidStart = %v, want first timestamp", got)
	}
	if s.Mapper().HasTable() {
		t.Fatal("expected offset-only mapper")
	}
	if s.ID() == "" {
		t.Fatal("empty session id")
	}
}

func TestJumpToMarkerPausesAtNearestIndex(t *testing.T) {
	s := newSession(t, []Marker{{ID: 0, Name: "Start", Timestamp: 2643.0}}, 2642.9, 2643.05, 2643.2)

	ch := make(chan protocol.Message, 16)
	if err := s.Subscribe("test", ch); err != nil {
		t.Fatal(err)
	}

	idx, err := s.JumpToMarker(0)
	if err != nil {
		t.Fatalf("JumpToMarker: %v", err)
	}
	if idx != 1 {
		t.Fatalf("index = %d, want 1", idx)
	}
	st := s.PlaybackState()
	if st.Status != playback.StatusPaused || st.CurrentIndex != 1 {
		t.Fatalf("state = %+v, want paused at 1", st)
	}
	events := drain(ch, 20*time.Millisecond)
	if !hasEvent(events, protocol.EventSeeked) || !hasEvent(events, protocol.EventPaused) {
		t.Fatalf("events = %+v, want seeked and paused", events)
	}
}

func TestJumpToUnknownMarker(t *testing.T) {
	s := newSession(t, nil, 1, 2, 3)
	_, err := s.JumpToMarker(42)
	if !errors.Is(err, ErrMarkerNotFound) {
		t.Fatalf("err = %v, want ErrMarkerNotFound", err)
	}
	if ErrorKind(err) != protocol.KindLookup {
		t.Fatalf("kind = %q", ErrorKind(err))
	}
}

func TestReleaseVideoSyncOnlyByOwner(t *testing.T) {
	s := newSession(t, nil, 1, 2, 3, 4)

	if err := s.EnableVideoDrivenSyncFor("a", idleClock()); err != nil {
		t.Fatalf("enable a: %v", err)
	}
	if err := s.EnableVideoDrivenSyncFor("b", idleClock()); err != nil {
		t.Fatalf("enable b: %v", err)
	}

	if s.ReleaseVideoSync("a") {
		t.Fatal("release by replaced owner took effect")
	}
	if s.Mode() != ModeVideo || !s.SyncStats().Running {
		t.Fatalf("mode = %q running = %v after stale release", s.Mode(), s.SyncStats().Running)
	}

	if !s.ReleaseVideoSync("b") {
		t.Fatal("release by current owner ignored")
	}
	if s.Mode() != ModeAutonomous || s.SyncStats().Running {
		t.Fatalf("mode = %q running = %v after owner release", s.Mode(), s.SyncStats().Running)
	}
	if s.ReleaseVideoSync("b") {
		t.Fatal("second release reported success")
	}
}

func TestVideoSyncExcludesAutonomousPlayback(t *testing.T) {
	s := newSession(t, nil, 1, 2, 3, 4)
	ch := make(chan protocol.Message, 32)
	if err := s.Subscribe("test", ch); err != nil {
		t.Fatal(err)
	}

	if err := s.StartAutonomous(nil, nil); err != nil {
		t.Fatalf("StartAutonomous: %v", err)
	}
	if err := s.EnableVideoDrivenSync(idleClock()); err != nil {
		t.Fatalf("EnableVideoDrivenSync: %v", err)
	}
	if s.Mode() != ModeVideo {
		t.Fatalf("mode = %q, want video", s.Mode())
	}
	if st := s.PlaybackState(); st.Status == playback.StatusPlaying {
		t.Fatal("autonomous playback still running in video mode")
	}
	if err := s.StartAutonomous(nil, nil); !errors.Is(err, ErrVideoSyncActive) {
		t.Fatalf("StartAutonomous err = %v, want ErrVideoSyncActive", err)
	}
	if err := s.Resume(); !errors.Is(err, ErrVideoSyncActive) {
		t.Fatalf("Resume err = %v, want ErrVideoSyncActive", err)
	}
	if !s.SyncStats().Running {
		t.Fatal("sync controller not running")
	}

	s.DisableVideoDrivenSync()
	if s.Mode() != ModeAutonomous {
		t.Fatalf("mode = %q, want autonomous", s.Mode())
	}
	if s.SyncStats().Running {
		t.Fatal("sync controller still running")
	}
	if err := s.StartAutonomous(protocol.IntPtr(0), nil); err != nil {
		t.Fatalf("StartAutonomous after disable: %v", err)
	}

	var modes []string
	for _, e := range drain(ch, 30*time.Millisecond) {
		if e.Type == protocol.EventModeChanged {
			modes = append(modes, e.Mode)
		}
	}
	if len(modes) != 2 || modes[0] != string(ModeVideo) || modes[1] != string(ModeAutonomous) {
		t.Fatalf("mode events = %v", modes)
	}
}

func TestHandleCommand(t *testing.T) {
	s := newSession(t, []Marker{{ID: 1, Name: "Takeoff", Timestamp: 3}}, 1, 2, 3, 4)

	if err := s.HandleCommand(protocol.Command{Action: "explode"}); !errors.Is(err, protocol.ErrInvalidCommand) {
		t.Fatalf("unknown action err = %v", err)
	}
	if err := s.HandleCommand(protocol.Command{Action: protocol.ActionSetSpeed, Speed: protocol.FloatPtr(-1)}); !errors.Is(err, playback.ErrInvalidSpeed) {
		t.Fatalf("negative speed err = %v", err)
	}
	if err := s.HandleCommand(protocol.Command{Action: protocol.ActionSetSpeed, Speed: protocol.FloatPtr(5)}); err != nil {
		t.Fatal(err)
	}
	if got := s.PlaybackState().Speed; got != 2.0 {
		t.Fatalf("speed = %v, want capped 2.0", got)
	}
	if err := s.HandleCommand(protocol.Command{Action: protocol.ActionSeek, Index: protocol.IntPtr(2)}); err != nil {
		t.Fatal(err)
	}
	if got := s.PlaybackState().CurrentIndex; got != 2 {
		t.Fatalf("index = %d, want 2", got)
	}
	// 自主模式下按视频时间跳转: 偏移 100，视频 -99 对应数据时间 1
	if err := s.HandleCommand(protocol.Command{Action: protocol.ActionSeek, VideoTime: protocol.FloatPtr(-99)}); err != nil {
		t.Fatal(err)
	}
	if got := s.PlaybackState().CurrentIndex; got != 0 {
		t.Fatalf("index = %d, want 0", got)
	}
	if err := s.HandleCommand(protocol.Command{Action: protocol.ActionJump, Marker: protocol.IntPtr(1)}); err != nil {
		t.Fatal(err)
	}
	if got := s.PlaybackState(); got.CurrentIndex != 2 || got.Status != playback.StatusPaused {
		t.Fatalf("state = %+v after jump", got)
	}
	if err := s.HandleCommand(protocol.Command{Action: protocol.ActionEnableSync}); !errors.Is(err, protocol.ErrInvalidCommand) {
		t.Fatalf("enable_sync without clock err = %v", err)
	}
}

func TestJumpToMarkerSeeksVideoInVideoMode(t *testing.T) {
	rows := []models.RawRecord{raw(10), raw(20), raw(30)}
	table := []timemap.Entry{{DataTimestamp: 10, VideoTime: 0}, {DataTimestamp: 30, VideoTime: 20}}
	s, err := Initialize(rows, table, Options{
		Playback: playback.DefaultConfig(),
		Sync:     videosync.DefaultConfig(),
		Markers:  []Marker{{ID: 7, Name: "Mid", Timestamp: 20}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	seeks := make(chan float64, 4)
	clock := videosync.ClockFuncs{
		Now:    func() (float64, bool) { return 0, false },
		SeekTo: func(vt float64) { seeks <- vt },
	}
	if err := s.EnableVideoDrivenSync(clock); err != nil {
		t.Fatal(err)
	}
	if _, err := s.JumpToMarker(7); err != nil {
		t.Fatalf("JumpToMarker: %v", err)
	}
	select {
	case vt := <-seeks:
		if vt != 10 {
			t.Fatalf("video seek = %v, want 10", vt)
		}
	case <-time.After(time.Second):
		t.Fatal("video was not seeked")
	}
}

func TestClosedSessionRejectsCommands(t *testing.T) {
	s := newSession(t, nil, 1, 2)
	s.Close()
	if err := s.StartAutonomous(nil, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if err := s.EnableVideoDrivenSync(idleClock()); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
