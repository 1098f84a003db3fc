package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalidCommand 控制命令缺少必需参数或动作未知
var ErrInvalidCommand = errors.New("protocol: invalid command")

// Action 控制动作
type Action string

const (
	ActionStart       Action = "start"
	ActionPause       Action = "pause"
	ActionResume      Action = "resume"
	ActionSeek        Action = "seek"
	ActionSetSpeed    Action = "set_speed"
	ActionJump        Action = "jump"
	ActionEnableSync  Action = "enable_sync"
	ActionDisableSync Action = "disable_sync"
	ActionVideoTime   Action = "video_time"
)

// Command 客户端 -> 服务端控制命令
type Command struct {
	Action    Action   `json:"action"`
	Index     *int     `json:"index,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Marker    *int     `json:"marker,omitempty"`
	VideoTime *float64 `json:"video_time,omitempty"`
	Playing   *bool    `json:"playing,omitempty"`
	Rate      *float64 `json:"rate,omitempty"`
}

// Validate 检查动作所需参数
func (c Command) Validate() error {
	switch c.Action {
	case ActionStart, ActionPause, ActionResume, ActionEnableSync, ActionDisableSync:
		return nil
	case ActionSeek:
		if c.Index == nil && c.VideoTime == nil {
			return fmt.Errorf("%w: seek requires index or video_time", ErrInvalidCommand)
		}
	case ActionSetSpeed:
		if c.Speed == nil {
			return fmt.Errorf("%w: set_speed requires speed", ErrInvalidCommand)
		}
	case ActionJump:
		if c.Marker == nil {
			return fmt.Errorf("%w: jump requires marker", ErrInvalidCommand)
		}
	case ActionVideoTime:
		if c.VideoTime == nil {
			return fmt.Errorf("%w: video_time requires video_time", ErrInvalidCommand)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, c.Action)
	}
	return nil
}

// EventType 事件类型
type EventType string

const (
	EventStarted      EventType = "started"
	EventPaused       EventType = "paused"
	EventResumed      EventType = "resumed"
	EventFinished     EventType = "finished"
	EventSeeked       EventType = "seeked"
	EventSpeedChanged EventType = "speed_changed"
	EventVideoSeek    EventType = "video_seek"
	EventModeChanged  EventType = "mode_changed"
	EventError        EventType = "error"
)

// Event 服务端 -> 客户端生命周期事件
type Event struct {
	Type      EventType `json:"event"`
	Index     *int      `json:"index,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Marker    *int      `json:"marker,omitempty"`
	VideoTime *float64  `json:"video_time,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Kind      Kind      `json:"kind,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// MessageType 信封类型
type MessageType string

const (
	MessageFrame MessageType = "frame"
	MessageEvent MessageType = "event"
)

// Message 推送信封
type Message struct {
	Type  MessageType `json:"type"`
	Frame *Frame      `json:"frame,omitempty"`
	Event *Event      `json:"event,omitempty"`
}

// FrameMessage 包装帧
func FrameMessage(f Frame) Message {
	return Message{Type: MessageFrame, Frame: &f}
}

// EventMessage 包装事件
func EventMessage(e Event) Message {
	return Message{Type: MessageEvent, Event: &e}
}

// Emitter 帧与事件的输出端，实现必须非阻塞
type Emitter interface {
	EmitFrame(Frame)
	EmitEvent(Event)
}

// IntPtr / FloatPtr 构造可选字段
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }

func BoolPtr(v bool) *bool { return &v }
