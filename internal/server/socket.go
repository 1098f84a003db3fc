package server

import (
	"context"
	"encoding/json"

	"flight-replay/internal/logger"
	"flight-replay/internal/protocol"
	"flight-replay/internal/session"

	"github.com/google/uuid"
	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/websocket"
	"github.com/kataras/neffos"
)

// PlaybackNamespace neffos 命名空间
const PlaybackNamespace = "playback"

// 推送事件名
const (
	EventFrameUpdate = "frame_update"
	EventGodotData   = "godot_data"
)

// SocketHub neffos 回放通道: 接收控制事件，把会话输出广播给所有连接
type SocketHub struct {
	sess   *session.Session
	server *neffos.Server
	subID  string
}

// NewSocketHub 创建回放通道
func NewSocketHub(sess *session.Session) *SocketHub {
	h := &SocketHub{sess: sess, subID: "neffos-" + uuid.NewString()}
	h.server = websocket.New(websocket.DefaultGorillaUpgrader, h.namespaces())
	return h
}

// Handler iris 路由处理器
func (h *SocketHub) Handler() iris.Handler {
	return websocket.Handler(h.server)
}

// Run 订阅会话输出并广播，直到 ctx 取消
func (h *SocketHub) Run(ctx context.Context) error {
	ch := make(chan protocol.Message, 256)
	if err := h.sess.Subscribe(h.subID, ch); err != nil {
		return err
	}
	defer h.sess.Unsubscribe(h.subID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			h.broadcast(msg)
		}
	}
}

// Close 关闭所有连接
func (h *SocketHub) Close() {
	h.server.Close()
}

func (h *SocketHub) broadcast(msg protocol.Message) {
	switch {
	case msg.Frame != nil:
		h.emitAll(EventFrameUpdate, msg.Frame)
		h.emitAll(EventGodotData, msg.Frame.Orientation())
	case msg.Event != nil:
		h.emitAll(string(msg.Event.Type), msg.Event)
	}
}

func (h *SocketHub) emitAll(event string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.LogError("[WS] 序列化失败", "event", event, "error", err)
		return
	}
	h.server.Broadcast(nil, neffos.Message{Namespace: PlaybackNamespace, Event: event, Body: body})
}

// ==================== 控制事件 ====================

func (h *SocketHub) onConnect(c *neffos.NSConn, msg neffos.Message) error {
	logger.LogInfo("[WS] 客户端连接", "conn", c.Conn.ID())
	return nil
}

func (h *SocketHub) onDisconnect(c *neffos.NSConn, msg neffos.Message) error {
	logger.LogInfo("[WS] 客户端断开", "conn", c.Conn.ID())
	return nil
}

// command 把事件包装为控制命令，body 可为空
func (h *SocketHub) command(action protocol.Action) neffos.MessageHandlerFunc {
	return func(c *neffos.NSConn, msg neffos.Message) error {
		var cmd protocol.Command
		if len(msg.Body) > 0 {
			if err := msg.Unmarshal(&cmd); err != nil {
				h.replyError(c, protocol.ErrInvalidCommand)
				return nil
			}
		}
		cmd.Action = action

		if err := h.sess.HandleCommand(cmd); err != nil {
			logger.LogWarn("[WS] 命令失败", "conn", c.Conn.ID(), "action", action, "error", err)
			h.replyError(c, err)
		}
		return nil
	}
}

func (h *SocketHub) replyError(c *neffos.NSConn, err error) {
	body, _ := json.Marshal(protocol.ErrorEvent(session.ErrorKind(err), err))
	c.Emit(string(protocol.EventError), body)
}

func (h *SocketHub) namespaces() websocket.Namespaces {
	return websocket.Namespaces{
		PlaybackNamespace: websocket.Events{
			websocket.OnNamespaceConnected:  h.onConnect,
			websocket.OnNamespaceDisconnect: h.onDisconnect,
			"start_playback":  h.command(protocol.ActionStart),
			"pause_playback":  h.command(protocol.ActionPause),
			"resume_playback": h.command(protocol.ActionResume),
			"set_speed":       h.command(protocol.ActionSetSpeed),
			"seek":            h.command(protocol.ActionSeek),
			"jump":            h.command(protocol.ActionJump),
		},
	}
}
