package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"flight-replay/internal/logger"
	"flight-replay/internal/protocol"
	"flight-replay/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamConn 一个视频同步连接
type streamConn struct {
	id    string
	ws    *websocket.Conn
	sess  *session.Session
	clock *reportedClock
	out   chan protocol.Message
	done  chan struct{}

	mu sync.Mutex // 保护写
}

// HandleStream 视频同步 WebSocket
// 客户端上报播放器时间，服务端推送帧、事件与 video_seek 命令
func (h *Handlers) HandleStream(ctx iris.Context) {
	ws, err := upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
	if err != nil {
		logger.LogWarn("[WS] Upgrade 失败", "error", err)
		return
	}
	defer ws.Close()

	sc := &streamConn{
		id:    "stream-" + uuid.NewString(),
		ws:    ws,
		sess:  h.sess,
		clock: newReportedClock(),
		out:   make(chan protocol.Message, 256),
		done:  make(chan struct{}),
	}
	if err := h.sess.Subscribe(sc.id, sc.out); err != nil {
		logger.LogWarn("[WS] 订阅失败", "conn", sc.id, "error", err)
		return
	}
	logger.LogInfo("[WS] 新连接", "conn", sc.id)

	go sc.writeLoop()
	sc.readLoop()

	close(sc.done)
	h.sess.Unsubscribe(sc.id)
	// 只有仍由本连接驱动时才退出视频模式
	if h.sess.ReleaseVideoSync(sc.id) {
		logger.LogInfo("[WS] 视频驱动同步随连接结束", "conn", sc.id)
	}
	logger.LogInfo("[WS] 断开连接", "conn", sc.id)
}

func (sc *streamConn) readLoop() {
	for {
		_, data, err := sc.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.LogWarn("[WS] 读取错误", "conn", sc.id, "error", err)
			}
			return
		}

		var cmd protocol.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			sc.replyError(errors.Join(protocol.ErrInvalidCommand, err))
			continue
		}
		if err := sc.handle(cmd); err != nil {
			sc.replyError(err)
		}
	}
}

func (sc *streamConn) handle(cmd protocol.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	switch cmd.Action {
	case protocol.ActionVideoTime:
		playing := cmd.Playing == nil || *cmd.Playing
		rate := 1.0
		if cmd.Rate != nil {
			rate = *cmd.Rate
		}
		sc.clock.Report(*cmd.VideoTime, playing, rate)
		return nil

	case protocol.ActionEnableSync:
		if cmd.VideoTime != nil {
			sc.clock.Report(*cmd.VideoTime, cmd.Playing == nil || *cmd.Playing, 1)
		}
		if err := sc.sess.EnableVideoDrivenSyncFor(sc.id, sc.clock); err != nil {
			return err
		}
		logger.LogInfo("[WS] 视频驱动同步已开启", "conn", sc.id)
		return nil

	case protocol.ActionDisableSync:
		sc.sess.DisableVideoDrivenSync()
		return nil
	}

	return sc.sess.HandleCommand(cmd)
}

func (sc *streamConn) writeLoop() {
	for {
		select {
		case <-sc.done:
			return
		case msg := <-sc.out:
			if err := sc.sendJSON(msg); err != nil {
				logger.LogDebug("[WS] 写入失败", "conn", sc.id, "error", err)
				return
			}
		}
	}
}

func (sc *streamConn) replyError(err error) {
	sc.sendJSON(protocol.EventMessage(protocol.ErrorEvent(session.ErrorKind(err), err)))
}

func (sc *streamConn) sendJSON(v any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.ws.WriteJSON(v)
}
