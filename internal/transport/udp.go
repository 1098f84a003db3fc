package transport

import (
	"context"
	"encoding/json"
	"net"

	"flight-replay/internal/protocol"
)

// UDPSink 以 JSON 数据报向 3D 显示端发送精简姿态
type UDPSink struct {
	addr string
	conn net.Conn
}

// NewUDPSink 连接到目标地址 (如 127.0.0.1:1991)
func NewUDPSink(addr string) (*UDPSink, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPSink{addr: addr, conn: conn}, nil
}

// Name sink 名称
func (s *UDPSink) Name() string {
	return "udp://" + s.addr
}

// Send 只发送帧，事件被忽略
func (s *UDPSink) Send(_ context.Context, msg protocol.Message) error {
	if msg.Type != protocol.MessageFrame || msg.Frame == nil {
		return nil
	}
	data, err := json.Marshal(msg.Frame.Orientation())
	if err != nil {
		return err
	}
	_, err = s.conn.Write(data)
	return err
}

// Close 关闭连接
func (s *UDPSink) Close() error {
	return s.conn.Close()
}
