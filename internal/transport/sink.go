package transport

import (
	"context"

	"flight-replay/internal/logger"
	"flight-replay/internal/protocol"
)

// Sink 消息输出端
type Sink interface {
	Name() string
	Send(ctx context.Context, msg protocol.Message) error
	Close() error
}

// Pump 从订阅通道读取消息写入 sink，直到 ctx 取消或通道关闭
// 单条发送失败只记录日志，不中断
func Pump(ctx context.Context, ch <-chan protocol.Message, sink Sink) {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := sink.Send(ctx, msg); err != nil {
				failures++
				// 避免刷屏: 首次及每 100 次失败记录一次
				if failures == 1 || failures%100 == 0 {
					logger.LogWarn("[SINK] 发送失败", "sink", sink.Name(), "failures", failures, "error", err)
				}
				continue
			}
			failures = 0
		}
	}
}
