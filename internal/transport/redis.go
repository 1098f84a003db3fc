package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flight-replay/internal/logger"
	"flight-replay/internal/protocol"

	"github.com/redis/go-redis/v9"
)

// RedisSink 把消息发布到 Redis 频道，供其他进程的渲染端订阅
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink 连接 Redis 并检查连通性
func NewRedisSink(ctx context.Context, addr, password string, db int, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	logger.LogInfo("[SINK] Redis 已连接", "addr", addr, "channel", channel)
	return &RedisSink{client: client, channel: channel}, nil
}

// Name sink 名称
func (s *RedisSink) Name() string {
	return "redis:" + s.channel
}

// Send 发布 JSON 消息
func (s *RedisSink) Send(ctx context.Context, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, data).Err()
}

// Close 关闭客户端
func (s *RedisSink) Close() error {
	return s.client.Close()
}
