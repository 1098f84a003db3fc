package transport

import (
	"errors"
	"sync"
	"sync/atomic"

	"flight-replay/internal/protocol"
)

var (
	ErrClosed             = errors.New("transport: broadcaster is closed")
	ErrSubscriberExists   = errors.New("transport: subscriber already exists")
	ErrSubscriberNotFound = errors.New("transport: subscriber not found")
	ErrNilChannel         = errors.New("transport: nil channel")
)

// SubscriberStats 单个订阅者的投递统计
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

type subscriber struct {
	ch    chan<- protocol.Message
	stats *SubscriberStats
}

// Broadcaster 把帧和事件扇出给所有订阅者
// Publish 永不阻塞: 订阅者缓冲区满时丢弃新消息并计数
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   uint64
	closed      bool
}

// NewBroadcaster 创建广播器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]*subscriber)}
}

// Subscribe 注册订阅通道
func (b *Broadcaster) Subscribe(id string, ch chan<- protocol.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if ch == nil {
		return ErrNilChannel
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber{ch: ch, stats: &SubscriberStats{}}
	return nil
}

// Unsubscribe 移除订阅者 (不关闭其通道)
func (b *Broadcaster) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Publish 非阻塞投递
func (b *Broadcaster) Publish(msg protocol.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	atomic.AddUint64(&b.published, 1)

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- msg:
			atomic.AddUint64(&sub.stats.Sent, 1)
		default:
			atomic.AddUint64(&sub.stats.Dropped, 1)
		}
	}
}

// EmitFrame 实现 protocol.Emitter
func (b *Broadcaster) EmitFrame(f protocol.Frame) {
	b.Publish(protocol.FrameMessage(f))
}

// EmitEvent 实现 protocol.Emitter
func (b *Broadcaster) EmitEvent(e protocol.Event) {
	b.Publish(protocol.EventMessage(e))
}

// Stats 订阅者统计
func (b *Broadcaster) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Sent:    atomic.LoadUint64(&sub.stats.Sent),
		Dropped: atomic.LoadUint64(&sub.stats.Dropped),
	}, nil
}

// Published 已发布消息总数
func (b *Broadcaster) Published() uint64 {
	return atomic.LoadUint64(&b.published)
}

// Close 关闭广播器，之后的 Publish 被忽略
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.subscribers = nil
}
