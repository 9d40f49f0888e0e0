// Package redirect 是用户态宿主中重定向目标的实现
// 消费者按 SocketID 注册, 被重定向的帧以副本形式投递到其缓冲通道.
package redirect

import (
	"errors"
	"sync"

	"xdp-dns-redirect/pkg/targets"
)

var (
	ErrNoConsumer     = errors.New("no consumer registered for socket")
	ErrConsumerBusy   = errors.New("consumer queue full")
	ErrAlreadyClaimed = errors.New("socket already registered")
)

// Hub 消费者集合
type Hub struct {
	mu     sync.RWMutex
	subs   map[targets.SocketID]chan []byte
	depth  int
	closed bool
}

// NewHub 创建 Hub, depth 为每个消费者的缓冲深度
func NewHub(depth int) *Hub {
	if depth <= 0 {
		depth = 64
	}
	return &Hub{
		subs:  make(map[targets.SocketID]chan []byte),
		depth: depth,
	}
}

// Register 注册消费者, 返回接收被重定向帧的通道
func (h *Hub) Register(id targets.SocketID) (<-chan []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrNoConsumer
	}
	if _, ok := h.subs[id]; ok {
		return nil, ErrAlreadyClaimed
	}
	ch := make(chan []byte, h.depth)
	h.subs[id] = ch
	return ch, nil
}

// Unregister 注销消费者并关闭其通道
func (h *Hub) Unregister(id targets.SocketID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Deliver 将帧副本投递给消费者, 从不阻塞
func (h *Hub) Deliver(id targets.SocketID, frame []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.subs[id]
	if !ok {
		return ErrNoConsumer
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case ch <- buf:
		return nil
	default:
		return ErrConsumerBusy
	}
}

// Close 关闭所有消费者通道
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.closed = true
}
