// Package targets 定义控制面写入、数据面只读的重定向表和镜像目标
package targets

import (
	"errors"
	"fmt"
	"math/bits"
)

// MaxQueues 重定向表容量, 与内核 xsk_map 的 max_entries 一致
const MaxQueues = 64

var ErrQueueOutOfRange = errors.New("queue index out of range")

// SocketID 消费者 socket 的不透明标识 (内核侧为 AF_XDP socket fd)
type SocketID uint32

// RedirectTable 队列号 → 消费者 socket
type RedirectTable struct {
	sockets [MaxQueues]SocketID
	present uint64
}

// NewRedirectTable 由映射构造重定向表
func NewRedirectTable(entries map[uint32]SocketID) (RedirectTable, error) {
	var t RedirectTable
	for queue, id := range entries {
		next, err := t.With(queue, id)
		if err != nil {
			return RedirectTable{}, err
		}
		t = next
	}
	return t, nil
}

// With 返回设置了 queue 条目的副本
func (t RedirectTable) With(queue uint32, id SocketID) (RedirectTable, error) {
	if queue >= MaxQueues {
		return t, fmt.Errorf("%w: %d", ErrQueueOutOfRange, queue)
	}
	t.sockets[queue] = id
	t.present |= 1 << queue
	return t, nil
}

// Without 返回删除了 queue 条目的副本
func (t RedirectTable) Without(queue uint32) RedirectTable {
	if queue >= MaxQueues {
		return t
	}
	t.sockets[queue] = 0
	t.present &^= 1 << queue
	return t
}

// Lookup 查询队列对应的消费者
func (t *RedirectTable) Lookup(queue uint32) (SocketID, bool) {
	if queue >= MaxQueues || t.present&(1<<queue) == 0 {
		return 0, false
	}
	return t.sockets[queue], true
}

// Len 条目数
func (t *RedirectTable) Len() int {
	return bits.OnesCount64(t.present)
}

// Each 按队列号升序遍历条目
func (t *RedirectTable) Each(fn func(queue uint32, id SocketID)) {
	for p := t.present; p != 0; p &= p - 1 {
		q := uint32(bits.TrailingZeros64(p))
		fn(q, t.sockets[q])
	}
}

// MirrorTarget 可选的镜像接口
type MirrorTarget struct {
	ifindex uint32
	set     bool
}

// NoMirror 未配置镜像
var NoMirror = MirrorTarget{}

// MirrorTo 镜像到指定接口; ifindex 0 视为未配置
func MirrorTo(ifindex uint32) MirrorTarget {
	if ifindex == 0 {
		return NoMirror
	}
	return MirrorTarget{ifindex: ifindex, set: true}
}

// Interface 返回镜像接口 index
func (m MirrorTarget) Interface() (uint32, bool) {
	return m.ifindex, m.set
}

func (m MirrorTarget) String() string {
	if !m.set {
		return "none"
	}
	return fmt.Sprintf("ifindex %d", m.ifindex)
}
