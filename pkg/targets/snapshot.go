package targets

import (
	"sync"
	"sync/atomic"
)

// Snapshot 某一版本的共享配置, 发布后不可修改
type Snapshot struct {
	Version  uint64
	Redirect RedirectTable
	Mirror   MirrorTarget
}

// Lookup 查询当前快照中队列对应的消费者
func (s *Snapshot) Lookup(queue uint32) (SocketID, bool) {
	if s == nil {
		return 0, false
	}
	return s.Redirect.Lookup(queue)
}

// Store 快照存储
// 读者通过 Load 无锁读取, 控制面整体替换快照; 写者之间用 mu 串行化
type Store struct {
	mu  sync.Mutex
	cur atomic.Pointer[Snapshot]
}

// NewStore 创建存储, 初始为空表、无镜像的版本 0
func NewStore() *Store {
	s := &Store{}
	s.cur.Store(&Snapshot{})
	return s
}

// Load 当前快照
func (s *Store) Load() *Snapshot {
	return s.cur.Load()
}

// Publish 整体替换重定向表和镜像目标
func (s *Store) Publish(redirect RedirectTable, mirror MirrorTarget) *Snapshot {
	return s.update(func(next *Snapshot) error {
		next.Redirect = redirect
		next.Mirror = mirror
		return nil
	})
}

// SetRedirect 注册单个队列的消费者
func (s *Store) SetRedirect(queue uint32, id SocketID) (*Snapshot, error) {
	var err error
	snap := s.update(func(next *Snapshot) error {
		next.Redirect, err = next.Redirect.With(queue, id)
		return err
	})
	return snap, err
}

// ClearRedirect 注销单个队列的消费者
func (s *Store) ClearRedirect(queue uint32) *Snapshot {
	return s.update(func(next *Snapshot) error {
		next.Redirect = next.Redirect.Without(queue)
		return nil
	})
}

// SetMirror 替换镜像目标
func (s *Store) SetMirror(m MirrorTarget) *Snapshot {
	return s.update(func(next *Snapshot) error {
		next.Mirror = m
		return nil
	})
}

// update 复制当前快照, 修改后以新版本号发布; fn 返回错误时不发布
func (s *Store) update(fn func(next *Snapshot) error) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.cur.Load()
	next := *cur
	if err := fn(&next); err != nil {
		return cur
	}
	next.Version = cur.Version + 1
	s.cur.Store(&next)
	return &next
}
