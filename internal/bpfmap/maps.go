// Package bpfmap 将目标快照同步到内核中的 xsk_map 与 mirror_ifindex
package bpfmap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"

	"xdp-dns-redirect/pkg/targets"
)

const (
	DefaultRedirectMap = "xsk_map"
	DefaultMirrorMap   = "mirror_ifindex"
)

// Maps 分类器与镜像程序共享的两张表
type Maps struct {
	Redirect *ebpf.Map // 队列 -> AF_XDP 套接字
	Mirror   *ebpf.Map // 单元素数组, 镜像接口 ifindex

	redirectName, mirrorName string
}

// RedirectSpec xsk_map 定义
func RedirectSpec(name string) *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       name,
		Type:       ebpf.XSKMap,
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: targets.MaxQueues,
	}
}

// MirrorSpec mirror_ifindex 定义
func MirrorSpec(name string) *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       name,
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: 1,
	}
}

// Create 新建两张表
func Create(redirectName, mirrorName string) (*Maps, error) {
	redirect, err := ebpf.NewMap(RedirectSpec(redirectName))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", redirectName, err)
	}
	mirror, err := ebpf.NewMap(MirrorSpec(mirrorName))
	if err != nil {
		redirect.Close()
		return nil, fmt.Errorf("create %s: %w", mirrorName, err)
	}
	return &Maps{Redirect: redirect, Mirror: mirror, redirectName: redirectName, mirrorName: mirrorName}, nil
}

// OpenPinned 从 bpffs 目录打开已固定的表
func OpenPinned(dir, redirectName, mirrorName string) (*Maps, error) {
	redirect, err := ebpf.LoadPinnedMap(filepath.Join(dir, redirectName), nil)
	if err != nil {
		return nil, fmt.Errorf("load pinned %s: %w", redirectName, err)
	}
	mirror, err := ebpf.LoadPinnedMap(filepath.Join(dir, mirrorName), nil)
	if err != nil {
		redirect.Close()
		return nil, fmt.Errorf("load pinned %s: %w", mirrorName, err)
	}
	return &Maps{Redirect: redirect, Mirror: mirror, redirectName: redirectName, mirrorName: mirrorName}, nil
}

// OpenLoaded 按名称在内核已加载的表中查找
func OpenLoaded(redirectName, mirrorName string) (*Maps, error) {
	redirect, err := findLoaded(redirectName)
	if err != nil {
		return nil, err
	}
	mirror, err := findLoaded(mirrorName)
	if err != nil {
		redirect.Close()
		return nil, err
	}
	return &Maps{Redirect: redirect, Mirror: mirror, redirectName: redirectName, mirrorName: mirrorName}, nil
}

func findLoaded(name string) (*ebpf.Map, error) {
	var start ebpf.MapID
	for {
		id, err := ebpf.MapGetNextID(start)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("kernel map %s not found", name)
			}
			return nil, fmt.Errorf("iterate maps: %w", err)
		}

		m, err := ebpf.NewMapFromID(id)
		if err != nil {
			// 两次调用之间表可能已被释放
			start = id
			continue
		}
		info, err := m.Info()
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("map info id %d: %w", id, err)
		}
		if info.Name == name {
			return m, nil
		}
		m.Close()
		start = id
	}
}

// Sync 将快照写入内核表
// 快照中没有的队列会被删除, 镜像未设置时写入 0
// 重定向表中的 SocketID 必须是本进程持有的 AF_XDP 套接字 fd
func (m *Maps) Sync(snap *targets.Snapshot) error {
	if snap == nil {
		return errors.New("sync: nil snapshot")
	}

	var err error
	snap.Redirect.Each(func(q uint32, id targets.SocketID) {
		if err != nil {
			return
		}
		if perr := m.Redirect.Put(q, uint32(id)); perr != nil {
			err = fmt.Errorf("sync queue %d: %w", q, perr)
		}
	})
	if err != nil {
		return err
	}
	if err := m.Prune(&snap.Redirect); err != nil {
		return err
	}
	return m.SyncMirror(snap.Mirror)
}

// Prune 删除 table 中不存在的队列条目
func (m *Maps) Prune(table *targets.RedirectTable) error {
	for q := uint32(0); q < targets.MaxQueues; q++ {
		if _, ok := table.Lookup(q); ok {
			continue
		}
		if err := m.Redirect.Delete(q); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
			return fmt.Errorf("clear queue %d: %w", q, err)
		}
	}
	return nil
}

// SyncMirror 写入镜像目标, 未设置时写入 0
func (m *Maps) SyncMirror(target targets.MirrorTarget) error {
	ifindex, _ := target.Interface()
	if err := m.Mirror.Put(uint32(0), ifindex); err != nil {
		return fmt.Errorf("sync mirror: %w", err)
	}
	return nil
}

// MirrorIfindex 读取当前镜像接口, 0 表示未设置
func (m *Maps) MirrorIfindex() (uint32, error) {
	var ifindex uint32
	if err := m.Mirror.Lookup(uint32(0), &ifindex); err != nil {
		return 0, fmt.Errorf("lookup mirror: %w", err)
	}
	return ifindex, nil
}

// Pin 将两张表固定到 dir
func (m *Maps) Pin(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := m.Redirect.Pin(filepath.Join(dir, m.redirectName)); err != nil {
		return fmt.Errorf("pin %s: %w", m.redirectName, err)
	}
	if err := m.Mirror.Pin(filepath.Join(dir, m.mirrorName)); err != nil {
		_ = m.Redirect.Unpin()
		return fmt.Errorf("pin %s: %w", m.mirrorName, err)
	}
	return nil
}

// Close 关闭两张表的文件描述符, 不影响固定
func (m *Maps) Close() error {
	var errs []error
	if m.Redirect != nil {
		errs = append(errs, m.Redirect.Close())
	}
	if m.Mirror != nil {
		errs = append(errs, m.Mirror.Close())
	}
	return errors.Join(errs...)
}
