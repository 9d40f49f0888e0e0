// Package mirror 实现流量镜像
// 镜像与分类器互相独立: 无论克隆成功与否, 原始帧都沿原路径继续.
package mirror

import "xdp-dns-redirect/pkg/targets"

// Cloner 将帧的副本发送到指定接口 (内核侧为 bpf_clone_redirect)
type Cloner interface {
	Clone(ifindex uint32, frame []byte) error
}

// ClonerFunc 函数适配器
type ClonerFunc func(ifindex uint32, frame []byte) error

func (f ClonerFunc) Clone(ifindex uint32, frame []byte) error {
	return f(ifindex, frame)
}

// Action 原始帧的处理动作
type Action uint8

// Continue 原始帧沿原路径继续 (TC_ACT_OK)
const Continue Action = 0

// Result 单帧镜像结果
type Result struct {
	Action    Action
	Attempted bool
	Ifindex   uint32
	Err       error // 克隆失败, 仅供宿主统计, 不影响 Action
}

// Cloned 是否成功发出副本
func (r Result) Cloned() bool {
	return r.Attempted && r.Err == nil
}

// Mirror 按快照中的镜像目标复制帧
func Mirror(frame []byte, snap *targets.Snapshot, c Cloner) Result {
	res := Result{Action: Continue}
	if snap == nil || c == nil {
		return res
	}
	ifindex, ok := snap.Mirror.Interface()
	if !ok {
		return res
	}
	res.Attempted = true
	res.Ifindex = ifindex
	res.Err = c.Clone(ifindex, frame)
	return res
}
