package metrics

import (
	"sync/atomic"

	"xdp-dns-redirect/pkg/classifier"
	"xdp-dns-redirect/pkg/mirror"
)

// Collector 指标收集器
type Collector struct {
	frames             atomic.Uint64 // 处理的帧数
	passed             atomic.Uint64 // 放行数
	redirected         atomic.Uint64 // 重定向数
	reinjected         atomic.Uint64 // 带回注标记放行数
	malformed          atomic.Uint64 // 头部错误放行数
	redirectUnresolved atomic.Uint64 // 重定向表缺少条目
	redirectDropped    atomic.Uint64 // 消费者不可用或队列满
	mirrored           atomic.Uint64 // 镜像成功数
	mirrorErrors       atomic.Uint64 // 镜像失败数
}

// NewCollector 创建新的指标收集器
func NewCollector() *Collector {
	return &Collector{}
}

// ObserveDecision 记录一次分类决策
func (c *Collector) ObserveDecision(d classifier.Decision) {
	c.frames.Add(1)
	if d.Verdict == classifier.Redirect {
		c.redirected.Add(1)
		if !d.Resolved {
			c.redirectUnresolved.Add(1)
		}
		return
	}
	c.passed.Add(1)
	switch d.Reason {
	case classifier.ReasonReinjected:
		c.reinjected.Add(1)
	case classifier.ReasonMalformed:
		c.malformed.Add(1)
	}
}

// ObserveMirror 记录一次镜像结果
func (c *Collector) ObserveMirror(r mirror.Result) {
	if !r.Attempted {
		return
	}
	if r.Err != nil {
		c.mirrorErrors.Add(1)
		return
	}
	c.mirrored.Add(1)
}

// IncRedirectDropped 增加重定向丢弃计数
func (c *Collector) IncRedirectDropped() {
	c.redirectDropped.Add(1)
}

// Stats 返回统计信息
type Stats struct {
	Frames             uint64 `json:"frames"`
	Passed             uint64 `json:"passed"`
	Redirected         uint64 `json:"redirected"`
	Reinjected         uint64 `json:"reinjected"`
	Malformed          uint64 `json:"malformed"`
	RedirectUnresolved uint64 `json:"redirect_unresolved"`
	RedirectDropped    uint64 `json:"redirect_dropped"`
	Mirrored           uint64 `json:"mirrored"`
	MirrorErrors       uint64 `json:"mirror_errors"`
}

// GetStats 获取当前统计
func (c *Collector) GetStats() Stats {
	return Stats{
		Frames:             c.frames.Load(),
		Passed:             c.passed.Load(),
		Redirected:         c.redirected.Load(),
		Reinjected:         c.reinjected.Load(),
		Malformed:          c.malformed.Load(),
		RedirectUnresolved: c.redirectUnresolved.Load(),
		RedirectDropped:    c.redirectDropped.Load(),
		Mirrored:           c.mirrored.Load(),
		MirrorErrors:       c.mirrorErrors.Load(),
	}
}

// Reset 重置所有计数器
func (c *Collector) Reset() {
	c.frames.Store(0)
	c.passed.Store(0)
	c.redirected.Store(0)
	c.reinjected.Store(0)
	c.malformed.Store(0)
	c.redirectUnresolved.Store(0)
	c.redirectDropped.Store(0)
	c.mirrored.Store(0)
	c.mirrorErrors.Store(0)
}
