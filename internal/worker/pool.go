// Package worker 是用户态宿主的处理循环
// 读取帧, 依次执行镜像与分类, 并把被重定向的帧交给消费者.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"xdp-dns-redirect/internal/capture"
	"xdp-dns-redirect/internal/redirect"
	"xdp-dns-redirect/pkg/classifier"
	"xdp-dns-redirect/pkg/metrics"
	"xdp-dns-redirect/pkg/mirror"
	"xdp-dns-redirect/pkg/targets"
)

// PoolOptions 工作池配置
type PoolOptions struct {
	NumWorkers int
	QueueDepth int
	Source     capture.Source
	Store      *targets.Store
	Cloner     mirror.Cloner  // 可选, 为空时不镜像
	Hub        *redirect.Hub  // 可选, 为空时重定向帧只计数
	Metrics    *metrics.Collector
	Logger     *logrus.Logger

	// OnDecision 每帧分类后回调, 在工作协程中调用
	OnDecision func(capture.Frame, classifier.Decision)
}

// Pool 工作池
type Pool struct {
	options PoolOptions
	log     *logrus.Entry
	queues  []chan capture.Frame
	wg      sync.WaitGroup
}

// NewPool 创建工作池
func NewPool(opts PoolOptions) (*Pool, error) {
	if opts.Source == nil {
		return nil, errors.New("worker pool requires a frame source")
	}
	if opts.Store == nil {
		return nil, errors.New("worker pool requires a target store")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 256
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	p := &Pool{
		options: opts,
		log:     opts.Logger.WithField("component", "worker"),
		queues:  make([]chan capture.Frame, opts.NumWorkers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan capture.Frame, opts.QueueDepth)
	}
	return p, nil
}

// Start 启动工作协程并在当前协程读取帧, 直到来源耗尽或 ctx 取消
// 来源耗尽返回 nil
func (p *Pool) Start(ctx context.Context) error {
	for i, q := range p.queues {
		p.wg.Add(1)
		go p.worker(i, q)
	}
	defer func() {
		for _, q := range p.queues {
			close(q)
		}
	}()

	next := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := p.options.Source.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, capture.ErrTimeout):
				continue
			case errors.Is(err, io.EOF):
				return nil
			default:
				return fmt.Errorf("read frame: %w", err)
			}
		}

		select {
		case p.queues[next] <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
		next = (next + 1) % len(p.queues)
	}
}

// Wait 等待所有工作协程处理完剩余帧
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Metrics 返回统计收集器
func (p *Pool) Metrics() *metrics.Collector {
	return p.options.Metrics
}

func (p *Pool) worker(id int, frames <-chan capture.Frame) {
	defer p.wg.Done()

	p.log.WithField("worker", id).Debug("worker started")
	for frame := range frames {
		p.process(frame)
	}
	p.log.WithField("worker", id).Debug("worker stopped")
}
