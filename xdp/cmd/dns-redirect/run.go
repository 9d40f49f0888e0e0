//go:build linux

package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"xdp-dns-redirect/internal/capture"
	"xdp-dns-redirect/internal/clone"
	"xdp-dns-redirect/internal/redirect"
	"xdp-dns-redirect/internal/worker"
	"xdp-dns-redirect/pkg/config"
	"xdp-dns-redirect/pkg/metrics"
	"xdp-dns-redirect/pkg/targets"
)

// host 用户态宿主: 快照、消费者和镜像套接字
type host struct {
	cfg       *config.Config
	log       *logrus.Logger
	store     *targets.Store
	hub       *redirect.Hub
	cloner    *clone.Socket
	collector *metrics.Collector
	consumers sync.WaitGroup
}

func newHost(cfg *config.Config, log *logrus.Logger) (*host, error) {
	table, err := cfg.RedirectTable()
	if err != nil {
		return nil, err
	}
	mirrorTarget, err := cfg.MirrorTarget(ifindexByName)
	if err != nil {
		return nil, err
	}

	h := &host{
		cfg:       cfg,
		log:       log,
		store:     targets.NewStore(),
		hub:       redirect.NewHub(cfg.Workers.QueueDepth),
		collector: metrics.NewCollector(),
	}
	snap := h.store.Publish(table, mirrorTarget)
	log.WithFields(logrus.Fields{
		"version":  snap.Version,
		"redirect": table.Len(),
		"mirror":   mirrorTarget,
	}).Info("targets published")

	if _, ok := mirrorTarget.Interface(); ok {
		sock, err := clone.Open()
		if err != nil {
			h.hub.Close()
			return nil, err
		}
		h.cloner = sock
	}

	table.Each(func(queue uint32, id targets.SocketID) {
		ch, err := h.hub.Register(id)
		if err != nil {
			// 多个队列可共用同一消费者
			return
		}
		h.consumers.Add(1)
		go h.consume(id, ch)
	})
	return h, nil
}

// consume 默认消费者: 记录被重定向的 DNS 帧
func (h *host) consume(id targets.SocketID, frames <-chan []byte) {
	defer h.consumers.Done()

	log := h.log.WithField("socket", id)
	var n int
	for frame := range frames {
		n++
		if !h.log.IsLevelEnabled(logrus.DebugLevel) {
			continue
		}
		desc, err := worker.Describe(frame)
		if err != nil {
			log.WithError(err).Debug("redirected frame")
			continue
		}
		log.WithField("dns", desc).Debug("redirected frame")
	}
	log.WithField("frames", n).Info("consumer stopped")
}

func (h *host) run(ctx context.Context, src capture.Source) error {
	opts := worker.PoolOptions{
		NumWorkers: h.cfg.Workers.NumWorkers,
		QueueDepth: h.cfg.Workers.QueueDepth,
		Source:     src,
		Store:      h.store,
		Hub:        h.hub,
		Metrics:    h.collector,
		Logger:     h.log,
	}
	if h.cloner != nil {
		opts.Cloner = h.cloner
	}

	pool, err := worker.NewPool(opts)
	if err != nil {
		return err
	}
	h.log.WithField("workers", h.cfg.Workers.NumWorkers).Info("worker pool started")

	err = pool.Start(ctx)
	pool.Wait()
	return err
}

func (h *host) startExporter() func() {
	if !h.cfg.Metrics.Enabled {
		return func() {}
	}
	exporter := metrics.NewExporter(h.collector, h.cfg.Metrics.Listen, h.cfg.Metrics.Path, h.log)
	go func() {
		if err := exporter.Start(); err != nil {
			h.log.WithError(err).Error("metrics server error")
		}
	}()
	h.log.Infof("metrics server started on %s%s", h.cfg.Metrics.Listen, h.cfg.Metrics.Path)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exporter.Stop(ctx); err != nil {
			h.log.WithError(err).Warn("metrics server shutdown")
		}
	}
}

func (h *host) close() {
	h.hub.Close()
	h.consumers.Wait()
	if h.cloner != nil {
		h.cloner.Close()
	}

	stats := h.collector.GetStats()
	h.log.WithFields(logrus.Fields{
		"frames":              stats.Frames,
		"passed":              stats.Passed,
		"redirected":          stats.Redirected,
		"reinjected":          stats.Reinjected,
		"malformed":           stats.Malformed,
		"redirect_unresolved": stats.RedirectUnresolved,
		"redirect_dropped":    stats.RedirectDropped,
		"mirrored":            stats.Mirrored,
		"mirror_errors":       stats.MirrorErrors,
	}).Info("final stats")
}
