package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "xdp_dns_redirect"

// Exporter Prometheus 指标导出器
type Exporter struct {
	collector *Collector
	registry  *prometheus.Registry
	server    *http.Server
	addr      string
	path      string
	log       logrus.FieldLogger
}

// NewExporter 创建新的导出器
// 计数器直接读取 Collector 的原子值, 无需定时同步
func NewExporter(collector *Collector, addr, path string, log logrus.FieldLogger) *Exporter {
	e := &Exporter{
		collector: collector,
		registry:  prometheus.NewRegistry(),
		addr:      addr,
		path:      path,
		log:       log,
	}

	counter := func(name, help string, value func(Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(value(collector.GetStats()))
		})
	}

	e.registry.MustRegister(
		counter("frames_total", "Total frames classified", func(s Stats) uint64 { return s.Frames }),
		counter("frames_passed_total", "Frames passed to the normal path", func(s Stats) uint64 { return s.Passed }),
		counter("frames_redirected_total", "Frames redirected to a consumer", func(s Stats) uint64 { return s.Redirected }),
		counter("frames_reinjected_total", "Frames passed because they carry the reinjection marker", func(s Stats) uint64 { return s.Reinjected }),
		counter("frames_malformed_total", "Frames passed because a header was truncated or invalid", func(s Stats) uint64 { return s.Malformed }),
		counter("redirect_unresolved_total", "Redirects with no table entry for the queue", func(s Stats) uint64 { return s.RedirectUnresolved }),
		counter("redirect_dropped_total", "Redirects the consumer could not accept", func(s Stats) uint64 { return s.RedirectDropped }),
		counter("mirror_clones_total", "Frames cloned to the mirror interface", func(s Stats) uint64 { return s.Mirrored }),
		counter("mirror_errors_total", "Failed mirror clones", func(s Stats) uint64 { return s.MirrorErrors }),
	)
	return e
}

// Handler 返回 HTTP 路由
func (e *Exporter) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle(e.path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(e.collector.GetStats())
	})
	return r
}

// Start 启动 HTTP 服务器, 阻塞直到 Stop
func (e *Exporter) Start() error {
	e.server = &http.Server{
		Addr:    e.addr,
		Handler: e.Handler(),
	}

	e.log.Infof("Starting metrics server on %s%s", e.addr, e.path)
	if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止服务器
func (e *Exporter) Stop(ctx context.Context) error {
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}
