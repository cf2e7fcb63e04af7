package metrics

import (
	"context"
	"net/http"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "s2mask"

type PromCollectors struct {
	Images         *prometheus.CounterVec
	StageFailures  *prometheus.CounterVec
	ImageDuration  prometheus.Histogram
	MaskedFraction prometheus.Histogram
}

func NewPromCollectors(reg prometheus.Registerer) (*PromCollectors, error) {
	c := &PromCollectors{
		Images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_total",
			Help:      "Images processed, by outcome.",
		}, []string{"outcome"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Per-image failures, by stage.",
		}, []string{"stage"}),
		ImageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_duration_seconds",
			Help:      "Wall time spent masking one image.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		MaskedFraction: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "masked_fraction",
			Help:      "Fraction of pixels flagged as cloud or shadow.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}

	for _, col := range []prometheus.Collector{c.Images, c.StageFailures, c.ImageDuration, c.MaskedFraction} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *PromCollectors) Observe(info *ImageInfo) {
	switch {
	case info.Error != "":
		c.Images.WithLabelValues("failed").Inc()
		stage := info.FailedStage
		if stage == "" {
			stage = "unknown"
		}
		c.StageFailures.WithLabelValues(stage).Inc()
		return
	case info.Cached:
		c.Images.WithLabelValues("cached").Inc()
	default:
		c.Images.WithLabelValues("masked").Inc()
	}
	c.ImageDuration.Observe(info.Duration.Seconds())
	c.MaskedFraction.Observe(info.MaskedFraction)
}

// ServeMetrics exposes reg on addr until ctx is cancelled. The listener
// sets SO_REUSEPORT so several runs on one host can share a port.
func ServeMetrics(ctx context.Context, addr string, reg prometheus.Gatherer, logger *zap.Logger) error {
	ln, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics listener started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
	return nil
}
