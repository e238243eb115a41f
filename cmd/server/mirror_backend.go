package main

import (
	"log"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"wavedirector.ai/internal/persistence/mirror"
)

// buildMirror returns nil unless WD_MIRROR_ENDPOINT is set.
func buildMirror(dataDir string, logger *log.Logger) (*mirror.Mirror, error) {
	endpoint := strings.TrimSpace(os.Getenv("WD_MIRROR_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	client, err := mirror.NewClient(mirror.ClientConfig{
		Endpoint:        endpoint,
		Bucket:          os.Getenv("WD_MIRROR_BUCKET"),
		Region:          os.Getenv("WD_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("WD_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("WD_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, err
	}
	logger.Printf("journal mirror enabled endpoint=%s", endpoint)
	return mirror.New(client, mirror.Options{
		Prefix:  os.Getenv("WD_MIRROR_PREFIX"),
		BaseDir: dataDir,
		Log:     logger,
	}), nil
}

func registerMirrorMetrics(reg prometheus.Registerer, m *mirror.Mirror) error {
	if m == nil {
		return nil
	}
	cs := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "director_mirror_queue_depth",
			Help: "Journal files waiting for upload.",
		}, func() float64 { return float64(m.Stats().QueueDepth) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "director_mirror_uploaded_total",
			Help: "Journal files uploaded to object storage.",
		}, func() float64 { return float64(m.Stats().UploadedTotal) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "director_mirror_failed_total",
			Help: "Journal files that could not be uploaded.",
		}, func() float64 { return float64(m.Stats().FailedTotal) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "director_mirror_dropped_total",
			Help: "Journal files dropped because the upload queue was full.",
		}, func() float64 { return float64(m.Stats().DroppedTotal) }),
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
