package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"wavedirector.ai/internal/persistence/indexdb"
	"wavedirector.ai/internal/sim/director"
)

type runtimeIndex interface {
	director.Observer
	BeginRun(seed int64, digest string) (int64, error)
	Stats() indexdb.Stats
	Close() error
}

func openRuntimeIndex(dataDir string, enabled bool, logger *log.Logger) (runtimeIndex, error) {
	if !enabled {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("WD_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		logger.Printf("index backend disabled (WD_INDEX_BACKEND=%s)", backend)
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "director.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported WD_INDEX_BACKEND: %s", backend)
	}
}

// registerIndexMetrics exposes the async writer queue on the metrics registry.
func registerIndexMetrics(reg prometheus.Registerer, idx runtimeIndex) error {
	if idx == nil {
		return nil
	}
	depth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "director_index_queue_depth",
		Help: "Pending tick reports in the index writer queue.",
	}, func() float64 { return float64(idx.Stats().QueueDepth) })
	drops := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "director_index_dropped_ticks_total",
		Help: "Tick reports dropped because the index writer queue was full.",
	}, func() float64 { return float64(idx.Stats().DropTickTotal) })
	for _, c := range []prometheus.Collector{depth, drops} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
