// Package metrics exports pipeline and bridge metrics to Prometheus and
// serves them, together with a worker status snapshot, over HTTP.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "stagehand"

var (
	defaultOnce     sync.Once
	defaultRegistry *prometheus.Registry
	defaultBridge   *Bridge
)

func initDefaults() {
	defaultOnce.Do(func() {
		defaultRegistry = prometheus.NewRegistry()
		defaultRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		b, err := NewBridge(defaultRegistry)
		if err != nil {
			panic(err)
		}
		defaultBridge = b
	})
}

// Registry is the process-wide registry served by the status server.
func Registry() *prometheus.Registry {
	initDefaults()
	return defaultRegistry
}

// DefaultBridge returns the bridge metrics registered on Registry.
func DefaultBridge() *Bridge {
	initDefaults()
	return defaultBridge
}
