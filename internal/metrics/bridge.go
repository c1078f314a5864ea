package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Bridge holds the network bridge counters. A nil *Bridge is valid and
// records nothing.
type Bridge struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec // by reason: decrypt, malformed, filtered, stale
	rejected       *prometheus.CounterVec
	connected      *prometheus.GaugeVec
}

// NewBridge creates the bridge metrics and registers them on reg.
func NewBridge(reg prometheus.Registerer) (*Bridge, error) {
	b := &Bridge{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "frames_sent_total",
			Help:      "Frames written to the peer",
		}, []string{"stage"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "frames_received_total",
			Help:      "Frames read from the peer and delivered to the pipeline",
		}, []string{"stage"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped instead of being delivered",
		}, []string{"stage", "reason"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "connections_rejected_total",
			Help:      "Connections refused because a handler was already active",
		}, []string{"stage"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "connected",
			Help:      "1 while a peer connection is active",
		}, []string{"stage"}),
	}

	for _, c := range []prometheus.Collector{b.framesSent, b.framesReceived, b.framesDropped, b.rejected, b.connected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Bridge) FrameSent(stage string) {
	if b == nil {
		return
	}
	b.framesSent.WithLabelValues(stage).Inc()
}

func (b *Bridge) FrameReceived(stage string) {
	if b == nil {
		return
	}
	b.framesReceived.WithLabelValues(stage).Inc()
}

func (b *Bridge) FrameDropped(stage, reason string) {
	if b == nil {
		return
	}
	b.framesDropped.WithLabelValues(stage, reason).Inc()
}

func (b *Bridge) ConnectionRejected(stage string) {
	if b == nil {
		return
	}
	b.rejected.WithLabelValues(stage).Inc()
}

func (b *Bridge) SetConnected(stage string, up bool) {
	if b == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	b.connected.WithLabelValues(stage).Set(v)
}
