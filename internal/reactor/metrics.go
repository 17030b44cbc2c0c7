package reactor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "connections_active",
		Namespace: "rtspd",
		Subsystem: "reactor",
		Help:      "number of open TCP connections per event loop",
	}, []string{"loop"})
	connectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "connections_total",
		Namespace: "rtspd",
		Subsystem: "reactor",
		Help:      "number of TCP connections accepted per event loop",
	}, []string{"loop"})
)
