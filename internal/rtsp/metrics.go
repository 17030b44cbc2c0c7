package rtsp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "requests_total",
		Namespace: "rtspd",
		Subsystem: "rtsp",
		Help:      "number of RTSP requests answered",
	}, []string{"method", "status"})
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "sessions_active",
		Namespace: "rtspd",
		Subsystem: "rtsp",
		Help:      "number of rows in the session table",
	})
	sessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "sessions_expired_total",
		Namespace: "rtspd",
		Subsystem: "rtsp",
		Help:      "number of idle sessions removed by the reaper",
	})
)
