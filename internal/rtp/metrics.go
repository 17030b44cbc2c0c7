package rtp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "packets_sent_total",
		Namespace: "rtspd",
		Subsystem: "rtp",
		Help:      "number of RTP packets written to clients",
	}, []string{"media"})
	bytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "bytes_sent_total",
		Namespace: "rtspd",
		Subsystem: "rtp",
		Help:      "number of RTP bytes written to clients",
	}, []string{"media"})
	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "frames_dropped_total",
		Namespace: "rtspd",
		Subsystem: "rtp",
		Help:      "number of elementary frames rejected before packetization",
	}, []string{"media"})
	rtcpReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "rtcp_reports_total",
		Namespace: "rtspd",
		Subsystem: "rtp",
		Help:      "number of RTCP reception reports received",
	}, []string{"media"})
)
