package rtp

import (
	"github.com/pion/rtcp"
	log "github.com/sirupsen/logrus"
)

const rtcpHeaderSize = 4

// DecodeRTCP walks a compound RTCP packet. Every part is bounds checked
// against its length field before it is decoded; parts that fail either check
// are skipped, and a length running past the end of b stops the walk.
func DecodeRTCP(b []byte) []rtcp.Packet {
	var out []rtcp.Packet
	for pos := 0; len(b)-pos >= rtcpHeaderSize; {
		var h rtcp.Header
		if err := h.Unmarshal(b[pos:]); err != nil {
			return out
		}
		size := (int(h.Length) + 1) * 4
		if pos+size > len(b) {
			return out
		}
		pkts, err := rtcp.Unmarshal(b[pos : pos+size])
		if err == nil {
			out = append(out, pkts...)
		}
		pos += size
	}
	return out
}

// LogRTCP writes a debug line per decoded report.
func LogRTCP(entry *log.Entry, m Media, b []byte) {
	for _, p := range DecodeRTCP(b) {
		switch pkt := p.(type) {
		case *rtcp.ReceiverReport:
			for _, r := range pkt.Reports {
				rtcpReports.WithLabelValues(m.String()).Inc()
				entry.WithFields(log.Fields{
					"media":         m.String(),
					"ssrc":          r.SSRC,
					"fraction_lost": r.FractionLost,
					"total_lost":    r.TotalLost,
					"jitter":        r.Jitter,
				}).Debug("rtcp receiver report")
			}
		case *rtcp.Goodbye:
			entry.WithField("media", m.String()).Debug("rtcp goodbye")
		default:
			entry.WithField("media", m.String()).Tracef("rtcp %T", p)
		}
	}
}
