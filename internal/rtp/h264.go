package rtp

import (
	"encoding/binary"

	"github.com/bilbercode/rtspd/internal/media"
)

const (
	fuaHeaderSize  = 2
	stapHeaderSize = 1
	stapSizeField  = 2

	fuStart = 0x80
	fuEnd   = 0x40
)

// NeedsFragmentation reports whether a NAL unit sent as a single packet would
// exceed mtu.
func NeedsFragmentation(nal []byte, mtu int) bool {
	return len(nal)+HeaderSize > mtu
}

// FragmentFUA splits a NAL unit into FU-A payloads carrying at most
// maxFragment bytes of the NAL body each. The NAL header byte itself is
// carried in the FU indicator and FU header.
func FragmentFUA(nal []byte, maxFragment int) [][]byte {
	if len(nal) < 2 || maxFragment < 1 {
		return nil
	}
	header := nal[0]
	indicator := header&0xE0 | media.NALTypeFUA
	body := nal[1:]

	var out [][]byte
	for pos := 0; pos < len(body); pos += maxFragment {
		end := pos + maxFragment
		if end > len(body) {
			end = len(body)
		}
		fu := header & 0x1F
		if pos == 0 {
			fu |= fuStart
		}
		if end == len(body) {
			fu |= fuEnd
		}
		p := make([]byte, 0, fuaHeaderSize+end-pos)
		p = append(p, indicator, fu)
		p = append(p, body[pos:end]...)
		out = append(out, p)
	}
	return out
}

// STAPASize is the RTP packet size of a STAP-A aggregate of nals.
func STAPASize(nals ...[]byte) int {
	size := HeaderSize + stapHeaderSize
	for _, n := range nals {
		size += stapSizeField + len(n)
	}
	return size
}

// AggregateSTAPA builds a STAP-A payload from nals. The aggregation header
// carries the highest nal_ref_idc of the aggregated units.
func AggregateSTAPA(nals ...[]byte) []byte {
	var nri byte
	for _, n := range nals {
		if len(n) > 0 && n[0]&0x60 > nri {
			nri = n[0] & 0x60
		}
	}
	p := make([]byte, 0, STAPASize(nals...)-HeaderSize)
	p = append(p, nri|media.NALTypeSTAPA)
	for _, n := range nals {
		p = binary.BigEndian.AppendUint16(p, uint16(len(n)))
		p = append(p, n...)
	}
	return p
}
