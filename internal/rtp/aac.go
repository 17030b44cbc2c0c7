package rtp

import (
	"github.com/bilbercode/rtspd/internal/media"
)

const (
	// MinAACFrameSize is the smallest ADTS frame accepted for packetization.
	MinAACFrameSize = media.ADTSHeaderSize

	auHeadersLength = 16
	auSizeMask      = 0x1FFF
)

// AACPayload wraps one ADTS frame as an MPEG4-GENERIC AAC-hbr payload: a 16
// bit AU-headers-length, one AU header of 13 bit size and 3 bit index, then
// the raw access unit with the ADTS header removed. Frames shorter than
// MinAACFrameSize are rejected.
func AACPayload(frame []byte) ([]byte, bool) {
	if len(frame) < MinAACFrameSize {
		return nil, false
	}
	au := frame
	if media.IsADTS(frame) {
		hl := media.ADTSHeaderLen(frame)
		if len(frame) < hl {
			return nil, false
		}
		au = frame[hl:]
	}

	size := len(au) & auSizeMask
	p := make([]byte, 0, 4+len(au))
	p = append(p,
		0x00, auHeadersLength,
		byte(size>>5), byte(size<<3),
	)
	return append(p, au...), true
}
