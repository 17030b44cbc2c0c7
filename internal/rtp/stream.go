package rtp

import (
	pionrtp "github.com/pion/rtp"
)

const (
	HeaderSize = 12

	PayloadTypeH264 = 96
	PayloadTypeAAC  = 97

	SSRCVideo = 0x12345678
	SSRCAudio = 0x87654321
)

// Media identifies the track a packet belongs to.
type Media int

const (
	MediaVideo Media = iota
	MediaAudio
)

func (m Media) String() string {
	if m == MediaAudio {
		return "audio"
	}
	return "video"
}

// Stream holds the header state of one outgoing RTP stream. The sequence
// number advances once per packet and wraps at 16 bits.
type Stream struct {
	PayloadType uint8
	SSRC        uint32
	Sequence    uint16
	Timestamp   uint32
}

func NewVideoStream() *Stream {
	return &Stream{PayloadType: PayloadTypeH264, SSRC: SSRCVideo}
}

func NewAudioStream() *Stream {
	return &Stream{PayloadType: PayloadTypeAAC, SSRC: SSRCAudio}
}

// Packet builds the next packet of the stream around payload.
func (s *Stream) Packet(payload []byte, marker bool) ([]byte, error) {
	p := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    s.PayloadType,
			SequenceNumber: s.Sequence,
			Timestamp:      s.Timestamp,
			SSRC:           s.SSRC,
		},
		Payload: payload,
	}
	s.Sequence++
	return p.Marshal()
}
