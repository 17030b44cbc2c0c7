package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// InterleavedFrameMagicByte is the first byte of an interleaved frame.
	InterleavedFrameMagicByte = 0x24

	interleavedHeaderSize = 4
)

var ErrInvalidMagicByte = errors.New("invalid magic byte")

// InterleavedFrame carries one RTP or RTCP packet inside the RTSP TCP
// connection.
type InterleavedFrame struct {
	Channel uint8
	Payload []byte
}

func (f InterleavedFrame) MarshalSize() int {
	return interleavedHeaderSize + len(f.Payload)
}

func (f InterleavedFrame) MarshalTo(buf []byte) (int, error) {
	if len(buf) < f.MarshalSize() {
		return 0, fmt.Errorf("buffer too short for interleaved frame: %d < %d", len(buf), f.MarshalSize())
	}
	if len(f.Payload) > 0xFFFF {
		return 0, fmt.Errorf("interleaved payload too large: %d", len(f.Payload))
	}
	buf[0] = InterleavedFrameMagicByte
	buf[1] = f.Channel
	binary.BigEndian.PutUint16(buf[2:], uint16(len(f.Payload)))
	n := interleavedHeaderSize + copy(buf[interleavedHeaderSize:], f.Payload)
	return n, nil
}

func (f InterleavedFrame) Marshal() ([]byte, error) {
	buf := make([]byte, f.MarshalSize())
	_, err := f.MarshalTo(buf)
	return buf, err
}

// ReadInterleavedFrame decodes a frame from the start of b. It returns n == 0
// when b does not hold a complete frame yet. The payload aliases b.
func ReadInterleavedFrame(b []byte) (InterleavedFrame, int, error) {
	if len(b) == 0 {
		return InterleavedFrame{}, 0, nil
	}
	if b[0] != InterleavedFrameMagicByte {
		return InterleavedFrame{}, 0, fmt.Errorf("%w (0x%.2x)", ErrInvalidMagicByte, b[0])
	}
	if len(b) < interleavedHeaderSize {
		return InterleavedFrame{}, 0, nil
	}
	size := interleavedHeaderSize + int(binary.BigEndian.Uint16(b[2:]))
	if len(b) < size {
		return InterleavedFrame{}, 0, nil
	}
	return InterleavedFrame{
		Channel: b[1],
		Payload: b[interleavedHeaderSize:size],
	}, size, nil
}
