package rtp

import (
	"fmt"
)

// Sink delivers marshalled RTP packets to a client.
type Sink interface {
	WriteRTP(m Media, packet []byte) error
}

// Sender is the outgoing side of an RTSP TCP connection.
type Sender interface {
	Send(b []byte)
}

// PacketWriter writes single datagrams.
type PacketWriter interface {
	Write(b []byte) error
}

// TCPSink frames packets as interleaved frames on the RTSP connection.
type TCPSink struct {
	conn     Sender
	channels [2]uint8
}

// NewTCPSink sends video on videoChannel and audio on audioChannel.
func NewTCPSink(conn Sender, videoChannel, audioChannel uint8) *TCPSink {
	return &TCPSink{conn: conn, channels: [2]uint8{videoChannel, audioChannel}}
}

func (s *TCPSink) WriteRTP(m Media, packet []byte) error {
	frame, err := InterleavedFrame{Channel: s.channels[m], Payload: packet}.Marshal()
	if err != nil {
		return fmt.Errorf("failed to frame %s packet: %w", m, err)
	}
	s.conn.Send(frame)
	return nil
}

// UDPSink writes raw packets to the per track RTP sockets. A track without a
// socket drops its packets.
type UDPSink struct {
	writers [2]PacketWriter
}

func NewUDPSink(video, audio PacketWriter) *UDPSink {
	return &UDPSink{writers: [2]PacketWriter{video, audio}}
}

func (s *UDPSink) WriteRTP(m Media, packet []byte) error {
	w := s.writers[m]
	if w == nil {
		return nil
	}
	return w.Write(packet)
}
