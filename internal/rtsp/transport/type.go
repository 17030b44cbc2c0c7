package transport

import "errors"

type Protocol string

const (
	ProtocolUDP Protocol = "UDP"
	ProtocolTCP Protocol = "TCP"
)

const (
	UnsupportedTransportMessage = "Unsupported Transport"
	UnsupportedTransportCode    = 461
)

var (
	ErrUnsupportedTransport = errors.New("unsupported transport")
	ErrMalformedTransport   = errors.New("malformed transport header")
)

type Header interface {
	Options() []Option
}

type Option interface {
	IsUnicast() bool
	Protocol() Protocol
	// IsInterleaved reports whether RTP should travel inside the RTSP
	// connection: either the TCP profile or an explicit interleaved parameter.
	IsInterleaved() bool
	Interleaved() (Interleaved, bool)
	ClientPort() (ClientPort, bool)
	Parameters() []Parameter
	String() string
}

type Parameter interface {
	String() string
}
