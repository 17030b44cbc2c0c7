package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		protocol    Protocol
		interleaved bool
		channels    Interleaved
		clientPort  ClientPort
		str         string
	}{
		{
			name:        "tcp interleaved",
			in:          "RTP/AVP/TCP;unicast;interleaved=0-1",
			protocol:    ProtocolTCP,
			interleaved: true,
			channels:    Interleaved{0, 1},
			str:         "RTP/AVP/TCP;unicast;interleaved=0-1",
		},
		{
			name:       "udp client ports",
			in:         "RTP/AVP;unicast;client_port=5000-5001",
			protocol:   ProtocolUDP,
			clientPort: ClientPort{5000, 5001},
			str:        "RTP/AVP;unicast;client_port=5000-5001",
		},
		{
			name:       "explicit udp profile",
			in:         "RTP/AVP/UDP;unicast;client_port=6970-6971;mode=play",
			protocol:   ProtocolUDP,
			clientPort: ClientPort{6970, 6971},
			str:        "RTP/AVP/UDP;unicast;client_port=6970-6971;mode=play",
		},
		{
			name:        "interleaved without tcp profile",
			in:          "RTP/AVP;unicast;interleaved=2-3",
			protocol:    ProtocolUDP,
			interleaved: true,
			channels:    Interleaved{2, 3},
			str:         "RTP/AVP;unicast;interleaved=2-3",
		},
		{
			name:        "tcp without channels",
			in:          "RTP/AVP/TCP;unicast",
			protocol:    ProtocolTCP,
			interleaved: true,
			str:         "RTP/AVP/TCP;unicast",
		},
		{
			name:       "unknown parameters ignored",
			in:         "RTP/AVP;unicast;client_port=7000-7001;x-dynamic-rate=1",
			protocol:   ProtocolUDP,
			clientPort: ClientPort{7000, 7001},
			str:        "RTP/AVP;unicast;client_port=7000-7001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Parse([]string{tt.in})
			require.NoError(t, err)
			require.Len(t, h.Options(), 1)

			opt := h.Options()[0]
			require.True(t, opt.IsUnicast())
			require.Equal(t, tt.protocol, opt.Protocol())
			require.Equal(t, tt.interleaved, opt.IsInterleaved())

			channels, ok := opt.Interleaved()
			require.Equal(t, tt.channels != nil, ok)
			require.Equal(t, tt.channels, channels)

			ports, ok := opt.ClientPort()
			require.Equal(t, tt.clientPort != nil, ok)
			require.Equal(t, tt.clientPort, ports)

			require.Equal(t, tt.str, opt.String())
		})
	}
}

func TestParseAlternatives(t *testing.T) {
	h, err := Parse([]string{"RTP/AVP/TCP;unicast;interleaved=0-1, RTP/AVP;unicast;client_port=5000-5001"})
	require.NoError(t, err)
	require.Len(t, h.Options(), 2)
	require.Equal(t, ProtocolTCP, h.Options()[0].Protocol())
	require.Equal(t, ProtocolUDP, h.Options()[1].Protocol())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		err  error
	}{
		{"empty", nil, ErrUnsupportedTransport},
		{"unknown profile", []string{"RAW/RAW/UDP;unicast"}, ErrUnsupportedTransport},
		{"bad channel", []string{"RTP/AVP/TCP;interleaved=a-b"}, ErrMalformedTransport},
		{"missing port", []string{"RTP/AVP;unicast;client_port"}, ErrMalformedTransport},
		{"port out of range", []string{"RTP/AVP;unicast;client_port=70000-70001"}, ErrMalformedTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNewOptionString(t *testing.T) {
	require.Equal(t,
		"RTP/AVP/TCP;unicast;interleaved=2-3",
		NewOption(ProtocolTCP, true, Interleaved{2, 3}).String())
	require.Equal(t,
		"RTP/AVP;unicast;client_port=5000-5001;server_port=30000-30001",
		NewOption(ProtocolUDP, true, ClientPort{5000, 5001}, ServerPort{30000, 30001}).String())
	require.Equal(t, "ssrc=12345678", SSRC(0x12345678).String())
}
