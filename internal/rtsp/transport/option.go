package transport

import "strings"

type option struct {
	unicast  bool
	profile  string
	protocol Protocol
	params   []Parameter
}

// NewOption builds a transport specification for a reply.
func NewOption(protocol Protocol, unicast bool, params ...Parameter) Option {
	profile := "RTP/AVP"
	if protocol == ProtocolTCP {
		profile = "RTP/AVP/TCP"
	}
	return &option{unicast: unicast, profile: profile, protocol: protocol, params: params}
}

func (o *option) Protocol() Protocol {
	return o.protocol
}

func (o *option) IsUnicast() bool {
	return o.unicast
}

func (o *option) Parameters() []Parameter {
	return o.params
}

func (o *option) IsInterleaved() bool {
	if o.protocol == ProtocolTCP {
		return true
	}
	_, ok := o.Interleaved()
	return ok
}

func (o *option) Interleaved() (Interleaved, bool) {
	for _, p := range o.params {
		if v, ok := p.(Interleaved); ok {
			return v, true
		}
	}
	return nil, false
}

func (o *option) ClientPort() (ClientPort, bool) {
	for _, p := range o.params {
		if v, ok := p.(ClientPort); ok {
			return v, true
		}
	}
	return nil, false
}

func (o *option) String() string {
	segments := []string{o.profile}
	if o.unicast {
		segments = append(segments, "unicast")
	}

	for _, param := range o.params {
		segments = append(segments, param.String())
	}

	return strings.Join(segments, ";")
}
