package transport

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type header struct {
	options []Option
}

func (h *header) Options() []Option {
	return h.options
}

// Parse reads every transport specification of the given Transport header
// values. Alternatives separated by commas become separate options, in order
// of preference. Unknown profiles fail with ErrUnsupportedTransport, malformed
// parameters with ErrMalformedTransport. Unknown parameters are ignored.
func Parse(values []string) (Header, error) {
	var opts []Option
	for _, value := range values {
		for _, spec := range strings.Split(value, ",") {
			spec = strings.TrimSpace(spec)
			if spec == "" {
				continue
			}
			o, err := parseOption(spec)
			if err != nil {
				return nil, err
			}
			opts = append(opts, o)
		}
	}
	if len(opts) == 0 {
		return nil, ErrUnsupportedTransport
	}

	return &header{options: opts}, nil
}

func parseOption(in string) (Option, error) {
	parts := strings.Split(in, ";")
	opt := &option{profile: strings.ToUpper(strings.TrimSpace(parts[0]))}
	switch opt.profile {
	case "RTP/AVP", "RTP/AVP/UDP":
		opt.protocol = ProtocolUDP
	case "RTP/AVP/TCP":
		opt.protocol = ProtocolTCP
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransport, parts[0])
	}

	for _, part := range parts[1:] {
		key, value, hasValue := strings.Cut(strings.TrimSpace(part), "=")
		switch strings.ToLower(key) {
		case "":
			continue
		case "unicast":
			opt.unicast = true
		case "multicast":
			opt.unicast = false
		case "destination":
			opt.params = append(opt.params, Destination(value))
		case "append":
			opt.params = append(opt.params, Append(""))
		case "interleaved":
			channels, err := parseRange("interleaved", value, hasValue, 255)
			if err != nil {
				return nil, err
			}
			opt.params = append(opt.params, Interleaved(channels))
		case "client_port":
			ports, err := parseRange("client_port", value, hasValue, 65535)
			if err != nil {
				return nil, err
			}
			opt.params = append(opt.params, ClientPort(ports))
		case "server_port":
			ports, err := parseRange("server_port", value, hasValue, 65535)
			if err != nil {
				return nil, err
			}
			opt.params = append(opt.params, ServerPort(ports))
		case "port":
			ports, err := parseRange("port", value, hasValue, 65535)
			if err != nil {
				return nil, err
			}
			opt.params = append(opt.params, Port(ports))
		case "ttl":
			seconds, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to parse ttl value %q", ErrMalformedTransport, value)
			}
			opt.params = append(opt.params, TTL(time.Second*time.Duration(seconds)))
		case "layers":
			layers, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to parse layers value %q", ErrMalformedTransport, value)
			}
			opt.params = append(opt.params, Layers(layers))
		case "ssrc":
			ssrc, err := strconv.ParseUint(value, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to parse ssrc value %q", ErrMalformedTransport, value)
			}
			opt.params = append(opt.params, SSRC(ssrc))
		case "mode":
			if !hasValue {
				return nil, fmt.Errorf("%w: mode without value", ErrMalformedTransport)
			}
			opt.params = append(opt.params, Mode(strings.Trim(value, `"`)))
		}
	}
	return opt, nil
}

// parseRange reads "a" or "a-b".
func parseRange(name, value string, hasValue bool, max int) ([]int, error) {
	if !hasValue || value == "" {
		return nil, fmt.Errorf("%w: parameter %s expects at least one value", ErrMalformedTransport, name)
	}
	var out []int
	for _, s := range strings.SplitN(value, "-", 2) {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 || v > max {
			return nil, fmt.Errorf("%w: failed to parse %s, received %q", ErrMalformedTransport, name, value)
		}
		out = append(out, v)
	}
	return out, nil
}
