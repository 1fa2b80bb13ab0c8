package protocol

import "strings"

// Endpoint identifies a remote radio node, e.g. an XBee 64-bit address in hex.
type Endpoint string

// ParseEndpoint normalizes user or device supplied addresses to one canonical form.
func ParseEndpoint(raw string) Endpoint {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "0X")
	return Endpoint(s)
}

func (e Endpoint) String() string {
	return string(e)
}
