package model

import "fmt"

// Protocol is an acoustic tag sub-protocol. The numeric value is the
// position of the protocol inside a 16-code block of the code table.
type Protocol uint8

const (
	ProtocolR256 Protocol = iota
	ProtocolR04K
	ProtocolR64K
	ProtocolS256
	ProtocolR01M
	ProtocolS64K
	ProtocolHS256
	ProtocolDS256
)

// Protocols lists every sub-protocol in code-table order.
var Protocols = [...]Protocol{
	ProtocolR256, ProtocolR04K, ProtocolR64K, ProtocolS256,
	ProtocolR01M, ProtocolS64K, ProtocolHS256, ProtocolDS256,
}

var protocolNames = [...]string{"R256", "R04K", "R64K", "S256", "R01M", "S64K", "HS256", "DS256"}

func (p Protocol) String() string {
	if int(p) < len(protocolNames) {
		return protocolNames[p]
	}
	return fmt.Sprintf("Protocol(%d)", uint8(p))
}

// ParseProtocol returns the protocol with the given name.
func ParseProtocol(s string) (Protocol, error) {
	for i, name := range protocolNames {
		if name == s {
			return Protocol(i), nil
		}
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// DataFields returns how many sensor values the protocol carries (0, 1 or 2).
func (p Protocol) DataFields() int {
	switch p {
	case ProtocolS256, ProtocolS64K, ProtocolHS256:
		return 1
	case ProtocolDS256:
		return 2
	default:
		return 0
	}
}
