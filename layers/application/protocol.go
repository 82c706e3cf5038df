package application

import (
	"fmt"
	"strings"
)

type (
	// Protocol identifies an application layer protocol.
	Protocol uint8
)

const (
	ProtocolUnknown Protocol = iota
	ProtocolFTPControl
	ProtocolSSH
	ProtocolSMTP
	ProtocolHTTP
	ProtocolNetBIOSNameService
	ProtocolNetBIOSSessionService
	ProtocolSSL
	ProtocolTDS
	ProtocolSpotify
	ProtocolIRC
	ProtocolOSCAR
	ProtocolOSCARFileTransfer
	ProtocolIEC104

	numProtocols = iota
)

var protocolNames = [numProtocols]string{
	ProtocolUnknown:               "unknown",
	ProtocolFTPControl:            "ftp-control",
	ProtocolSSH:                   "ssh",
	ProtocolSMTP:                  "smtp",
	ProtocolHTTP:                  "http",
	ProtocolNetBIOSNameService:    "netbios-name-service",
	ProtocolNetBIOSSessionService: "netbios-session-service",
	ProtocolSSL:                   "ssl",
	ProtocolTDS:                   "tds",
	ProtocolSpotify:               "spotify",
	ProtocolIRC:                   "irc",
	ProtocolOSCAR:                 "oscar",
	ProtocolOSCARFileTransfer:     "oscar-file-transfer",
	ProtocolIEC104:                "iec-104",
}

func (p Protocol) String() string {
	if int(p) < len(protocolNames) {
		return protocolNames[p]
	}
	return fmt.Sprintf("protocol(%d)", uint8(p))
}

// ParseProtocol returns the Protocol whose String() matches name
// (case-insensitive).
func ParseProtocol(name string) (Protocol, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for p, s := range protocolNames {
		if s == name {
			return Protocol(p), nil
		}
	}
	return ProtocolUnknown, fmt.Errorf("%w: '%s'", ErrUnknownProtocolName, name)
}

// Protocols returns all the known protocols, ProtocolUnknown excluded.
func Protocols() []Protocol {
	p := make([]Protocol, 0, numProtocols-1)
	for i := Protocol(1); i < numProtocols; i++ {
		p = append(p, i)
	}
	return p
}
