package session

import (
	"github.com/matheuscscp/protofinder/layers/application"
)

type (
	// portRule appends protocol to the candidate list when match
	// returns true for the session's ports.
	portRule struct {
		protocol application.Protocol
		match    func(serverPort, clientPort uint16) bool
	}
)

// tcpPortRules is evaluated top to bottom, so declaration order is the
// priority order of the candidates. A protocol may appear more than once.
var tcpPortRules = []portRule{
	{application.ProtocolFTPControl, serverPortIn(21, 8021)},
	{application.ProtocolSSH, serverPortIn(22)},
	{application.ProtocolSMTP, serverPortIn(25, 587)},
	{application.ProtocolHTTP, serverPortIn(80, 8080, 3128)}, // 3128: squid proxy
	{application.ProtocolNetBIOSNameService, eitherPortIn(137)},
	{application.ProtocolNetBIOSSessionService, eitherPortIn(139)},
	{application.ProtocolSSL, serverPortIn(
		443,  // https
		465,  // smtps
		563,  // nntps
		989,  // ftps-data
		990,  // ftps
		992,  // telnets
		993,  // imaps
		994,  // ircs
		995,  // pop3s
		5223, // xmpp over tls
		8170,
		8443,
		9001, // tor orport
		9030, // tor dirport
	)},
	{application.ProtocolNetBIOSSessionService, eitherPortIn(445)},
	{application.ProtocolTDS, serverPortIn(1433)},
	{application.ProtocolSpotify, serverPortIn(4070)},
	{application.ProtocolIRC, anyOf(
		serverPortIn(194, 7777),
		serverPortInRange(6660, 6670),
		serverPortInRange(6112, 6119),
	)},
	{application.ProtocolOSCAR, eitherPortIn(5190, 443)},
	{application.ProtocolOSCARFileTransfer, eitherPortIn(5190, 443)},
	{application.ProtocolIEC104, eitherPortIn(2404)},
}

func serverPortIn(ports ...uint16) func(serverPort, clientPort uint16) bool {
	return func(serverPort, _ uint16) bool {
		return portIn(serverPort, ports)
	}
}

func eitherPortIn(ports ...uint16) func(serverPort, clientPort uint16) bool {
	return func(serverPort, clientPort uint16) bool {
		return portIn(serverPort, ports) || portIn(clientPort, ports)
	}
}

// serverPortInRange matches server ports in the closed interval [lo, hi].
func serverPortInRange(lo, hi uint16) func(serverPort, clientPort uint16) bool {
	return func(serverPort, _ uint16) bool {
		return lo <= serverPort && serverPort <= hi
	}
}

func anyOf(preds ...func(serverPort, clientPort uint16) bool) func(serverPort, clientPort uint16) bool {
	return func(serverPort, clientPort uint16) bool {
		for _, pred := range preds {
			if pred(serverPort, clientPort) {
				return true
			}
		}
		return false
	}
}

func portIn(port uint16, ports []uint16) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

func probableProtocols(rules []portRule, serverPort, clientPort uint16) []application.Protocol {
	var protocols []application.Protocol
	for _, r := range rules {
		if r.match(serverPort, clientPort) {
			protocols = append(protocols, r.protocol)
		}
	}
	return protocols
}
