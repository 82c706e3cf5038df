package application

import (
	"bytes"
	"encoding/binary"
)

type (
	// Dissector recognizes an application layer protocol from a
	// single TCP payload. fromServer tells which side of the session
	// sent the payload.
	Dissector interface {
		Protocol() Protocol
		Match(payload []byte, fromServer bool) bool
	}

	// DissectorSet maps protocols to the dissectors able to
	// recognize them.
	DissectorSet map[Protocol]Dissector

	prefixDissector struct {
		protocol       Protocol
		clientPrefixes [][]byte
		serverPrefixes [][]byte
	}

	funcDissector struct {
		protocol Protocol
		match    func(payload []byte, fromServer bool) bool
	}
)

// NewPrefixDissector creates a Dissector matching payloads that start
// with one of the given prefixes. Prefixes are compared case-sensitively.
func NewPrefixDissector(protocol Protocol, clientPrefixes, serverPrefixes []string) Dissector {
	toBytes := func(ss []string) [][]byte {
		b := make([][]byte, len(ss))
		for i, s := range ss {
			b[i] = []byte(s)
		}
		return b
	}
	return &prefixDissector{
		protocol:       protocol,
		clientPrefixes: toBytes(clientPrefixes),
		serverPrefixes: toBytes(serverPrefixes),
	}
}

// NewFuncDissector creates a Dissector from a match function.
func NewFuncDissector(protocol Protocol, match func(payload []byte, fromServer bool) bool) Dissector {
	return &funcDissector{protocol, match}
}

// DefaultDissectors returns a DissectorSet recognizing every protocol
// that can be told apart from the first payload of a session.
// ProtocolSpotify and ProtocolNetBIOSNameService are left out.
func DefaultDissectors() DissectorSet {
	s := DissectorSet{}
	s.Add(NewPrefixDissector(ProtocolHTTP,
		[]string{"GET ", "POST ", "HEAD ", "PUT ", "DELETE ", "OPTIONS ", "CONNECT ", "PATCH ", "TRACE "},
		[]string{"HTTP/1."}))
	s.Add(NewPrefixDissector(ProtocolSSH,
		[]string{"SSH-"},
		[]string{"SSH-"}))
	s.Add(NewPrefixDissector(ProtocolOSCARFileTransfer,
		[]string{"OFT2"},
		[]string{"OFT2"}))
	s.Add(NewFuncDissector(ProtocolFTPControl, matchFTPControl))
	s.Add(NewFuncDissector(ProtocolSMTP, matchSMTP))
	s.Add(NewFuncDissector(ProtocolIRC, matchIRC))
	s.Add(NewFuncDissector(ProtocolSSL, matchTLSRecord))
	s.Add(NewFuncDissector(ProtocolTDS, matchTDS))
	s.Add(NewFuncDissector(ProtocolNetBIOSSessionService, matchNetBIOSSession))
	s.Add(NewFuncDissector(ProtocolOSCAR, matchFLAP))
	s.Add(NewFuncDissector(ProtocolIEC104, matchIEC104))
	return s
}

// Add stores d, replacing any dissector previously stored for the
// same protocol.
func (s DissectorSet) Add(d Dissector) {
	s[d.Protocol()] = d
}

// Dissect tries the dissectors of the given candidates in order and
// returns the first protocol whose dissector matches the payload.
func (s DissectorSet) Dissect(candidates []Protocol, payload []byte, fromServer bool) (Protocol, bool) {
	if len(payload) == 0 {
		return ProtocolUnknown, false
	}
	for _, p := range candidates {
		d, ok := s[p]
		if !ok {
			continue
		}
		if d.Match(payload, fromServer) {
			return p, true
		}
	}
	return ProtocolUnknown, false
}

func (p *prefixDissector) Protocol() Protocol {
	return p.protocol
}

func (p *prefixDissector) Match(payload []byte, fromServer bool) bool {
	prefixes := p.clientPrefixes
	if fromServer {
		prefixes = p.serverPrefixes
	}
	for _, prefix := range prefixes {
		if bytes.HasPrefix(payload, prefix) {
			return true
		}
	}
	return false
}

func (f *funcDissector) Protocol() Protocol {
	return f.protocol
}

func (f *funcDissector) Match(payload []byte, fromServer bool) bool {
	return f.match(payload, fromServer)
}

// firstLine returns the payload up to the first CRLF (or LF), upper-cased.
func firstLine(payload []byte) []byte {
	if i := bytes.IndexByte(payload, '\n'); i >= 0 {
		payload = payload[:i]
	}
	return bytes.ToUpper(bytes.TrimRight(payload, "\r"))
}

func matchFTPControl(payload []byte, fromServer bool) bool {
	line := firstLine(payload)
	if fromServer {
		return bytes.HasPrefix(line, []byte("220")) && bytes.Contains(line, []byte("FTP"))
	}
	for _, cmd := range []string{"USER ", "AUTH TLS", "AUTH SSL", "FEAT"} {
		if bytes.HasPrefix(line, []byte(cmd)) {
			return true
		}
	}
	return false
}

func matchSMTP(payload []byte, fromServer bool) bool {
	line := firstLine(payload)
	if fromServer {
		return bytes.HasPrefix(line, []byte("220")) && bytes.Contains(line, []byte("SMTP"))
	}
	return bytes.HasPrefix(line, []byte("EHLO ")) || bytes.HasPrefix(line, []byte("HELO "))
}

func matchIRC(payload []byte, fromServer bool) bool {
	line := firstLine(payload)
	if fromServer {
		// server messages are prefixed with the origin, e.g. ":irc.example.net NOTICE * :..."
		return len(line) > 1 && line[0] == ':' &&
			(bytes.Contains(line, []byte(" NOTICE ")) || bytes.Contains(line, []byte(" 001 ")))
	}
	for _, cmd := range []string{"NICK ", "PASS ", "CAP LS", "CAP REQ"} {
		if bytes.HasPrefix(line, []byte(cmd)) {
			return true
		}
	}
	return false
}

// matchTLSRecord matches the header of an SSLv3/TLS record:
// content type (change_cipher_spec..application_data), major version 3
// and a minor version up to TLS 1.3.
func matchTLSRecord(payload []byte, _ bool) bool {
	if len(payload) < 5 {
		return false
	}
	contentType, major, minor := payload[0], payload[1], payload[2]
	return 0x14 <= contentType && contentType <= 0x17 && major == 3 && minor <= 4
}

// matchTDS matches the 8-byte TDS packet header of the messages a client
// sends first (pre-login, TDS7 login, SQL batch) or a server responds with.
func matchTDS(payload []byte, fromServer bool) bool {
	if len(payload) < 8 {
		return false
	}
	packetType, status := payload[0], payload[1]
	length := int(binary.BigEndian.Uint16(payload[2:4]))
	if status > 0x1f || length < 8 || length > len(payload) {
		return false
	}
	if fromServer {
		return packetType == 0x04 // tabular result
	}
	return packetType == 0x01 || packetType == 0x10 || packetType == 0x12
}

// matchNetBIOSSession matches RFC 1002 session service packets, which are
// also used for direct SMB hosting over port 445.
func matchNetBIOSSession(payload []byte, _ bool) bool {
	if len(payload) < 4 {
		return false
	}
	switch payload[0] {
	case 0x00, 0x81, 0x82, 0x83, 0x84, 0x85:
	default:
		return false
	}
	if payload[1]&0xfe != 0 {
		return false
	}
	length := int(payload[1]&0x01)<<16 | int(binary.BigEndian.Uint16(payload[2:4]))
	return length == len(payload)-4
}

// matchFLAP matches the FLAP frame header used by OSCAR: '*', a channel
// between 1 and 5, a sequence number and the data length.
func matchFLAP(payload []byte, _ bool) bool {
	if len(payload) < 6 {
		return false
	}
	channel := payload[1]
	length := int(binary.BigEndian.Uint16(payload[4:6]))
	return payload[0] == '*' && 1 <= channel && channel <= 5 && length <= len(payload)-6
}

// matchIEC104 matches an APCI: start byte 0x68 followed by the length
// of the rest of the APDU (at least the 4 control octets).
func matchIEC104(payload []byte, _ bool) bool {
	if len(payload) < 6 {
		return false
	}
	length := int(payload[1])
	return payload[0] == 0x68 && 4 <= length && length <= len(payload)-2
}
