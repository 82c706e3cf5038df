package application_test

import (
	"testing"

	"github.com/matheuscscp/protofinder/layers/application"

	"github.com/stretchr/testify/assert"
)

func TestDefaultDissectors(t *testing.T) {
	t.Parallel()

	dissectors := application.DefaultDissectors()

	for name, tt := range map[string]*struct {
		protocol   application.Protocol
		payload    []byte
		fromServer bool
		match      bool
	}{
		"http-request": {
			protocol: application.ProtocolHTTP,
			payload:  []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"),
			match:    true,
		},
		"http-response": {
			protocol:   application.ProtocolHTTP,
			payload:    []byte("HTTP/1.1 200 OK\r\n\r\n"),
			fromServer: true,
			match:      true,
		},
		"http-request-from-server": {
			protocol:   application.ProtocolHTTP,
			payload:    []byte("GET / HTTP/1.1\r\n\r\n"),
			fromServer: true,
			match:      false,
		},
		"ssh-banner": {
			protocol:   application.ProtocolSSH,
			payload:    []byte("SSH-2.0-OpenSSH_9.0\r\n"),
			fromServer: true,
			match:      true,
		},
		"ftp-banner": {
			protocol:   application.ProtocolFTPControl,
			payload:    []byte("220 ProFTPD Server ready.\r\n"),
			fromServer: true,
			match:      true,
		},
		"ftp-user": {
			protocol: application.ProtocolFTPControl,
			payload:  []byte("USER anonymous\r\n"),
			match:    true,
		},
		"smtp-banner": {
			protocol:   application.ProtocolSMTP,
			payload:    []byte("220 mx.example.com ESMTP Postfix\r\n"),
			fromServer: true,
			match:      true,
		},
		"smtp-banner-is-not-ftp": {
			protocol:   application.ProtocolFTPControl,
			payload:    []byte("220 mx.example.com ESMTP Postfix\r\n"),
			fromServer: true,
			match:      false,
		},
		"smtp-ehlo": {
			protocol: application.ProtocolSMTP,
			payload:  []byte("ehlo client.example.com\r\n"),
			match:    true,
		},
		"irc-nick": {
			protocol: application.ProtocolIRC,
			payload:  []byte("NICK alice\r\nUSER alice 0 * :Alice\r\n"),
			match:    true,
		},
		"irc-notice": {
			protocol:   application.ProtocolIRC,
			payload:    []byte(":irc.example.net NOTICE * :*** Looking up your hostname\r\n"),
			fromServer: true,
			match:      true,
		},
		"tls-client-hello": {
			protocol: application.ProtocolSSL,
			payload:  []byte{0x16, 0x03, 0x01, 0x00, 0x2f, 0x01, 0x00, 0x00, 0x2b},
			match:    true,
		},
		"tls-bad-version": {
			protocol: application.ProtocolSSL,
			payload:  []byte{0x16, 0x02, 0x01, 0x00, 0x2f},
			match:    false,
		},
		"tls-too-short": {
			protocol: application.ProtocolSSL,
			payload:  []byte{0x16, 0x03},
			match:    false,
		},
		"tds-prelogin": {
			protocol: application.ProtocolTDS,
			payload:  []byte{0x12, 0x01, 0x00, 0x08, 0x00, 0x00, 0x01, 0x00},
			match:    true,
		},
		"tds-bad-length": {
			protocol: application.ProtocolTDS,
			payload:  []byte{0x12, 0x01, 0x00, 0x40, 0x00, 0x00, 0x01, 0x00},
			match:    false,
		},
		"netbios-session-request": {
			protocol: application.ProtocolNetBIOSSessionService,
			payload:  []byte{0x81, 0x00, 0x00, 0x02, 0x20, 0x20},
			match:    true,
		},
		"netbios-session-length-mismatch": {
			protocol: application.ProtocolNetBIOSSessionService,
			payload:  []byte{0x00, 0x00, 0x00, 0x05, 0xff, 0x53},
			match:    false,
		},
		"oscar-flap": {
			protocol:   application.ProtocolOSCAR,
			payload:    []byte{'*', 0x01, 0x12, 0x34, 0x00, 0x04, 0x00, 0x00, 0x00, 0x01},
			fromServer: true,
			match:      true,
		},
		"oscar-file-transfer": {
			protocol: application.ProtocolOSCARFileTransfer,
			payload:  []byte("OFT2\x01\x00"),
			match:    true,
		},
		"iec-104-startdt": {
			protocol: application.ProtocolIEC104,
			payload:  []byte{0x68, 0x04, 0x07, 0x00, 0x00, 0x00},
			match:    true,
		},
		"iec-104-bad-start": {
			protocol: application.ProtocolIEC104,
			payload:  []byte{0x69, 0x04, 0x07, 0x00, 0x00, 0x00},
			match:    false,
		},
	} {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d, ok := dissectors[tt.protocol]
			if !assert.True(t, ok) {
				return
			}
			assert.Equal(t, tt.protocol, d.Protocol())
			assert.Equal(t, tt.match, d.Match(tt.payload, tt.fromServer))
		})
	}
}

func TestDissectorSetDissect(t *testing.T) {
	t.Parallel()

	dissectors := application.DefaultDissectors()
	clientHello := []byte{0x16, 0x03, 0x01, 0x00, 0x2f, 0x01, 0x00, 0x00, 0x2b}

	p, ok := dissectors.Dissect([]application.Protocol{
		application.ProtocolSSL,
		application.ProtocolOSCAR,
		application.ProtocolOSCARFileTransfer,
	}, clientHello, false)
	assert.True(t, ok)
	assert.Equal(t, application.ProtocolSSL, p)

	// only the given candidates are tried
	_, ok = dissectors.Dissect([]application.Protocol{application.ProtocolHTTP}, clientHello, false)
	assert.False(t, ok)

	// protocols without a dissector are skipped
	p, ok = dissectors.Dissect([]application.Protocol{
		application.ProtocolSpotify,
		application.ProtocolHTTP,
	}, []byte("GET / HTTP/1.0\r\n\r\n"), false)
	assert.True(t, ok)
	assert.Equal(t, application.ProtocolHTTP, p)

	_, ok = dissectors.Dissect([]application.Protocol{application.ProtocolHTTP}, nil, false)
	assert.False(t, ok)
}

func TestDissectorSetAddReplaces(t *testing.T) {
	t.Parallel()

	dissectors := application.DissectorSet{}
	dissectors.Add(application.NewPrefixDissector(application.ProtocolHTTP, []string{"GET "}, nil))
	dissectors.Add(application.NewFuncDissector(application.ProtocolHTTP, func(payload []byte, fromServer bool) bool {
		return fromServer
	}))

	assert.Len(t, dissectors, 1)
	_, ok := dissectors.Dissect([]application.Protocol{application.ProtocolHTTP}, []byte("GET /"), false)
	assert.False(t, ok)
	_, ok = dissectors.Dissect([]application.Protocol{application.ProtocolHTTP}, []byte("x"), true)
	assert.True(t, ok)
}
