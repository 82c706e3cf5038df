package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheuscscp/protofinder/layers/application"
	"github.com/matheuscscp/protofinder/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		classifyCaptureFile = ""
		lookupProtocols = nil
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func TestLookup(t *testing.T) {
	out, err := execute(t, "lookup", "443", "51000")
	require.NoError(t, err)
	assert.Equal(t, "ssl\noscar\noscar-file-transfer\n", out)

	out, err = execute(t, "lookup", "12345", "54321")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLookupProtocolFilter(t *testing.T) {
	out, err := execute(t, "lookup", "443", "51000", "--protocol", "SSL", "--protocol", "irc")
	require.NoError(t, err)
	assert.Equal(t, "ssl\n", out)

	_, err = execute(t, "lookup", "443", "51000", "--protocol", "gopher", "--protocol", "ftp")
	require.Error(t, err)
	assert.ErrorIs(t, err, application.ErrUnknownProtocolName)
	assert.Contains(t, err.Error(), "gopher")
	assert.Contains(t, err.Error(), "ftp")
}

func TestLookupProtocolFlagListsProtocols(t *testing.T) {
	usage := lookupCmd.Flags().Lookup("protocol").Usage
	for _, p := range application.Protocols() {
		assert.Contains(t, usage, p.String())
	}
	assert.NotContains(t, usage, application.ProtocolUnknown.String())
}

func TestLookupInvalidPort(t *testing.T) {
	_, err := execute(t, "lookup", "65536", "80")
	assert.Error(t, err)

	_, err = execute(t, "lookup", "80")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	captureFile := test.WriteCaptureFile(t, true, time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC),
		test.SerializeTCPFrame(t, test.TCPSegment{
			SrcIP: "10.1.0.1", DstIP: "10.1.0.2", SrcPort: 50000, DstPort: 8080, SYN: true,
		}),
		test.SerializeTCPFrame(t, test.TCPSegment{
			SrcIP: "10.1.0.2", DstIP: "10.1.0.1", SrcPort: 8080, DstPort: 50000, SYN: true, ACK: true,
		}),
		test.SerializeTCPFrame(t, test.TCPSegment{
			SrcIP: "10.1.0.1", DstIP: "10.1.0.2", SrcPort: 50000, DstPort: 8080, ACK: true,
			Payload: []byte("POST /api HTTP/1.1\r\nContent-Length: 0\r\n\r\n"),
		}),
		test.SerializeTCPFrame(t, test.TCPSegment{
			SrcIP: "10.1.0.3", DstIP: "10.1.0.2", SrcPort: 50001, DstPort: 22, SYN: true,
		}),
		test.SerializeTCPFrame(t, test.TCPSegment{
			SrcIP: "10.1.0.2", DstIP: "10.1.0.3", SrcPort: 22, DstPort: 50001, SYN: true, ACK: true,
		}),
		test.SerializeTCPFrame(t, test.TCPSegment{
			SrcIP: "10.1.0.2", DstIP: "10.1.0.3", SrcPort: 22, DstPort: 50001, ACK: true,
			Payload: []byte("SSH-2.0-dropbear\r\n"),
		}),
		test.SerializeTCPFrame(t, test.TCPSegment{
			SrcIP: "10.1.0.2", DstIP: "10.1.0.3", SrcPort: 22, DstPort: 50001, ACK: true,
			BadChecksum: true,
		}),
		// dropped, so 10.1.0.5:25 never becomes a known service
		test.SerializeTCPFrame(t, test.TCPSegment{
			SrcIP: "10.1.0.5", DstIP: "10.1.0.4", SrcPort: 25, DstPort: 50002, SYN: true, ACK: true,
			BadChecksum: true,
		}),
		test.SerializeTCPFrame(t, test.TCPSegment{
			SrcIP: "10.1.0.5", DstIP: "10.1.0.4", SrcPort: 25, DstPort: 50002, ACK: true,
			Payload: []byte("220 mail.example.com ESMTP ready\r\n"),
		}),
	)

	confFile := filepath.Join(t.TempDir(), "classify.yml")
	require.NoError(t, os.WriteFile(confFile, []byte(`
log:
  level: warn
tracker:
  maxSessions: 16
  verifyChecksums: true
  metricLabels:
    captureName: cmd-test
`), 0o600))

	out, err := execute(t, "classify", confFile, "--capture-file", captureFile)
	require.NoError(t, err)

	assert.NotContains(t, out, "smtp")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"HOST", "ALIAS", "PORT", "PROTOCOL"}, strings.Fields(lines[0]))
	for i, expected := range [][]string{
		{"10.1.0.2", "22", "ssh"},
		{"10.1.0.2", "8080", "http"},
	} {
		fields := strings.Fields(lines[i+1])
		require.Len(t, fields, 4)
		assert.Equal(t, expected[0], fields[0])
		assert.NotEmpty(t, fields[1])
		assert.Equal(t, expected[1], fields[2])
		assert.Equal(t, expected[2], fields[3])
	}

	lenientConfFile := filepath.Join(t.TempDir(), "classify.yml")
	require.NoError(t, os.WriteFile(lenientConfFile, []byte(`
log:
  level: warn
tracker:
  maxSessions: 16
`), 0o600))

	out, err = execute(t, "classify", lenientConfFile, "--capture-file", captureFile)
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"10.1.0.5", "25", "smtp"}, []string{
		strings.Fields(lines[3])[0],
		strings.Fields(lines[3])[2],
		strings.Fields(lines[3])[3],
	})
}

func TestClassifyInvalidConfig(t *testing.T) {
	confFile := filepath.Join(t.TempDir(), "classify.yml")
	require.NoError(t, os.WriteFile(confFile, []byte(`
log:
  level: loud
  format: xml
tracker:
  maxSessions: -1
`), 0o600))

	_, err := execute(t, "classify", confFile)
	require.Error(t, err)
	for _, msg := range []string{"captureFile must be set", "log level", "log format", "maxSessions"} {
		assert.Contains(t, err.Error(), msg)
	}
}

func TestClassifyMissingCaptureFile(t *testing.T) {
	confFile := filepath.Join(t.TempDir(), "classify.yml")
	require.NoError(t, os.WriteFile(confFile, []byte("captureFile: /does/not/exist.pcap\n"), 0o600))

	_, err := execute(t, "classify", confFile)
	assert.Error(t, err)
}
