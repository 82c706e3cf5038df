package test

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	gplayers "github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"
)

type (
	// TCPSegment describes an Ethernet frame carrying a TCP segment.
	// The IP version follows the version of SrcIP.
	TCPSegment struct {
		SrcIP, DstIP     string
		SrcPort, DstPort uint16
		SYN, ACK         bool
		FIN, RST         bool
		Payload          []byte
		BadChecksum      bool
	}
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// SerializeTCPFrame serializes the segment into an Ethernet frame
// with fixed lengths and valid checksums (unless BadChecksum is set).
func SerializeTCPFrame(t *testing.T, s TCPSegment) []byte {
	t.Helper()

	srcIP, dstIP := net.ParseIP(s.SrcIP), net.ParseIP(s.DstIP)
	require.NotNil(t, srcIP)
	require.NotNil(t, dstIP)

	eth := &gplayers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC}
	tcp := &gplayers.TCP{
		SrcPort: gplayers.TCPPort(s.SrcPort),
		DstPort: gplayers.TCPPort(s.DstPort),
		Seq:     1000,
		SYN:     s.SYN,
		ACK:     s.ACK,
		FIN:     s.FIN,
		RST:     s.RST,
		Window:  65535,
	}
	var (
		ip          gopacket.SerializableLayer
		ipHeaderLen int
	)
	if srcIP.To4() != nil {
		eth.EthernetType = gplayers.EthernetTypeIPv4
		ipv4 := &gplayers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: gplayers.IPProtocolTCP,
			SrcIP:    srcIP.To4(),
			DstIP:    dstIP.To4(),
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ipv4))
		ip, ipHeaderLen = ipv4, 20
	} else {
		eth.EthernetType = gplayers.EthernetTypeIPv6
		ipv6 := &gplayers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: gplayers.IPProtocolTCP,
			SrcIP:      srcIP,
			DstIP:      dstIP,
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ipv6))
		ip, ipHeaderLen = ipv6, 40
	}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(
		buf,
		gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		eth,
		ip,
		tcp,
		gopacket.Payload(s.Payload),
	)
	require.NoError(t, err)

	// short frames are padded to the ethernet minimum, so the tcp header
	// is located from the front
	b := buf.Bytes()
	if s.BadChecksum {
		tcpOffset := 14 + ipHeaderLen
		b[tcpOffset+16] ^= 0xff
	}
	return b
}

// NewTCPPacket decodes the frame of SerializeTCPFrame into a packet
// captured at timestamp.
func NewTCPPacket(t *testing.T, s TCPSegment, timestamp time.Time) gopacket.Packet {
	t.Helper()

	b := SerializeTCPFrame(t, s)
	pkt := gopacket.NewPacket(b, gplayers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())
	pkt.Metadata().Timestamp = timestamp
	pkt.Metadata().CaptureLength = len(b)
	pkt.Metadata().Length = len(b)
	return pkt
}

// WriteCaptureFile writes the frames into a new pcap (or pcapng) file
// inside a temporary directory and returns its path. Frame i is
// timestamped start + i seconds.
func WriteCaptureFile(t *testing.T, ng bool, start time.Time, frames ...[]byte) string {
	t.Helper()

	file := filepath.Join(t.TempDir(), "capture.pcap")
	if ng {
		file += "ng"
	}
	f, err := os.Create(file)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	ci := func(i int, b []byte) gopacket.CaptureInfo {
		return gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Second),
			CaptureLength: len(b),
			Length:        len(b),
		}
	}

	if ng {
		w, err := pcapgo.NewNgWriter(f, gplayers.LinkTypeEthernet)
		require.NoError(t, err)
		for i, b := range frames {
			require.NoError(t, w.WritePacket(ci(i, b), b))
		}
		require.NoError(t, w.Flush())
		return file
	}

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, gplayers.LinkTypeEthernet))
	for i, b := range frames {
		require.NoError(t, w.WritePacket(ci(i, b), b))
	}
	return file
}
