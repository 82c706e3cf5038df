package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	gplayers "github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type (
	// PacketHandler handles the packet read from the given 1-based frame
	// number. Returning an error stops the reading.
	PacketHandler func(frameNumber int, pkt gopacket.Packet) error

	packetDataSource interface {
		gopacket.PacketDataSource
		LinkType() gplayers.LinkType
	}
)

// pcapngMagic is the block type of the section header block that
// starts every pcapng file.
const pcapngMagic = 0x0a0d0d0a

// ReadFile decodes the packets of a pcap or pcapng file in order and
// hands them to handle, until the end of the file, an error or ctx is done.
func ReadFile(ctx context.Context, file string, handle PacketHandler) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("error opening capture file: %w", err)
	}
	defer f.Close()
	return Read(ctx, f, handle)
}

// Read is like ReadFile but for an already opened capture.
func Read(ctx context.Context, r io.Reader, handle PacketHandler) error {
	source, err := newPacketDataSource(r)
	if err != nil {
		return err
	}
	packetSource := gopacket.NewPacketSource(source, source.LinkType())

	for frameNumber := 1; ; frameNumber++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkt, err := packetSource.NextPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading frame %d: %w", frameNumber, err)
		}
		if err := handle(frameNumber, pkt); err != nil {
			return err
		}
	}
}

func newPacketDataSource(r io.Reader) (packetDataSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("error reading capture file magic number: %w", err)
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("error creating pcapng reader: %w", err)
		}
		return ng, nil
	}
	pcap, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("error creating pcap reader: %w", err)
	}
	return pcap, nil
}
