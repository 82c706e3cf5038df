package capture

import (
	"fmt"

	"github.com/google/gopacket"
	gplayers "github.com/google/gopacket/layers"
)

// validateChecksum recomputes the checksum of a copy of segment over the
// pseudo-header of datagram and compares it with the captured one.
func validateChecksum(datagram gopacket.NetworkLayer, segment *gplayers.TCP) error {
	actual := segment.Checksum
	s := *segment
	if err := s.SetNetworkLayerForChecksum(datagram); err != nil {
		return fmt.Errorf("error setting network layer for checksum: %w", err)
	}
	err := gopacket.SerializeLayers(
		gopacket.NewSerializeBuffer(),
		gopacket.SerializeOptions{ComputeChecksums: true},
		&s,
		gopacket.Payload(segment.LayerPayload()),
	)
	if err != nil {
		return fmt.Errorf("error calculating checksum (reserializing): %w", err)
	}
	if expected := s.Checksum; expected != actual {
		return fmt.Errorf("%w: want %d, got %d", ErrInvalidChecksum, expected, actual)
	}
	return nil
}
