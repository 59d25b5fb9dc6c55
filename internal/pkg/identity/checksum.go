package identity

import (
	"encoding/binary"
	"errors"

	"github.com/google/gopacket/layers"

	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

// ErrOddLength is returned when a checksum is requested over an odd number
// of bytes. Callers pad with PadEven first.
var ErrOddLength = errors.New("checksum input has odd length")

// Checksum computes the Internet checksum (RFC 1071) of b: the one's
// complement of the one's complement sum of its big-endian 16-bit words.
func Checksum(b []byte) (uint16, error) {
	if len(b)%2 != 0 {
		return 0, ErrOddLength
	}
	var sum uint32
	for i := 0; i < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i:]))
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum), nil
}

// PadEven appends a zero byte when b has odd length.
func PadEven(b []byte) []byte {
	if len(b)%2 != 0 {
		return append(b, 0)
	}
	return b
}

// PseudoHeader builds the checksum pseudo-header a transport protocol with
// number proto and segment length length prepends when carried by parent.
// Carriers other than IPv4 and IPv6 give an empty pseudo-header.
func PseudoHeader(parent Protocol, proto layers.IPProtocol, length int) []byte {
	c, ok := parent.(Carrier)
	if !ok {
		return nil
	}
	route := c.Route()
	src, dst := route.Endpoints()

	switch route.EndpointType() {
	case layers.EndpointIPv4:
		ph := make([]byte, 0, 12)
		ph = append(ph, src.Raw()...)
		ph = append(ph, dst.Raw()...)
		ph = binary.BigEndian.AppendUint16(ph, uint16(length))
		return append(ph, 0, byte(proto))
	case layers.EndpointIPv6:
		ph := make([]byte, 0, 40)
		ph = append(ph, src.Raw()...)
		ph = append(ph, dst.Raw()...)
		ph = binary.BigEndian.AppendUint32(ph, uint32(length))
		return append(ph, 0, 0, 0, byte(proto))
	default:
		return nil
	}
}

// TransportChecksum recomputes the checksum stored at offset of a TCP or UDP
// segment carried by parent. The field is zeroed, the pseudo-header and
// segment are summed and the result written back. It returns the new value.
func TransportChecksum(data *memorymap.Map, parent Protocol, proto layers.IPProtocol, offset int) uint16 {
	if offset+2 > data.Len() {
		return 0
	}
	_ = data.SetSlice(offset, offset+2, []byte{0, 0})

	buf := PseudoHeader(parent, proto, data.Len())
	buf = append(buf, data.Bytes()...)
	sum, _ := Checksum(PadEven(buf))

	_ = data.SetSlice(offset, offset+2, binary.BigEndian.AppendUint16(nil, sum))
	return sum
}
