// Package identitytest builds realistic frames for dissection tests. Frames
// are serialized by gopacket with lengths and checksums computed, so tests
// can compare the dissectors' results against an independent encoder.
package identitytest

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/identity/protocols"
)

var (
	SrcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	DstMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}

	SrcIPv4 = net.IP{192, 168, 1, 100}.To4()
	DstIPv4 = net.IP{10, 0, 0, 1}.To4()

	SrcIPv6 = net.ParseIP("2001:db8::100")
	DstIPv6 = net.ParseIP("2001:db8::1")
)

// NewSession returns a session over a registry with every protocol and the
// default bounds.
func NewSession() *identity.Session {
	return identity.NewSession(protocols.NewRegistry(protocols.DefaultConfig()))
}

// Serialize encodes the layers with lengths and checksums fixed up.
func Serialize(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}

func Ethernet(et layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: SrcMAC, DstMAC: DstMAC, EthernetType: et}
}

func IPv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       0x1234,
		Protocol: proto,
		SrcIP:    SrcIPv4,
		DstIP:    DstIPv4,
	}
}

func IPv6(proto layers.IPProtocol) *layers.IPv6 {
	return &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: proto,
		SrcIP:      SrcIPv6,
		DstIP:      DstIPv6,
	}
}

// EthIPv4UDP builds an Ethernet/IPv4/UDP frame.
func EthIPv4UDP(t testing.TB, sport, dport layers.UDPPort, payload []byte) []byte {
	t.Helper()
	ip := IPv4(layers.IPProtocolUDP)
	u := &layers.UDP{SrcPort: sport, DstPort: dport}
	require.NoError(t, u.SetNetworkLayerForChecksum(ip))
	return Serialize(t, Ethernet(layers.EthernetTypeIPv4), ip, u, gopacket.Payload(payload))
}

// EthIPv4TCP builds an Ethernet/IPv4/TCP frame with the given flags set on
// the segment.
func EthIPv4TCP(t testing.TB, seg *layers.TCP, payload []byte) []byte {
	t.Helper()
	ip := IPv4(layers.IPProtocolTCP)
	require.NoError(t, seg.SetNetworkLayerForChecksum(ip))
	return Serialize(t, Ethernet(layers.EthernetTypeIPv4), ip, seg, gopacket.Payload(payload))
}

// EthIPv6UDP builds an Ethernet/IPv6/UDP frame.
func EthIPv6UDP(t testing.TB, sport, dport layers.UDPPort, payload []byte) []byte {
	t.Helper()
	ip := IPv6(layers.IPProtocolUDP)
	u := &layers.UDP{SrcPort: sport, DstPort: dport}
	require.NoError(t, u.SetNetworkLayerForChecksum(ip))
	return Serialize(t, Ethernet(layers.EthernetTypeIPv6), ip, u, gopacket.Payload(payload))
}

// EthIPv6TCP builds an Ethernet/IPv6/TCP frame.
func EthIPv6TCP(t testing.TB, seg *layers.TCP, payload []byte) []byte {
	t.Helper()
	ip := IPv6(layers.IPProtocolTCP)
	require.NoError(t, seg.SetNetworkLayerForChecksum(ip))
	return Serialize(t, Ethernet(layers.EthernetTypeIPv6), ip, seg, gopacket.Payload(payload))
}

// EthARP builds an Ethernet/ARP request from the source to the destination
// host.
func EthARP(t testing.TB) []byte {
	t.Helper()
	a := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   SrcMAC,
		SourceProtAddress: SrcIPv4,
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    DstIPv4,
	}
	return Serialize(t, Ethernet(layers.EthernetTypeARP), a)
}

// UDPDatagram encodes a UDP header and payload as carried by the default
// IPv4 addresses, with a valid checksum.
func UDPDatagram(t testing.TB, sport, dport layers.UDPPort, payload []byte) []byte {
	t.Helper()
	ip := IPv4(layers.IPProtocolUDP)
	u := &layers.UDP{SrcPort: sport, DstPort: dport}
	require.NoError(t, u.SetNetworkLayerForChecksum(ip))
	return Serialize(t, u, gopacket.Payload(payload))
}

// Fragment is one piece of a fragmented IPv4 datagram.
type Fragment struct {
	Offset int // bytes, multiple of 8
	More   bool
	Data   []byte
}

// Fragments splits payload into pieces of size bytes (a multiple of 8).
func Fragments(payload []byte, size int) []Fragment {
	var out []Fragment
	for off := 0; off < len(payload); off += size {
		end := min(off+size, len(payload))
		out = append(out, Fragment{Offset: off, More: end < len(payload), Data: payload[off:end]})
	}
	return out
}

// EthIPv4Fragment builds an Ethernet/IPv4 frame carrying one fragment of a
// datagram with the given identification and protocol.
func EthIPv4Fragment(t testing.TB, id uint16, proto layers.IPProtocol, f Fragment) []byte {
	t.Helper()
	require.Zero(t, f.Offset%8, "fragment offset must be a multiple of 8")
	ip := IPv4(proto)
	ip.Id = id
	ip.FragOffset = uint16(f.Offset / 8)
	if f.More {
		ip.Flags = layers.IPv4MoreFragments
	}
	return Serialize(t, Ethernet(layers.EthernetTypeIPv4), ip, gopacket.Payload(f.Data))
}
