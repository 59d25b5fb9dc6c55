// Package ethernet dissects Ethernet II frames, including 802.1Q tagged and
// 802.1ad double tagged frames.
package ethernet

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

// Name is the registry name of the protocol.
const Name = "eth"

// MinFrameSize is small enough for runt frames carrying ARP and large enough
// to hold a single tagged header.
const MinFrameSize = 16

var fields = identity.Fields{
	"dmac":      {Parse: identity.MACValue},
	"smac":      {Parse: identity.MACValue},
	"ethertype": {Parse: identity.IntValue},
	"len":       {Key: "ethertype", Parse: identity.IntValue},
}

// Register adds the dissector to r and dispatches Ethernet captures to it.
func Register(r *identity.Registry) {
	r.RegisterProtocol(Name, New)
	r.RegisterLinkType(Name, layers.LinkTypeEthernet)
}

// Dissector builds Frame instances.
type Dissector struct{ identity.Stateless }

// New is the identity.Factory for the dissector.
func New() identity.Dissector { return &Dissector{} }

func (*Dissector) Name() string { return Name }

func (*Dissector) BuildAttributes(spec string) identity.Attributes { return fields.Build(spec) }

func (*Dissector) Interpret(s *identity.Session, data *memorymap.Map, parent identity.Protocol) (identity.Protocol, error) {
	if data.Len() < MinFrameSize {
		return nil, fmt.Errorf("%w: ethernet frame of %d bytes", identity.ErrFormat, data.Len())
	}

	typeOffset := 12
	switch layers.EthernetType(binary.BigEndian.Uint16(data.Range(12, 14))) {
	case layers.EthernetTypeDot1Q:
		typeOffset = 16
	case layers.EthernetTypeQinQ:
		typeOffset = 20
	}
	if data.Len() < typeOffset+2 {
		return nil, fmt.Errorf("%w: tagged ethernet frame of %d bytes", identity.ErrFormat, data.Len())
	}

	f := &Frame{Header: identity.NewHeader(data, parent), typeOffset: typeOffset}
	f.SetNext(s.InterpretEtherType(f.EtherType(), data.Slice(f.PayloadOffset(), data.Len()), f))
	return f, nil
}

// Frame is a dissected Ethernet header.
type Frame struct {
	identity.Header
	typeOffset int
}

func (*Frame) Name() string { return Name }

func (f *Frame) DstMAC() []byte { return f.Data().Range(0, 6) }
func (f *Frame) SrcMAC() []byte { return f.Data().Range(6, 12) }

// EtherType returns the type of the payload, after any VLAN tags.
func (f *Frame) EtherType() layers.EthernetType {
	return layers.EthernetType(binary.BigEndian.Uint16(f.Data().Range(f.typeOffset, f.typeOffset+2)))
}

// PayloadOffset is the length of the header including VLAN tags.
func (f *Frame) PayloadOffset() int { return f.typeOffset + 2 }

// Tagged reports whether the frame carries 802.1Q or 802.1ad tags.
func (f *Frame) Tagged() bool { return f.typeOffset != 12 }

// Route is the MAC flow keyed destination first; RouteReciprocal runs from
// source to destination.
func (f *Frame) Route() gopacket.Flow {
	return gopacket.NewFlow(layers.EndpointMAC, f.DstMAC(), f.SrcMAC())
}

func (f *Frame) RouteReciprocal() gopacket.Flow { return f.Route().Reverse() }

func (f *Frame) Attributes() identity.Attributes {
	return identity.Attributes{
		"dmac":      f.DstMAC(),
		"smac":      f.SrcMAC(),
		"ethertype": int(f.EtherType()),
	}
}

// SetAttributes writes dmac, smac and ethertype. Tag ethertypes are refused
// since adding a tag would change the frame length.
func (f *Frame) SetAttributes(attrs identity.Attributes) {
	if mac, ok := identity.BytesAttr(attrs, "dmac", 6); ok {
		_ = f.Data().SetSlice(0, 6, mac)
	}
	if mac, ok := identity.BytesAttr(attrs, "smac", 6); ok {
		_ = f.Data().SetSlice(6, 12, mac)
	}
	if et, ok := identity.IntAttr(attrs, "ethertype"); ok {
		switch layers.EthernetType(et) {
		case layers.EthernetTypeDot1Q, layers.EthernetTypeQinQ:
		default:
			_ = f.Data().SetSlice(f.typeOffset, f.typeOffset+2, binary.BigEndian.AppendUint16(nil, uint16(et)))
		}
	}
}

func (f *Frame) Match(want identity.Attributes) bool {
	return identity.MatchAttributes(f.Attributes(), want)
}

func (f *Frame) ReplaceHosts(hm *identity.HostMap) {
	identity.ReplaceField(f.Data(), hm.MAC, 0, 6)
	identity.ReplaceField(f.Data(), hm.MAC, 6, 6)
}

var _ identity.Carrier = (*Frame)(nil)
