// Package ipv6 dissects the fixed IPv6 header (RFC 8200). Extension headers
// are not followed: the next header field selects the payload protocol.
package ipv6

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

const Name = "ip6"

// HeaderSize is the size of the fixed header.
const HeaderSize = 40

var fields = identity.Fields{
	"protocol": {Parse: identity.IntValue},
	"hlim":     {Parse: identity.IntValue},
	"saddr":    {Parse: identity.IPv6Value},
	"daddr":    {Parse: identity.IPv6Value},
}

// Register adds the dissector to r and dispatches raw IPv6 captures, IPv6
// ethertypes and IPv6-in-IP payloads to it.
func Register(r *identity.Registry) {
	r.RegisterProtocol(Name, New)
	r.RegisterLinkType(Name, layers.LinkTypeIPv6)
	r.RegisterEtherType(Name, layers.EthernetTypeIPv6)
	r.RegisterIPProtocol(Name, layers.IPProtocolIPv6)
}

type Dissector struct{ identity.Stateless }

func New() identity.Dissector { return &Dissector{} }

func (*Dissector) Name() string { return Name }

func (*Dissector) BuildAttributes(spec string) identity.Attributes { return fields.Build(spec) }

func (*Dissector) Interpret(s *identity.Session, data *memorymap.Map, parent identity.Protocol) (identity.Protocol, error) {
	if data.Len() < HeaderSize {
		return nil, fmt.Errorf("%w: ipv6 header of %d bytes", identity.ErrFormat, data.Len())
	}
	first, _ := data.At(0)
	if v := first >> 4; v != 6 {
		return nil, fmt.Errorf("%w: ip version %d in ipv6 header", identity.ErrFormat, v)
	}

	h := &Datagram{Header: identity.NewHeader(data, parent)}
	h.end = min(HeaderSize+h.PayloadLength(), data.Len())
	h.SetNext(s.InterpretIPProtocol(h.NextHeader(), h.Payload(), h))
	return h, nil
}

// Datagram is a dissected IPv6 header.
type Datagram struct {
	identity.Header
	end int
}

func (*Datagram) Name() string { return Name }

func (h *Datagram) byteAt(off int) byte {
	b, _ := h.Data().At(off)
	return b
}

// PayloadLength is the payload length declared by the header.
func (h *Datagram) PayloadLength() int {
	return int(binary.BigEndian.Uint16(h.Data().Range(4, 6)))
}

func (h *Datagram) NextHeader() layers.IPProtocol { return layers.IPProtocol(h.byteAt(6)) }
func (h *Datagram) HopLimit() int                 { return int(h.byteAt(7)) }
func (h *Datagram) SrcIP() []byte                 { return h.Data().Range(8, 24) }
func (h *Datagram) DstIP() []byte                 { return h.Data().Range(24, 40) }

// Payload is the captured payload, bounded by the declared length.
func (h *Datagram) Payload() *memorymap.Map { return h.Data().Slice(HeaderSize, h.end) }

func (h *Datagram) Route() gopacket.Flow {
	return gopacket.NewFlow(layers.EndpointIPv6, h.SrcIP(), h.DstIP())
}

func (h *Datagram) RouteReciprocal() gopacket.Flow { return h.Route().Reverse() }

func (h *Datagram) Attributes() identity.Attributes {
	return identity.Attributes{
		"protocol": int(h.NextHeader()),
		"hlim":     h.HopLimit(),
		"saddr":    h.SrcIP(),
		"daddr":    h.DstIP(),
	}
}

func (h *Datagram) SetAttributes(attrs identity.Attributes) {
	d := h.Data()
	if v, ok := identity.IntAttr(attrs, "protocol"); ok {
		_ = d.Set(6, byte(v))
	}
	if v, ok := identity.IntAttr(attrs, "hlim"); ok {
		_ = d.Set(7, byte(v))
	}
	if b, ok := identity.BytesAttr(attrs, "saddr", 16); ok {
		_ = d.SetSlice(8, 24, b)
	}
	if b, ok := identity.BytesAttr(attrs, "daddr", 16); ok {
		_ = d.SetSlice(24, 40, b)
	}
}

func (h *Datagram) Match(want identity.Attributes) bool {
	return identity.MatchAttributes(h.Attributes(), want)
}

func (h *Datagram) ReplaceHosts(hm *identity.HostMap) {
	identity.ReplaceField(h.Data(), hm.IPv6, 8, 16)
	identity.ReplaceField(h.Data(), hm.IPv6, 24, 16)
}

var _ identity.Carrier = (*Datagram)(nil)
