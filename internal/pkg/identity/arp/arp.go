// Package arp dissects ARP packets (RFC 826) of any hardware and protocol
// address size.
package arp

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket/layers"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

const Name = "arp"

const (
	fixedSize = 8

	HardwareEthernet = 1
	ProtocolIPv4     = 0x0800

	OpRequest = 1
	OpReply   = 2
)

var fields = identity.Fields{
	"htype":  {Parse: identity.IntValue},
	"ptype":  {Parse: identity.IntValue},
	"opcode": {Parse: identity.IntValue},
	"sha":    {Parse: identity.OrHex(identity.MACValue)},
	"tha":    {Parse: identity.OrHex(identity.MACValue)},
	"spa":    {Parse: identity.OrHex(identity.IPv4Value)},
	"tpa":    {Parse: identity.OrHex(identity.IPv4Value)},
}

func Register(r *identity.Registry) {
	r.RegisterProtocol(Name, New)
	r.RegisterEtherType(Name, layers.EthernetTypeARP)
}

type Dissector struct{ identity.Stateless }

func New() identity.Dissector { return &Dissector{} }

func (*Dissector) Name() string { return Name }

func (*Dissector) BuildAttributes(spec string) identity.Attributes { return fields.Build(spec) }

// Interpret parses the packet. ARP is terminal.
func (*Dissector) Interpret(_ *identity.Session, data *memorymap.Map, parent identity.Protocol) (identity.Protocol, error) {
	if data.Len() < fixedSize {
		return nil, fmt.Errorf("%w: arp packet of %d bytes", identity.ErrFormat, data.Len())
	}
	p := &Packet{Header: identity.NewHeader(data, parent)}
	hlen, _ := data.At(4)
	plen, _ := data.At(5)
	p.hlen, p.plen = int(hlen), int(plen)
	if need := fixedSize + 2*p.hlen + 2*p.plen; data.Len() < need {
		return nil, fmt.Errorf("%w: arp packet of %d bytes, addresses need %d", identity.ErrFormat, data.Len(), need)
	}
	return p, nil
}

// Packet is a dissected ARP packet.
type Packet struct {
	identity.Header
	hlen, plen int
}

func (*Packet) Name() string { return Name }

func (p *Packet) uint16At(off int) int {
	return int(binary.BigEndian.Uint16(p.Data().Range(off, off+2)))
}

func (p *Packet) putUint16(off, v int) {
	_ = p.Data().SetSlice(off, off+2, binary.BigEndian.AppendUint16(nil, uint16(v)))
}

func (p *Packet) HardwareType() int { return p.uint16At(0) }
func (p *Packet) ProtocolType() int { return p.uint16At(2) }
func (p *Packet) Operation() int    { return p.uint16At(6) }

// Address field offsets.
func (p *Packet) sha() int { return fixedSize }
func (p *Packet) spa() int { return fixedSize + p.hlen }
func (p *Packet) tha() int { return fixedSize + p.hlen + p.plen }
func (p *Packet) tpa() int { return fixedSize + 2*p.hlen + p.plen }

func (p *Packet) hardwareIsEthernet() bool {
	return p.HardwareType() == HardwareEthernet && p.hlen == 6
}

func (p *Packet) protocolIsIPv4() bool {
	return p.ProtocolType() == ProtocolIPv4 && p.plen == 4
}

func (p *Packet) Attributes() identity.Attributes {
	d := p.Data()
	return identity.Attributes{
		"htype":  p.HardwareType(),
		"ptype":  p.ProtocolType(),
		"opcode": p.Operation(),
		"sha":    d.Range(p.sha(), p.sha()+p.hlen),
		"spa":    d.Range(p.spa(), p.spa()+p.plen),
		"tha":    d.Range(p.tha(), p.tha()+p.hlen),
		"tpa":    d.Range(p.tpa(), p.tpa()+p.plen),
	}
}

// SetAttributes writes the numeric fields and any address whose length
// matches the packet's address sizes.
func (p *Packet) SetAttributes(attrs identity.Attributes) {
	if v, ok := identity.IntAttr(attrs, "htype"); ok {
		p.putUint16(0, v)
	}
	if v, ok := identity.IntAttr(attrs, "ptype"); ok {
		p.putUint16(2, v)
	}
	if v, ok := identity.IntAttr(attrs, "opcode"); ok {
		p.putUint16(6, v)
	}
	for key, off := range map[string]int{"sha": p.sha(), "tha": p.tha()} {
		if b, ok := identity.BytesAttr(attrs, key, p.hlen); ok {
			_ = p.Data().SetSlice(off, off+p.hlen, b)
		}
	}
	for key, off := range map[string]int{"spa": p.spa(), "tpa": p.tpa()} {
		if b, ok := identity.BytesAttr(attrs, key, p.plen); ok {
			_ = p.Data().SetSlice(off, off+p.plen, b)
		}
	}
}

func (p *Packet) Match(want identity.Attributes) bool {
	return identity.MatchAttributes(p.Attributes(), want)
}

// ReplaceHosts rewrites Ethernet hardware addresses and IPv4 protocol
// addresses. Other address kinds are left alone.
func (p *Packet) ReplaceHosts(hm *identity.HostMap) {
	if p.hardwareIsEthernet() {
		identity.ReplaceField(p.Data(), hm.MAC, p.sha(), 6)
		identity.ReplaceField(p.Data(), hm.MAC, p.tha(), 6)
	}
	if p.protocolIsIPv4() {
		identity.ReplaceField(p.Data(), hm.IPv4, p.spa(), 4)
		identity.ReplaceField(p.Data(), hm.IPv4, p.tpa(), 4)
	}
}
