// Package udp dissects UDP headers (RFC 768).
package udp

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket/layers"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

const Name = "udp"

// HeaderSize is the fixed header size.
const HeaderSize = 8

const checksumOffset = 6

var fields = identity.Fields{
	"sport":  {Parse: identity.IntValue},
	"dport":  {Parse: identity.IntValue},
	"length": {Parse: identity.IntValue},
}

func Register(r *identity.Registry) {
	r.RegisterProtocol(Name, New)
	r.RegisterIPProtocol(Name, layers.IPProtocolUDP)
}

type Dissector struct{ identity.Stateless }

func New() identity.Dissector { return &Dissector{} }

func (*Dissector) Name() string { return Name }

func (*Dissector) BuildAttributes(spec string) identity.Attributes { return fields.Build(spec) }

// Interpret parses the header. UDP is terminal.
func (*Dissector) Interpret(_ *identity.Session, data *memorymap.Map, parent identity.Protocol) (identity.Protocol, error) {
	if data.Len() < HeaderSize {
		return nil, fmt.Errorf("%w: udp header of %d bytes", identity.ErrFormat, data.Len())
	}
	return &Datagram{Header: identity.NewHeader(data, parent)}, nil
}

// Datagram is a dissected UDP header.
type Datagram struct {
	identity.Header
}

func (*Datagram) Name() string { return Name }

func (u *Datagram) uint16At(off int) uint16 {
	return binary.BigEndian.Uint16(u.Data().Range(off, off+2))
}

func (u *Datagram) SrcPort() uint16  { return u.uint16At(0) }
func (u *Datagram) DstPort() uint16  { return u.uint16At(2) }
func (u *Datagram) Length() uint16   { return u.uint16At(4) }
func (u *Datagram) Checksum() uint16 { return u.uint16At(checksumOffset) }

func (u *Datagram) Payload() *memorymap.Map {
	return u.Data().Slice(HeaderSize, u.Data().Len())
}

func (u *Datagram) Attributes() identity.Attributes {
	return identity.Attributes{
		"sport":  int(u.SrcPort()),
		"dport":  int(u.DstPort()),
		"length": int(u.Length()),
	}
}

func (u *Datagram) SetAttributes(attrs identity.Attributes) {
	for key, off := range map[string]int{"sport": 0, "dport": 2, "length": 4} {
		if v, ok := identity.IntAttr(attrs, key); ok {
			_ = u.Data().SetSlice(off, off+2, binary.BigEndian.AppendUint16(nil, uint16(v)))
		}
	}
}

func (u *Datagram) Match(want identity.Attributes) bool {
	return identity.MatchAttributes(u.Attributes(), want)
}

// RecalculateChecksum recomputes the checksum over the pseudo-header of the
// carrying IP header and the whole datagram. A computed zero is sent as
// 0xffff, since zero means no checksum.
func (u *Datagram) RecalculateChecksum() {
	sum := identity.TransportChecksum(u.Data(), u.Prev(), layers.IPProtocolUDP, checksumOffset)
	if sum == 0 {
		_ = u.Data().SetSlice(checksumOffset, checksumOffset+2, []byte{0xff, 0xff})
	}
}
