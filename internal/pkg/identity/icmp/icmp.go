// Package icmp registers ICMP and ICMPv6. Both are stubs: they end the chain
// and expose no attributes.
package icmp

import (
	"github.com/google/gopacket/layers"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

const (
	NameV4 = "icmp"
	NameV6 = "icmp6"
)

func Register(r *identity.Registry) {
	r.RegisterProtocol(NameV4, func() identity.Dissector { return &Dissector{name: NameV4} })
	r.RegisterIPProtocol(NameV4, layers.IPProtocolICMPv4)
	r.RegisterProtocol(NameV6, func() identity.Dissector { return &Dissector{name: NameV6} })
	r.RegisterIPProtocol(NameV6, layers.IPProtocolICMPv6)
}

type Dissector struct {
	identity.Stateless
	name string
}

func (d *Dissector) Name() string { return d.name }

func (*Dissector) BuildAttributes(string) identity.Attributes { return identity.Attributes{} }

func (d *Dissector) Interpret(_ *identity.Session, data *memorymap.Map, parent identity.Protocol) (identity.Protocol, error) {
	return &Message{Header: identity.NewHeader(data, parent), name: d.name}, nil
}

// Message is an undissected ICMP message.
type Message struct {
	identity.Header
	name string
}

func (m *Message) Name() string                    { return m.name }
func (*Message) Attributes() identity.Attributes   { return identity.Attributes{} }
func (*Message) SetAttributes(identity.Attributes) {}

func (m *Message) Match(want identity.Attributes) bool {
	return identity.MatchAttributes(m.Attributes(), want)
}
