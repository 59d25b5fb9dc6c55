// Package protocols wires every dissector into a Registry. It is the single
// initialization step; dissector packages do not register themselves.
package protocols

import (
	"fmt"

	"github.com/google/gopacket/layers"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/identity/arp"
	"github.com/endorses/pktmunch/internal/pkg/identity/ethernet"
	"github.com/endorses/pktmunch/internal/pkg/identity/icmp"
	"github.com/endorses/pktmunch/internal/pkg/identity/ipv4"
	"github.com/endorses/pktmunch/internal/pkg/identity/ipv6"
	"github.com/endorses/pktmunch/internal/pkg/identity/tcp"
	"github.com/endorses/pktmunch/internal/pkg/identity/udp"
	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

// Config carries the tunables of stateful dissectors.
type Config struct {
	Fragments ipv4.Config
	Flows     tcp.Config
}

func DefaultConfig() Config {
	return Config{
		Fragments: ipv4.DefaultConfig(),
		Flows:     tcp.DefaultConfig(),
	}
}

// NewRegistry returns a registry with every supported protocol.
func NewRegistry(cfg Config) *identity.Registry {
	r := identity.NewRegistry()
	RegisterAll(r, cfg)
	return r
}

// RegisterAll adds every supported protocol to r.
func RegisterAll(r *identity.Registry, cfg Config) {
	ethernet.Register(r)
	arp.Register(r)
	ipv4.Register(r, cfg.Fragments)
	ipv6.Register(r)
	tcp.Register(r, cfg.Flows)
	udp.Register(r)
	icmp.Register(r)
	registerRaw(r)
}

// RawName is the dispatcher for raw IP captures.
const RawName = "raw"

func registerRaw(r *identity.Registry) {
	r.RegisterProtocol(RawName, func() identity.Dissector { return rawIP{} })
	r.RegisterLinkType(RawName, layers.LinkTypeRaw)
	// DLT_RAW is 12 or 14 on some BSDs and appears with those values in files.
	r.RegisterLinkType(RawName, layers.LinkType(12))
	r.RegisterLinkType(RawName, layers.LinkType(14))
}

// rawIP picks ip4 or ip6 by the version nibble. It adds no instance of its
// own to the chain.
type rawIP struct{ identity.Stateless }

func (rawIP) Name() string { return RawName }

func (rawIP) BuildAttributes(string) identity.Attributes { return identity.Attributes{} }

func (rawIP) Interpret(s *identity.Session, data *memorymap.Map, parent identity.Protocol) (identity.Protocol, error) {
	first, err := data.At(0)
	if err != nil {
		return nil, fmt.Errorf("%w: empty raw ip packet", identity.ErrFormat)
	}
	switch first >> 4 {
	case 4:
		return s.Dissector(ipv4.Name).Interpret(s, data, parent)
	case 6:
		return s.Dissector(ipv6.Name).Interpret(s, data, parent)
	default:
		return nil, fmt.Errorf("%w: ip version %d in raw packet", identity.ErrFormat, first>>4)
	}
}
