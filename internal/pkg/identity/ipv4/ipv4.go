// Package ipv4 dissects IPv4 headers (RFC 791) and reassembles fragmented
// datagrams without copying their payloads.
package ipv4

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/endorses/pktmunch/internal/pkg/constants"
	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

const Name = "ip4"

// MinHeaderSize is the size of a header without options.
const MinHeaderSize = 20

// Flag bits of the flags/fragment offset field.
const (
	FlagMoreFragments = 0b001
	FlagDontFragment  = 0b010
	FlagEvil          = 0b100 // RFC 3514
)

var fields = identity.Fields{
	"protocol": {Parse: identity.IntValue},
	"ttl":      {Parse: identity.IntValue},
	"id":       {Parse: identity.IntValue},
	"saddr":    {Parse: identity.IPv4Value},
	"daddr":    {Parse: identity.IPv4Value},
}

// Config bounds fragment reassembly. Timeouts are measured against packet
// timestamps. Zero values disable the corresponding bound.
type Config struct {
	// Timeout abandons a datagram when no fragment of it arrived for this long.
	Timeout time.Duration
	// MaxPending is the number of datagrams reassembled at once. The least
	// recently active one is abandoned to make room.
	MaxPending int
	// MaxFragments abandons a datagram with more fragments than this.
	MaxFragments int
}

// DefaultConfig returns the bounds used by the command line tools.
func DefaultConfig() Config {
	return Config{
		Timeout:      constants.DefaultFragmentTimeout,
		MaxPending:   constants.DefaultMaxPendingFragments,
		MaxFragments: constants.MaxFragmentsPerDatagram,
	}
}

// Register adds the dissector to r and dispatches raw IPv4 captures, IPv4
// ethertypes and IP-in-IP payloads to it.
func Register(r *identity.Registry, cfg Config) {
	r.RegisterProtocol(Name, func() identity.Dissector { return New(cfg) })
	r.RegisterLinkType(Name, layers.LinkTypeIPv4)
	r.RegisterEtherType(Name, layers.EthernetTypeIPv4)
	r.RegisterIPProtocol(Name, layers.IPProtocolIPv4)
}

// Dissector builds Datagram instances and owns the fragment trackers of its
// session.
type Dissector struct {
	cfg      Config
	trackers map[fragmentKey]*tracker
}

// New returns a dissector with empty reassembly state.
func New(cfg Config) *Dissector {
	return &Dissector{cfg: cfg, trackers: map[fragmentKey]*tracker{}}
}

func (*Dissector) Name() string { return Name }

func (*Dissector) BuildAttributes(spec string) identity.Attributes { return fields.Build(spec) }

// ResetState forgets every partially reassembled datagram.
func (d *Dissector) ResetState() {
	d.trackers = map[fragmentKey]*tracker{}
}

// Pending returns the number of datagrams waiting for fragments.
func (d *Dissector) Pending() int { return len(d.trackers) }

// Interpret parses the header. Unfragmented payloads are dissected straight
// away; fragments are marked incomplete and handed to the tracker, which
// dissects the joined payload once the datagram is whole.
func (d *Dissector) Interpret(s *identity.Session, data *memorymap.Map, parent identity.Protocol) (identity.Protocol, error) {
	if data.Len() < MinHeaderSize {
		return nil, fmt.Errorf("%w: ipv4 header of %d bytes", identity.ErrFormat, data.Len())
	}
	first, _ := data.At(0)
	if v := first >> 4; v != 4 {
		return nil, fmt.Errorf("%w: ip version %d in ipv4 header", identity.ErrFormat, v)
	}
	ihl := int(first&0x0f) * 4
	if ihl < MinHeaderSize || ihl > data.Len() {
		return nil, fmt.Errorf("%w: ipv4 header length %d with %d bytes", identity.ErrFormat, ihl, data.Len())
	}

	// Captures from offloading NICs carry a zero total length; use what was
	// captured then. Snaplen truncation clamps the end to the buffer.
	declared := int(binary.BigEndian.Uint16(data.Range(2, 4)))
	if declared == 0 {
		declared = data.Len()
	}
	if declared < ihl {
		return nil, fmt.Errorf("%w: ipv4 total length %d below header length %d", identity.ErrFormat, declared, ihl)
	}

	dg := &Datagram{
		Header:    identity.NewHeader(data, parent),
		headerLen: ihl,
		end:       min(declared, data.Len()),
		length:    declared - ihl,
	}
	dg.logicalLength = dg.length

	if !dg.IsFragment() {
		dg.SetNext(s.InterpretIPProtocol(dg.Protocol(), dg.Payload(), dg))
		return dg, nil
	}

	dg.SetCompleted(false)
	d.track(s, dg)
	return dg, nil
}

// Datagram is a dissected IPv4 header.
type Datagram struct {
	identity.Header

	headerLen     int
	end           int // end of the captured payload
	length        int // payload length declared by the header
	logicalLength int // reassembled payload length, for fragments

	group *fragmentGroup
}

func (*Datagram) Name() string { return Name }

func (dg *Datagram) byteAt(off int) byte {
	b, _ := dg.Data().At(off)
	return b
}

func (dg *Datagram) uint16At(off int) uint16 {
	return binary.BigEndian.Uint16(dg.Data().Range(off, off+2))
}

func (dg *Datagram) HeaderLength() int              { return dg.headerLen }
func (dg *Datagram) ID() uint16                     { return dg.uint16At(4) }
func (dg *Datagram) TTL() int                       { return int(dg.byteAt(8)) }
func (dg *Datagram) Protocol() layers.IPProtocol    { return layers.IPProtocol(dg.byteAt(9)) }
func (dg *Datagram) HeaderChecksum() uint16         { return dg.uint16At(10) }
func (dg *Datagram) SrcIP() []byte                  { return dg.Data().Range(12, 16) }
func (dg *Datagram) DstIP() []byte                  { return dg.Data().Range(16, 20) }
func (dg *Datagram) Flags() int                     { return int(dg.byteAt(6) >> 5) }
func (dg *Datagram) MoreFragments() bool            { return dg.Flags()&FlagMoreFragments != 0 }
func (dg *Datagram) Payload() *memorymap.Map        { return dg.Data().Slice(dg.headerLen, dg.end) }
func (dg *Datagram) FragmentPayloadLength() int     { return dg.length }
func (dg *Datagram) RouteReciprocal() gopacket.Flow { return dg.Route().Reverse() }

// FragmentOffset returns the offset of this fragment's payload in bytes.
func (dg *Datagram) FragmentOffset() int { return int(dg.uint16At(6)&0x1fff) * 8 }

// IsFragment reports whether the datagram is one piece of a larger one.
func (dg *Datagram) IsFragment() bool { return dg.FragmentOffset() > 0 || dg.MoreFragments() }

// PayloadLength is the payload length, or for a reassembled fragment the
// length of the whole reassembled payload.
func (dg *Datagram) PayloadLength() int { return dg.logicalLength }

// Siblings returns every fragment of a reassembled datagram in offset order,
// or nil when the datagram was not reassembled.
func (dg *Datagram) Siblings() []*Datagram {
	if dg.group == nil {
		return nil
	}
	return dg.group.members
}

// Route is the flow from source to destination address.
func (dg *Datagram) Route() gopacket.Flow {
	return gopacket.NewFlow(layers.EndpointIPv4, dg.SrcIP(), dg.DstIP())
}

func (dg *Datagram) Attributes() identity.Attributes {
	return identity.Attributes{
		"protocol": int(dg.Protocol()),
		"ttl":      dg.TTL(),
		"id":       int(dg.ID()),
		"saddr":    dg.SrcIP(),
		"daddr":    dg.DstIP(),
	}
}

func (dg *Datagram) SetAttributes(attrs identity.Attributes) {
	d := dg.Data()
	if v, ok := identity.IntAttr(attrs, "protocol"); ok {
		_ = d.Set(9, byte(v))
	}
	if v, ok := identity.IntAttr(attrs, "ttl"); ok {
		_ = d.Set(8, byte(v))
	}
	if v, ok := identity.IntAttr(attrs, "id"); ok {
		_ = d.SetSlice(4, 6, binary.BigEndian.AppendUint16(nil, uint16(v)))
	}
	if b, ok := identity.BytesAttr(attrs, "saddr", 4); ok {
		_ = d.SetSlice(12, 16, b)
	}
	if b, ok := identity.BytesAttr(attrs, "daddr", 4); ok {
		_ = d.SetSlice(16, 20, b)
	}
}

func (dg *Datagram) Match(want identity.Attributes) bool {
	return identity.MatchAttributes(dg.Attributes(), want)
}

// ReplaceHosts rewrites the source and destination addresses. Fragments of a
// reassembled datagram share their payload, whose transport checksum covers
// the addresses, so all fragments are rewritten together, once per host map.
func (dg *Datagram) ReplaceHosts(hm *identity.HostMap) {
	if dg.group == nil {
		dg.replaceOwnHosts(hm)
		return
	}
	if dg.group.rewrittenBy == hm {
		return
	}
	dg.group.rewrittenBy = hm
	for _, m := range dg.group.members {
		m.replaceOwnHosts(hm)
	}
}

func (dg *Datagram) replaceOwnHosts(hm *identity.HostMap) {
	identity.ReplaceField(dg.Data(), hm.IPv4, 12, 4)
	identity.ReplaceField(dg.Data(), hm.IPv4, 16, 4)
}

// RecalculateChecksum recomputes the header checksum. The payload is not
// covered.
func (dg *Datagram) RecalculateChecksum() {
	d := dg.Data()
	_ = d.SetSlice(10, 12, []byte{0, 0})
	sum, err := identity.Checksum(d.Range(0, dg.headerLen))
	if err != nil {
		return
	}
	_ = d.SetSlice(10, 12, binary.BigEndian.AppendUint16(nil, sum))
}

var (
	_ identity.Carrier = (*Datagram)(nil)
	_ identity.Expirer = (*Dissector)(nil)
)
