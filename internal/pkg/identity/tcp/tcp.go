// Package tcp dissects TCP headers (RFC 9293) and correlates both directions
// of a connection to one flow entry. Stream reassembly is not attempted.
package tcp

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

const Name = "tcp"

// MinHeaderSize is the size of a header without options.
const MinHeaderSize = 20

const checksumOffset = 16

var fields = identity.Fields{
	"sport": {Parse: identity.IntValue},
	"dport": {Parse: identity.IntValue},
	"flags": {Parse: identity.IntValue},
	"seq":   {Parse: identity.IntValue},
	"ack":   {Parse: identity.IntValue},
}

// Config bounds the flow table. Zero values disable the bound.
type Config struct {
	MaxFlows    int
	IdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxFlows:    constants.DefaultMaxFlows,
		IdleTimeout: constants.DefaultFlowIdleTimeout,
	}
}

func Register(r *identity.Registry, cfg Config) {
	r.RegisterProtocol(Name, func() identity.Dissector { return New(cfg) })
	r.RegisterIPProtocol(Name, layers.IPProtocolTCP)
}

// Flow is shared by the segments of both directions of a connection.
type Flow struct {
	ID        uint64
	FirstSeen time.Time
	LastSeen  time.Time
	Packets   int

	keys [2]flowKey
}

// flowKey pairs the carrier route with the port route.
type flowKey struct {
	carrier gopacket.Flow
	ports   gopacket.Flow
}

// Dissector builds Segment instances and owns the session's flow table.
type Dissector struct {
	cfg    Config
	flows  map[flowKey]*Flow
	nextID uint64
}

func New(cfg Config) *Dissector {
	return &Dissector{cfg: cfg, flows: map[flowKey]*Flow{}}
}

func (*Dissector) Name() string { return Name }

func (*Dissector) BuildAttributes(spec string) identity.Attributes { return fields.Build(spec) }

func (d *Dissector) ResetState() {
	d.flows = map[flowKey]*Flow{}
	d.nextID = 0
}

// Flows returns the number of tracked flows.
func (d *Dissector) Flows() int { return len(d.flows) / 2 }

// Interpret parses the header. TCP is terminal.
func (d *Dissector) Interpret(s *identity.Session, data *memorymap.Map, parent identity.Protocol) (identity.Protocol, error) {
	if data.Len() < MinHeaderSize {
		return nil, fmt.Errorf("%w: tcp header of %d bytes", identity.ErrFormat, data.Len())
	}
	off, _ := data.At(12)
	dataOffset := int(off>>4) * 4
	if dataOffset < MinHeaderSize || dataOffset > data.Len() {
		return nil, fmt.Errorf("%w: tcp data offset %d with %d bytes", identity.ErrFormat, dataOffset, data.Len())
	}

	seg := &Segment{Header: identity.NewHeader(data, parent), dataOffset: dataOffset}
	if c, ok := parent.(identity.Carrier); ok {
		seg.flow = d.track(s, c, seg)
	}
	return seg, nil
}

func (d *Dissector) track(s *identity.Session, c identity.Carrier, seg *Segment) *Flow {
	now := s.Now()
	key := flowKey{carrier: c.Route(), ports: seg.Route()}

	f, ok := d.flows[key]
	if !ok {
		d.expire(now)
		if d.cfg.MaxFlows > 0 && d.Flows() >= d.cfg.MaxFlows {
			d.evictOldest()
		}
		d.nextID++
		f = &Flow{
			ID:        d.nextID,
			FirstSeen: now,
			keys:      [2]flowKey{key, {carrier: c.RouteReciprocal(), ports: seg.RouteReciprocal()}},
		}
		d.flows[f.keys[0]] = f
		d.flows[f.keys[1]] = f
	}
	f.LastSeen = now
	f.Packets++
	return f
}

func (d *Dissector) forget(f *Flow) {
	delete(d.flows, f.keys[0])
	delete(d.flows, f.keys[1])
}

// Expire forgets flows idle for longer than the configured timeout.
func (d *Dissector) Expire(_ *identity.Session, now time.Time) { d.expire(now) }

func (d *Dissector) expire(now time.Time) {
	if d.cfg.IdleTimeout <= 0 {
		return
	}
	for _, f := range d.flows {
		if now.Sub(f.LastSeen) > d.cfg.IdleTimeout {
			d.forget(f)
		}
	}
}

func (d *Dissector) evictOldest() {
	var oldest *Flow
	for _, f := range d.flows {
		if oldest == nil || f.LastSeen.Before(oldest.LastSeen) {
			oldest = f
		}
	}
	if oldest != nil {
		d.forget(oldest)
	}
}

// Segment is a dissected TCP header.
type Segment struct {
	identity.Header
	dataOffset int
	flow       *Flow
}

func (*Segment) Name() string { return Name }

func (seg *Segment) uint16At(off int) uint16 {
	return binary.BigEndian.Uint16(seg.Data().Range(off, off+2))
}

func (seg *Segment) uint32At(off int) uint32 {
	return binary.BigEndian.Uint32(seg.Data().Range(off, off+4))
}

func (seg *Segment) SrcPort() uint16 { return seg.uint16At(0) }
func (seg *Segment) DstPort() uint16 { return seg.uint16At(2) }
func (seg *Segment) Seq() uint32     { return seg.uint32At(4) }
func (seg *Segment) Ack() uint32     { return seg.uint32At(8) }
func (seg *Segment) Checksum() uint16 {
	return seg.uint16At(checksumOffset)
}

// Flags returns the nine flag bits, NS through FIN.
func (seg *Segment) Flags() int { return int(seg.uint16At(12) & 0x01ff) }

// DataOffset is the header length including options.
func (seg *Segment) DataOffset() int { return seg.dataOffset }

// Payload is the segment data after the header.
func (seg *Segment) Payload() *memorymap.Map {
	return seg.Data().Slice(seg.dataOffset, seg.Data().Len())
}

// Flow returns the connection entry shared with the reverse direction, or
// nil when the segment was not carried by a routed protocol.
func (seg *Segment) Flow() *Flow { return seg.flow }

func (seg *Segment) Route() gopacket.Flow {
	return gopacket.NewFlow(layers.EndpointTCPPort, seg.Data().Range(0, 2), seg.Data().Range(2, 4))
}

func (seg *Segment) RouteReciprocal() gopacket.Flow { return seg.Route().Reverse() }

func (seg *Segment) Attributes() identity.Attributes {
	return identity.Attributes{
		"sport": int(seg.SrcPort()),
		"dport": int(seg.DstPort()),
		"flags": seg.Flags(),
		"seq":   int(seg.Seq()),
		"ack":   int(seg.Ack()),
	}
}

func (seg *Segment) SetAttributes(attrs identity.Attributes) {
	d := seg.Data()
	if v, ok := identity.IntAttr(attrs, "sport"); ok {
		_ = d.SetSlice(0, 2, binary.BigEndian.AppendUint16(nil, uint16(v)))
	}
	if v, ok := identity.IntAttr(attrs, "dport"); ok {
		_ = d.SetSlice(2, 4, binary.BigEndian.AppendUint16(nil, uint16(v)))
	}
	if v, ok := identity.IntAttr(attrs, "seq"); ok {
		_ = d.SetSlice(4, 8, binary.BigEndian.AppendUint32(nil, uint32(v)))
	}
	if v, ok := identity.IntAttr(attrs, "ack"); ok {
		_ = d.SetSlice(8, 12, binary.BigEndian.AppendUint32(nil, uint32(v)))
	}
	if v, ok := identity.IntAttr(attrs, "flags"); ok {
		field := seg.uint16At(12)&^0x01ff | uint16(v)&0x01ff
		_ = d.SetSlice(12, 14, binary.BigEndian.AppendUint16(nil, field))
	}
}

func (seg *Segment) Match(want identity.Attributes) bool {
	return identity.MatchAttributes(seg.Attributes(), want)
}

// RecalculateChecksum recomputes the checksum over the pseudo-header of the
// carrying IP header and the whole segment.
func (seg *Segment) RecalculateChecksum() {
	identity.TransportChecksum(seg.Data(), seg.Prev(), layers.IPProtocolTCP, checksumOffset)
}

var (
	_ identity.Carrier = (*Segment)(nil)
	_ identity.Expirer = (*Dissector)(nil)
)
