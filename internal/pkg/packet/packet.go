// Package packet defines the captured frame passed between pipeline stages and
// the pull interfaces stages are built on.
package packet

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/endorses/pktmunch/internal/pkg/identity"
)

// Packet is one captured frame. Data is owned by the packet; rewriting its
// identity chain rewrites Data in place.
type Packet struct {
	Timestamp time.Time
	LinkType  layers.LinkType
	Length    int // original length on the wire
	Data      []byte
	Identity  identity.Protocol
}

// Sentinels older and newer than any real packet.
var (
	MinAge = &Packet{Timestamp: time.Unix(math.MinInt64/2, 0)}
	MaxAge = &Packet{Timestamp: time.Unix(math.MaxInt64/2, 0)}
)

// New returns a packet with a private copy of data.
func New(ts time.Time, lt layers.LinkType, length int, data []byte) *Packet {
	return &Packet{
		Timestamp: ts,
		LinkType:  lt,
		Length:    length,
		Data:      append([]byte(nil), data...),
	}
}

// Before reports whether p was captured before q. Equal timestamps are not
// ordered.
func (p *Packet) Before(q *Packet) bool { return p.Timestamp.Before(q.Timestamp) }

// Identify dissects the packet in s and stores the chain root.
func (p *Packet) Identify(s *identity.Session) identity.Protocol {
	p.Identity = s.Identify(p.LinkType, p.Data, p.Timestamp)
	return p.Identity
}

// Complete reports whether the identity chain is complete. A packet whose
// link type is unknown is complete.
func (p *Packet) Complete() bool { return identity.IsComplete(p.Identity) }

func (p *Packet) String() string {
	ident := "(not identified)"
	if p.Identity != nil {
		ident = identity.Names(p.Identity)
		if !p.Complete() {
			ident += " (incomplete)"
		}
	}
	return fmt.Sprintf("%s Linktype: %s, Identity: %s, Original length: %d, Captured length: %d",
		p.Timestamp.Format(time.ANSIC), p.LinkType, ident, p.Length, len(p.Data))
}

// Source yields packets until it returns io.EOF.
type Source interface {
	Next() (*Packet, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (*Packet, error)

func (f SourceFunc) Next() (*Packet, error) { return f() }

// Sink consumes packets.
type Sink interface {
	WritePacket(*Packet) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(*Packet) error

func (f SinkFunc) WritePacket(p *Packet) error { return f(p) }

// NewSliceSource yields pkts in order.
func NewSliceSource(pkts ...*Packet) Source {
	i := 0
	return SourceFunc(func() (*Packet, error) {
		if i >= len(pkts) {
			return nil, io.EOF
		}
		i++
		return pkts[i-1], nil
	})
}

// Collect reads src to the end.
func Collect(src Source) ([]*Packet, error) {
	var out []*Packet
	for {
		p, err := src.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}
