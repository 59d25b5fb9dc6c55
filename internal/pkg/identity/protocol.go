// Package identity dissects captured frames into a chain of protocol
// instances.
//
// A chain starts at the link layer and ends at the innermost recognized
// protocol. Every instance is a view into the captured bytes: reading an
// attribute reads the frame and setting one writes the frame. Dissectors find
// each other by name through a Registry, and all state carried from one packet
// to the next (IPv4 fragments, TCP flows) is owned by a Session.
package identity

import (
	"errors"
	"time"

	"github.com/google/gopacket"

	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

// ErrFormat is wrapped by dissectors when a header is truncated or malformed.
var ErrFormat = errors.New("malformed protocol header")

// Protocol is one parsed header in a packet's chain.
type Protocol interface {
	// Name is the registry name of the protocol, e.g. "ip4".
	Name() string
	// Data is the view of the packet bytes starting at this header.
	Data() *memorymap.Map
	Prev() Protocol
	Next() Protocol
	SetNext(Protocol)

	// Completed reports this instance's own completeness flag. Use
	// IsComplete for the whole remaining chain.
	Completed() bool
	SetCompleted(bool)

	// Attributes returns the meaningful fields of the header by name.
	Attributes() Attributes
	// SetAttributes writes the recognized keys of attrs into the header.
	// Unknown keys and values of the wrong type or size are ignored.
	SetAttributes(attrs Attributes)
	// Match reports whether the header's attributes satisfy want.
	Match(want Attributes) bool

	// ReplaceHosts rewrites this header's own address fields. Use the
	// package level ReplaceHosts to rewrite a whole chain.
	ReplaceHosts(hm *HostMap)
	// RecalculateChecksum recomputes this header's own checksum. Use the
	// package level RecalculateChecksums to repair a whole chain.
	RecalculateChecksum()
}

// Carrier is a protocol that routes its payload between two endpoints.
type Carrier interface {
	Protocol
	Route() gopacket.Flow
	RouteReciprocal() gopacket.Flow
}

// Header holds the state every protocol instance shares. Dissectors embed it
// and provide the protocol specific methods.
type Header struct {
	data       *memorymap.Map
	prev, next Protocol
	incomplete bool
}

// NewHeader returns a header viewing data, contained in prev.
func NewHeader(data *memorymap.Map, prev Protocol) Header {
	return Header{data: data, prev: prev}
}

func (h *Header) Data() *memorymap.Map { return h.data }
func (h *Header) Prev() Protocol       { return h.prev }
func (h *Header) Next() Protocol       { return h.next }
func (h *Header) SetNext(p Protocol)   { h.next = p }
func (h *Header) Completed() bool      { return !h.incomplete }

func (h *Header) SetCompleted(done bool) { h.incomplete = !done }

// ReplaceHosts does nothing for protocols without addresses.
func (h *Header) ReplaceHosts(*HostMap) {}

// RecalculateChecksum does nothing for protocols without a checksum.
func (h *Header) RecalculateChecksum() {}

// Dissector builds protocol instances of one kind. A Session holds one
// Dissector per protocol name, so any state a dissector keeps is scoped to
// that session.
type Dissector interface {
	Name() string
	// Interpret parses the header at the front of data and, when the next
	// protocol is known, links the rest of the chain. It returns an error
	// wrapping ErrFormat when data cannot hold the header.
	Interpret(s *Session, data *memorymap.Map, parent Protocol) (Protocol, error)
	// BuildAttributes parses "key=value;key=value" into typed attributes,
	// skipping pairs it cannot parse.
	BuildAttributes(spec string) Attributes
	// ResetState drops any cross-packet state.
	ResetState()
}

// Expirer is implemented by dissectors whose state ages out. The session
// calls Expire each time its capture clock moves forward, whether or not the
// new packet reaches the dissector.
type Expirer interface {
	Expire(s *Session, now time.Time)
}

// Factory creates a fresh Dissector.
type Factory func() Dissector

// Stateless provides a no-op ResetState for dissectors without session state.
type Stateless struct{}

func (Stateless) ResetState() {}
