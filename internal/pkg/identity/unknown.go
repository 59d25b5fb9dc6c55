package identity

import "github.com/endorses/pktmunch/internal/pkg/memorymap"

// Unknown dissects nothing: it ends the chain with an opaque instance that
// has no attributes and never matches a prototype.
type Unknown struct{ Stateless }

// NewUnknown is the Factory for Unknown.
func NewUnknown() Dissector { return &Unknown{} }

func (*Unknown) Name() string { return UnknownName }

func (*Unknown) Interpret(_ *Session, data *memorymap.Map, parent Protocol) (Protocol, error) {
	return &UnknownProtocol{Header: NewHeader(data, parent)}, nil
}

func (*Unknown) BuildAttributes(string) Attributes { return Attributes{} }

// UnknownProtocol is the instance produced by Unknown.
type UnknownProtocol struct {
	Header
}

func (*UnknownProtocol) Name() string             { return UnknownName }
func (*UnknownProtocol) Attributes() Attributes   { return Attributes{} }
func (*UnknownProtocol) SetAttributes(Attributes) {}
func (*UnknownProtocol) Match(Attributes) bool    { return false }
