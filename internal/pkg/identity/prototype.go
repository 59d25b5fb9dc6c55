package identity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProtocol is returned when a prototype names an unregistered
// protocol.
var ErrUnknownProtocol = errors.New("unknown protocol")

// Prototype is a protocol name with a partial set of attributes, matched
// against packet chains by filters.
type Prototype struct {
	Protocol   string
	Attributes Attributes
}

// Matches reports whether any instance in the chain starting at root has the
// prototype's protocol name and satisfies its attributes.
func (p Prototype) Matches(root Protocol) bool {
	for inst := root; inst != nil; inst = inst.Next() {
		if inst.Name() == p.Protocol && inst.Match(p.Attributes) {
			return true
		}
	}
	return false
}

func (p Prototype) String() string {
	if len(p.Attributes) == 0 {
		return p.Protocol
	}
	return p.Protocol + ":" + p.Attributes.String()
}

// BuildPrototype parses attrs with the named protocol's attribute syntax.
func (r *Registry) BuildPrototype(name, attrs string) (Prototype, error) {
	name = strings.TrimSpace(name)
	if !r.Has(name) {
		return Prototype{}, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
	d := r.Factory(name)()
	return Prototype{Protocol: name, Attributes: d.BuildAttributes(attrs)}, nil
}

// ParsePrototype parses "proto" or "proto:key=value;key=value".
func (r *Registry) ParsePrototype(s string) (Prototype, error) {
	name, attrs, _ := strings.Cut(s, ":")
	return r.BuildPrototype(name, attrs)
}
