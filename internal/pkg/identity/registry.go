package identity

import (
	"sort"

	"github.com/google/gopacket/layers"
)

// UnknownName is the name of the dissector used for unregistered names.
const UnknownName = "unknown"

// Registry maps protocol names to dissector factories, and link types,
// ethertypes and IP protocol numbers to protocol names. It is filled once
// during initialization and only read afterwards, so a single Registry can
// back any number of sessions.
type Registry struct {
	protocols   map[string]Factory
	linkTypes   map[layers.LinkType]string
	etherTypes  map[layers.EthernetType]string
	ipProtocols map[layers.IPProtocol]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		protocols:   map[string]Factory{},
		linkTypes:   map[layers.LinkType]string{},
		etherTypes:  map[layers.EthernetType]string{},
		ipProtocols: map[layers.IPProtocol]string{},
	}
}

// RegisterProtocol associates name with f, replacing any earlier factory.
func (r *Registry) RegisterProtocol(name string, f Factory) {
	r.protocols[name] = f
}

// RegisterLinkType dispatches capture link type lt to the named protocol.
func (r *Registry) RegisterLinkType(name string, lt layers.LinkType) {
	r.linkTypes[lt] = name
}

// RegisterEtherType dispatches Ethernet payloads of type et to the named
// protocol.
func (r *Registry) RegisterEtherType(name string, et layers.EthernetType) {
	r.etherTypes[et] = name
}

// RegisterIPProtocol dispatches IP payloads with protocol number p to the
// named protocol.
func (r *Registry) RegisterIPProtocol(name string, p layers.IPProtocol) {
	r.ipProtocols[p] = name
}

// Factory returns the factory registered for name, or the Unknown factory.
func (r *Registry) Factory(name string) Factory {
	if f, ok := r.protocols[name]; ok {
		return f
	}
	return NewUnknown
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.protocols[name]
	return ok
}

func (r *Registry) LinkType(lt layers.LinkType) (string, bool) {
	name, ok := r.linkTypes[lt]
	return name, ok
}

func (r *Registry) EtherType(et layers.EthernetType) (string, bool) {
	name, ok := r.etherTypes[et]
	return name, ok
}

func (r *Registry) IPProtocol(p layers.IPProtocol) (string, bool) {
	name, ok := r.ipProtocols[p]
	return name, ok
}

// Protocols returns the registered protocol names in sorted order.
func (r *Registry) Protocols() []string {
	names := make([]string, 0, len(r.protocols))
	for name := range r.protocols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
