package pipeline

import (
	"strings"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/packet"
)

// Rules selects packets by prototype. A packet matching any Deny prototype
// is dropped. When Permit is not empty only packets matching one of its
// prototypes are kept.
type Rules struct {
	Deny   []identity.Prototype
	Permit []identity.Prototype
}

// Empty reports whether the rules pass every packet.
func (r Rules) Empty() bool { return len(r.Deny) == 0 && len(r.Permit) == 0 }

// Allow applies the rules to p, which must be identified.
func (r Rules) Allow(p *packet.Packet) bool {
	for _, proto := range r.Deny {
		if proto.Matches(p.Identity) {
			return false
		}
	}
	if len(r.Permit) == 0 {
		return true
	}
	for _, proto := range r.Permit {
		if proto.Matches(p.Identity) {
			return true
		}
	}
	return false
}

func (r Rules) String() string {
	parts := make([]string, 0, len(r.Deny)+len(r.Permit))
	for _, p := range r.Deny {
		parts = append(parts, "deny "+p.String())
	}
	for _, p := range r.Permit {
		parts = append(parts, "permit "+p.String())
	}
	return strings.Join(parts, ", ")
}

// Filter yields the packets of src the rules allow.
func Filter(src packet.Source, rules Rules) packet.Source {
	return packet.SourceFunc(func() (*packet.Packet, error) {
		for {
			p, err := src.Next()
			if err != nil {
				return nil, err
			}
			if rules.Allow(p) {
				return p, nil
			}
		}
	})
}
