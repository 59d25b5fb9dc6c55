package filtering

import (
	"fmt"
	"strings"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/pipeline"
)

// YAMLToPrototype validates f against reg and builds its prototype.
func YAMLToPrototype(reg *identity.Registry, f *FilterYAML) (identity.Prototype, error) {
	if err := ValidateFilterYAML(f); err != nil {
		return identity.Prototype{}, err
	}
	if err := ValidateAttributes(reg, f.Protocol, f.Attributes); err != nil {
		return identity.Prototype{}, err
	}
	return reg.BuildPrototype(f.Protocol, f.Attributes)
}

// Compile turns the enabled filters into rules. Filters that do not compile
// are reported and left out.
func Compile(reg *identity.Registry, filters []*FilterYAML) (pipeline.Rules, []error) {
	var (
		rules pipeline.Rules
		errs  []error
	)
	for _, f := range filters {
		if !f.Enabled {
			continue
		}
		p, err := YAMLToPrototype(reg, f)
		if err != nil {
			errs = append(errs, fmt.Errorf("filter %q: %w", f.ID, err))
			continue
		}
		switch f.Action {
		case ActionDeny:
			rules.Deny = append(rules.Deny, p)
		case ActionPermit:
			rules.Permit = append(rules.Permit, p)
		}
	}
	return rules, errs
}

// FromSpec builds an enabled filter from the command line form
// "proto[:key=value;...]".
func FromSpec(id, action, spec string) *FilterYAML {
	proto, attrs, _ := strings.Cut(spec, ":")
	return &FilterYAML{
		ID:         id,
		Action:     action,
		Protocol:   strings.TrimSpace(proto),
		Attributes: attrs,
		Enabled:    true,
	}
}

// Spec renders f in the command line form.
func (f *FilterYAML) Spec() string {
	if f.Attributes == "" {
		return f.Protocol
	}
	return f.Protocol + ":" + f.Attributes
}
