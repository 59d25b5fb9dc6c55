// Package filtering loads and saves prototype filter files and compiles them
// into pipeline rules.
package filtering

// FilterConfig represents the YAML structure of a filter file
type FilterConfig struct {
	Filters []*FilterYAML `yaml:"filters" json:"filters"`
}

// FilterYAML is one prototype filter. Protocol names a registered protocol;
// Attributes uses that protocol's key=value;key=value syntax.
type FilterYAML struct {
	ID          string `yaml:"id" json:"id"`
	Action      string `yaml:"action" json:"action"`
	Protocol    string `yaml:"protocol" json:"protocol"`
	Attributes  string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

const (
	ActionDeny   = "deny"
	ActionPermit = "permit"
)

// ValidActions contains all valid action strings
var ValidActions = map[string]bool{
	ActionDeny:   true,
	ActionPermit: true,
}
