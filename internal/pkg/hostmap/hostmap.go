// Package hostmap loads address rewrite tables from YAML files and command
// line mappings.
package hostmap

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/endorses/pktmunch/internal/pkg/addr"
	"github.com/endorses/pktmunch/internal/pkg/identity"
)

// Families of addresses a host map can rewrite.
const (
	FamilyMAC  = "mac"
	FamilyIPv4 = "ip4"
	FamilyIPv6 = "ip6"
)

// ErrFamily is returned for a mapping naming an unknown address family.
var ErrFamily = errors.New("unknown address family")

// File is the YAML layout of a host map file.
type File struct {
	MAC  map[string]string `yaml:"mac,omitempty"`
	IPv4 map[string]string `yaml:"ip4,omitempty"`
	IPv6 map[string]string `yaml:"ip6,omitempty"`
}

// Load reads a host map file. Entries that do not parse are returned as
// errors; the others are still loaded.
func Load(path string) (*identity.HostMap, []error, error) {
	// #nosec G304 -- Path is from configuration or the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read host map: %w", err)
	}
	hm, errs, err := Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("host map %s: %w", path, err)
	}
	return hm, errs, nil
}

// Parse decodes a host map document.
func Parse(data []byte) (*identity.HostMap, []error, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("failed to parse host map YAML: %w", err)
	}

	hm := identity.NewHostMap()
	var errs []error
	for _, section := range []struct {
		family  string
		entries map[string]string
	}{
		{FamilyMAC, f.MAC},
		{FamilyIPv4, f.IPv4},
		{FamilyIPv6, f.IPv6},
	} {
		// sorted so errors come out in a stable order
		keys := make([]string, 0, len(section.entries))
		for k := range section.entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, from := range keys {
			if err := Add(hm, section.family, from, section.entries[from]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return hm, errs, nil
}

// ParseMapping adds one "family:from=to" mapping, as given on the command
// line, to hm.
func ParseMapping(hm *identity.HostMap, s string) error {
	family, rest, ok := strings.Cut(s, ":")
	if !ok {
		return fmt.Errorf("mapping %q: want family:from=to", s)
	}
	from, to, ok := strings.Cut(rest, "=")
	if !ok {
		return fmt.Errorf("mapping %q: want family:from=to", s)
	}
	return Add(hm, strings.TrimSpace(family), from, to)
}

// Add parses a textual address pair of the given family and adds it to hm.
func Add(hm *identity.HostMap, family, from, to string) error {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)

	var (
		parse func(string) ([]byte, error)
		add   func(from, to []byte) error
	)
	switch family {
	case FamilyMAC:
		parse, add = addr.ParseMAC, hm.AddMAC
	case FamilyIPv4:
		parse, add = addr.ParseIPv4, hm.AddIPv4
	case FamilyIPv6:
		parse, add = addr.ParseIPv6, hm.AddIPv6
	default:
		return fmt.Errorf("%w: %q", ErrFamily, family)
	}

	f, err := parse(from)
	if err != nil {
		return fmt.Errorf("%s %s: %w", family, from, err)
	}
	t, err := parse(to)
	if err != nil {
		return fmt.Errorf("%s %s: %w", family, to, err)
	}
	return add(f, t)
}
