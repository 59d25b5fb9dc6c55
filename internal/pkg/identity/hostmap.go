package identity

import (
	"fmt"

	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

// HostMap maps original addresses to replacement addresses, one map per
// address family. Keys and values are raw wire bytes.
type HostMap struct {
	MAC  map[string][]byte
	IPv4 map[string][]byte
	IPv6 map[string][]byte
}

// NewHostMap returns an empty host map.
func NewHostMap() *HostMap {
	return &HostMap{
		MAC:  map[string][]byte{},
		IPv4: map[string][]byte{},
		IPv6: map[string][]byte{},
	}
}

func add(m map[string][]byte, family string, size int, from, to []byte) error {
	if len(from) != size || len(to) != size {
		return fmt.Errorf("%s mapping needs %d byte addresses, got %d and %d", family, size, len(from), len(to))
	}
	m[string(from)] = append([]byte(nil), to...)
	return nil
}

// AddMAC maps one 6 byte MAC address to another.
func (hm *HostMap) AddMAC(from, to []byte) error { return add(hm.MAC, "MAC", 6, from, to) }

// AddIPv4 maps one 4 byte IPv4 address to another.
func (hm *HostMap) AddIPv4(from, to []byte) error { return add(hm.IPv4, "IPv4", 4, from, to) }

// AddIPv6 maps one 16 byte IPv6 address to another.
func (hm *HostMap) AddIPv6(from, to []byte) error { return add(hm.IPv6, "IPv6", 16, from, to) }

// Len returns the number of mappings across all families.
func (hm *HostMap) Len() int {
	if hm == nil {
		return 0
	}
	return len(hm.MAC) + len(hm.IPv4) + len(hm.IPv6)
}

// ReplaceField rewrites data[start:start+len] when its current value is a
// key of m. It reports whether a replacement happened.
func ReplaceField(data *memorymap.Map, m map[string][]byte, start, size int) bool {
	if len(m) == 0 || start+size > data.Len() {
		return false
	}
	to, ok := m[string(data.Range(start, start+size))]
	if !ok || len(to) != size {
		return false
	}
	return data.SetSlice(start, start+size, to) == nil
}
