// Package addr converts the textual address and number forms accepted on the
// command line and in filter prototypes to their wire representation.
package addr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ErrSyntax is wrapped by every parse failure in this package.
var ErrSyntax = errors.New("invalid address syntax")

// ParseInt parses a decimal integer, or a binary, octal or hexadecimal one
// when prefixed with 0b, 0o or 0x.
func ParseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		base, s = 16, s[2:]
	case strings.HasPrefix(s, "0o"), strings.HasPrefix(s, "0O"):
		base, s = 8, s[2:]
	case strings.HasPrefix(s, "0b"), strings.HasPrefix(s, "0B"):
		base, s = 2, s[2:]
	}
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: integer %q", ErrSyntax, s)
	}
	return int(v), nil
}

// ParseHex decodes a string of hex digit pairs.
func ParseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: hex bytes %q", ErrSyntax, s)
	}
	return b, nil
}

// ParseMAC parses six colon separated hex octets.
func ParseMAC(s string) ([]byte, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 6 {
		return nil, fmt.Errorf("%w: MAC %q", ErrSyntax, s)
	}
	out := make([]byte, 6)
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: MAC %q", ErrSyntax, s)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// FormatMAC renders six bytes as lowercase colon separated hex.
func FormatMAC(b []byte) string {
	if len(b) != 6 {
		return hex.EncodeToString(b)
	}
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, ":")
}

// ParseIPv4 parses a dotted IPv4 address. Short forms of two or three parts
// are accepted; the last part is the final octet and the missing octets are
// zero, so "127.1" is 127.0.0.1.
func ParseIPv4(s string) ([]byte, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 4 {
		return nil, fmt.Errorf("%w: IPv4 %q", ErrSyntax, s)
	}
	octets := make([]byte, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: IPv4 %q", ErrSyntax, s)
		}
		octets[i] = byte(v)
	}
	out := make([]byte, 4)
	copy(out, octets[:len(octets)-1])
	out[3] = octets[len(octets)-1]
	return out, nil
}

// FormatIPv4 renders four bytes in dotted decimal.
func FormatIPv4(b []byte) string {
	if len(b) != 4 {
		return hex.EncodeToString(b)
	}
	return netip.AddrFrom4([4]byte(b)).String()
}

// ParseIPv6 parses an RFC 5952 IPv6 address. Zones are rejected.
func ParseIPv6(s string) ([]byte, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || !a.Is6() || a.Zone() != "" {
		return nil, fmt.Errorf("%w: IPv6 %q", ErrSyntax, s)
	}
	b := a.As16()
	return b[:], nil
}

// FormatIPv6 renders sixteen bytes in RFC 5952 form.
func FormatIPv6(b []byte) string {
	if len(b) != 16 {
		return hex.EncodeToString(b)
	}
	return netip.AddrFrom16([16]byte(b)).String()
}
