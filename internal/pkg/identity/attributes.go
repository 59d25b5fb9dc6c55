package identity

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/endorses/pktmunch/internal/pkg/addr"
)

// Attributes maps attribute names to values. Values are int for numeric
// fields, []byte for addresses and other raw fields, or Wildcard in a
// prototype.
type Attributes map[string]any

// WildcardValue is the type of Wildcard.
type WildcardValue struct{}

func (WildcardValue) String() string { return "*" }

// Wildcard matches any value of its key.
var Wildcard = WildcardValue{}

// MatchAttributes reports whether have satisfies want: every key of want
// must be present in have with an equal value, unless want's value is
// Wildcard. The relation is not symmetric.
func MatchAttributes(have, want Attributes) bool {
	for k, w := range want {
		h, ok := have[k]
		if !ok {
			return false
		}
		if _, wild := w.(WildcardValue); wild {
			continue
		}
		if !valuesEqual(h, w) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok && bok {
		return bytes.Equal(ab, bb)
	}
	return reflect.DeepEqual(a, b)
}

// String renders attributes as "key=value;..." in key order.
func (a Attributes) String() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := a[k].(type) {
		case []byte:
			parts = append(parts, fmt.Sprintf("%s=%x", k, v))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return strings.Join(parts, ";")
}

// ValueParser converts the textual form of one attribute value.
type ValueParser func(string) (any, error)

// Field describes one key accepted by a Fields builder.
type Field struct {
	// Key is the attribute the value is stored under. Empty means the
	// name the field is registered with.
	Key   string
	Parse ValueParser
}

// Fields maps the keys accepted in an attribute string to their parsers.
type Fields map[string]Field

// Build parses "key=value;key=value". Pairs that are malformed, name an
// unknown key, or carry a value that does not parse are skipped. The value
// "*" yields Wildcard for any known key.
func (f Fields) Build(spec string) Attributes {
	attrs := Attributes{}
	for _, pair := range strings.Split(spec, ";") {
		kv := strings.Split(pair, "=")
		if len(kv) != 2 {
			continue
		}
		name, raw := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		field, ok := f[name]
		if !ok {
			continue
		}
		key := field.Key
		if key == "" {
			key = name
		}
		if raw == "*" {
			attrs[key] = Wildcard
			continue
		}
		v, err := field.Parse(raw)
		if err != nil {
			continue
		}
		attrs[key] = v
	}
	return attrs
}

// IntValue parses decimal, 0x, 0o and 0b integers.
func IntValue(s string) (any, error) { return addr.ParseInt(s) }

// HexValue parses raw hex bytes.
func HexValue(s string) (any, error) { return addr.ParseHex(s) }

// MACValue parses a colon separated MAC address.
func MACValue(s string) (any, error) { return addr.ParseMAC(s) }

// IPv4Value parses a dotted or short form IPv4 address.
func IPv4Value(s string) (any, error) { return addr.ParseIPv4(s) }

// IPv6Value parses an RFC 5952 IPv6 address.
func IPv6Value(s string) (any, error) { return addr.ParseIPv6(s) }

// OrHex falls back to raw hex bytes when p fails.
func OrHex(p ValueParser) ValueParser {
	return func(s string) (any, error) {
		if v, err := p(s); err == nil {
			return v, nil
		}
		return HexValue(s)
	}
}

// IntAttr extracts an int attribute for SetAttributes implementations.
func IntAttr(attrs Attributes, key string) (int, bool) {
	v, ok := attrs[key].(int)
	return v, ok
}

// BytesAttr extracts a []byte attribute of exactly size bytes.
func BytesAttr(attrs Attributes, key string, size int) ([]byte, bool) {
	v, ok := attrs[key].([]byte)
	if !ok || len(v) != size {
		return nil, false
	}
	return v, true
}
