package output

import (
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/endorses/pktmunch/internal/pkg/addr"
	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/packet"
)

// PacketRecord is the JSON form of an identified packet.
type PacketRecord struct {
	Index          int           `json:"index"`
	Timestamp      time.Time     `json:"timestamp"`
	LinkType       string        `json:"link_type"`
	Identity       string        `json:"identity,omitempty"`
	Complete       bool          `json:"complete"`
	Length         int           `json:"length"`
	CapturedLength int           `json:"captured_length"`
	Layers         []LayerRecord `json:"layers,omitempty"`
}

// LayerRecord is one instance of the identity chain.
type LayerRecord struct {
	Protocol   string            `json:"protocol"`
	Attributes map[string]string `json:"attributes"`
}

// NewPacketRecord describes p, which should already be identified.
func NewPacketRecord(index int, p *packet.Packet) PacketRecord {
	r := PacketRecord{
		Index:          index,
		Timestamp:      p.Timestamp.UTC(),
		LinkType:       p.LinkType.String(),
		Complete:       p.Complete(),
		Length:         p.Length,
		CapturedLength: len(p.Data),
	}
	if p.Identity == nil {
		return r
	}
	r.Identity = identity.Names(p.Identity)
	for _, inst := range identity.Chain(p.Identity) {
		r.Layers = append(r.Layers, LayerRecord{
			Protocol:   inst.Name(),
			Attributes: FormatAttributes(inst.Attributes()),
		})
	}
	return r
}

// FormatAttributes renders attribute values as text. Byte values of address
// length are printed as addresses, other byte values as hex.
func FormatAttributes(attrs identity.Attributes) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = formatValue(v)
	}
	return out
}

func formatValue(v any) string {
	b, ok := v.([]byte)
	if !ok {
		return fmt.Sprint(v)
	}
	switch len(b) {
	case 4:
		return addr.FormatIPv4(b)
	case 6:
		return addr.FormatMAC(b)
	case 16:
		return addr.FormatIPv6(b)
	default:
		return hex.EncodeToString(b)
	}
}

// Describe renders a packet and the attributes of every layer on one line.
func Describe(p *packet.Packet) string {
	s := p.String()
	for _, inst := range identity.Chain(p.Identity) {
		attrs := FormatAttributes(inst.Attributes())
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s += " [" + inst.Name()
		for _, k := range keys {
			s += " " + k + "=" + attrs[k]
		}
		s += "]"
	}
	return s
}
