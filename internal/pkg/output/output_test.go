package output_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/identity/identitytest"
	"github.com/endorses/pktmunch/internal/pkg/output"
	"github.com/endorses/pktmunch/internal/pkg/packet"
)

func TestMarshalJSONPretty(t *testing.T) {
	v := map[string]int{"a": 1}

	compact, err := output.MarshalJSONPretty(v, false)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(compact))

	pretty, err := output.MarshalJSONPretty(v, true)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", string(pretty))

	var buf bytes.Buffer
	require.NoError(t, output.WriteJSON(&buf, v, false))
	assert.Equal(t, "{\"a\":1}\n", buf.String())
}

func TestFormatAttributes(t *testing.T) {
	got := output.FormatAttributes(identity.Attributes{
		"port": 53,
		"ip4":  []byte{10, 0, 0, 1},
		"mac":  []byte{0, 0x11, 0x22, 0x33, 0x44, 0x55},
		"ip6":  append([]byte{0x20, 0x01, 0x0d, 0xb8}, make([]byte, 12)...),
		"raw":  []byte{0xde, 0xad},
	})
	assert.Equal(t, map[string]string{
		"port": "53",
		"ip4":  "10.0.0.1",
		"mac":  "00:11:22:33:44:55",
		"ip6":  "2001:db8::",
		"raw":  "dead",
	}, got)
}

func TestPacketRecord(t *testing.T) {
	frame := identitytest.EthIPv4UDP(t, 40000, 53, []byte("query"))
	ts := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	p := packet.New(ts, layers.LinkTypeEthernet, len(frame), frame)
	p.Identify(identitytest.NewSession())

	r := output.NewPacketRecord(7, p)
	assert.Equal(t, 7, r.Index)
	assert.Equal(t, "eth/ip4/udp", r.Identity)
	assert.True(t, r.Complete)
	assert.Equal(t, "Ethernet", r.LinkType)
	require.Len(t, r.Layers, 3)
	assert.Equal(t, "00:11:22:33:44:55", r.Layers[0].Attributes["smac"])
	assert.Equal(t, "192.168.1.100", r.Layers[1].Attributes["saddr"])
	assert.Equal(t, "53", r.Layers[2].Attributes["dport"])

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"identity":"eth/ip4/udp"`)

	line := output.Describe(p)
	assert.Contains(t, line, "Identity: eth/ip4/udp")
	assert.Contains(t, line, "[udp dport=53 length=13 sport=40000]")
}

func TestPacketRecordUnidentified(t *testing.T) {
	p := packet.New(time.Unix(0, 0), layers.LinkTypeEthernet, 3, []byte{1, 2, 3})
	r := output.NewPacketRecord(0, p)
	assert.Empty(t, r.Identity)
	assert.Empty(t, r.Layers)
	assert.True(t, r.Complete)
	assert.Equal(t, p.String(), output.Describe(p))
	assert.Contains(t, output.Describe(p), "Identity: (not identified)")
}
