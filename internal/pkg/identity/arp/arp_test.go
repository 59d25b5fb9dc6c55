package arp_test

import (
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/identity/arp"
	"github.com/endorses/pktmunch/internal/pkg/identity/identitytest"
)

func identifyARP(t *testing.T, frame []byte) *arp.Packet {
	t.Helper()
	s := identitytest.NewSession()
	root := s.Identify(layers.LinkTypeEthernet, frame, time.Time{})
	require.NotNil(t, root)
	require.Equal(t, "eth/arp", identity.Names(root))
	return root.Next().(*arp.Packet)
}

func TestAttributes(t *testing.T) {
	p := identifyARP(t, identitytest.EthARP(t))

	assert.Equal(t, identity.Attributes{
		"htype":  arp.HardwareEthernet,
		"ptype":  arp.ProtocolIPv4,
		"opcode": arp.OpRequest,
		"sha":    []byte(identitytest.SrcMAC),
		"spa":    []byte(identitytest.SrcIPv4),
		"tha":    make([]byte, 6),
		"tpa":    []byte(identitytest.DstIPv4),
	}, p.Attributes())
}

func TestBuildAttributes(t *testing.T) {
	got := arp.New().BuildAttributes("opcode=2;sha=00:11:22:33:44:55;spa=10.1;tpa=c0a80101;tha=zz")
	assert.Equal(t, identity.Attributes{
		"opcode": 2,
		"sha":    []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		"spa":    []byte{10, 0, 0, 1},
		"tpa":    []byte{192, 168, 1, 1},
	}, got)
}

func TestSetAttributes(t *testing.T) {
	frame := identitytest.EthARP(t)
	p := identifyARP(t, frame)

	p.SetAttributes(identity.Attributes{
		"opcode": arp.OpReply,
		"ptype":  0x86dd,
		"tpa":    []byte{1, 2, 3, 4, 5}, // wrong size, ignored
		"tha":    []byte{9, 9, 9, 9, 9, 9},
	})

	attrs := p.Attributes()
	assert.Equal(t, arp.OpReply, attrs["opcode"])
	assert.Equal(t, arp.HardwareEthernet, attrs["htype"], "ptype must not overwrite htype")
	assert.Equal(t, 0x86dd, attrs["ptype"])
	assert.Equal(t, []byte{9, 9, 9, 9, 9, 9}, attrs["tha"])
	assert.Equal(t, []byte(identitytest.DstIPv4), attrs["tpa"])
}

func TestReplaceHosts(t *testing.T) {
	frame := identitytest.EthARP(t)
	p := identifyARP(t, frame)

	hm := identity.NewHostMap()
	require.NoError(t, hm.AddMAC(identitytest.SrcMAC, []byte{2, 2, 2, 2, 2, 2}))
	require.NoError(t, hm.AddIPv4(identitytest.DstIPv4, []byte{172, 16, 0, 1}))
	p.ReplaceHosts(hm)

	attrs := p.Attributes()
	assert.Equal(t, []byte{2, 2, 2, 2, 2, 2}, attrs["sha"])
	assert.Equal(t, []byte{172, 16, 0, 1}, attrs["tpa"])
	assert.Equal(t, []byte(identitytest.SrcIPv4), attrs["spa"])

	// a non IPv4 protocol type leaves protocol addresses alone
	p.SetAttributes(identity.Attributes{"ptype": 0x1234})
	hm2 := identity.NewHostMap()
	require.NoError(t, hm2.AddIPv4(identitytest.SrcIPv4, []byte{1, 1, 1, 1}))
	p.ReplaceHosts(hm2)
	assert.Equal(t, []byte(identitytest.SrcIPv4), p.Attributes()["spa"])
}

func TestTruncated(t *testing.T) {
	s := identitytest.NewSession()
	frame := identitytest.EthARP(t)
	// claim 64 byte hardware addresses
	frame[14+4] = 64
	root := s.Identify(layers.LinkTypeEthernet, frame, time.Time{})
	require.NotNil(t, root)
	assert.Nil(t, root.Next())
}
