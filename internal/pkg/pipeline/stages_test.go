package pipeline_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/pktmunch/internal/pkg/identity"
	"github.com/endorses/pktmunch/internal/pkg/identity/identitytest"
	"github.com/endorses/pktmunch/internal/pkg/identity/protocols"
	"github.com/endorses/pktmunch/internal/pkg/packet"
	"github.com/endorses/pktmunch/internal/pkg/pipeline"
)

func identified(t *testing.T, frames ...[]byte) []*packet.Packet {
	t.Helper()
	var in []*packet.Packet
	for i, data := range frames {
		in = append(in, frame(time.Duration(i)*time.Millisecond, data))
	}
	out, err := packet.Collect(pipeline.Identify(packet.NewSliceSource(in...), identitytest.NewSession()))
	require.NoError(t, err)
	return out
}

func TestFilter(t *testing.T) {
	reg := protocols.NewRegistry(protocols.DefaultConfig())
	proto := func(s string) identity.Prototype {
		p, err := reg.ParsePrototype(s)
		require.NoError(t, err)
		return p
	}

	dns := identitytest.EthIPv4UDP(t, 33000, 53, []byte("q"))
	ntp := identitytest.EthIPv4UDP(t, 123, 123, nil)
	arp := identitytest.EthARP(t)
	web := identitytest.EthIPv4TCP(t, &layers.TCP{SrcPort: 40000, DstPort: 443, SYN: true}, nil)

	tests := []struct {
		name  string
		rules pipeline.Rules
		want  []int
	}{
		{"no rules", pipeline.Rules{}, []int{0, 1, 2, 3}},
		{"deny", pipeline.Rules{Deny: []identity.Prototype{proto("udp")}}, []int{2, 3}},
		{"permit", pipeline.Rules{Permit: []identity.Prototype{proto("udp:dport=53"), proto("arp")}}, []int{0, 2}},
		{"deny beats permit", pipeline.Rules{
			Deny:   []identity.Prototype{proto("udp:dport=53")},
			Permit: []identity.Prototype{proto("udp")},
		}, []int{1}},
		{"wildcard", pipeline.Rules{Permit: []identity.Prototype{proto("tcp:flags=*")}}, []int{3}},
		{"attributes anywhere in the chain", pipeline.Rules{Deny: []identity.Prototype{proto("ip4:daddr=10.0.0.1")}}, []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := identified(t, dns, ntp, arp, web)
			got, err := packet.Collect(pipeline.Filter(packet.NewSliceSource(in...), tt.rules))
			require.NoError(t, err)

			want := make([]*packet.Packet, 0, len(tt.want))
			for _, i := range tt.want {
				want = append(want, in[i])
			}
			assert.Equal(t, want, got)
		})
	}

	assert.True(t, pipeline.Rules{}.Empty())
	assert.Equal(t, "deny udp:dport=53, permit arp",
		pipeline.Rules{Deny: []identity.Prototype{proto("udp:dport=53")}, Permit: []identity.Prototype{proto("arp")}}.String())
}

func stamps(ts ...time.Duration) packet.Source {
	var pkts []*packet.Packet
	for _, d := range ts {
		pkts = append(pkts, packet.New(epoch.Add(d), layers.LinkTypeEthernet, 0, nil))
	}
	return packet.NewSliceSource(pkts...)
}

func offsets(t *testing.T, src packet.Source) []time.Duration {
	t.Helper()
	pkts, err := packet.Collect(src)
	require.NoError(t, err)
	out := make([]time.Duration, 0, len(pkts))
	for _, p := range pkts {
		out = append(out, p.Timestamp.Sub(epoch))
	}
	return out
}

func TestMerge(t *testing.T) {
	s := time.Second

	tests := []struct {
		name    string
		sources func() []packet.Source
		opts    pipeline.MergeOptions
		want    []time.Duration
	}{
		{
			name:    "absolute",
			sources: func() []packet.Source { return []packet.Source{stamps(1*s, 4*s), stamps(2*s, 3*s)} },
			want:    []time.Duration{1 * s, 2 * s, 3 * s, 4 * s},
		},
		{
			name:    "absolute with offset",
			sources: func() []packet.Source { return []packet.Source{stamps(1 * s), stamps(2 * s)} },
			opts:    pipeline.MergeOptions{Offset: 10 * s},
			want:    []time.Duration{11 * s, 12 * s},
		},
		{
			name:    "relative to average start",
			sources: func() []packet.Source { return []packet.Source{stamps(100*s, 101*s), stamps(200*s, 202*s)} },
			opts:    pipeline.MergeOptions{Relative: true},
			want:    []time.Duration{150 * s, 150 * s, 151 * s, 152 * s},
		},
		{
			name:    "relative to start",
			sources: func() []packet.Source { return []packet.Source{stamps(100*s, 103*s), stamps(200*s, 201*s)} },
			opts:    pipeline.MergeOptions{Relative: true, Start: epoch, Offset: s},
			want:    []time.Duration{1 * s, 1 * s, 2 * s, 4 * s},
		},
		{
			name:    "empty sources dropped",
			sources: func() []packet.Source { return []packet.Source{stamps(), stamps(5 * s), stamps()} },
			opts:    pipeline.MergeOptions{Relative: true},
			want:    []time.Duration{5 * s},
		},
		{
			name:    "no sources",
			sources: func() []packet.Source { return nil },
			want:    []time.Duration{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, offsets(t, pipeline.Merge(tt.sources(), tt.opts)))
		})
	}
}

func TestMergeTiesFavorEarlierSource(t *testing.T) {
	a := packet.New(epoch, layers.LinkTypeEthernet, 0, []byte{'a'})
	b := packet.New(epoch, layers.LinkTypeEthernet, 0, []byte{'b'})
	got, err := packet.Collect(pipeline.Merge([]packet.Source{packet.NewSliceSource(a), packet.NewSliceSource(b)}, pipeline.MergeOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []*packet.Packet{a, b}, got)
}

func TestMergeError(t *testing.T) {
	boom := errors.New("boom")
	failing := packet.SourceFunc(func() (*packet.Packet, error) { return nil, boom })
	_, err := packet.Collect(pipeline.Merge([]packet.Source{stamps(time.Second), failing}, pipeline.MergeOptions{}))
	assert.ErrorIs(t, err, boom)
}

func TestRewrite(t *testing.T) {
	newSrc := []byte{198, 51, 100, 1}
	hm := identity.NewHostMap()
	require.NoError(t, hm.AddIPv4(identitytest.SrcIPv4, newSrc))

	ip := identitytest.IPv4(layers.IPProtocolUDP)
	ip.SrcIP = newSrc
	u := &layers.UDP{SrcPort: 5000, DstPort: 53}
	require.NoError(t, u.SetNetworkLayerForChecksum(ip))
	want := identitytest.Serialize(t, identitytest.Ethernet(layers.EthernetTypeIPv4), ip, u, gopacket.Payload("query"))

	t.Run("hosts", func(t *testing.T) {
		in := identified(t, identitytest.EthIPv4UDP(t, 5000, 53, []byte("query")))
		got, err := packet.Collect(pipeline.Rewrite(packet.NewSliceSource(in...), pipeline.RewriteOptions{Hosts: hm}))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, want, got[0].Data)
	})

	t.Run("checksums only", func(t *testing.T) {
		in := identified(t, want)
		orig := append([]byte(nil), want...)
		in[0].Data[14+10], in[0].Data[14+20+6] = 0, 0
		got, err := packet.Collect(pipeline.Rewrite(packet.NewSliceSource(in...), pipeline.RewriteOptions{Checksums: true}))
		require.NoError(t, err)
		assert.Equal(t, orig, got[0].Data)
	})

	t.Run("unidentified packets untouched", func(t *testing.T) {
		p := packet.New(epoch, layers.LinkTypeLinuxSLL, 3, []byte{1, 2, 3})
		got, err := packet.Collect(pipeline.Rewrite(packet.NewSliceSource(p), pipeline.RewriteOptions{Hosts: hm}))
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, got[0].Data)
	})
}

func TestRewriteFragmentedDatagram(t *testing.T) {
	a, b := fragmentPair(t, 9)
	in := identified(t, a, b)
	require.True(t, in[0].Complete())

	hm := identity.NewHostMap()
	require.NoError(t, hm.AddIPv4(identitytest.SrcIPv4, identitytest.DstIPv4))
	require.NoError(t, hm.AddIPv4(identitytest.DstIPv4, identitytest.SrcIPv4))

	got, err := packet.Collect(pipeline.Rewrite(packet.NewSliceSource(in...), pipeline.RewriteOptions{Hosts: hm}))
	require.NoError(t, err)
	for _, p := range got {
		assert.Equal(t, []byte(identitytest.DstIPv4), p.Data[14+12:14+16], "swapped once")
		sum, err := identity.Checksum(p.Data[14:34])
		require.NoError(t, err)
		assert.Zero(t, sum)
	}
}

type sliceSink struct{ pkts []*packet.Packet }

func (s *sliceSink) WritePacket(p *packet.Packet) error {
	s.pkts = append(s.pkts, p)
	return nil
}

func TestDrain(t *testing.T) {
	t.Run("copies everything", func(t *testing.T) {
		sink := &sliceSink{}
		n, err := pipeline.Drain(context.Background(), stamps(1, 2, 3), sink)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Len(t, sink.pkts, 3)
	})

	t.Run("stops when cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		sink := packet.SinkFunc(func(*packet.Packet) error {
			cancel()
			return nil
		})
		n, err := pipeline.Drain(ctx, stamps(1, 2, 3), sink)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, n)
	})

	t.Run("sink error", func(t *testing.T) {
		boom := errors.New("disk full")
		n, err := pipeline.Drain(context.Background(), stamps(1, 2), packet.SinkFunc(func(*packet.Packet) error { return boom }))
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, n)
	})

	t.Run("source error", func(t *testing.T) {
		boom := errors.New("bad file")
		src := packet.SourceFunc(func() (*packet.Packet, error) { return nil, boom })
		_, err := pipeline.Drain(context.Background(), src, &sliceSink{})
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, io.EOF)
	})
}
