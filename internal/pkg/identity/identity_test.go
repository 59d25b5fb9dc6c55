package identity

import (
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/pktmunch/internal/pkg/memorymap"
)

// layer is a minimal protocol: a one byte header naming the next protocol.
// 0 ends the chain, 0xff is a format error.
type layer struct {
	Header
	name string
}

func (l *layer) Name() string               { return l.name }
func (l *layer) SetAttributes(Attributes)   {}
func (l *layer) Match(want Attributes) bool { return MatchAttributes(l.Attributes(), want) }
func (l *layer) RecalculateChecksum()       { order = append(order, l.name) }
func (l *layer) ReplaceHosts(*HostMap)      { order = append(order, "hosts:"+l.name) }

func (l *layer) Attributes() Attributes {
	b, _ := l.Data().At(0)
	return Attributes{"next": int(b)}
}

var (
	order    []string
	zeroTime time.Time
)

type fakeDissector struct {
	name   string
	resets *int
}

func (f *fakeDissector) Name() string { return f.name }

func (f *fakeDissector) BuildAttributes(spec string) Attributes {
	return Fields{"next": {Parse: IntValue}}.Build(spec)
}

func (f *fakeDissector) ResetState() { *f.resets++ }

func (f *fakeDissector) Interpret(s *Session, data *memorymap.Map, parent Protocol) (Protocol, error) {
	b, err := data.At(0)
	if err != nil || b == 0xff {
		return nil, fmt.Errorf("%w: fake", ErrFormat)
	}
	l := &layer{Header: NewHeader(data, parent), name: f.name}
	if b != 0 {
		l.SetNext(s.InterpretIPProtocol(layers.IPProtocol(b), data.Slice(1, data.Len()), l))
	}
	return l, nil
}

func fakeRegistry(resets *int) *Registry {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		name := name
		r.RegisterProtocol(name, func() Dissector { return &fakeDissector{name: name, resets: resets} })
	}
	r.RegisterLinkType("a", layers.LinkTypeEthernet)
	r.RegisterIPProtocol("b", 2)
	r.RegisterIPProtocol("c", 3)
	return r
}

func TestChecksum(t *testing.T) {
	// RFC 1071 example words
	sum, err := Checksum([]byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7})
	require.NoError(t, err)
	assert.Equal(t, uint16(^uint16(0xddf2)), sum)

	_, err = Checksum([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrOddLength)

	assert.Len(t, PadEven([]byte{1, 2, 3}), 4)
	assert.Len(t, PadEven([]byte{1, 2}), 2)
}

func TestChecksumRoundTrip(t *testing.T) {
	// A buffer carrying its own checksum sums to zero, and recomputing the
	// checksum over the zeroed field reproduces it.
	inputs := [][]byte{
		{0x45, 0x00, 0x00, 0x1c, 0x12, 0x34, 0x00, 0x00, 0x40, 0x11, 0x00, 0x00, 0xc0, 0xa8, 0x01, 0x64, 0x0a, 0x00, 0x00, 0x01},
		{0xff, 0xff, 0x00, 0x00, 0xff, 0xff, 0x00, 0x01},
		{0x00, 0x00, 0x00, 0x00},
	}
	for i, in := range inputs {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			b := append([]byte(nil), in...)
			b[2], b[3] = 0, 0
			sum, err := Checksum(b)
			require.NoError(t, err)
			binary.BigEndian.PutUint16(b[2:], sum)

			verify, err := Checksum(b)
			require.NoError(t, err)
			assert.Equal(t, uint16(0), verify)

			stored := binary.BigEndian.Uint16(b[2:])
			b[2], b[3] = 0, 0
			again, err := Checksum(b)
			require.NoError(t, err)
			assert.Equal(t, stored, again)
		})
	}
}

func TestMatchAttributes(t *testing.T) {
	tests := []struct {
		name string
		have Attributes
		want Attributes
		ok   bool
	}{
		{"subset matches", Attributes{"a": 1, "b": 2}, Attributes{"a": 1}, true},
		{"superset does not", Attributes{"a": 1}, Attributes{"a": 1, "b": 2}, false},
		{"value differs", Attributes{"a": 1}, Attributes{"a": 2}, false},
		{"wildcard", Attributes{"a": 7, "b": []byte{1}}, Attributes{"a": Wildcard}, true},
		{"wildcard needs key", Attributes{"b": 1}, Attributes{"a": Wildcard}, false},
		{"bytes compare by value", Attributes{"mac": []byte{1, 2}}, Attributes{"mac": []byte{1, 2}}, true},
		{"bytes differ", Attributes{"mac": []byte{1, 2}}, Attributes{"mac": []byte{1, 3}}, false},
		{"empty prototype", Attributes{"a": 1}, Attributes{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, MatchAttributes(tt.have, tt.want))
		})
	}
}

func TestFieldsBuild(t *testing.T) {
	f := Fields{
		"port": {Parse: IntValue},
		"mac":  {Parse: MACValue},
		"addr": {Parse: OrHex(IPv4Value)},
		"len":  {Key: "port", Parse: IntValue},
	}

	tests := []struct {
		name string
		spec string
		want Attributes
	}{
		{"typed values", "port=0x50;mac=aa:bb:cc:dd:ee:ff", Attributes{"port": 80, "mac": []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}}},
		{"malformed pairs skipped", "port;mac=zz;bogus=1;port=22", Attributes{"port": 22}},
		{"alias", "len=0b11", Attributes{"port": 3}},
		{"hex fallback", "addr=0a000001", Attributes{"addr": []byte{10, 0, 0, 1}}},
		{"short ipv4", "addr=127.1", Attributes{"addr": []byte{127, 0, 0, 1}}},
		{"wildcard", "mac=*", Attributes{"mac": Wildcard}},
		{"empty", "", Attributes{}},
		{"extra equals", "port=1=2", Attributes{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Build(tt.spec))
		})
	}
}

func TestAttributesString(t *testing.T) {
	a := Attributes{"b": 2, "a": []byte{0xde, 0xad}, "c": Wildcard}
	assert.Equal(t, "a=dead;b=2;c=*", a.String())
}

func TestRegistry(t *testing.T) {
	resets := 0
	r := fakeRegistry(&resets)

	name, ok := r.LinkType(layers.LinkTypeEthernet)
	assert.True(t, ok)
	assert.Equal(t, "a", name)

	_, ok = r.EtherType(layers.EthernetTypeIPv4)
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b", "c"}, r.Protocols())
	assert.Equal(t, UnknownName, r.Factory("nope")().Name())

	// last registration wins
	r.RegisterIPProtocol("c", 2)
	name, _ = r.IPProtocol(2)
	assert.Equal(t, "c", name)
}

func TestSessionIdentify(t *testing.T) {
	resets := 0
	s := NewSession(fakeRegistry(&resets))
	require.NotEmpty(t, s.ID)

	t.Run("full chain", func(t *testing.T) {
		root := s.Identify(layers.LinkTypeEthernet, []byte{2, 3, 0}, zeroTime)
		require.NotNil(t, root)
		assert.Equal(t, "a/b/c", Names(root))
		assert.True(t, IsComplete(root))
		assert.Len(t, Chain(root), 3)
		assert.Same(t, root, Chain(root)[1].Prev())
	})

	t.Run("format error truncates chain", func(t *testing.T) {
		root := s.Identify(layers.LinkTypeEthernet, []byte{2, 0xff}, zeroTime)
		require.NotNil(t, root)
		assert.Equal(t, "a", Names(root))
	})

	t.Run("unregistered code leaves chain unextended", func(t *testing.T) {
		root := s.Identify(layers.LinkTypeEthernet, []byte{9, 0}, zeroTime)
		assert.Equal(t, "a", Names(root))
	})

	t.Run("unknown link type", func(t *testing.T) {
		assert.Nil(t, s.Identify(layers.LinkTypeIPv6, []byte{0}, zeroTime))
		assert.True(t, IsComplete(nil))
	})

	t.Run("unknown name", func(t *testing.T) {
		p := s.Interpret("nope", memorymap.Of([]byte{1}), nil)
		require.NotNil(t, p)
		assert.Equal(t, UnknownName, p.Name())
		assert.Empty(t, p.Attributes())
		assert.False(t, p.Match(Attributes{}))
	})

	s.Reset()
	assert.Equal(t, 3, resets, "each dissector used is reset once")
}

// agingDissector records the clock values it is asked to expire at.
type agingDissector struct {
	fakeDissector
	expired []time.Time
}

func (a *agingDissector) Expire(_ *Session, now time.Time) { a.expired = append(a.expired, now) }

func TestSessionExpiresOnClockAdvance(t *testing.T) {
	resets := 0
	r := fakeRegistry(&resets)
	aging := &agingDissector{fakeDissector: fakeDissector{name: "b", resets: &resets}}
	r.RegisterProtocol("b", func() Dissector { return aging })
	s := NewSession(r)

	t0 := zeroTime.Add(time.Hour)
	s.Identify(layers.LinkTypeEthernet, []byte{0}, t0)
	assert.Empty(t, aging.expired, "dissectors not used yet are not consulted")

	s.Identify(layers.LinkTypeEthernet, []byte{2, 0}, t0)
	s.Identify(layers.LinkTypeEthernet, []byte{0}, t0.Add(time.Second))
	s.Identify(layers.LinkTypeEthernet, []byte{0}, t0)
	s.Identify(layers.LinkTypeIPv6, []byte{0}, t0.Add(2*time.Second))

	assert.Equal(t, []time.Time{t0.Add(time.Second), t0.Add(2 * time.Second)}, aging.expired)
	assert.Equal(t, t0.Add(2*time.Second), s.Now())
}

func TestIncompleteChain(t *testing.T) {
	resets := 0
	s := NewSession(fakeRegistry(&resets))
	root := s.Identify(layers.LinkTypeEthernet, []byte{2, 3, 0}, zeroTime)
	require.NotNil(t, root)

	Chain(root)[2].SetCompleted(false)
	assert.False(t, IsComplete(root))
	assert.True(t, root.Completed())
	Chain(root)[2].SetCompleted(true)
	assert.True(t, IsComplete(root))
}

func TestPropagationOrder(t *testing.T) {
	resets := 0
	s := NewSession(fakeRegistry(&resets))
	root := s.Identify(layers.LinkTypeEthernet, []byte{2, 3, 0}, zeroTime)
	require.NotNil(t, root)

	order = nil
	ReplaceHosts(root, NewHostMap())
	RecalculateChecksums(root)
	assert.Equal(t, []string{"hosts:a", "hosts:b", "hosts:c", "c", "b", "a"}, order)
}

func TestPrototype(t *testing.T) {
	resets := 0
	r := fakeRegistry(&resets)
	s := NewSession(r)
	root := s.Identify(layers.LinkTypeEthernet, []byte{2, 3, 0}, zeroTime)

	p, err := r.ParsePrototype("b:next=3")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Protocol)
	assert.Equal(t, Attributes{"next": 3}, p.Attributes)
	assert.True(t, p.Matches(root))
	assert.Equal(t, "b:next=3", p.String())

	p, err = r.ParsePrototype("c")
	require.NoError(t, err)
	assert.True(t, p.Matches(root))

	p, err = r.ParsePrototype("c:next=5")
	require.NoError(t, err)
	assert.False(t, p.Matches(root))

	_, err = r.ParsePrototype("zz:next=1")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestHostMap(t *testing.T) {
	hm := NewHostMap()
	require.NoError(t, hm.AddIPv4([]byte{10, 0, 0, 1}, []byte{10, 0, 0, 2}))
	assert.Error(t, hm.AddIPv4([]byte{10, 0, 0, 1}, []byte{1}))
	assert.Error(t, hm.AddMAC([]byte{1, 2, 3}, []byte{1, 2, 3}))
	assert.Equal(t, 1, hm.Len())

	frame := []byte{0xff, 10, 0, 0, 1, 0xee}
	data := memorymap.Of(frame)
	assert.True(t, ReplaceField(data, hm.IPv4, 1, 4))
	assert.Equal(t, []byte{0xff, 10, 0, 0, 2, 0xee}, frame)
	assert.False(t, ReplaceField(data, hm.IPv4, 1, 4))
	assert.False(t, ReplaceField(data, hm.IPv4, 4, 4), "field past the end")
}
