package capfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/pktmunch/internal/pkg/packet"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

func testPackets() []*packet.Packet {
	return []*packet.Packet{
		packet.New(epoch, layers.LinkTypeEthernet, 64, bytes.Repeat([]byte{0xaa}, 64)),
		packet.New(epoch.Add(1500*time.Microsecond), layers.LinkTypeEthernet, 1514, bytes.Repeat([]byte{0xbb}, 100)),
		packet.New(epoch.Add(time.Second), layers.LinkTypeEthernet, 20, bytes.Repeat([]byte{0xcc}, 20)),
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		nanosecond bool
		precision  time.Duration
	}{
		{"microsecond", false, time.Microsecond},
		{"nanosecond", true, time.Nanosecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.pcap")
			w, err := Create(path, Config{Snaplen: 65535, Nanosecond: tt.nanosecond})
			require.NoError(t, err)

			in := testPackets()
			for _, p := range in {
				require.NoError(t, w.WritePacket(p))
			}
			count, written := w.Stats()
			assert.Equal(t, int64(3), count)
			assert.Equal(t, int64(184), written)
			require.NoError(t, w.Close())
			require.NoError(t, w.Close(), "close is idempotent")

			r, err := Open(path)
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())
			assert.Equal(t, 65535, r.Snaplen())

			out, err := packet.Collect(r)
			require.NoError(t, err)
			require.Len(t, out, len(in))
			for i := range in {
				assert.True(t, in[i].Timestamp.Truncate(tt.precision).Equal(out[i].Timestamp), "timestamp %d", i)
				assert.Equal(t, in[i].Length, out[i].Length)
				assert.Equal(t, in[i].Data, out[i].Data)
				assert.Equal(t, layers.LinkTypeEthernet, out[i].LinkType)
			}
		})
	}
}

func TestSnaplenTruncation(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, Config{Snaplen: 32})
	require.NoError(t, w.WritePacket(packet.New(epoch, layers.LinkTypeEthernet, 100, make([]byte, 100))))
	require.NoError(t, w.Close())

	r, err := NewReader(&buf)
	require.NoError(t, err)
	p, err := r.Next()
	require.NoError(t, err)
	assert.Len(t, p.Data, 32)
	assert.Equal(t, 100, p.Length)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestLinkType(t *testing.T) {
	t.Run("taken from first packet", func(t *testing.T) {
		var buf bytes.Buffer
		w := NewWriter(&buf, DefaultConfig())
		require.NoError(t, w.WritePacket(packet.New(epoch, layers.LinkTypeRaw, 1, []byte{0x45})))
		assert.Equal(t, layers.LinkTypeRaw, w.LinkType())

		err := w.WritePacket(packet.New(epoch, layers.LinkTypeEthernet, 1, []byte{0}))
		assert.ErrorIs(t, err, ErrLinkType)
		require.NoError(t, w.Close())

		r, err := NewReader(&buf)
		require.NoError(t, err)
		assert.Equal(t, layers.LinkTypeRaw, r.LinkType())
	})

	t.Run("configured", func(t *testing.T) {
		var buf bytes.Buffer
		w := NewWriter(&buf, Config{LinkType: layers.LinkTypeIPv4})
		err := w.WritePacket(packet.New(epoch, layers.LinkTypeEthernet, 1, []byte{0}))
		assert.ErrorIs(t, err, ErrLinkType)
	})

	t.Run("empty file", func(t *testing.T) {
		var buf bytes.Buffer
		w := NewWriter(&buf, Config{LinkType: layers.LinkTypeIPv6})
		require.NoError(t, w.Close())
		assert.Equal(t, 24, buf.Len())

		r, err := NewReader(&buf)
		require.NoError(t, err)
		assert.Equal(t, layers.LinkTypeIPv6, r.LinkType())
		_, err = r.Next()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("write after close", func(t *testing.T) {
		w := NewWriter(io.Discard, DefaultConfig())
		require.NoError(t, w.Close())
		assert.ErrorIs(t, w.WritePacket(packet.New(epoch, layers.LinkTypeEthernet, 0, nil)), ErrClosed)
	})
}

// bigEndianCapture encodes a nanosecond capture in network byte order, as
// written on big-endian hosts.
func bigEndianCapture(ts time.Time, data []byte) []byte {
	be := binary.BigEndian
	out := be.AppendUint32(nil, 0xa1b23c4d)
	out = be.AppendUint16(out, 2)
	out = be.AppendUint16(out, 4)
	out = be.AppendUint32(out, 0)
	out = be.AppendUint32(out, 0)
	out = be.AppendUint32(out, 65535)
	out = be.AppendUint32(out, uint32(layers.LinkTypeEthernet))
	out = be.AppendUint32(out, uint32(ts.Unix()))
	out = be.AppendUint32(out, uint32(ts.Nanosecond()))
	out = be.AppendUint32(out, uint32(len(data)))
	out = be.AppendUint32(out, uint32(len(data)+10))
	return append(out, data...)
}

func TestBigEndian(t *testing.T) {
	r, err := NewReader(bytes.NewReader(bigEndianCapture(epoch, []byte{1, 2, 3, 4})))
	require.NoError(t, err)

	p, err := r.Next()
	require.NoError(t, err)
	assert.True(t, epoch.Equal(p.Timestamp))
	assert.Equal(t, []byte{1, 2, 3, 4}, p.Data)
	assert.Equal(t, 14, p.Length)
}

func TestFormatErrors(t *testing.T) {
	valid := bigEndianCapture(epoch, []byte{1, 2, 3, 4})

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), valid...)
		bad[0] = 0
		_, err := NewReader(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("short header", func(t *testing.T) {
		_, err := NewReader(bytes.NewReader(valid[:10]))
		assert.ErrorIs(t, err, ErrFormat)
	})

	tests := []struct {
		name string
		cut  int
	}{
		{"truncated record header", 24 + 7},
		{"truncated record data", len(valid) - 2},
		{"record data missing", 24 + 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader(bytes.NewReader(valid[:tt.cut]))
			require.NoError(t, err)
			_, err = r.Next()
			assert.ErrorIs(t, err, ErrFormat)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope.pcap"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope.pcap")
	})
}
