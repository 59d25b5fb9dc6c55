package hostmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorses/pktmunch/internal/pkg/addr"
	"github.com/endorses/pktmunch/internal/pkg/identity"
)

func key(t *testing.T, parse func(string) ([]byte, error), s string) string {
	t.Helper()
	b, err := parse(s)
	require.NoError(t, err)
	return string(b)
}

func TestParse(t *testing.T) {
	doc := `mac:
  "00:11:22:33:44:55": "66:77:88:99:aa:bb"
ip4:
  192.168.1.100: 10.1.1.1
  "127.1": 127.0.0.2
ip6:
  "2001:db8::100": "fd00::1"
`
	hm, errs, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, 4, hm.Len())

	assert.Equal(t, []byte{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}, hm.MAC[key(t, addr.ParseMAC, "00:11:22:33:44:55")])
	assert.Equal(t, []byte{10, 1, 1, 1}, hm.IPv4[key(t, addr.ParseIPv4, "192.168.1.100")])
	assert.Equal(t, []byte{127, 0, 0, 2}, hm.IPv4[key(t, addr.ParseIPv4, "127.0.0.1")])

	want, err := addr.ParseIPv6("fd00::1")
	require.NoError(t, err)
	assert.Equal(t, want, hm.IPv6[key(t, addr.ParseIPv6, "2001:db8::100")])
}

func TestParseCollectsBadEntries(t *testing.T) {
	doc := `ip4:
  10.0.0.1: 10.0.0.2
  10.0.0.3: not-an-address
  bogus: 10.0.0.4
mac:
  "00:11:22:33:44": "66:77:88:99:aa:bb"
`
	hm, errs, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 1, hm.Len(), "valid entries still load")
	require.Len(t, errs, 3)
	assert.ErrorIs(t, errs[0], addr.ErrSyntax)
}

func TestParseInvalidYAML(t *testing.T) {
	_, _, err := Parse([]byte("ip4: [unclosed"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ip4:\n  10.0.0.1: 10.0.0.9\n"), 0600))

	hm, errs, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, 1, hm.Len())

	_, _, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseMapping(t *testing.T) {
	tests := []struct {
		name    string
		mapping string
		wantErr error
		check   func(t *testing.T, hm *identity.HostMap)
	}{
		{
			name:    "ipv4",
			mapping: "ip4:10.0.0.1=10.0.0.2",
			check: func(t *testing.T, hm *identity.HostMap) {
				assert.Equal(t, []byte{10, 0, 0, 2}, hm.IPv4[string([]byte{10, 0, 0, 1})])
			},
		},
		{
			name:    "mac",
			mapping: "mac:00:11:22:33:44:55=ff:ff:ff:ff:ff:ff",
			check: func(t *testing.T, hm *identity.HostMap) {
				assert.Len(t, hm.MAC, 1)
			},
		},
		{
			name:    "ipv6",
			mapping: "ip6:::1=::2",
			check: func(t *testing.T, hm *identity.HostMap) {
				assert.Len(t, hm.IPv6, 1)
			},
		},
		{name: "unknown family", mapping: "ipx:1=2", wantErr: ErrFamily},
		{name: "bad address", mapping: "ip4:10.0.0.1=zz", wantErr: addr.ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := identity.NewHostMap()
			err := ParseMapping(hm, tt.mapping)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, hm)
		})
	}

	t.Run("missing separator", func(t *testing.T) {
		assert.Error(t, ParseMapping(identity.NewHostMap(), "10.0.0.1=10.0.0.2"))
		assert.Error(t, ParseMapping(identity.NewHostMap(), "ip4:10.0.0.1"))
	})
}
