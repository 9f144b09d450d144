package address

import (
	"crypto/rand"
	"encoding/json"
	"sort"
	"testing"

	mldsa "github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/stretchr/testify/require"
)

func TestFromPubKey(t *testing.T) {
	pub, _, err := mldsa.GenerateKey(rand.Reader)
	require.NoError(t, err)

	addr, err := FromPubKey(pub)
	require.NoError(t, err)
	require.False(t, addr.IsZero())
	require.Len(t, addr.Bytes(), ByteLength)

	// Same key must derive the same address.
	again, err := FromPubKey(pub)
	require.NoError(t, err)
	require.Equal(t, addr, again)

	_, err = FromPubKey(nil)
	require.Error(t, err)
}

func TestFromString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid address", "0x1234567890abcdef1234567890abcdef12345678", false},
		{"valid uppercase hex", "0x1234567890ABCDEF1234567890ABCDEF12345678", false},
		{"missing prefix", "1234567890abcdef1234567890abcdef12345678", true},
		{"too short", "0x1234", true},
		{"too long", "0x1234567890abcdef1234567890abcdef1234567890", true},
		{"non-hex characters", "0x1234567890abcdef1234567890abcdef1234567g", true},
		{"empty string", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := FromString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, StrLength, len(addr.String()))
		})
	}
}

func TestFromBytes(t *testing.T) {
	raw := make([]byte, ByteLength)
	for i := range raw {
		raw[i] = byte(i)
	}

	addr, err := FromBytes(raw)
	require.NoError(t, err)
	require.Equal(t, raw, addr.Bytes())

	_, err = FromBytes(raw[:10])
	require.Error(t, err)

	_, err = FromBytes(append(raw, 0xff))
	require.Error(t, err)
}

func TestStringRoundTrip(t *testing.T) {
	pub, _, err := mldsa.GenerateKey(rand.Reader)
	require.NoError(t, err)

	addr, err := FromPubKey(pub)
	require.NoError(t, err)

	parsed, err := FromString(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr, parsed)
	require.True(t, IsValid(addr.String()))
}

func TestCmpOrdering(t *testing.T) {
	a, err := FromString("0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	b, err := FromString("0x0000000000000000000000000000000000000002")
	require.NoError(t, err)
	c, err := FromString("0xff00000000000000000000000000000000000000")
	require.NoError(t, err)

	require.Equal(t, -1, a.Cmp(b))
	require.Equal(t, 1, b.Cmp(a))
	require.Equal(t, 0, a.Cmp(a))

	addrs := []Address{c, b, a}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	require.Equal(t, []Address{a, b, c}, addrs)
}

func TestCBORRoundTrip(t *testing.T) {
	pub, _, err := mldsa.GenerateKey(rand.Reader)
	require.NoError(t, err)

	addr, err := FromPubKey(pub)
	require.NoError(t, err)

	data, err := addr.Marshal()
	require.NoError(t, err)

	var decoded Address
	require.NoError(t, decoded.Unmarshal(data))
	require.Equal(t, addr, decoded)
}

func TestJSONRoundTrip(t *testing.T) {
	addr, err := FromString("0x1234567890abcdef1234567890abcdef12345678")
	require.NoError(t, err)

	data, err := json.Marshal(addr)
	require.NoError(t, err)
	require.Equal(t, `"0x1234567890abcdef1234567890abcdef12345678"`, string(data))

	var decoded Address
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, addr, decoded)
}
