package address

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	mldsa "github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/fxamacker/cbor/v2"

	"github.com/poas-labs/go-poas/crypto/hash"
)

const (
	// Address format constants
	Prefix     = "0x"
	StrLength  = 42 // "0x" + 40 hex characters
	ByteLength = 20
)

// Address is a 20-byte validator identity derived from a public key.
// Its byte ordering is the canonical tiebreak key for every ordered
// iteration in the consensus core.
type Address [ByteLength]byte

// FromPubKey derives an Address from an ML-DSA public key by hashing it
// with Blake2b-256 and keeping the trailing 20 bytes.
func FromPubKey(pubKey *mldsa.PublicKey) (Address, error) {
	if pubKey == nil {
		return Address{}, fmt.Errorf("public key cannot be nil")
	}

	pubKeyBytes := pubKey.Bytes()
	if len(pubKeyBytes) == 0 {
		return Address{}, fmt.Errorf("public key bytes cannot be empty")
	}

	digest := hash.Sum(pubKeyBytes)

	var addr Address
	copy(addr[:], digest[hash.Size-ByteLength:])
	return addr, nil
}

// FromString parses a 0x-prefixed hex address.
func FromString(s string) (Address, error) {
	if err := Validate(s); err != nil {
		return Address{}, fmt.Errorf("invalid address format: %w", err)
	}

	raw, err := hex.DecodeString(s[len(Prefix):])
	if err != nil {
		return Address{}, fmt.Errorf("invalid address hex: %w", err)
	}

	var addr Address
	copy(addr[:], raw)
	return addr, nil
}

// FromBytes creates an Address from raw bytes.
func FromBytes(b []byte) (Address, error) {
	if len(b) != ByteLength {
		return Address{}, fmt.Errorf("address must be exactly %d bytes, got %d", ByteLength, len(b))
	}

	var addr Address
	copy(addr[:], b)
	return addr, nil
}

// Validate checks that s is a well-formed 0x address.
func Validate(s string) error {
	if len(s) != StrLength {
		return fmt.Errorf("address must be exactly %d characters long, got %d", StrLength, len(s))
	}
	if !strings.HasPrefix(s, Prefix) {
		return fmt.Errorf("address must start with %q", Prefix)
	}
	if _, err := hex.DecodeString(s[len(Prefix):]); err != nil {
		return fmt.Errorf("address contains non-hex characters: %w", err)
	}
	return nil
}

// IsValid is a convenience wrapper around Validate.
func IsValid(s string) bool {
	return Validate(s) == nil
}

// Bytes returns the raw 20-byte address.
func (a Address) Bytes() []byte {
	return a[:]
}

// String returns the 0x-prefixed lowercase hex representation.
func (a Address) String() string {
	return Prefix + hex.EncodeToString(a[:])
}

// Hex returns the hex string without the 0x prefix.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Cmp compares two addresses by canonical byte ordering. It returns -1,
// 0 or 1 exactly as bytes.Compare does.
func (a Address) Cmp(other Address) int {
	return bytes.Compare(a[:], other[:])
}

// Marshal encodes the address using CBOR.
func (a Address) Marshal() ([]byte, error) {
	return cbor.Marshal(a[:])
}

// Unmarshal decodes CBOR data into the address.
func (a *Address) Unmarshal(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal CBOR address: %w", err)
	}
	if len(raw) != ByteLength {
		return fmt.Errorf("unmarshaled address has incorrect length: expected %d, got %d", ByteLength, len(raw))
	}
	copy(a[:], raw)
	return nil
}

// MarshalJSON encodes the address as its 0x string form.
func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON decodes a 0x string form into the address.
func (a *Address) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
