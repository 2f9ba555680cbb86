package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// AddressSize is the length of an address in bytes: 1 version byte plus a
// 20-byte RIPEMD160(SHA-256(pubkey)) identifier.
const AddressSize = 21

// MaxAddressVersion is the largest representable address version (5 bits).
const MaxAddressVersion = 0b11111

// Default HRPs, used only as a fallback for JSON (de)serialization where no
// explicit HRP can be threaded through. Every other address-formatting call
// site takes an HRP parameter explicitly — see StringWithHRP / ParseWithHRP.
const (
	MainnetHRP = "kgx"
	TestnetHRP = "tkgx"
)

// Address represents a version-tagged public-key-hash identifier.
type Address [AddressSize]byte

// NewAddress builds an address from a version byte and a 20-byte identifier.
func NewAddress(version byte, id []byte) (Address, error) {
	if version > MaxAddressVersion {
		return Address{}, fmt.Errorf("address version %d exceeds max %d", version, MaxAddressVersion)
	}
	if len(id) != AddressSize-1 {
		return Address{}, fmt.Errorf("address identifier must be %d bytes, got %d", AddressSize-1, len(id))
	}
	var a Address
	a[0] = version
	copy(a[1:], id)
	return a, nil
}

// Version returns the address version byte.
func (a Address) Version() byte { return a[0] }

// Identifier returns the 20-byte RIPEMD160(SHA-256(pubkey)) portion.
func (a Address) Identifier() []byte {
	b := make([]byte, AddressSize-1)
	copy(b, a[1:])
	return b
}

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// Hex returns the raw hex-encoded address without any HRP.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// StringWithHRP returns the bech32 encoding of the address using the given
// human-readable part. The HRP is process-wide configuration per the node's
// network selection, but is threaded explicitly rather than read from a
// mutable global — callers (CLI, wallet, RPC-less tooling) hold their own
// config's HRP and pass it here.
func (a Address) StringWithHRP(hrp string) string {
	s, err := Bech32Encode(hrp, a[:])
	if err != nil {
		return hrp + ":" + hex.EncodeToString(a[:])
	}
	return s
}

// String renders the address using MainnetHRP. Only used by contexts (JSON,
// fmt.Stringer, logging) that cannot thread an explicit HRP through; prefer
// StringWithHRP wherever the caller has one available.
func (a Address) String() string {
	return a.StringWithHRP(MainnetHRP)
}

// MarshalJSON encodes the address as a bech32 string under MainnetHRP.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a bech32 or raw-hex string into an address, trying
// both configured HRPs.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses a bech32 address (under either known HRP) or a raw
// 42-char hex string.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	for _, hrp := range []string{MainnetHRP, TestnetHRP} {
		a, err := ParseWithHRP(s, hrp)
		if err == nil {
			return a, nil
		}
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: not bech32 or hex", s)
	}
	if len(decoded) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(decoded))
	}
	var a Address
	copy(a[:], decoded)
	return a, nil
}

// ParseWithHRP decodes a bech32 address string that must carry the given HRP.
func ParseWithHRP(s, hrp string) (Address, error) {
	gotHRP, data, err := Bech32Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 address: %w", err)
	}
	if gotHRP != hrp {
		return Address{}, fmt.Errorf("address HRP %q does not match expected %q", gotHRP, hrp)
	}
	if len(data) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(data))
	}
	var a Address
	copy(a[:], data)
	return a, nil
}
