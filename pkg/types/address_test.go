package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAddress_IsZero(t *testing.T) {
	var zero Address
	if !zero.IsZero() {
		t.Error("zero-value Address should be zero")
	}

	nonZero := Address{0x01}
	if nonZero.IsZero() {
		t.Error("non-zero Address should not be zero")
	}
}

func TestAddress_StringWithHRP(t *testing.T) {
	var a Address
	s := a.StringWithHRP(MainnetHRP)
	if !strings.HasPrefix(s, "kgx1") {
		t.Errorf("StringWithHRP(mainnet) should start with 'kgx1', got %s", s)
	}

	s = a.StringWithHRP(TestnetHRP)
	if !strings.HasPrefix(s, "tkgx1") {
		t.Errorf("StringWithHRP(testnet) should start with 'tkgx1', got %s", s)
	}
}

func TestAddress_Bech32_Roundtrip(t *testing.T) {
	a, err := NewAddress(1, []byte{
		0x8f, 0x3a, 0x44, 0xb8, 0x05, 0x6c, 0xaf, 0xec, 0x36, 0x8d,
		0xea, 0x0c, 0xbe, 0x0a, 0xd1, 0xd9, 0xbc, 0x3f, 0x43, 0x05,
	})
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}

	s := a.StringWithHRP(MainnetHRP)
	parsed, err := ParseWithHRP(s, MainnetHRP)
	if err != nil {
		t.Fatalf("ParseWithHRP(%q): %v", s, err)
	}
	if parsed != a {
		t.Errorf("roundtrip mismatch: got %x, want %x", parsed, a)
	}
}

func TestAddress_Hex(t *testing.T) {
	a := Address{0xab, 0xcd}
	h := a.Hex()
	if len(h) != AddressSize*2 {
		t.Errorf("Hex() length = %d, want %d", len(h), AddressSize*2)
	}
	if !strings.HasPrefix(h, "abcd") {
		t.Errorf("Hex() should start with 'abcd', got %s", h[:4])
	}
}

func TestAddress_Bytes(t *testing.T) {
	a := Address{0x01, 0x02, 0x03}
	b := a.Bytes()

	if len(b) != AddressSize {
		t.Errorf("Bytes() length = %d, want %d", len(b), AddressSize)
	}
	if b[0] != 0x01 || b[1] != 0x02 || b[2] != 0x03 {
		t.Errorf("Bytes() content mismatch")
	}

	b[0] = 0xFF
	if a[0] == 0xFF {
		t.Error("Bytes() should return a copy, not a reference")
	}
}

func TestNewAddress_RejectsBadVersion(t *testing.T) {
	if _, err := NewAddress(MaxAddressVersion+1, make([]byte, 20)); err == nil {
		t.Error("expected error for out-of-range version")
	}
}

func TestNewAddress_RejectsBadIdentifierLength(t *testing.T) {
	if _, err := NewAddress(1, make([]byte, 19)); err == nil {
		t.Error("expected error for short identifier")
	}
}

func TestParseAddress(t *testing.T) {
	a, err := NewAddress(2, []byte("0123456789abcdef0123"))
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}

	mainnet := a.StringWithHRP(MainnetHRP)
	testnet := a.StringWithHRP(TestnetHRP)

	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr bool
	}{
		{"raw hex", a.Hex(), a, false},
		{"bech32 mainnet", mainnet, a, false},
		{"bech32 testnet", testnet, a, false},
		{"invalid bech32", "kgx1invalid!!!", Address{}, true},
		{"wrong length hex", "abcd", Address{}, true},
		{"empty", "", Address{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAddress(%q) should have returned error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %x, want %x", tt.input, got, tt.want)
			}
		})
	}
}

func TestAddress_JSON_RoundTrip(t *testing.T) {
	original := Address{0xab, 0xcd, 0xef}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "kgx1") {
		t.Errorf("JSON should contain bech32 format, got %s", string(data))
	}

	var decoded Address
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if original != decoded {
		t.Errorf("roundtrip mismatch: original=%x, decoded=%x", original, decoded)
	}
}

func TestAddress_JSON_UnmarshalBech32(t *testing.T) {
	original := Address{0x01, 0x02, 0x03}
	bech32Str := original.StringWithHRP(TestnetHRP)

	jsonStr := `"` + bech32Str + `"`
	var decoded Address
	if err := json.Unmarshal([]byte(jsonStr), &decoded); err != nil {
		t.Fatalf("Unmarshal bech32: %v", err)
	}
	if decoded != original {
		t.Errorf("decoded=%x, want=%x", decoded, original)
	}
}
