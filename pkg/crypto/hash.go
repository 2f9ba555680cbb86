// Package crypto provides cryptographic primitives for Klingnet.
package crypto

import (
	"crypto/sha256"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"golang.org/x/crypto/ripemd160"
)

// Hash computes a single SHA-256 digest of the input data.
func Hash(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// DoubleHash computes SHA-256(SHA-256(data)), the identity hash used
// throughout block and transaction hashing.
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// AddressFromPubKey derives a versioned address from a compressed public
// key: version || RIPEMD160(SHA-256(pubkey)).
func AddressFromPubKey(version byte, pubKey []byte) types.Address {
	shaSum := sha256.Sum256(pubKey)
	r := ripemd160.New()
	r.Write(shaSum[:])
	digest := r.Sum(nil)

	addr, err := types.NewAddress(version, digest)
	if err != nil {
		// digest is always ripemd160.Size == 20 bytes; version is
		// validated by callers against types.MaxAddressVersion.
		panic(err)
	}
	return addr
}

// HashConcat double-hashes the concatenation of two hashes. Used when
// reducing a merkle tree level.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return DoubleHash(buf[:])
}
