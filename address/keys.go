package address

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160"
)

// NativeFromPubKey derives the native account address of a secp256k1 key:
// ripemd160(sha256(compressed key)). Both key encodings are accepted.
func NativeFromPubKey(pub []byte) ([]byte, error) {
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	sum := sha256.Sum256(key.SerializeCompressed())
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil), nil
}

// EVMFromPubKey derives the EVM address of a secp256k1 key with the
// standard keccak256(uncompressed[1:])[12:] rule.
func EVMFromPubKey(pub []byte) (common.Address, error) {
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return common.Address{}, fmt.Errorf("parse public key: %w", err)
	}
	raw := key.SerializeUncompressed()
	return common.BytesToAddress(crypto.Keccak256(raw[1:])[12:]), nil
}

// RecoverPubKey returns the uncompressed public key that produced the
// 65-byte [R || S || V] signature over keccak256(message).
func RecoverPubKey(message, sig []byte) ([]byte, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("signature length %d, want %d", len(sig), crypto.SignatureLength)
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	return crypto.Ecrecover(crypto.Keccak256(message), normalized)
}
