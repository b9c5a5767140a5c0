// Package casper holds the ledger-native types and the JSON-RPC boundary for a
// Casper node: tagged public keys, parameter conversion into fixed-width
// values, deploy construction for the settlement contract's claim_payment
// entry point, and a client for account_put_deploy / info_get_deploy.
package casper

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Key algorithm tags, first byte of a Casper public key hex string.
const (
	TagEd25519   byte = 0x01
	TagSecp256k1 byte = 0x02
)

// Raw key lengths per algorithm (without the tag byte).
const (
	Ed25519KeyLen   = 32
	Secp256k1KeyLen = 33 // compressed
)

var (
	ErrUnknownKeyAlgorithm = errors.New("casper: unknown key algorithm tag")
	ErrKeyLength           = errors.New("casper: key length does not match algorithm")
)

// PublicKey is a tagged Casper public key.
type PublicKey struct {
	Tag   byte
	Bytes []byte
}

// ParsePublicKey decodes a hex-encoded tagged public key.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return PublicKey{}, fmt.Errorf("casper: public key is not valid hex: %w", err)
	}
	if len(raw) < 2 {
		return PublicKey{}, ErrKeyLength
	}
	pk := PublicKey{Tag: raw[0], Bytes: raw[1:]}
	switch pk.Tag {
	case TagEd25519:
		if len(pk.Bytes) != Ed25519KeyLen {
			return PublicKey{}, ErrKeyLength
		}
	case TagSecp256k1:
		if len(pk.Bytes) != Secp256k1KeyLen {
			return PublicKey{}, ErrKeyLength
		}
	default:
		return PublicKey{}, ErrUnknownKeyAlgorithm
	}
	return pk, nil
}

// Hex returns the tagged hex encoding, the form used on the wire and in logs.
func (pk PublicKey) Hex() string {
	return hex.EncodeToString(append([]byte{pk.Tag}, pk.Bytes...))
}

func (pk PublicKey) algorithmName() string {
	switch pk.Tag {
	case TagEd25519:
		return "ed25519"
	case TagSecp256k1:
		return "secp256k1"
	}
	return "unknown"
}

// AccountHash derives the account hash the ledger uses as the key's account
// identity: blake2b-256 over "<algorithm>\x00<key bytes>".
func (pk PublicKey) AccountHash() string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(pk.algorithmName()))
	h.Write([]byte{0x00})
	h.Write(pk.Bytes)
	return "account-hash-" + hex.EncodeToString(h.Sum(nil))
}
