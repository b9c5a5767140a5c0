package casper

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// KeyPair is the relay's own signing identity: an ed25519 key loaded once at
// process start. It pays execution cost for every settlement and is never
// derived from request input.
type KeyPair struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// LoadKeyPair reads a PKCS#8 PEM secret key file, the format casper-client
// writes for ed25519 accounts.
func LoadKeyPair(path string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secret key file: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("casper: secret key file contains no PEM block")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse secret key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("casper: secret key is not ed25519")
	}
	return fromPrivate(priv), nil
}

// KeyPairFromSeedHex builds a key pair from a hex-encoded 32-byte ed25519 seed.
func KeyPairFromSeedHex(seedHex string) (*KeyPair, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("casper: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return fromPrivate(ed25519.NewKeyFromSeed(seed)), nil
}

// GenerateKeyPair creates a fresh random key pair. Test and demo use only.
func GenerateKeyPair() (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return fromPrivate(priv), nil
}

func fromPrivate(priv ed25519.PrivateKey) *KeyPair {
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{
		priv: priv,
		pub:  PublicKey{Tag: TagEd25519, Bytes: append([]byte(nil), pub...)},
	}
}

// PublicKey returns the tagged public key of the relay account.
func (k *KeyPair) PublicKey() PublicKey { return k.pub }

// SignHash signs a 32-byte digest (a deploy hash) with the relay key.
func (k *KeyPair) SignHash(hash []byte) []byte {
	return ed25519.Sign(k.priv, hash)
}
