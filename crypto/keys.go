package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable prefix carried by ledger addresses.
const AddressPrefix = "esc"

// Address represents a 20-byte account address rendered as bech32.
type Address struct {
	bytes []byte
}

// NewAddress wraps a raw 20-byte account identifier.
func NewAddress(b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes long, got %d", len(b))
	}
	return Address{bytes: append([]byte(nil), b...)}, nil
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Array returns the address as a fixed-size array for use as a state key.
func (a Address) Array() [20]byte {
	var out [20]byte
	copy(out[:], a.bytes)
	return out
}

// DecodeAddress parses a bech32 account address.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 payload: %w", err)
	}
	return NewAddress(conv)
}

// PrivateKey wraps a secp256k1 private key used to derive account addresses.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// GeneratePrivateKey creates a fresh secp256k1 key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

// Bytes returns the raw 32-byte private key material.
func (p *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(p.key)
}

// PubKey returns the corresponding public key wrapper.
func (p *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{key: &p.key.PublicKey}
}

// PublicKey wraps a secp256k1 public key.
type PublicKey struct {
	key *ecdsa.PublicKey
}

// Address derives the 20-byte account address from the public key using the
// keccak256 scheme.
func (p *PublicKey) Address() Address {
	addr, err := NewAddress(crypto.PubkeyToAddress(*p.key).Bytes())
	if err != nil {
		panic(err)
	}
	return addr
}
