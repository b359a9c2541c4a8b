// Package keyring resolves externally supplied key material into typed signing keys and checksummed addresses.
//
// All functions are pure and synchronous: no network access, no persistence. Secrets live for the duration of one
// request and are dropped with the Signer that wraps them.
package keyring

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
)

// Errors returned to callers. The messages state the expected input format so a caller can correct the request.
var (
	ErrInvalidSecret  = errors.New("expected a seed phrase, //derivation path or 0x-prefixed seed")
	ErrInvalidAddress = errors.New("expected a checksummed base58 address")
	ErrInvalidAmount  = errors.New("expected a decimal or 0x-prefixed hexadecimal amount")
)

// AmountBits is the width of the chain's balance type. Amounts must fit this width.
const AmountBits = 128

// checksumPreimage is the domain prefix hashed into address checksums.
const checksumPreimage = "SS58PRE"

// hdkdTag is the domain tag for hard key derivation junctions.
const hdkdTag = "Ed25519HDKD"

// addrLen is prefix (1) + public key (32) + checksum (2).
const addrLen = 1 + ed25519.PublicKeySize + 2

// Address is the chain-visible, checksummed base58 identifier of an account. It is comparable and used as a map key
// by the nonce cache.
type Address string

// Signer wraps the private key material of one signing identity.
type Signer struct {
	key ed25519.PrivateKey
}

// Public returns the signer's public key.
func (s *Signer) Public() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign signs msg with the wrapped key.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.key, msg)
}

// Keyring resolves secrets and addresses for one concrete chain configuration: the address prefix byte and the
// development seed that //-only secrets derive from.
type Keyring struct {
	prefix  byte
	devSeed []byte
}

// New returns a Keyring for the given address prefix and 32-byte development seed.
func New(prefix byte, devSeed []byte) (*Keyring, error) {
	if len(devSeed) != ed25519.SeedSize {
		return nil, ErrInvalidSecret
	}

	k := &Keyring{prefix: prefix, devSeed: make([]byte, ed25519.SeedSize)}
	copy(k.devSeed, devSeed)

	return k, nil
}

// DecodeSecret resolves a secret string into a Signer. Accepted forms:
//
//	//Alice, //Alice//stash          derivation path applied to the development seed
//	<bip39 mnemonic>[//junction...]  seed phrase, optionally derived further
//	0x<64 hex digits>[//junction...] raw seed, optionally derived further
//
// Soft junctions (single slash) are not supported and fail with ErrInvalidSecret.
func (k *Keyring) DecodeSecret(input string) (*Signer, error) {
	phrase, path := splitSecret(input)

	var seed []byte

	switch {
	case phrase == "":
		if path == "" { // empty secret
			return nil, ErrInvalidSecret
		}

		seed = k.devSeed
	case strings.HasPrefix(phrase, "0x"):
		raw, err := hex.DecodeString(phrase[2:])
		if err != nil || len(raw) != ed25519.SeedSize {
			return nil, ErrInvalidSecret
		}

		seed = raw
	case bip39.IsMnemonicValid(phrase):
		sum := blake2b.Sum256(bip39.NewSeed(phrase, ""))
		seed = sum[:]
	default:
		return nil, ErrInvalidSecret
	}

	seed, err := deriveJunctions(seed, path)
	if err != nil {
		return nil, err
	}

	return &Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// DecodeAddress validates a checksummed base58 address for the keyring's prefix.
func (k *Keyring) DecodeAddress(input string) (Address, error) {
	raw, err := base58.Decode(input)
	if err != nil || len(raw) != addrLen || raw[0] != k.prefix {
		return "", ErrInvalidAddress
	}

	if checksum(raw[:addrLen-2]) != [2]byte(raw[addrLen-2:]) {
		return "", ErrInvalidAddress
	}

	return Address(input), nil
}

// Encode derives the checksummed address of a public key.
func (k *Keyring) Encode(pub ed25519.PublicKey) Address {
	data := make([]byte, 0, addrLen)
	data = append(data, k.prefix)
	data = append(data, pub...)
	sum := checksum(data)
	data = append(data, sum[:]...)

	return Address(base58.Encode(data))
}

// AddressOf derives the signer's own address.
func (k *Keyring) AddressOf(s *Signer) Address {
	return k.Encode(s.Public())
}

// ParseAmount parses a non-negative integer amount, decimal by default or hexadecimal with an explicit 0x prefix.
// The value must fit AmountBits.
func ParseAmount(input string) (*uint256.Int, error) {
	if strings.ContainsAny(input, "+-") {
		return nil, ErrInvalidAmount
	}

	var amt *uint256.Int

	if strings.HasPrefix(input, "0x") || strings.HasPrefix(input, "0X") {
		b, ok := new(big.Int).SetString(input[2:], 16)
		if !ok {
			return nil, ErrInvalidAmount
		}

		var overflow bool
		if amt, overflow = uint256.FromBig(b); overflow {
			return nil, ErrInvalidAmount
		}
	} else {
		var err error
		if amt, err = uint256.FromDecimal(input); err != nil {
			return nil, ErrInvalidAmount
		}
	}

	if amt.BitLen() > AmountBits {
		return nil, ErrInvalidAmount
	}

	return amt, nil
}

// RenderAmount renders an amount the way responses encode it: decimal.
func RenderAmount(a *uint256.Int) string {
	return a.Dec()
}

// splitSecret separates the leading phrase from its //-derivation path.
func splitSecret(input string) (phrase, path string) {
	if i := strings.Index(input, "/"); i >= 0 {
		return input[:i], input[i:]
	}

	return input, ""
}

// deriveJunctions applies hard derivation junctions to a seed. Each junction chains a keyed hash of the previous
// seed, so //Alice//stash derives deterministically from //Alice.
func deriveJunctions(seed []byte, path string) ([]byte, error) {
	if path == "" {
		return seed, nil
	}

	if !strings.HasPrefix(path, "//") {
		return nil, ErrInvalidSecret // soft junction
	}

	for _, junction := range strings.Split(path[2:], "//") {
		if junction == "" || strings.Contains(junction, "/") {
			return nil, ErrInvalidSecret
		}

		h, err := blake2b.New256(nil)
		if err != nil {
			return nil, ErrInvalidSecret
		}

		h.Write([]byte(hdkdTag))
		h.Write(seed)
		h.Write([]byte(junction))
		seed = h.Sum(nil)
	}

	return seed, nil
}

// checksum is the first two bytes of blake2b-512 over the domain prefix and the address payload.
func checksum(data []byte) [2]byte {
	h, _ := blake2b.New512(nil)
	h.Write([]byte(checksumPreimage))
	h.Write(data)

	var sum [2]byte
	copy(sum[:], h.Sum(nil)[:2])

	return sum
}
