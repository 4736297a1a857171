package chaintools

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

var ss58Preamble = []byte("SS58PRE")

const (
	publicKeyLength = 32
	checksumLength  = 2
)

// Address is a decoded SS58 account address
type Address struct {
	Prefix    uint16
	PublicKey [publicKeyLength]byte
}

// DecodeAddress parses and verifies an SS58 address
func DecodeAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid SS58 address %q: %w", s, err)
	}
	if len(raw) < 1 {
		return Address{}, fmt.Errorf("invalid SS58 address %q: empty", s)
	}

	var prefix uint16
	prefixLen := 1
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
	case raw[0] < 128:
		if len(raw) < 2 {
			return Address{}, fmt.Errorf("invalid SS58 address %q: truncated prefix", s)
		}
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0x3f
		prefix = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return Address{}, fmt.Errorf("invalid SS58 address %q: reserved prefix", s)
	}

	if len(raw) != prefixLen+publicKeyLength+checksumLength {
		return Address{}, fmt.Errorf("invalid SS58 address %q: unexpected length %d", s, len(raw))
	}

	body := raw[:len(raw)-checksumLength]
	sum := ss58Checksum(body)
	if !bytes.Equal(sum[:checksumLength], raw[len(raw)-checksumLength:]) {
		return Address{}, fmt.Errorf("invalid SS58 address %q: checksum mismatch", s)
	}

	addr := Address{Prefix: prefix}
	copy(addr.PublicKey[:], raw[prefixLen:prefixLen+publicKeyLength])
	return addr, nil
}

// Encode renders the public key as an SS58 address for the given network prefix
func (a Address) Encode(prefix uint16) string {
	var body []byte
	if prefix < 64 {
		body = append(body, byte(prefix))
	} else {
		first := byte((prefix&0x00fc)>>2) | 0x40
		second := byte(prefix>>8) | byte((prefix&0x0003)<<6)
		body = append(body, first, second)
	}
	body = append(body, a.PublicKey[:]...)
	sum := ss58Checksum(body)
	body = append(body, sum[:checksumLength]...)
	return base58.Encode(body)
}

// Hex returns the 0x-prefixed public key
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a.PublicKey[:])
}

func ss58Checksum(body []byte) [blake2b.Size]byte {
	data := make([]byte, 0, len(ss58Preamble)+len(body))
	data = append(data, ss58Preamble...)
	data = append(data, body...)
	return blake2b.Sum512(data)
}

// ConvertAddress re-encodes account for the chain's SS58 prefix
func ConvertAddress(account string, chain Chain) (string, Address, error) {
	addr, err := DecodeAddress(account)
	if err != nil {
		return "", Address{}, err
	}
	return addr.Encode(chain.SS58Prefix), addr, nil
}
