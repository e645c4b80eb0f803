package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Capability is a deterministic authority handle. Holding the right
// capability is what authorizes moving funds out of an account or minting
// a note supply.
type Capability [32]byte

// NoCapability is the zero capability; it authorizes nothing.
var NoCapability Capability

// DeriveCapability hashes the salt and length-prefixed seeds. Distinct seed
// lists never collide on concatenation.
func DeriveCapability(salt []byte, seeds ...[]byte) Capability {
	h := sha256.New()
	var lenBuf [4]byte

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(salt)))
	h.Write(lenBuf[:])
	h.Write(salt)
	for _, s := range seeds {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		h.Write(lenBuf[:])
		h.Write(s)
	}

	var c Capability
	copy(c[:], h.Sum(nil))
	return c
}

func (c Capability) String() string { return hex.EncodeToString(c[:]) }

func (c Capability) IsZero() bool { return c == NoCapability }

// Authorities derives the capabilities of markets, bids and users from one
// deployment salt.
type Authorities struct {
	salt []byte
}

func NewAuthorities(salt string) Authorities {
	return Authorities{salt: []byte(salt)}
}

// Market is the authority over a market's vaults and note mints.
func (a Authorities) Market(marketID string) Capability {
	return DeriveCapability(a.salt, []byte("market"), []byte(marketID))
}

// Bid is the escrow authority scoped to one bidder in one market.
func (a Authorities) Bid(marketID string, bidder uuid.UUID) Capability {
	return DeriveCapability(a.salt, []byte("bid"), []byte(marketID), bidder[:])
}

// User is the authority over a user's wallets.
func (a Authorities) User(userID uuid.UUID) Capability {
	return DeriveCapability(a.salt, []byte("user"), userID[:])
}

func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Capability) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(c) {
		return fmt.Errorf("capability must be %d bytes, got %d", len(c), len(b))
	}
	copy(c[:], b)
	return nil
}

// ParseCapability decodes a hex capability.
func ParseCapability(s string) (Capability, error) {
	var c Capability
	err := c.UnmarshalText([]byte(s))
	return c, err
}
