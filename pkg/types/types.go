package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooPrecise      = errors.New("amount has more fractional digits than the token supports")
	ErrInvalidSplit    = errors.New("invalid royalty split")
	ErrTxRequestReused = errors.New("transaction request already sent")
	ErrIDOutOfRange    = errors.New("identifier does not fit in 64 bits")
)

// ContentID identifies a sellable work ("ebookId"). Many TokenIDs map to one ContentID.
type ContentID uint64

// TokenID identifies one minted ownership copy of a ContentID.
type TokenID uint64

func (id ContentID) Big() *big.Int { return new(big.Int).SetUint64(uint64(id)) }

func (id TokenID) Big() *big.Int { return new(big.Int).SetUint64(uint64(id)) }

func (id ContentID) String() string { return fmt.Sprintf("%d", uint64(id)) }

func (id TokenID) String() string { return fmt.Sprintf("%d", uint64(id)) }

// ContentIDFromBig converts an on-chain uint256 into a ContentID
func ContentIDFromBig(v *big.Int) (ContentID, error) {
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("content id %v: %w", v, ErrIDOutOfRange)
	}
	return ContentID(v.Uint64()), nil
}

// TokenIDFromBig converts an on-chain uint256 into a TokenID
func TokenIDFromBig(v *big.Int) (TokenID, error) {
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("token id %v: %w", v, ErrIDOutOfRange)
	}
	return TokenID(v.Uint64()), nil
}

// ParseAddress validates a 0x-prefixed 20-byte hex address
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// CanonicalAddress returns the lowercase hex form used as the canonical string representation
func CanonicalAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// AddressesEqual compares two hex addresses case-insensitively (EIP-55 checksums differ only in case)
func AddressesEqual(addr1, addr2 string) bool {
	return strings.EqualFold(strings.TrimSpace(addr1), strings.TrimSpace(addr2))
}

// Listing is a content entry available for sale
type Listing struct {
	ContentID        ContentID      `json:"contentId"`
	MetadataURI      string         `json:"metadataUri"`
	Price            TokenAmount    `json:"price"`
	Creator          common.Address `json:"creator"`
	AuthorShareBPS   *big.Int       `json:"authorShareBps,omitempty"`
	ReferrerShareBPS *big.Int       `json:"referrerShareBps,omitempty"`
}

// Split derives the royalty split from the on-chain basis points
func (l *Listing) Split() (RoyaltySplit, error) {
	return SplitFromBPS(l.AuthorShareBPS, l.ReferrerShareBPS)
}

// OwnedCopy is one ownership token held by an account
type OwnedCopy struct {
	TokenID   TokenID          `json:"tokenId"`
	ContentID ContentID        `json:"contentId"`
	TokenURI  string           `json:"tokenUri"`
	Metadata  *ContentMetadata `json:"metadata,omitempty"`
}
