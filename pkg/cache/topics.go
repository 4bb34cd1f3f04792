package cache

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/types"
)

// ListingsTopic covers the catalog of available ebooks
const ListingsTopic = "listings"

func AllowanceTopic(owner, spender, token common.Address) string {
	return "allowance:" + types.CanonicalAddress(owner) + ":" + types.CanonicalAddress(spender) + ":" + types.CanonicalAddress(token)
}

func BalanceTopic(holder, token common.Address) string {
	return "balance:" + types.CanonicalAddress(holder) + ":" + types.CanonicalAddress(token)
}

const ownershipPrefix = "ownership:"

// OwnershipTopic covers every ownership answer and library listing of a holder
func OwnershipTopic(holder common.Address) string {
	return ownershipPrefix + types.CanonicalAddress(holder)
}

// OwnershipHolder extracts the holder from an ownership topic
func OwnershipHolder(topic string) (common.Address, bool) {
	addr, ok := strings.CutPrefix(topic, ownershipPrefix)
	if !ok || !common.IsHexAddress(addr) {
		return common.Address{}, false
	}
	return common.HexToAddress(addr), true
}

func ListingTopic(id types.ContentID) string {
	return "listing:" + id.String()
}

func EarningsTopic(account common.Address) string {
	return "earnings:" + types.CanonicalAddress(account)
}
