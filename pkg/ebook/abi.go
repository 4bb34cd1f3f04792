package ebook

import (
	"fmt"

	"github.com/sigweihq/ebookpay/pkg/chains"
)

// ABI names in the registry
const (
	ContractERC20 = "erc20"
	ContractNFT   = "ebook_nft"
	ContractSales = "sales_distributor"
	// ContractRevenue is the contract holding earnings. Deployments that keep
	// earnings in the sales distributor bind it to the same address.
	ContractRevenue = "revenue_distribution"
)

// ERC20ABI covers the token calls the workflows need
const ERC20ABI = `[
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

// EbookNFTABI is the ownership token: one token per purchased copy
const EbookNFTABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"tokenOfOwnerByIndex","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getEbookIdByTokenId","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"hasEbookNFTByEbookId","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"ebookId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

// SalesDistributorArtifact is the build artifact of the sales contract, ABI wrapped in {"abi": ...}
const SalesDistributorArtifact = `{
  "contractName": "EbookSalesDistributor",
  "abi": [
    {"type":"function","name":"UPLOAD_FEE","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
    {"type":"function","name":"defineEbookForSale","stateMutability":"nonpayable","inputs":[{"name":"_uri","type":"string"},{"name":"_price","type":"uint256"},{"name":"_authorShareBPS","type":"uint256"},{"name":"_referrerShareBPS","type":"uint256"},{"name":"_uploadFee","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
    {"type":"function","name":"purchaseEbook","stateMutability":"nonpayable","inputs":[{"name":"_ebookId","type":"uint256"},{"name":"_referrer","type":"address"},{"name":"_isExclusivePurchase","type":"bool"}],"outputs":[]},
    {"type":"function","name":"getAllAvailableEbooks","stateMutability":"view","inputs":[],"outputs":[{"name":"ebookIds","type":"uint256[]"},{"name":"uris","type":"string[]"},{"name":"prices","type":"uint256[]"},{"name":"creators","type":"address[]"}]},
    {"type":"function","name":"getEbookPrice","stateMutability":"view","inputs":[{"name":"_ebookId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
    {"type":"function","name":"getEbookAuthorShareBPS","stateMutability":"view","inputs":[{"name":"_ebookId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
    {"type":"function","name":"getEbookReferrerShareBPS","stateMutability":"view","inputs":[{"name":"_ebookId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
    {"type":"event","name":"EbookDefined","anonymous":false,"inputs":[{"name":"ebookId","type":"uint256","indexed":true},{"name":"creator","type":"address","indexed":true},{"name":"uri","type":"string","indexed":false},{"name":"price","type":"uint256","indexed":false}]},
    {"type":"event","name":"EbookPurchased","anonymous":false,"inputs":[{"name":"ebookId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":false}]}
  ]
}`

// RevenueDistributionABI holds the per-account earnings and their withdrawal
const RevenueDistributionABI = `[
  {"type":"function","name":"authorEarnings","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"distributorEarnings","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"withdrawAuthorEarnings","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"withdrawDistributorEarnings","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// RegisterABIs adds the ebook contracts to registry
func RegisterABIs(registry *chains.ABIRegistry) error {
	abis := []struct {
		name string
		raw  string
	}{
		{ContractERC20, ERC20ABI},
		{ContractNFT, EbookNFTABI},
		{ContractSales, SalesDistributorArtifact},
		{ContractRevenue, RevenueDistributionABI},
	}
	for _, a := range abis {
		if err := registry.Register(a.name, []byte(a.raw)); err != nil {
			return fmt.Errorf("failed to register %s: %w", a.name, err)
		}
	}
	return nil
}
