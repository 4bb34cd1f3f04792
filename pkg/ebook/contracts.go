package ebook

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/chains"
)

// Contracts are the deployed addresses the ebook store talks to
type Contracts struct {
	NFT   common.Address
	Sales common.Address
	// Revenue holds earnings; zero means the sales distributor does
	Revenue common.Address
	// SalesToken pays for purchases, FeeToken pays the upload fee
	SalesToken common.Address
	FeeToken   common.Address
}

func (c Contracts) Validate() error {
	required := []struct {
		name string
		addr common.Address
	}{
		{"nft", c.NFT},
		{"sales", c.Sales},
		{"sales_token", c.SalesToken},
		{"fee_token", c.FeeToken},
	}
	for _, r := range required {
		if r.addr == (common.Address{}) {
			return fmt.Errorf("contract address %s is not configured", r.name)
		}
	}
	return nil
}

func (c Contracts) NFTRef() chains.ContractRef {
	return chains.ContractRef{Name: ContractNFT, Address: c.NFT}
}

func (c Contracts) SalesRef() chains.ContractRef {
	return chains.ContractRef{Name: ContractSales, Address: c.Sales}
}

func (c Contracts) RevenueRef() chains.ContractRef {
	addr := c.Revenue
	if addr == (common.Address{}) {
		addr = c.Sales
	}
	return chains.ContractRef{Name: ContractRevenue, Address: addr}
}

func (c Contracts) SalesTokenRef() chains.ContractRef {
	return chains.ContractRef{Name: ContractERC20, Address: c.SalesToken}
}

func (c Contracts) FeeTokenRef() chains.ContractRef {
	return chains.ContractRef{Name: ContractERC20, Address: c.FeeToken}
}
