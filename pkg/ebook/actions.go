package ebook

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/allowance"
	"github.com/sigweihq/ebookpay/pkg/cache"
	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/types"
	"github.com/sigweihq/ebookpay/pkg/workflow"
)

var (
	_ workflow.Action          = (*DefineForSale)(nil)
	_ workflow.SenderValidator = (*DefineForSale)(nil)
	_ workflow.Action          = (*Purchase)(nil)
	_ workflow.SenderValidator = (*Purchase)(nil)
	_ workflow.Action          = (*Withdraw)(nil)
	_ workflow.SenderValidator = (*Withdraw)(nil)
)

// DefineForSale lists an uploaded metadata document for sale. It is gated by the
// upload fee, paid in the fee token to the sales contract.
type DefineForSale struct {
	MetadataURI string
	Price       types.TokenAmount
	Split       types.RoyaltySplit

	catalog *Catalog
	fee     *big.Int
}

func (c *Catalog) NewDefineForSale(metadataURI string, price types.TokenAmount, split types.RoyaltySplit) *DefineForSale {
	return &DefineForSale{MetadataURI: metadataURI, Price: price, Split: split, catalog: c}
}

func (a *DefineForSale) Name() string { return "define-for-sale" }

func (a *DefineForSale) Validate(ctx context.Context) error {
	if strings.TrimSpace(a.MetadataURI) == "" {
		return workflow.Invalid("metadata", "metadata URI is required")
	}
	if a.catalog.resolver != nil {
		if _, err := a.catalog.resolver.URL(a.MetadataURI); err != nil {
			return workflow.Invalid("metadata", "%v", err)
		}
	}
	if err := ValidatePrice(a.Price); err != nil {
		return err
	}
	if err := a.Split.Validate(); err != nil {
		return workflow.Invalid("split", "%v", err)
	}
	return nil
}

// ValidateSender reads the current upload fee and checks the sender can pay it
func (a *DefineForSale) ValidateSender(ctx context.Context, sender common.Address) error {
	fee, err := a.catalog.FreshUploadFee(ctx)
	if err != nil {
		return err
	}
	a.fee = fee
	if fee.Sign() == 0 {
		return nil
	}

	balance, err := chains.ReadBig(ctx, a.catalog.client, chains.Call{Contract: a.catalog.contracts.FeeTokenRef(), Method: "balanceOf", Args: []any{sender}})
	if err != nil {
		return err
	}
	if balance.Cmp(fee) < 0 {
		return workflow.Invalid("balance", "upload fee is %s, balance is %s",
			types.NewTokenAmount(fee, constants.PriceDecimals), types.NewTokenAmount(balance, constants.PriceDecimals))
	}
	return nil
}

func (a *DefineForSale) Requirement(ctx context.Context, sender common.Address) (*allowance.Requirement, error) {
	if a.fee == nil {
		fee, err := a.catalog.FreshUploadFee(ctx)
		if err != nil {
			return nil, err
		}
		a.fee = fee
	}
	return &allowance.Requirement{
		Owner:   sender,
		Spender: a.catalog.contracts.Sales,
		Token:   a.catalog.contracts.FeeTokenRef(),
		Amount:  new(big.Int).Set(a.fee),
	}, nil
}

func (a *DefineForSale) Call() chains.Call {
	fee := a.fee
	if fee == nil {
		fee = new(big.Int)
	}
	return chains.Call{
		Contract: a.catalog.contracts.SalesRef(),
		Method:   "defineEbookForSale",
		Args:     []any{a.MetadataURI, a.Price.Int(), a.Split.CreatorBPS(), a.Split.DistributorBPS(), new(big.Int).Set(fee)},
	}
}

func (a *DefineForSale) Value() *big.Int { return nil }

func (a *DefineForSale) Affects(sender common.Address) []string {
	return []string{
		cache.ListingsTopic,
		cache.BalanceTopic(sender, a.catalog.contracts.FeeToken),
	}
}

// ValidatePrice accepts positive prices with at most two fractional digits and
// seven integer digits
func ValidatePrice(price types.TokenAmount) error {
	if price.Sign() <= 0 {
		return workflow.Invalid("price", "must be greater than zero")
	}
	if price.FractionDigits() > constants.PriceMaxFraction {
		return workflow.Invalid("price", "at most %d decimal places", constants.PriceMaxFraction)
	}
	intPart, _, _ := strings.Cut(price.String(), ".")
	if len(intPart) > constants.PriceMaxIntegerLen {
		return workflow.Invalid("price", "at most %d integer digits", constants.PriceMaxIntegerLen)
	}
	return nil
}

// Purchase buys one copy of an ebook, optionally crediting a referrer. It is gated
// by the price, paid in the sales token to the sales contract.
type Purchase struct {
	ID        types.ContentID
	Referrer  common.Address
	Exclusive bool

	catalog *Catalog
	price   *big.Int
}

func (c *Catalog) NewPurchase(id types.ContentID, referrer common.Address) *Purchase {
	return &Purchase{ID: id, Referrer: referrer, catalog: c}
}

func (a *Purchase) Name() string { return "purchase" }

func (a *Purchase) Validate(ctx context.Context) error {
	if err := a.catalog.ValidateReferrer(ctx, a.Referrer); err != nil {
		var readErr *chains.ReadError
		if errors.As(err, &readErr) {
			return err
		}
		return workflow.Invalid("referrer", "%v", err)
	}
	return nil
}

// ValidateSender reads the current price and checks the sender can pay it
func (a *Purchase) ValidateSender(ctx context.Context, sender common.Address) error {
	price, err := a.catalog.FreshPrice(ctx, a.ID)
	if err != nil {
		return err
	}
	if price.Sign() <= 0 {
		return workflow.Invalid("price", "ebook %s is not for sale", a.ID)
	}
	a.price = price

	balance, err := chains.ReadBig(ctx, a.catalog.client, chains.Call{Contract: a.catalog.contracts.SalesTokenRef(), Method: "balanceOf", Args: []any{sender}})
	if err != nil {
		return err
	}
	if balance.Cmp(price) < 0 {
		return workflow.Invalid("balance", "price is %s, balance is %s",
			types.NewTokenAmount(price, constants.PriceDecimals), types.NewTokenAmount(balance, constants.PriceDecimals))
	}
	return nil
}

func (a *Purchase) Requirement(ctx context.Context, sender common.Address) (*allowance.Requirement, error) {
	if a.price == nil {
		price, err := a.catalog.FreshPrice(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		a.price = price
	}
	return &allowance.Requirement{
		Owner:   sender,
		Spender: a.catalog.contracts.Sales,
		Token:   a.catalog.contracts.SalesTokenRef(),
		Amount:  new(big.Int).Set(a.price),
	}, nil
}

func (a *Purchase) Call() chains.Call {
	return chains.Call{
		Contract: a.catalog.contracts.SalesRef(),
		Method:   "purchaseEbook",
		Args:     []any{a.ID.Big(), a.Referrer, a.Exclusive},
	}
}

func (a *Purchase) Value() *big.Int { return nil }

func (a *Purchase) Affects(sender common.Address) []string {
	topics := []string{
		cache.OwnershipTopic(sender),
		cache.BalanceTopic(sender, a.catalog.contracts.SalesToken),
		cache.ListingTopic(a.ID),
		cache.ListingsTopic,
	}
	if a.Referrer != (common.Address{}) {
		topics = append(topics, cache.EarningsTopic(a.Referrer))
	}
	return topics
}

// Role selects which earnings a withdrawal claims
type Role string

const (
	RoleAuthor      Role = "author"
	RoleDistributor Role = "distributor"
)

// Withdraw claims the sender's author or distributor earnings. It is not fee-gated.
type Withdraw struct {
	Role Role

	catalog *Catalog
}

func (c *Catalog) NewWithdraw(role Role) *Withdraw {
	return &Withdraw{Role: role, catalog: c}
}

func (a *Withdraw) Name() string { return "withdraw-" + string(a.Role) }

func (a *Withdraw) Validate(ctx context.Context) error {
	switch a.Role {
	case RoleAuthor, RoleDistributor:
		return nil
	default:
		return workflow.Invalid("role", "must be %q or %q, got %q", RoleAuthor, RoleDistributor, a.Role)
	}
}

// ValidateSender refuses a withdrawal of nothing
func (a *Withdraw) ValidateSender(ctx context.Context, sender common.Address) error {
	method := "authorEarnings"
	if a.Role == RoleDistributor {
		method = "distributorEarnings"
	}
	balance, err := chains.ReadBig(ctx, a.catalog.client, chains.Call{Contract: a.catalog.contracts.RevenueRef(), Method: method, Args: []any{sender}})
	if err != nil {
		return err
	}
	if balance.Sign() == 0 {
		return workflow.Invalid("earnings", "no %s earnings to withdraw", a.Role)
	}
	return nil
}

func (a *Withdraw) Requirement(ctx context.Context, sender common.Address) (*allowance.Requirement, error) {
	return nil, nil
}

func (a *Withdraw) Call() chains.Call {
	method := "withdrawAuthorEarnings"
	if a.Role == RoleDistributor {
		method = "withdrawDistributorEarnings"
	}
	return chains.Call{Contract: a.catalog.contracts.RevenueRef(), Method: method}
}

func (a *Withdraw) Value() *big.Int { return nil }

func (a *Withdraw) Affects(sender common.Address) []string {
	return []string{
		cache.EarningsTopic(sender),
		cache.BalanceTopic(sender, a.catalog.contracts.SalesToken),
	}
}
