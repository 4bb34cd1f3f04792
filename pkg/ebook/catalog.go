package ebook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/cache"
	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/metadata"
	"github.com/sigweihq/ebookpay/pkg/ownership"
	"github.com/sigweihq/ebookpay/pkg/types"
)

var (
	ErrInvalidReferrer = errors.New("referrer holds no ebook NFT")
	ErrNotOwned        = errors.New("ebook is not owned by this account")
	ErrNotListed       = errors.New("ebook is not available for sale")
)

// Details is a listing with its royalty split and resolved metadata
type Details struct {
	types.Listing
	Split    types.RoyaltySplit
	Metadata *types.ContentMetadata
}

// LibraryItem is an owned copy; MetadataErr is set when its document could not be fetched
type LibraryItem struct {
	types.OwnedCopy
	MetadataErr error `json:"-"`
}

// Earnings are the withdrawable balances of an account
type Earnings struct {
	Author      types.TokenAmount `json:"author"`
	Distributor types.TokenAmount `json:"distributor"`
}

// Total is the sum of both earnings
func (e Earnings) Total() types.TokenAmount {
	return types.NewTokenAmount(new(big.Int).Add(e.Author.Int(), e.Distributor.Int()), constants.PriceDecimals)
}

type CatalogOptions struct {
	Client    chains.ChainClient
	Contracts Contracts
	Resolver  *metadata.Resolver
	Oracle    *ownership.Oracle
	// TTL bounds how long cached reads are served; zero uses constants.CacheRefreshInterval
	TTL    time.Duration
	Logger *slog.Logger
}

// Catalog reads the store: listings, prices, splits, libraries and earnings.
// Reads go through caches that a cache.Bus invalidates after confirmed writes.
type Catalog struct {
	client    chains.ChainClient
	contracts Contracts
	resolver  *metadata.Resolver
	oracle    *ownership.Oracle
	logger    *slog.Logger

	listings  *cache.Store[[]types.Listing]
	amounts   *cache.Store[*big.Int]
	documents *cache.Store[*types.ContentMetadata]
}

func NewCatalog(opts CatalogOptions) *Catalog {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	oracle := opts.Oracle
	if oracle == nil {
		oracle = ownership.NewOracle(opts.Client, opts.Contracts.NFTRef(), ownership.Enumerate, logger)
	}
	return &Catalog{
		client:    opts.Client,
		contracts: opts.Contracts,
		resolver:  opts.Resolver,
		oracle:    oracle,
		logger:    logger,
		listings:  cache.NewStore[[]types.Listing](opts.TTL),
		amounts:   cache.NewStore[*big.Int](opts.TTL),
		documents: cache.NewStore[*types.ContentMetadata](opts.TTL),
	}
}

// Stores returns the caches to attach to an invalidation bus
func (c *Catalog) Stores() []cache.Invalidator {
	return []cache.Invalidator{c.listings, c.amounts}
}

func (c *Catalog) Contracts() Contracts {
	return c.contracts
}

func (c *Catalog) Oracle() *ownership.Oracle {
	return c.oracle
}

func (c *Catalog) Resolver() *metadata.Resolver {
	return c.resolver
}

// ListAvailable returns every ebook currently offered for sale
func (c *Catalog) ListAvailable(ctx context.Context) ([]types.Listing, error) {
	return c.listings.Get(ctx, "available", []string{cache.ListingsTopic}, func(ctx context.Context) ([]types.Listing, error) {
		call := chains.Call{Contract: c.contracts.SalesRef(), Method: "getAllAvailableEbooks"}
		out, err := c.client.Read(ctx, call)
		if err != nil {
			return nil, err
		}
		return decodeListings(call, out)
	})
}

func decodeListings(call chains.Call, out []any) ([]types.Listing, error) {
	if len(out) != 4 {
		return nil, &chains.ReadError{Call: call.String(), Err: fmt.Errorf("expected 4 outputs, got %d", len(out))}
	}
	ids, ok1 := out[0].([]*big.Int)
	uris, ok2 := out[1].([]string)
	prices, ok3 := out[2].([]*big.Int)
	creators, ok4 := out[3].([]common.Address)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, &chains.ReadError{Call: call.String(), Err: fmt.Errorf("unexpected output types %T %T %T %T", out[0], out[1], out[2], out[3])}
	}
	if len(uris) != len(ids) || len(prices) != len(ids) || len(creators) != len(ids) {
		return nil, &chains.ReadError{Call: call.String(), Err: fmt.Errorf("mismatched output lengths")}
	}

	listings := make([]types.Listing, 0, len(ids))
	for i, raw := range ids {
		id, err := types.ContentIDFromBig(raw)
		if err != nil {
			return nil, &chains.ReadError{Call: call.String(), Err: err}
		}
		listings = append(listings, types.Listing{
			ContentID:   id,
			MetadataURI: uris[i],
			Price:       types.NewTokenAmount(prices[i], constants.PriceDecimals),
			Creator:     creators[i],
		})
	}
	return listings, nil
}

// Details reads price and split of one ebook and resolves its metadata
func (c *Catalog) Details(ctx context.Context, id types.ContentID) (*Details, error) {
	listings, err := c.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	var listing *types.Listing
	for i := range listings {
		if listings[i].ContentID == id {
			listing = &listings[i]
			break
		}
	}
	if listing == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotListed, id)
	}

	d := &Details{Listing: *listing}
	price, err := c.Price(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Price = price

	authorBPS, err := c.amount(ctx, "author_bps:"+id.String(), cache.ListingTopic(id), c.salesCall("getEbookAuthorShareBPS", id.Big()))
	if err != nil {
		return nil, err
	}
	referrerBPS, err := c.amount(ctx, "referrer_bps:"+id.String(), cache.ListingTopic(id), c.salesCall("getEbookReferrerShareBPS", id.Big()))
	if err != nil {
		return nil, err
	}
	d.AuthorShareBPS, d.ReferrerShareBPS = authorBPS, referrerBPS
	if d.Split, err = d.Listing.Split(); err != nil {
		return nil, err
	}

	if c.resolver != nil {
		md, err := c.Metadata(ctx, listing.MetadataURI)
		if err != nil {
			return nil, err
		}
		d.Metadata = md
	}
	return d, nil
}

// Price reads the current price of an ebook
func (c *Catalog) Price(ctx context.Context, id types.ContentID) (types.TokenAmount, error) {
	v, err := c.amount(ctx, "price:"+id.String(), cache.ListingTopic(id), c.salesCall("getEbookPrice", id.Big()))
	if err != nil {
		return types.TokenAmount{}, err
	}
	return types.NewTokenAmount(v, constants.PriceDecimals), nil
}

// FreshPrice reads the price bypassing the cache, for use right before a purchase
func (c *Catalog) FreshPrice(ctx context.Context, id types.ContentID) (*big.Int, error) {
	return chains.ReadBig(ctx, c.client, c.salesCall("getEbookPrice", id.Big()))
}

// UploadFee is the fee-token amount charged for listing an ebook
func (c *Catalog) UploadFee(ctx context.Context) (types.TokenAmount, error) {
	v, err := c.amount(ctx, "upload_fee", cache.ListingsTopic, c.salesCall("UPLOAD_FEE"))
	if err != nil {
		return types.TokenAmount{}, err
	}
	return types.NewTokenAmount(v, constants.PriceDecimals), nil
}

// FreshUploadFee reads the fee bypassing the cache
func (c *Catalog) FreshUploadFee(ctx context.Context) (*big.Int, error) {
	return chains.ReadBig(ctx, c.client, c.salesCall("UPLOAD_FEE"))
}

// Balance reads holder's balance of an ERC-20 token
func (c *Catalog) Balance(ctx context.Context, token chains.ContractRef, holder common.Address) (types.TokenAmount, error) {
	call := chains.Call{Contract: token, Method: "balanceOf", Args: []any{holder}}
	v, err := c.amount(ctx, "balance:"+token.Address.Hex()+":"+holder.Hex(), cache.BalanceTopic(holder, token.Address), call)
	if err != nil {
		return types.TokenAmount{}, err
	}
	return types.NewTokenAmount(v, constants.PriceDecimals), nil
}

// ValidateReferrer accepts the zero address (no referrer) and any account holding
// at least one ebook NFT
func (c *Catalog) ValidateReferrer(ctx context.Context, referrer common.Address) error {
	if referrer == (common.Address{}) {
		return nil
	}
	balance, err := c.oracle.Balance(ctx, referrer)
	if err != nil {
		return err
	}
	if balance == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidReferrer, types.CanonicalAddress(referrer))
	}
	return nil
}

// Library lists the copies holder owns. A copy whose metadata cannot be fetched
// is still listed with MetadataErr set.
func (c *Catalog) Library(ctx context.Context, holder common.Address) ([]LibraryItem, error) {
	copies, err := c.oracle.OwnedTokens(ctx, holder)
	if err != nil {
		return nil, err
	}

	items := make([]LibraryItem, 0, len(copies))
	for _, cp := range copies {
		item := LibraryItem{OwnedCopy: cp}
		if c.resolver != nil {
			md, err := c.Metadata(ctx, cp.TokenURI)
			if err != nil {
				c.logger.Warn("failed to resolve library metadata", "token_id", cp.TokenID.String(), "uri", cp.TokenURI, "error", err)
				item.MetadataErr = err
			}
			item.Metadata = md
		}
		items = append(items, item)
	}
	return items, nil
}

// Earnings reads the author and distributor balances of account
func (c *Catalog) Earnings(ctx context.Context, account common.Address) (Earnings, error) {
	topic := cache.EarningsTopic(account)
	revenue := c.contracts.RevenueRef()

	author, err := c.amount(ctx, "author_earnings:"+account.Hex(), topic, chains.Call{Contract: revenue, Method: "authorEarnings", Args: []any{account}})
	if err != nil {
		return Earnings{}, err
	}
	distributor, err := c.amount(ctx, "distributor_earnings:"+account.Hex(), topic, chains.Call{Contract: revenue, Method: "distributorEarnings", Args: []any{account}})
	if err != nil {
		return Earnings{}, err
	}
	return Earnings{
		Author:      types.NewTokenAmount(author, constants.PriceDecimals),
		Distributor: types.NewTokenAmount(distributor, constants.PriceDecimals),
	}, nil
}

// Metadata resolves a document; documents are immutable so they share one cache
func (c *Catalog) Metadata(ctx context.Context, pointer string) (*types.ContentMetadata, error) {
	if c.resolver == nil {
		return nil, errors.New("no metadata resolver configured")
	}
	return c.documents.Get(ctx, pointer, nil, func(ctx context.Context) (*types.ContentMetadata, error) {
		return c.resolver.Resolve(ctx, pointer)
	})
}

// OpenBook opens the file of an ebook holder owns. The caller must close the reader.
func (c *Catalog) OpenBook(ctx context.Context, holder common.Address, id types.ContentID) (*types.ContentMetadata, io.ReadCloser, error) {
	if c.resolver == nil {
		return nil, nil, errors.New("no metadata resolver configured")
	}
	token, ok, err := c.oracle.TokenFor(ctx, holder, id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotOwned, id)
	}

	uri, err := chains.ReadValue[string](ctx, c.client, chains.Call{Contract: c.contracts.NFTRef(), Method: "tokenURI", Args: []any{token.Big()}})
	if err != nil {
		return nil, nil, err
	}
	md, err := c.Metadata(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	rc, err := c.resolver.FetchFile(ctx, md.FileURI)
	if err != nil {
		return nil, nil, err
	}
	return md, rc, nil
}

func (c *Catalog) salesCall(method string, args ...any) chains.Call {
	return chains.Call{Contract: c.contracts.SalesRef(), Method: method, Args: args}
}

func (c *Catalog) amount(ctx context.Context, key, topic string, call chains.Call) (*big.Int, error) {
	v, err := c.amounts.Get(ctx, key, []string{topic}, func(ctx context.Context) (*big.Int, error) {
		return chains.ReadBig(ctx, c.client, call)
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(v), nil
}
