package ebook

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/cache"
	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterABIs(t *testing.T) {
	registry := chains.NewABIRegistry()
	require.NoError(t, RegisterABIs(registry))
	assert.Equal(t, []string{ContractNFT, ContractERC20, ContractRevenue, ContractSales}, registry.Names())

	_, err := registry.Pack(ContractSales, "defineEbookForSale", "ipfs://doc", big.NewInt(999), big.NewInt(7000), big.NewInt(1500), big.NewInt(10))
	require.NoError(t, err)
	_, err = registry.Pack(ContractSales, "purchaseEbook", big.NewInt(1), common.Address{}, false)
	require.NoError(t, err)
	_, err = registry.Pack(ContractRevenue, "withdrawAuthorEarnings")
	require.NoError(t, err)

	listing, err := registry.Method(ContractSales, "getAllAvailableEbooks")
	require.NoError(t, err)
	assert.Len(t, listing.Outputs, 4)

	_, err = registry.Method(ContractNFT, "hasEbookNFTByEbookId")
	require.NoError(t, err)
}

func TestContractsValidate(t *testing.T) {
	require.NoError(t, testContracts.Validate())
	assert.Equal(t, testContracts.Sales, testContracts.RevenueRef().Address)

	separate := testContracts
	separate.Revenue = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	assert.Equal(t, separate.Revenue, separate.RevenueRef().Address)
	assert.Equal(t, ContractRevenue, separate.RevenueRef().Name)

	missing := testContracts
	missing.FeeToken = common.Address{}
	assert.ErrorContains(t, missing.Validate(), "fee_token")
}

func TestListAvailable(t *testing.T) {
	f := newFixture(t)
	f.market.list(book{id: 1, uri: "ipfs://one", price: wei(t, "9.99"), creator: author, authorBPS: 7000, referrerBPS: 1500})
	f.market.list(book{id: 2, uri: "ipfs://two", price: wei(t, "120"), creator: author, authorBPS: 8500, referrerBPS: 0})

	listings, err := f.catalog.ListAvailable(context.Background())
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.EqualValues(t, 1, listings[0].ContentID)
	assert.Equal(t, "ipfs://one", listings[0].MetadataURI)
	assert.Equal(t, "9.99", listings[0].Price.String())
	assert.Equal(t, author, listings[0].Creator)
	assert.Equal(t, "120", listings[1].Price.String())

	_, err = f.catalog.ListAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.market.Reads("sales_distributor.getAllAvailableEbooks"))

	f.bus.Invalidate(cache.ListingsTopic)
	_, err = f.catalog.ListAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.market.Reads("sales_distributor.getAllAvailableEbooks"))
}

func TestDecodeListingsRejectsMalformedOutput(t *testing.T) {
	call := chains.Call{Contract: testContracts.SalesRef(), Method: "getAllAvailableEbooks"}
	ids := []*big.Int{big.NewInt(1)}
	uris := []string{"ipfs://one"}
	prices := []*big.Int{big.NewInt(5)}
	creators := []common.Address{author}

	tests := []struct {
		name string
		out  []any
	}{
		{name: "wrong arity", out: []any{ids, uris, prices}},
		{name: "wrong types", out: []any{uris, ids, prices, creators}},
		{name: "mismatched lengths", out: []any{ids, []string{}, prices, creators}},
		{name: "id out of range", out: []any{[]*big.Int{big.NewInt(-1)}, uris, prices, creators}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeListings(call, tt.out)
			var readErr *chains.ReadError
			assert.ErrorAs(t, err, &readErr)
		})
	}

	listings, err := decodeListings(call, []any{ids, uris, prices, creators})
	require.NoError(t, err)
	assert.Len(t, listings, 1)
}

func TestDetails(t *testing.T) {
	f := newFixture(t)
	pointer := f.publishDocument(t, "Call to Arms", "%PDF-1.7")
	f.market.list(book{id: 1, uri: pointer, price: wei(t, "9.99"), creator: author, authorBPS: 7000, referrerBPS: 1500})

	d, err := f.catalog.Details(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "9.99", d.Price.String())
	assert.Equal(t, 70, d.Split.CreatorPct)
	assert.Equal(t, 15, d.Split.DistributorPct)
	assert.Equal(t, 15, d.Split.PlatformPct)
	require.NotNil(t, d.Metadata)
	assert.Equal(t, "Call to Arms", d.Metadata.Name)
	assert.Equal(t, "Lu Xun", metadata.Summarize(d.Metadata).Author)

	_, err = f.catalog.Details(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotListed)
}

func TestDetailsRejectsPartialPercentSplit(t *testing.T) {
	f := newFixture(t)
	f.market.list(book{id: 1, uri: "ipfs://one", price: wei(t, "1"), creator: author, authorBPS: 7050, referrerBPS: 1450})

	_, err := f.catalog.Details(context.Background(), 1)
	assert.Error(t, err)
}

func TestPriceIsCachedUntilListingChanges(t *testing.T) {
	f := newFixture(t)
	f.market.list(book{id: 1, uri: "ipfs://one", price: wei(t, "2.5"), creator: author, authorBPS: 7000, referrerBPS: 1500})

	for range 3 {
		price, err := f.catalog.Price(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "2.5", price.String())
	}
	assert.Equal(t, 1, f.market.Reads("sales_distributor.getEbookPrice"))

	fresh, err := f.catalog.FreshPrice(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, wei(t, "2.5"), fresh)
	assert.Equal(t, 2, f.market.Reads("sales_distributor.getEbookPrice"))

	f.bus.Invalidate(cache.ListingTopic(1))
	_, err = f.catalog.Price(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, f.market.Reads("sales_distributor.getEbookPrice"))
}

func TestValidateReferrer(t *testing.T) {
	f := newFixture(t)
	f.market.mint(referrer, 1)

	require.NoError(t, f.catalog.ValidateReferrer(context.Background(), common.Address{}))
	assert.Equal(t, 0, f.market.Reads(""))

	require.NoError(t, f.catalog.ValidateReferrer(context.Background(), referrer))
	assert.ErrorIs(t, f.catalog.ValidateReferrer(context.Background(), buyer), ErrInvalidReferrer)
}

func TestLibrary(t *testing.T) {
	f := newFixture(t)
	pointer := f.publishDocument(t, "Wild Grass", "poems")
	f.market.list(book{id: 1, uri: pointer, price: wei(t, "1"), creator: author, authorBPS: 7000, referrerBPS: 1500})
	f.market.list(book{id: 2, uri: "ipfs://not-a-cid", price: wei(t, "1"), creator: author, authorBPS: 7000, referrerBPS: 1500})
	f.market.mint(buyer, 1)
	f.market.mint(buyer, 2)

	items, err := f.catalog.Library(context.Background(), buyer)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.EqualValues(t, 1, items[0].ContentID)
	require.NoError(t, items[0].MetadataErr)
	assert.Equal(t, "Wild Grass", items[0].Metadata.Name)

	assert.EqualValues(t, 2, items[1].ContentID)
	assert.ErrorIs(t, items[1].MetadataErr, metadata.ErrMalformedPointer)
	assert.Nil(t, items[1].Metadata)

	empty, err := f.catalog.Library(context.Background(), referrer)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEarnings(t *testing.T) {
	f := newFixture(t)
	f.market.mu.Lock()
	f.market.credit(author, "author", wei(t, "6.99"))
	f.market.credit(author, "distributor", wei(t, "1.5"))
	f.market.mu.Unlock()

	earnings, err := f.catalog.Earnings(context.Background(), author)
	require.NoError(t, err)
	assert.Equal(t, "6.99", earnings.Author.String())
	assert.Equal(t, "1.5", earnings.Distributor.String())
	assert.Equal(t, "8.49", earnings.Total().String())

	none, err := f.catalog.Earnings(context.Background(), buyer)
	require.NoError(t, err)
	assert.True(t, none.Total().IsZero())
}

func TestOpenBook(t *testing.T) {
	f := newFixture(t)
	pointer := f.publishDocument(t, "Old Tales Retold", "%PDF-1.7 chapter one")
	f.market.list(book{id: 1, uri: pointer, price: wei(t, "3"), creator: author, authorBPS: 7000, referrerBPS: 1500})
	f.market.mint(buyer, 1)

	md, rc, err := f.catalog.OpenBook(context.Background(), buyer, 1)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "Old Tales Retold", md.Name)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 chapter one", string(body))

	_, _, err = f.catalog.OpenBook(context.Background(), referrer, 1)
	assert.ErrorIs(t, err, ErrNotOwned)
}

func TestCatalogReadErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("node down")
	f.market.OnRead("sales_distributor.getAllAvailableEbooks", func(call chains.Call) ([]any, error) {
		return nil, &chains.ReadError{Call: call.String(), Err: boom}
	})

	_, err := f.catalog.ListAvailable(context.Background())
	assert.ErrorIs(t, err, boom)
}
