package ebook

import (
	"bytes"
	"math/big"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/cache"
	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/chains/chainstest"
	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/metadata"
	"github.com/sigweihq/ebookpay/pkg/pinning"
	"github.com/sigweihq/ebookpay/pkg/types"
	"github.com/sigweihq/ebookpay/pkg/workflow"
	"github.com/stretchr/testify/require"
)

var (
	buyer    = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	author   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	referrer = common.HexToAddress("0x00000000000000000000000000000000000000a2")

	testContracts = Contracts{
		NFT:        common.HexToAddress("0x00000000000000000000000000000000000000b0"),
		Sales:      common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		SalesToken: common.HexToAddress("0x00000000000000000000000000000000000000c0"),
		FeeToken:   common.HexToAddress("0x00000000000000000000000000000000000000c1"),
	}
)

// wei parses a decimal price into sales-token base units
func wei(t *testing.T, s string) *big.Int {
	t.Helper()
	amount, err := types.ParseTokenAmount(s, constants.PriceDecimals)
	require.NoError(t, err)
	return amount.Int()
}

type book struct {
	id          int64
	uri         string
	price       *big.Int
	creator     common.Address
	authorBPS   int64
	referrerBPS int64
}

// market is a chain holding the sales distributor, the ebook NFT and two ERC-20
// tokens. Sent transactions change its state the way the deployed contracts do.
type market struct {
	*chainstest.Client

	mu         sync.Mutex
	books      []book
	fee        *big.Int
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	tokens     map[common.Address][]int64
	contentOf  map[int64]int64
	earnings   map[common.Address]map[string]*big.Int
	nextToken  int64
}

func newMarket() *market {
	m := &market{
		Client:     chainstest.New(),
		fee:        big.NewInt(0),
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		tokens:     make(map[common.Address][]int64),
		contentOf:  make(map[int64]int64),
		earnings:   make(map[common.Address]map[string]*big.Int),
		nextToken:  100,
	}

	m.OnRead("sales_distributor.getAllAvailableEbooks", func(chains.Call) ([]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		var ids, prices []*big.Int
		var uris []string
		var creators []common.Address
		for _, b := range m.books {
			if b.price.Sign() == 0 {
				continue
			}
			ids = append(ids, big.NewInt(b.id))
			uris = append(uris, b.uri)
			prices = append(prices, new(big.Int).Set(b.price))
			creators = append(creators, b.creator)
		}
		return []any{ids, uris, prices, creators}, nil
	})
	m.OnRead("sales_distributor.getEbookPrice", m.bookField(func(b book) *big.Int { return b.price }))
	m.OnRead("sales_distributor.getEbookAuthorShareBPS", m.bookField(func(b book) *big.Int { return big.NewInt(b.authorBPS) }))
	m.OnRead("sales_distributor.getEbookReferrerShareBPS", m.bookField(func(b book) *big.Int { return big.NewInt(b.referrerBPS) }))
	m.OnRead("sales_distributor.UPLOAD_FEE", func(chains.Call) ([]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return []any{new(big.Int).Set(m.fee)}, nil
	})

	m.OnRead("erc20.balanceOf", func(call chains.Call) ([]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return []any{amountOf(m.balances, call.Contract.Address, call.Args[0].(common.Address))}, nil
	})
	m.OnRead("erc20.allowance", func(call chains.Call) ([]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return []any{amountOf(m.allowances, call.Contract.Address, call.Args[0].(common.Address))}, nil
	})

	m.OnRead("ebook_nft.balanceOf", func(call chains.Call) ([]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return []any{big.NewInt(int64(len(m.tokens[call.Args[0].(common.Address)])))}, nil
	})
	m.OnRead("ebook_nft.tokenOfOwnerByIndex", func(call chains.Call) ([]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		owned := m.tokens[call.Args[0].(common.Address)]
		return []any{big.NewInt(owned[call.Args[1].(*big.Int).Int64()])}, nil
	})
	m.OnRead("ebook_nft.getEbookIdByTokenId", func(call chains.Call) ([]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return []any{big.NewInt(m.contentOf[call.Args[0].(*big.Int).Int64()])}, nil
	})
	m.OnRead("ebook_nft.tokenURI", func(call chains.Call) ([]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		content := m.contentOf[call.Args[0].(*big.Int).Int64()]
		for _, b := range m.books {
			if b.id == content {
				return []any{b.uri}, nil
			}
		}
		return []any{""}, nil
	})
	m.OnRead("ebook_nft.hasEbookNFTByEbookId", func(call chains.Call) ([]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		want := call.Args[1].(*big.Int).Int64()
		for _, token := range m.tokens[call.Args[0].(common.Address)] {
			if m.contentOf[token] == want {
				return []any{true}, nil
			}
		}
		return []any{false}, nil
	})

	m.OnRead("revenue_distribution.authorEarnings", m.earningsOf("author"))
	m.OnRead("revenue_distribution.distributorEarnings", m.earningsOf("distributor"))

	m.OnSend(m.apply)
	return m
}

func (m *market) bookField(field func(book) *big.Int) chainstest.ReadFunc {
	return func(call chains.Call) ([]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		id := call.Args[0].(*big.Int).Int64()
		for _, b := range m.books {
			if b.id == id {
				return []any{new(big.Int).Set(field(b))}, nil
			}
		}
		return []any{new(big.Int)}, nil
	}
}

func (m *market) earningsOf(kind string) chainstest.ReadFunc {
	return func(call chains.Call) ([]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		v := m.earnings[call.Args[0].(common.Address)][kind]
		if v == nil {
			v = new(big.Int)
		}
		return []any{new(big.Int).Set(v)}, nil
	}
}

func amountOf(table map[common.Address]map[common.Address]*big.Int, token, holder common.Address) *big.Int {
	v := table[token][holder]
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func adjust(table map[common.Address]map[common.Address]*big.Int, token, holder common.Address, delta *big.Int) {
	if table[token] == nil {
		table[token] = make(map[common.Address]*big.Int)
	}
	table[token][holder] = new(big.Int).Add(amountOf(table, token, holder), delta)
}

// apply executes a broadcast transaction against the market state
func (m *market) apply(req *types.TxRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch req.Method {
	case "approve":
		if m.allowances[req.To] == nil {
			m.allowances[req.To] = make(map[common.Address]*big.Int)
		}
		m.allowances[req.To][req.From] = new(big.Int).Set(req.Args[1].(*big.Int))
	case "defineEbookForSale":
		fee := req.Args[4].(*big.Int)
		adjust(m.balances, testContracts.FeeToken, req.From, new(big.Int).Neg(fee))
		m.books = append(m.books, book{
			id:          int64(len(m.books) + 1),
			uri:         req.Args[0].(string),
			price:       new(big.Int).Set(req.Args[1].(*big.Int)),
			creator:     req.From,
			authorBPS:   req.Args[2].(*big.Int).Int64(),
			referrerBPS: req.Args[3].(*big.Int).Int64(),
		})
	case "purchaseEbook":
		id := req.Args[0].(*big.Int).Int64()
		ref := req.Args[1].(common.Address)
		for _, b := range m.books {
			if b.id != id {
				continue
			}
			adjust(m.balances, testContracts.SalesToken, req.From, new(big.Int).Neg(b.price))
			m.credit(b.creator, "author", share(b.price, b.authorBPS))
			if ref != (common.Address{}) {
				m.credit(ref, "distributor", share(b.price, b.referrerBPS))
			}
			m.nextToken++
			m.tokens[req.From] = append(m.tokens[req.From], m.nextToken)
			m.contentOf[m.nextToken] = id
		}
	case "withdrawAuthorEarnings", "withdrawDistributorEarnings":
		kind := "author"
		if req.Method == "withdrawDistributorEarnings" {
			kind = "distributor"
		}
		if v := m.earnings[req.From][kind]; v != nil {
			adjust(m.balances, testContracts.SalesToken, req.From, v)
			m.earnings[req.From][kind] = new(big.Int)
		}
	}
	return nil
}

func (m *market) credit(account common.Address, kind string, amount *big.Int) {
	if m.earnings[account] == nil {
		m.earnings[account] = make(map[string]*big.Int)
	}
	prev := m.earnings[account][kind]
	if prev == nil {
		prev = new(big.Int)
	}
	m.earnings[account][kind] = new(big.Int).Add(prev, amount)
}

func share(price *big.Int, bps int64) *big.Int {
	v := new(big.Int).Mul(price, big.NewInt(bps))
	return v.Div(v, big.NewInt(constants.BPSBase))
}

func (m *market) list(b book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books = append(m.books, b)
}

func (m *market) fund(token, holder common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	adjust(m.balances, token, holder, amount)
}

func (m *market) mint(holder common.Address, content int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextToken++
	m.tokens[holder] = append(m.tokens[holder], m.nextToken)
	m.contentOf[m.nextToken] = content
}

func (m *market) setFee(fee *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fee = fee
}

func (m *market) balance(token, holder common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return amountOf(m.balances, token, holder)
}

// fixture wires a catalog and a workflow over a market, with documents served
// from an in-memory pinning store
type fixture struct {
	market  *market
	store   *pinning.MemoryStore
	catalog *Catalog
	bus     *cache.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := pinning.NewMemoryStore()
	gateway := httptest.NewServer(store)
	t.Cleanup(gateway.Close)

	resolver, err := metadata.NewResolver(metadata.Options{Gateway: gateway.URL, Attempts: 1, Backoff: time.Millisecond})
	require.NoError(t, err)

	m := newMarket()
	catalog := NewCatalog(CatalogOptions{Client: m, Contracts: testContracts, Resolver: resolver, TTL: time.Minute})
	return &fixture{
		market:  m,
		store:   store,
		catalog: catalog,
		bus:     cache.NewBus(catalog.Stores()...),
	}
}

func (f *fixture) workflow(account common.Address) *workflow.Workflow {
	return workflow.New(workflow.Options{Client: f.market, Accounts: workflow.StaticAccount(account), Bus: f.bus})
}

// publishDocument uploads a metadata document and its file, returning the document pointer
func (f *fixture) publishDocument(t *testing.T, name, content string) string {
	t.Helper()
	ctx := t.Context()
	file, err := f.store.Upload(ctx, name+".pdf", strings.NewReader(content))
	require.NoError(t, err)
	doc, err := metadata.NewDocument(metadata.DocumentInput{
		Name:     name,
		Author:   "Lu Xun",
		Category: "fiction",
		Price:    types.NewTokenAmount(big.NewInt(1), constants.PriceDecimals),
		ImageURI: file,
		FileURI:  file,
		FileType: "application/pdf",
		FileSize: int64(len(content)),
	})
	require.NoError(t, err)
	raw, err := doc.MarshalJSON()
	require.NoError(t, err)
	pointer, err := f.store.Upload(ctx, "metadata.json", bytes.NewReader(raw))
	require.NoError(t, err)
	return pointer
}

func mustRawCID(t *testing.T, data string) string {
	t.Helper()
	id, err := pinning.RawCID([]byte(data))
	require.NoError(t, err)
	return id.String()
}
