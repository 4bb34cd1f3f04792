package ownership

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/types"
)

// Strategy selects how ownership of a content id is determined
type Strategy int

const (
	// Enumerate walks the holder's tokens (balanceOf, tokenOfOwnerByIndex) and maps
	// each to its content id. It needs only the standard enumerable interface.
	Enumerate Strategy = iota
	// Direct asks the contract with a single hasEbookNFTByEbookId read
	Direct
)

func (s Strategy) String() string {
	switch s {
	case Enumerate:
		return "enumerate"
	case Direct:
		return "direct"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

const (
	methodBalanceOf         = "balanceOf"
	methodTokenOfOwnerByIdx = "tokenOfOwnerByIndex"
	methodContentIDOfToken  = "getEbookIdByTokenId"
	methodHasContent        = "hasEbookNFTByEbookId"
	methodTokenURI          = "tokenURI"
)

// Oracle answers whether an address holds a copy of a content id
type Oracle struct {
	client   chains.ChainClient
	nft      chains.ContractRef
	strategy Strategy
	logger   *slog.Logger
}

func NewOracle(client chains.ChainClient, nft chains.ContractRef, strategy Strategy, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{
		client:   client,
		nft:      nft,
		strategy: strategy,
		logger:   logger,
	}
}

func (o *Oracle) Strategy() Strategy {
	return o.strategy
}

// OwnsContent reads the chain without memoization. Use a View to share answers.
func (o *Oracle) OwnsContent(ctx context.Context, holder common.Address, id types.ContentID) (bool, error) {
	if o.strategy == Direct {
		return chains.ReadValue[bool](ctx, o.client, o.call(methodHasContent, holder, id.Big()))
	}

	balance, err := o.balance(ctx, holder)
	if err != nil {
		return false, err
	}
	for i := uint64(0); i < balance; i++ {
		tokenID, err := o.tokenByIndex(ctx, holder, i)
		if err != nil {
			return false, err
		}
		contentID, err := o.contentOf(ctx, tokenID)
		if err != nil {
			return false, err
		}
		if contentID == id {
			return true, nil
		}
	}
	return false, nil
}

// OwnedTokens enumerates every copy the holder owns with its content id and token URI
func (o *Oracle) OwnedTokens(ctx context.Context, holder common.Address) ([]types.OwnedCopy, error) {
	balance, err := o.balance(ctx, holder)
	if err != nil {
		return nil, err
	}

	copies := make([]types.OwnedCopy, 0, balance)
	for i := uint64(0); i < balance; i++ {
		tokenID, err := o.tokenByIndex(ctx, holder, i)
		if err != nil {
			return nil, err
		}
		contentID, err := o.contentOf(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		uri, err := chains.ReadValue[string](ctx, o.client, o.call(methodTokenURI, tokenID.Big()))
		if err != nil {
			return nil, err
		}
		copies = append(copies, types.OwnedCopy{TokenID: tokenID, ContentID: contentID, TokenURI: uri})
	}

	o.logger.Debug("enumerated owned tokens", "holder", types.CanonicalAddress(holder), "count", len(copies))
	return copies, nil
}

// TokenFor returns the first token of holder that is a copy of id
func (o *Oracle) TokenFor(ctx context.Context, holder common.Address, id types.ContentID) (types.TokenID, bool, error) {
	balance, err := o.balance(ctx, holder)
	if err != nil {
		return 0, false, err
	}
	for i := uint64(0); i < balance; i++ {
		tokenID, err := o.tokenByIndex(ctx, holder, i)
		if err != nil {
			return 0, false, err
		}
		contentID, err := o.contentOf(ctx, tokenID)
		if err != nil {
			return 0, false, err
		}
		if contentID == id {
			return tokenID, true, nil
		}
	}
	return 0, false, nil
}

// Balance returns the number of copies holder owns across all content
func (o *Oracle) Balance(ctx context.Context, holder common.Address) (uint64, error) {
	return o.balance(ctx, holder)
}

func (o *Oracle) call(method string, args ...any) chains.Call {
	return chains.Call{Contract: o.nft, Method: method, Args: args}
}

func (o *Oracle) balance(ctx context.Context, holder common.Address) (uint64, error) {
	call := o.call(methodBalanceOf, holder)
	v, err := chains.ReadBig(ctx, o.client, call)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, &chains.ReadError{Call: call.String(), Err: fmt.Errorf("balance %s out of range", v)}
	}
	return v.Uint64(), nil
}

func (o *Oracle) tokenByIndex(ctx context.Context, holder common.Address, index uint64) (types.TokenID, error) {
	v, err := chains.ReadBig(ctx, o.client, o.call(methodTokenOfOwnerByIdx, holder, new(big.Int).SetUint64(index)))
	if err != nil {
		return 0, err
	}
	return types.TokenIDFromBig(v)
}

func (o *Oracle) contentOf(ctx context.Context, tokenID types.TokenID) (types.ContentID, error) {
	v, err := chains.ReadBig(ctx, o.client, o.call(methodContentIDOfToken, tokenID.Big()))
	if err != nil {
		return 0, err
	}
	return types.ContentIDFromBig(v)
}
