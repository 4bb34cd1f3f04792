package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sigweihq/ebookpay/pkg/types"
)

// ParseTxHash validates a 32-byte transaction hash, with or without 0x prefix
func ParseTxHash(s string) (common.Hash, error) {
	txHash := strings.TrimSpace(s)
	if !strings.HasPrefix(txHash, "0x") {
		txHash = "0x" + txHash
	}

	if len(txHash) != 66 { // 0x + 64 hex chars
		return common.Hash{}, fmt.Errorf("invalid transaction hash format: %s", s)
	}
	for _, r := range txHash[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return common.Hash{}, fmt.Errorf("invalid transaction hash format: %s", s)
		}
	}

	return common.HexToHash(txHash), nil
}

func toReceipt(r *ethtypes.Receipt) *types.TxReceipt {
	receipt := &types.TxReceipt{
		Hash:    r.TxHash,
		GasUsed: r.GasUsed,
		Status:  types.TxFailed,
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.Status == ethtypes.ReceiptStatusSuccessful {
		receipt.Status = types.TxSucceeded
	}
	return receipt
}
