package evm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// UnsupportedNetworkError is returned when a network is not supported
type UnsupportedNetworkError struct {
	Network string
}

func (e *UnsupportedNetworkError) Error() string {
	return fmt.Sprintf("unsupported network: %s", e.Network)
}

// RPCError represents an RPC-related error
type RPCError struct {
	Endpoint string
	Err      error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error on %s: %v", e.Endpoint, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

const revertPrefix = "execution reverted"

// decodeRevert extracts the revert reason of a failed eth_call or eth_estimateGas.
// Nodes attach the raw revert payload as JSON-RPC error data; when it is an
// Error(string) payload the decoded string is returned, otherwise the node message.
func decodeRevert(err error) (reason string, data []byte, ok bool) {
	if err == nil {
		return "", nil, false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, isString := dataErr.ErrorData().(string); isString {
			if decoded, decodeErr := hexutil.Decode(hexData); decodeErr == nil {
				data = decoded
				if unpacked, unpackErr := abi.UnpackRevert(decoded); unpackErr == nil {
					return unpacked, data, true
				}
			}
		}
		return trimRevertPrefix(dataErr.Error()), data, true
	}

	msg := err.Error()
	if strings.Contains(msg, revertPrefix) {
		return trimRevertPrefix(msg), nil, true
	}
	return "", nil, false
}

func trimRevertPrefix(msg string) string {
	idx := strings.Index(msg, revertPrefix)
	if idx < 0 {
		return msg
	}
	rest := strings.TrimPrefix(msg[idx+len(revertPrefix):], ":")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return revertPrefix
	}
	return rest
}

// isRejection reports whether a broadcast error is a JSON-RPC error response,
// meaning the node received and refused the transaction
func isRejection(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}
