package evm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeRevert(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		reason   string
		isRevert bool
	}{
		{name: "nil", err: nil},
		{name: "transport", err: errors.New("connection refused")},
		{name: "bare revert", err: errors.New("execution reverted"), reason: "execution reverted", isRevert: true},
		{name: "revert with reason", err: errors.New("execution reverted: Invalid referrer"), reason: "Invalid referrer", isRevert: true},
		{name: "wrapped", err: fmt.Errorf("call failed: %w", errors.New("execution reverted: Price must be positive")), reason: "Price must be positive", isRevert: true},
		{name: "custom error data", err: &jsonRPCError{code: 3, msg: "execution reverted", data: "0xdeadbeef"}, reason: "execution reverted", isRevert: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, _, ok := decodeRevert(tt.err)
			assert.Equal(t, tt.isRevert, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestDecodeRevertErrorString(t *testing.T) {
	err := &jsonRPCError{code: 3, msg: "execution reverted", data: revertPayload(t, "Insufficient allowance")}
	reason, data, ok := decodeRevert(err)
	assert.True(t, ok)
	assert.Equal(t, "Insufficient allowance", reason)
	assert.NotEmpty(t, data)
}

func TestIsRejection(t *testing.T) {
	assert.True(t, isRejection(&jsonRPCError{code: -32000, msg: "nonce too low"}))
	assert.True(t, isRejection(fmt.Errorf("send: %w", &jsonRPCError{code: -32000, msg: "nonce too low"})))
	assert.False(t, isRejection(errors.New("unexpected EOF")))
}

func TestParseTxHash(t *testing.T) {
	valid := "0x" + "ab12000000000000000000000000000000000000000000000000000000000001"
	tests := []struct {
		input   string
		wantErr bool
	}{
		{input: valid},
		{input: valid[2:]},
		{input: "0x1234", wantErr: true},
		{input: "0x" + "zz12000000000000000000000000000000000000000000000000000000000001", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			hash, err := ParseTxHash(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, valid, hash.Hex())
		})
	}
}
