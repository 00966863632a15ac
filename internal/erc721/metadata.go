package erc721

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"tokenscan/internal/chain"
	"tokenscan/internal/decoder"
	scanerrors "tokenscan/internal/errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultGas tokenURI 调用的gas上限
const DefaultGas = 300000

// ErrMalformedURI tokenURI 返回值不是合法的ABI字符串
var ErrMalformedURI = errors.New("tokenURI 返回值无法解码")

// MetadataReader 读取 ERC-721 元数据扩展
type MetadataReader struct {
	caller chain.Caller
	gas    uint64
}

// NewMetadataReader 创建元数据读取器，gas 为 0 时使用 DefaultGas
func NewMetadataReader(caller chain.Caller, gas uint64) *MetadataReader {
	if gas == 0 {
		gas = DefaultGas
	}
	return &MetadataReader{caller: caller, gas: gas}
}

// TokenURI 调用 tokenURI(tokenID)
// 回滚（代币不存在或已销毁）时 ok 为 false 且不返回错误
// 返回值无法解码时错误包含 ErrMalformedURI，调用方可以跳过该代币
func (r *MetadataReader) TokenURI(ctx context.Context, addr common.Address, tokenID *big.Int) (string, bool, error) {
	data, err := decoder.EncodeTokenURI(tokenID)
	if err != nil {
		return "", false, err
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &addr,
		Gas:  r.gas,
		Data: data,
	}, nil)
	if err != nil {
		if chain.IsExecutionReverted(err) {
			return "", false, nil
		}
		return "", false, scanerrors.NewRPCError("tokenURI", err).
			WithAddress(addr.Hex()).
			WithContext("token_id", tokenID.String()).
			WithComponent("erc721")
	}

	uri, err := decoder.DecodeString(out)
	if err != nil {
		return "", false, scanerrors.WrapError(fmt.Errorf("%w: %v", ErrMalformedURI, err),
			scanerrors.ErrorTypeRPC, scanerrors.SeverityLow, scanerrors.CodeMalformedReturn, "tokenURI 返回值无法解码").
			WithAddress(addr.Hex()).
			WithContext("token_id", tokenID.String()).
			WithComponent("erc721")
	}
	return uri, true, nil
}
