package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransferEventSignature ERC-20 与 ERC-721 共用的事件签名
const TransferEventSignature = "Transfer(address,address,uint256)"

// TransferEventTopic Transfer 事件的 topic0
// ERC-20 的数量不建索引（3个topic），ERC-721 的代币ID建索引（4个topic）
var TransferEventTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// fungibleDataLen ERC-20 Transfer 的非索引数据长度
const fungibleDataLen = 32

// IsFungibleShape 是否为 ERC-20 形状：3个topic且数据为32字节
func IsFungibleShape(log *types.Log) bool {
	return len(log.Topics) == 3 && len(log.Data) == fungibleDataLen
}

// TokenIDFromLog 从 ERC-721 Transfer 事件中取代币ID（topic3）
func TokenIDFromLog(log *types.Log) (*big.Int, bool) {
	if len(log.Topics) != 4 {
		return nil, false
	}
	return log.Topics[3].Big(), true
}

// IsBurn 接收方为零地址
func IsBurn(log *types.Log) bool {
	return len(log.Topics) >= 3 && log.Topics[2] == (common.Hash{})
}

// Recipient 接收方地址
func Recipient(log *types.Log) (common.Address, bool) {
	if len(log.Topics) < 3 {
		return common.Address{}, false
	}
	return common.BytesToAddress(log.Topics[2].Bytes()), true
}
