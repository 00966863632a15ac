package chaintest

import (
	"math/big"

	"tokenscan/internal/decoder"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// FungibleTransfer ERC-20 形状的 Transfer 日志：3个topic，数量在数据中
func FungibleTransfer(contract common.Address, block uint64, index uint, from, to common.Address, amount int64) types.Log {
	return types.Log{
		Address:     contract,
		Topics:      []common.Hash{decoder.TransferEventTopic, addressTopic(from), addressTopic(to)},
		Data:        common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block)<<16 | int64(index))),
	}
}

// TokenTransfer ERC-721 形状的 Transfer 日志：代币ID在topic3
func TokenTransfer(contract common.Address, block uint64, index uint, from, to common.Address, tokenID int64) types.Log {
	return types.Log{
		Address: contract,
		Topics: []common.Hash{
			decoder.TransferEventTopic,
			addressTopic(from),
			addressTopic(to),
			common.BigToHash(big.NewInt(tokenID)),
		},
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block)<<16 | int64(index))),
	}
}
