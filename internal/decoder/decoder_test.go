package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorsMatchSignatures(t *testing.T) {
	assert.Equal(t, SelectorSupportsInterface, MethodSelector("supportsInterface(bytes4)"))
	assert.Equal(t, SelectorTokenURI, MethodSelector("tokenURI(uint256)"))
	assert.Equal(t, "0x01ffc9a7", SelectorSupportsInterface.Hex())
}

func TestTransferEventTopic(t *testing.T) {
	assert.Equal(t, crypto.Keccak256Hash([]byte(TransferEventSignature)), TransferEventTopic)
}

func TestEncodeSupportsInterface(t *testing.T) {
	data := EncodeSupportsInterface([4]byte{0x80, 0xac, 0x58, 0xcd})

	require.Len(t, data, 36)
	assert.Equal(t, []byte{0x01, 0xff, 0xc9, 0xa7}, data[:4])
	// 接口ID右填充
	assert.Equal(t, []byte{0x80, 0xac, 0x58, 0xcd}, data[4:8])
	assert.Equal(t, make([]byte, 28), data[8:])
	assert.Equal(t, "supportsInterface(bytes4)", MethodName(data))
}

func TestEncodeTokenURI(t *testing.T) {
	data, err := EncodeTokenURI(big.NewInt(258))
	require.NoError(t, err)

	require.Len(t, data, 36)
	assert.Equal(t, SelectorTokenURI[:], data[:4])
	assert.Equal(t, byte(0x01), data[34])
	assert.Equal(t, byte(0x02), data[35])

	_, err = EncodeTokenURI(big.NewInt(-1))
	assert.Error(t, err)
	_, err = EncodeTokenURI(nil)
	assert.Error(t, err)
}

func TestDecodeString(t *testing.T) {
	uri := "ipfs://QmExample/1.json"
	got, err := DecodeString(EncodeString(uri))
	require.NoError(t, err)
	assert.Equal(t, uri, got)

	_, err = DecodeString([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestMethodName_Unknown(t *testing.T) {
	assert.Equal(t, "0xa9059cbb", MethodName([]byte{0xa9, 0x05, 0x9c, 0xbb, 0x00}))
	assert.Equal(t, "unknown", MethodName(nil))
}

func TestLogShapes(t *testing.T) {
	from := common.BytesToHash(common.HexToAddress("0x1111111111111111111111111111111111111111").Bytes())
	to := common.BytesToHash(common.HexToAddress("0x2222222222222222222222222222222222222222").Bytes())

	erc20 := &types.Log{
		Topics: []common.Hash{TransferEventTopic, from, to},
		Data:   common.LeftPadBytes([]byte{0x64}, 32),
	}
	erc721 := &types.Log{
		Topics: []common.Hash{TransferEventTopic, from, to, common.BigToHash(big.NewInt(42))},
	}
	burn := &types.Log{
		Topics: []common.Hash{TransferEventTopic, from, {}, common.BigToHash(big.NewInt(7))},
	}

	assert.True(t, IsFungibleShape(erc20))
	assert.False(t, IsFungibleShape(erc721))
	assert.False(t, IsFungibleShape(&types.Log{Topics: erc20.Topics, Data: make([]byte, 64)}))

	id, ok := TokenIDFromLog(erc721)
	require.True(t, ok)
	assert.Equal(t, int64(42), id.Int64())
	_, ok = TokenIDFromLog(erc20)
	assert.False(t, ok)

	assert.False(t, IsBurn(erc721))
	assert.True(t, IsBurn(burn))
	assert.False(t, IsBurn(&types.Log{Topics: []common.Hash{TransferEventTopic}}))

	addr, ok := Recipient(erc721)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), addr)
}

func TestBool32(t *testing.T) {
	assert.Equal(t, byte(1), Bool32(true)[31])
	assert.Equal(t, make([]byte, 32), Bool32(false))
}
