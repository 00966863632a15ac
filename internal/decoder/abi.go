package decoder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Selector 4字节方法选择器
type Selector [4]byte

// Hex 带0x前缀的十六进制表示
func (s Selector) Hex() string {
	return fmt.Sprintf("0x%x", s[:])
}

// 已知方法选择器
var (
	SelectorSupportsInterface = Selector{0x01, 0xff, 0xc9, 0xa7} // supportsInterface(bytes4)
	SelectorTokenURI          = Selector{0xc8, 0x7b, 0x56, 0xdd} // tokenURI(uint256)
)

// knownMethods 选择器到方法签名的映射，用于日志
var knownMethods = map[Selector]string{
	SelectorSupportsInterface: "supportsInterface(bytes4)",
	SelectorTokenURI:          "tokenURI(uint256)",
}

// MethodSelector 根据方法签名计算选择器
func MethodSelector(signature string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(signature))[:4])
	return s
}

// MethodName 返回调用数据对应的方法签名，未知时返回选择器
func MethodName(data []byte) string {
	if len(data) < 4 {
		return "unknown"
	}
	var s Selector
	copy(s[:], data[:4])
	if name, ok := knownMethods[s]; ok {
		return name
	}
	return s.Hex()
}

var (
	bytes4Args  = abi.Arguments{{Type: mustNewType("bytes4")}}
	uint256Args = abi.Arguments{{Type: mustNewType("uint256")}}
	stringArgs  = abi.Arguments{{Type: mustNewType("string")}}
)

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("无效的ABI类型 %s: %v", t, err))
	}
	return typ
}

// EncodeSupportsInterface 编码 supportsInterface(bytes4) 调用数据
// 接口ID右填充到32字节参数槽
func EncodeSupportsInterface(interfaceID [4]byte) []byte {
	args, err := bytes4Args.Pack(interfaceID)
	if err != nil {
		// bytes4 参数长度固定，不会失败
		panic(fmt.Sprintf("编码接口ID失败: %v", err))
	}
	return append(SelectorSupportsInterface[:], args...)
}

// EncodeTokenURI 编码 tokenURI(uint256) 调用数据
func EncodeTokenURI(tokenID *big.Int) ([]byte, error) {
	if tokenID == nil || tokenID.Sign() < 0 {
		return nil, fmt.Errorf("无效的代币ID: %v", tokenID)
	}
	args, err := uint256Args.Pack(tokenID)
	if err != nil {
		return nil, fmt.Errorf("编码代币ID失败: %w", err)
	}
	return append(SelectorTokenURI[:], args...), nil
}

// DecodeString 解码ABI编码的 string 返回值
func DecodeString(data []byte) (string, error) {
	values, err := stringArgs.Unpack(data)
	if err != nil {
		return "", fmt.Errorf("解码字符串返回值失败: %w", err)
	}
	if len(values) != 1 {
		return "", fmt.Errorf("返回值数量异常: %d", len(values))
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("返回值类型异常: %T", values[0])
	}
	return s, nil
}

// EncodeString 把字符串编码为ABI返回值，供测试桩使用
func EncodeString(s string) []byte {
	data, err := stringArgs.Pack(s)
	if err != nil {
		panic(fmt.Sprintf("编码字符串失败: %v", err))
	}
	return data
}

// Bool32 ABI编码的布尔返回值
func Bool32(v bool) []byte {
	out := make([]byte, 32)
	if v {
		out[31] = 1
	}
	return out
}
