package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// ContractKind 合约分类的种类
type ContractKind int

const (
	// KindUnknown 不支持ERC-165且事件形状不像ERC-20
	KindUnknown ContractKind = iota
	// KindUnknownERC165 支持ERC-165但不是ERC-721
	KindUnknownERC165
	// KindERC721 ERC-721代币合约
	KindERC721
	// KindMaybeERC20 不支持ERC-165，但Transfer事件形状与ERC-20一致
	KindMaybeERC20
)

// 快照文件中使用的名称（与历史 contracts.json 保持一致）
const (
	kindNameUnknown       = "Unknown"
	kindNameUnknownERC165 = "UnknownERC165"
	kindNameERC721        = "ERC721"
	kindNameMaybeERC20    = "MaybeERC20"
)

var contractKindNames = map[ContractKind]string{
	KindUnknown:       kindNameUnknown,
	KindUnknownERC165: kindNameUnknownERC165,
	KindERC721:        kindNameERC721,
	KindMaybeERC20:    kindNameMaybeERC20,
}

// String 返回种类名称
func (k ContractKind) String() string {
	if name, ok := contractKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(k))
}

// ContractType 合约分类结果
// Metadata 和 Enumerable 只在 Kind == KindERC721 时有意义
type ContractType struct {
	Kind       ContractKind
	Metadata   bool
	Enumerable bool
}

// 便利构造函数
var (
	TypeUnknown       = ContractType{Kind: KindUnknown}
	TypeUnknownERC165 = ContractType{Kind: KindUnknownERC165}
	TypeMaybeERC20    = ContractType{Kind: KindMaybeERC20}
)

// ERC721Type 创建ERC-721分类
func ERC721Type(metadata, enumerable bool) ContractType {
	return ContractType{Kind: KindERC721, Metadata: metadata, Enumerable: enumerable}
}

// IsERC721 是否为ERC-721合约
func (t ContractType) IsERC721() bool {
	return t.Kind == KindERC721
}

// HasMetadata 是否为支持元数据扩展的ERC-721合约
func (t ContractType) HasMetadata() bool {
	return t.IsERC721() && t.Metadata
}

func (t ContractType) String() string {
	if t.Kind == KindERC721 {
		return fmt.Sprintf("ERC721{metadata:%t,enumerable:%t}", t.Metadata, t.Enumerable)
	}
	return t.Kind.String()
}

type erc721Flags struct {
	Metadata   bool `json:"metadata"`
	Enumerable bool `json:"enumerable"`
}

// MarshalJSON 使用外部标签格式：单元变体为字符串，ERC721 为 {"ERC721":{...}}
func (t ContractType) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case KindERC721:
		return json.Marshal(map[string]erc721Flags{
			kindNameERC721: {Metadata: t.Metadata, Enumerable: t.Enumerable},
		})
	case KindUnknown, KindUnknownERC165, KindMaybeERC20:
		return json.Marshal(t.Kind.String())
	default:
		return nil, fmt.Errorf("未知的合约类型: %d", int(t.Kind))
	}
}

// UnmarshalJSON 解析外部标签格式
func (t *ContractType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		switch name {
		case kindNameUnknown:
			*t = TypeUnknown
		case kindNameUnknownERC165:
			*t = TypeUnknownERC165
		case kindNameMaybeERC20:
			*t = TypeMaybeERC20
		default:
			return fmt.Errorf("未知的合约类型: %q", name)
		}
		return nil
	}

	var tagged map[string]erc721Flags
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("解析合约类型失败: %w", err)
	}
	flags, ok := tagged[kindNameERC721]
	if !ok || len(tagged) != 1 {
		return fmt.Errorf("未知的合约类型: %s", string(data))
	}
	*t = ERC721Type(flags.Metadata, flags.Enumerable)
	return nil
}

// ContractRecord 新分类合约的输出记录
type ContractRecord struct {
	Address      string    `json:"address"`
	Type         string    `json:"type"`
	Metadata     bool      `json:"metadata"`
	Enumerable   bool      `json:"enumerable"`
	BlockNumber  uint64    `json:"block_number"`
	TxHash       string    `json:"tx_hash"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// TokenURIRecord 代币元数据URI的输出记录
type TokenURIRecord struct {
	Contract    string    `json:"contract"`
	TokenID     *big.Int  `json:"token_id"`
	URI         string    `json:"uri"`
	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"tx_hash"`
	FetchedAt   time.Time `json:"fetched_at"`
}
