// Package chaintest 提供内存中的节点替身，用于测试分类和日志抓取
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"tokenscan/internal/decoder"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// RPCError 带错误码的JSON-RPC错误
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return e.Message
}

// ErrorCode 实现 rpc.Error
func (e *RPCError) ErrorCode() int {
	return e.Code
}

// TooManyResults 日志查询结果过多
func TooManyResults() error {
	return &RPCError{Code: -32005, Message: "query returned more than 10000 results"}
}

// Reverted 合约调用回滚
func Reverted(code int) error {
	return &RPCError{Code: code, Message: "execution reverted"}
}

// Contract 合约行为
type Contract struct {
	// Interfaces 支持的接口ID
	Interfaces map[[4]byte]bool
	// AlwaysTrue 对任意接口都返回 true
	AlwaysTrue bool
	// RevertCode 非零时 supportsInterface 以该错误码回滚
	RevertCode int
	// Raw 覆盖指定接口的原始返回值
	Raw map[[4]byte][]byte
	// TokenURIs 代币ID（十进制）到URI
	TokenURIs map[string]string
	// TokenURIRevertCode tokenURI 未找到时的回滚码，默认 3
	TokenURIRevertCode int
	// RawTokenURIs 代币ID（十进制）到 tokenURI 的原始返回值
	RawTokenURIs map[string][]byte
	// Err 任意调用都返回该错误
	Err error
}

// Supports 声明支持的接口
func (c *Contract) Supports(ids ...[4]byte) *Contract {
	for _, id := range ids {
		c.Interfaces[id] = true
	}
	return c
}

// WithTokenURI 设置代币URI
func (c *Contract) WithTokenURI(id int64, uri string) *Contract {
	c.TokenURIs[big.NewInt(id).String()] = uri
	return c
}

// Call 一次 eth_call 记录
type Call struct {
	To       common.Address
	Selector [4]byte
	Data     []byte
	Gas      uint64
}

// Query 一次 eth_getLogs 记录
type Query struct {
	From, To uint64
	Err      error
	Results  int
}

// Backend 内存节点
type Backend struct {
	mu        sync.Mutex
	contracts map[common.Address]*Contract
	logs      []types.Log
	calls     []Call
	queries   []Query
	head      uint64

	// MaxResults 单次查询结果超过该值时返回 -32005，0 表示不限
	MaxResults int
	// FilterErr 非空时所有日志查询返回该错误
	FilterErr error
}

// NewBackend 创建内存节点
func NewBackend() *Backend {
	return &Backend{
		contracts: make(map[common.Address]*Contract),
	}
}

// AddContract 注册合约
func (b *Backend) AddContract(addr common.Address) *Contract {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &Contract{
		Interfaces: make(map[[4]byte]bool),
		Raw:        make(map[[4]byte][]byte),
		TokenURIs:  make(map[string]string),
	}
	b.contracts[addr] = c
	return c
}

// AddLogs 添加日志，按区块和索引排序
func (b *Backend) AddLogs(logs ...types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logs = append(b.logs, logs...)
	sort.SliceStable(b.logs, func(i, j int) bool {
		if b.logs[i].BlockNumber != b.logs[j].BlockNumber {
			return b.logs[i].BlockNumber < b.logs[j].BlockNumber
		}
		return b.logs[i].Index < b.logs[j].Index
	})
	for _, l := range logs {
		if l.BlockNumber > b.head {
			b.head = l.BlockNumber
		}
	}
}

// SetHead 设置最新区块号
func (b *Backend) SetHead(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = n
}

// CallContract 实现 chain.Caller
func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.To == nil {
		return nil, fmt.Errorf("缺少目标地址")
	}
	if len(msg.Data) < 4 {
		return nil, Reverted(3)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var selector [4]byte
	copy(selector[:], msg.Data[:4])
	b.calls = append(b.calls, Call{
		To:       *msg.To,
		Selector: selector,
		Data:     append([]byte(nil), msg.Data...),
		Gas:      msg.Gas,
	})

	contract, ok := b.contracts[*msg.To]
	if !ok {
		// 普通账户返回空数据
		return []byte{}, nil
	}
	if contract.Err != nil {
		return nil, contract.Err
	}

	switch decoder.Selector(selector) {
	case decoder.SelectorSupportsInterface:
		if len(msg.Data) < 36 {
			return nil, Reverted(3)
		}
		if contract.RevertCode != 0 {
			return nil, Reverted(contract.RevertCode)
		}
		var id [4]byte
		copy(id[:], msg.Data[4:8])
		if raw, ok := contract.Raw[id]; ok {
			return raw, nil
		}
		return decoder.Bool32(contract.AlwaysTrue || contract.Interfaces[id]), nil

	case decoder.SelectorTokenURI:
		if len(msg.Data) < 36 {
			return nil, Reverted(3)
		}
		id := new(big.Int).SetBytes(msg.Data[4:36])
		if raw, ok := contract.RawTokenURIs[id.String()]; ok {
			return raw, nil
		}
		if uri, ok := contract.TokenURIs[id.String()]; ok {
			return decoder.EncodeString(uri), nil
		}
		code := contract.TokenURIRevertCode
		if code == 0 {
			code = 3
		}
		return nil, Reverted(code)
	}

	return nil, Reverted(3)
}

// FilterLogs 实现 chain.LogFilterer，区块范围两端都包含
func (b *Backend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	from := uint64(0)
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	to := b.head
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	}

	if b.FilterErr != nil {
		b.queries = append(b.queries, Query{From: from, To: to, Err: b.FilterErr})
		return nil, b.FilterErr
	}

	var out []types.Log
	for _, l := range b.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if !matchAddress(q.Addresses, l.Address) || !matchTopics(q.Topics, l.Topics) {
			continue
		}
		out = append(out, l)
	}

	if b.MaxResults > 0 && len(out) > b.MaxResults {
		err := TooManyResults()
		b.queries = append(b.queries, Query{From: from, To: to, Err: err})
		return nil, err
	}
	b.queries = append(b.queries, Query{From: from, To: to, Results: len(out)})
	return out, nil
}

// BlockNumber 最新区块号
func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

// Calls 所有调用记录
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallCount 指定选择器的调用次数
func (b *Backend) CallCount(selector [4]byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, c := range b.calls {
		if c.Selector == selector {
			n++
		}
	}
	return n
}

// Queries 所有日志查询记录
func (b *Backend) Queries() []Query {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Query(nil), b.queries...)
}

func matchAddress(filter []common.Address, addr common.Address) bool {
	if len(filter) == 0 {
		return true
	}
	for _, a := range filter {
		if a == addr {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		found := false
		for _, t := range alternatives {
			if t == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
