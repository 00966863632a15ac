package erc165

import (
	"context"
	"fmt"

	"tokenscan/internal/chain"
	"tokenscan/internal/decoder"
	scanerrors "tokenscan/internal/errors"
	"tokenscan/internal/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// InterfaceID 4字节接口ID
type InterfaceID [4]byte

func (id InterfaceID) String() string {
	return fmt.Sprintf("0x%x", id[:])
}

// 标准接口ID
var (
	InterfaceERC165           = InterfaceID{0x01, 0xff, 0xc9, 0xa7}
	InterfaceInvalid          = InterfaceID{0xff, 0xff, 0xff, 0xff}
	InterfaceERC721           = InterfaceID{0x80, 0xac, 0x58, 0xcd}
	InterfaceERC721Metadata   = InterfaceID{0x5b, 0x5e, 0x13, 0x9f}
	InterfaceERC721Enumerable = InterfaceID{0x78, 0x0e, 0x9d, 0x63}
)

// DefaultGas supportsInterface 调用的gas上限
const DefaultGas = 30000

// Prober 通过 supportsInterface 探测合约能力
type Prober struct {
	caller chain.Caller
	gas    uint64
}

// NewProber 创建探测器，gas 为 0 时使用 DefaultGas
func NewProber(caller chain.Caller, gas uint64) *Prober {
	if gas == 0 {
		gas = DefaultGas
	}
	return &Prober{caller: caller, gas: gas}
}

// SupportsInterfaceUnchecked 调用 supportsInterface(id)，不先确认合约支持ERC-165
// 回滚和格式错误的返回值都视为不支持
func (p *Prober) SupportsInterfaceUnchecked(ctx context.Context, addr common.Address, id InterfaceID) (bool, error) {
	out, err := p.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &addr,
		Gas:  p.gas,
		Data: decoder.EncodeSupportsInterface(id),
	}, nil)
	if err != nil {
		if chain.IsExecutionReverted(err) {
			metrics.ProbeCalls.WithLabelValues("reverted").Inc()
			return false, nil
		}
		metrics.ProbeCalls.WithLabelValues("error").Inc()
		return false, scanerrors.NewRPCError("supportsInterface", err).
			WithAddress(addr.Hex()).
			WithContext("interface_id", id.String()).
			WithComponent("erc165")
	}

	supported := DecodeBool(out)
	if supported {
		metrics.ProbeCalls.WithLabelValues("supported").Inc()
	} else {
		metrics.ProbeCalls.WithLabelValues("unsupported").Inc()
	}
	return supported, nil
}

// IsERC165 合约是否实现ERC-165
// 要求对 0x01ffc9a7 返回 true 且对 0xffffffff 返回 false，排除对任意ID都返回 true 的合约
func (p *Prober) IsERC165(ctx context.Context, addr common.Address) (bool, error) {
	ok, err := p.SupportsInterfaceUnchecked(ctx, addr, InterfaceERC165)
	if err != nil || !ok {
		return false, err
	}
	invalid, err := p.SupportsInterfaceUnchecked(ctx, addr, InterfaceInvalid)
	if err != nil {
		return false, err
	}
	return !invalid, nil
}

// SupportsInterface 先确认ERC-165再探测接口
func (p *Prober) SupportsInterface(ctx context.Context, addr common.Address, id InterfaceID) (bool, error) {
	ok, err := p.IsERC165(ctx, addr)
	if err != nil || !ok {
		return false, err
	}
	return p.SupportsInterfaceUnchecked(ctx, addr, id)
}

// DecodeBool 解析 supportsInterface 返回值
// 只有32字节、前31字节为0且最后一字节为 0x01 时为 true
func DecodeBool(out []byte) bool {
	if len(out) != 32 {
		return false
	}
	for _, b := range out[:31] {
		if b != 0 {
			return false
		}
	}
	return out[31] == 1
}
