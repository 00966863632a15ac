package classifier

import (
	"context"
	"fmt"

	"tokenscan/internal/decoder"
	"tokenscan/internal/erc165"
	"tokenscan/pkg/models"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// Classifier 根据ERC-165探测结果和触发事件的形状对合约分类
type Classifier struct {
	prober *erc165.Prober
	logger *logrus.Logger
}

// New 创建分类器
func New(prober *erc165.Prober, logger *logrus.Logger) *Classifier {
	return &Classifier{prober: prober, logger: logger}
}

// Classify 对触发事件的发出合约分类
//
// 不支持ERC-165时按事件形状区分 MaybeERC20 和 Unknown；
// 支持ERC-165时探测ERC-721，是则分别探测元数据和可枚举扩展，否则为 UnknownERC165。
func (c *Classifier) Classify(ctx context.Context, log *types.Log) (models.ContractType, error) {
	addr := log.Address
	c.logger.Debugf("查询合约类型: %s", addr.Hex())

	isERC165, err := c.prober.IsERC165(ctx, addr)
	if err != nil {
		return models.TypeUnknown, fmt.Errorf("探测合约 %s 的ERC-165支持失败: %w", addr.Hex(), err)
	}
	if !isERC165 {
		if decoder.IsFungibleShape(log) {
			return models.TypeMaybeERC20, nil
		}
		return models.TypeUnknown, nil
	}

	// 已确认支持ERC-165，后续探测不再重复检查
	isERC721, err := c.prober.SupportsInterfaceUnchecked(ctx, addr, erc165.InterfaceERC721)
	if err != nil {
		return models.TypeUnknown, fmt.Errorf("探测合约 %s 的ERC-721支持失败: %w", addr.Hex(), err)
	}
	if !isERC721 {
		return models.TypeUnknownERC165, nil
	}

	metadata, err := c.prober.SupportsInterfaceUnchecked(ctx, addr, erc165.InterfaceERC721Metadata)
	if err != nil {
		return models.TypeUnknown, fmt.Errorf("探测合约 %s 的元数据扩展失败: %w", addr.Hex(), err)
	}
	enumerable, err := c.prober.SupportsInterfaceUnchecked(ctx, addr, erc165.InterfaceERC721Enumerable)
	if err != nil {
		return models.TypeUnknown, fmt.Errorf("探测合约 %s 的可枚举扩展失败: %w", addr.Hex(), err)
	}

	return models.ERC721Type(metadata, enumerable), nil
}
