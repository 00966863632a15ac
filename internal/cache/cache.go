package cache

import (
	"bytes"
	"math/big"
	"sort"
	"strings"
	"sync"

	scanerrors "tokenscan/internal/errors"
	"tokenscan/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

// TemplateStopThreshold 单模板已验证代币数超过该值后不再抓取URI
const TemplateStopThreshold = 5

// TemplatePlaceholder 模板中代币ID（十进制）的占位符
const TemplatePlaceholder = "{id}"

// URITemplate 对一批代币验证过的URI模板
type URITemplate struct {
	Template         string   `json:"template"`
	VerifiedTokenIDs []string `json:"verified_token_ids"`
}

// ContractData 单个合约的缓存条目
// 代币ID以十进制字符串保存
type ContractData struct {
	Type              models.ContractType `json:"type"`
	TokenURIs         map[string]string   `json:"token_uris,omitempty"`
	Templates         []URITemplate       `json:"templates,omitempty"`
	UncheckedTokenIDs []string            `json:"unchecked_token_ids,omitempty"`
}

func (d *ContractData) clone() *ContractData {
	out := &ContractData{Type: d.Type}
	if d.TokenURIs != nil {
		out.TokenURIs = make(map[string]string, len(d.TokenURIs))
		for k, v := range d.TokenURIs {
			out.TokenURIs[k] = v
		}
	}
	if d.Templates != nil {
		out.Templates = make([]URITemplate, len(d.Templates))
		for i, t := range d.Templates {
			out.Templates[i] = URITemplate{
				Template:         t.Template,
				VerifiedTokenIDs: append([]string(nil), t.VerifiedTokenIDs...),
			}
		}
	}
	if d.UncheckedTokenIDs != nil {
		out.UncheckedTokenIDs = append([]string(nil), d.UncheckedTokenIDs...)
	}
	return out
}

// Cache 合约分类和代币URI缓存
type Cache struct {
	mu        sync.RWMutex
	contracts map[common.Address]*ContractData
}

// New 创建空缓存
func New() *Cache {
	return &Cache{contracts: make(map[common.Address]*ContractData)}
}

func newFromEntries(entries map[common.Address]*ContractData) *Cache {
	if entries == nil {
		entries = make(map[common.Address]*ContractData)
	}
	return &Cache{contracts: entries}
}

// GetType 已保存的合约分类
func (c *Cache) GetType(addr common.Address) (models.ContractType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.contracts[addr]
	if !ok {
		return models.ContractType{}, false
	}
	return d.Type, true
}

// StoreType 保存分类，已存在时保留原值并返回原值
func (c *Cache) StoreType(addr common.Address, t models.ContractType) models.ContractType {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.contracts[addr]; ok {
		return d.Type
	}
	c.contracts[addr] = &ContractData{Type: t}
	return t
}

// entry 取得条目，必须持有写锁
func (c *Cache) entry(addr common.Address) (*ContractData, error) {
	d, ok := c.contracts[addr]
	if !ok {
		return nil, scanerrors.NewContractNotFoundError(addr.Hex())
	}
	return d, nil
}

// RecordUncheckedToken 记录存在但未抓取元数据的代币
func (c *Cache) RecordUncheckedToken(addr common.Address, tokenID *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.entry(addr)
	if err != nil {
		return err
	}
	id := tokenID.String()
	for _, existing := range d.UncheckedTokenIDs {
		if existing == id {
			return nil
		}
	}
	d.UncheckedTokenIDs = append(d.UncheckedTokenIDs, id)
	return nil
}

// RecordTokenURI 保存单个代币的URI
func (c *Cache) RecordTokenURI(addr common.Address, tokenID *big.Int, uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.entry(addr)
	if err != nil {
		return err
	}
	if d.TokenURIs == nil {
		d.TokenURIs = make(map[string]string)
	}
	d.TokenURIs[tokenID.String()] = uri
	return nil
}

// RecordTemplate 把代币加入模板的已验证集合，模板不存在时创建
// 不做模板推断，只由调用方显式登记
func (c *Cache) RecordTemplate(addr common.Address, template string, tokenID *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.entry(addr)
	if err != nil {
		return err
	}
	id := tokenID.String()
	for i := range d.Templates {
		if d.Templates[i].Template != template {
			continue
		}
		for _, existing := range d.Templates[i].VerifiedTokenIDs {
			if existing == id {
				return nil
			}
		}
		d.Templates[i].VerifiedTokenIDs = append(d.Templates[i].VerifiedTokenIDs, id)
		return nil
	}
	d.Templates = append(d.Templates, URITemplate{Template: template, VerifiedTokenIDs: []string{id}})
	return nil
}

// TokenURI 查询代币URI，先查单独保存的URI，再查已验证该代币的模板
func (c *Cache) TokenURI(addr common.Address, tokenID *big.Int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.contracts[addr]
	if !ok {
		return "", false
	}
	id := tokenID.String()
	if uri, ok := d.TokenURIs[id]; ok {
		return uri, true
	}
	for _, t := range d.Templates {
		for _, verified := range t.VerifiedTokenIDs {
			if verified == id {
				return strings.ReplaceAll(t.Template, TemplatePlaceholder, id), true
			}
		}
	}
	return "", false
}

// WantMoreURIs 是否还值得为该合约抓取代币URI
// 只有一个模板且已验证代币数超过阈值时返回 false
func (c *Cache) WantMoreURIs(addr common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.contracts[addr]
	if !ok {
		return true
	}
	return !(len(d.Templates) == 1 && len(d.Templates[0].VerifiedTokenIDs) > TemplateStopThreshold)
}

// Entry 条目副本
func (c *Cache) Entry(addr common.Address) (ContractData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.contracts[addr]
	if !ok {
		return ContractData{}, false
	}
	return *d.clone(), true
}

// Addresses 按地址排序的合约列表
func (c *Cache) Addresses() []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]common.Address, 0, len(c.contracts))
	for addr := range c.contracts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// Len 合约数量
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.contracts)
}

// Summary 缓存统计
type Summary struct {
	Contracts int            `json:"contracts"`
	ByType    map[string]int `json:"by_type"`
	TokenURIs int            `json:"token_uris"`
	Templates int            `json:"templates"`
	Unchecked int            `json:"unchecked_tokens"`
}

// Summary 统计各类合约和URI数量
func (c *Cache) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Summary{Contracts: len(c.contracts), ByType: make(map[string]int)}
	for _, d := range c.contracts {
		s.ByType[d.Type.Kind.String()]++
		s.TokenURIs += len(d.TokenURIs)
		s.Templates += len(d.Templates)
		s.Unchecked += len(d.UncheckedTokenIDs)
	}
	return s
}

// snapshot 全部条目的副本
func (c *Cache) snapshot() map[common.Address]*ContractData {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[common.Address]*ContractData, len(c.contracts))
	for addr, d := range c.contracts {
		out[addr] = d.clone()
	}
	return out
}
