package cache

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"

	scanerrors "tokenscan/internal/errors"
	"tokenscan/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	addrB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	addrC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func TestStoreType_FirstWriteWins(t *testing.T) {
	c := New()

	_, ok := c.GetType(addrA)
	assert.False(t, ok)

	got := c.StoreType(addrA, models.TypeMaybeERC20)
	assert.Equal(t, models.TypeMaybeERC20, got)

	// 后写入的分类被丢弃，返回已保存的值
	got = c.StoreType(addrA, models.ERC721Type(true, true))
	assert.Equal(t, models.TypeMaybeERC20, got)

	stored, ok := c.GetType(addrA)
	require.True(t, ok)
	assert.Equal(t, models.TypeMaybeERC20, stored)
}

func TestStoreType_ConcurrentRace(t *testing.T) {
	candidates := []models.ContractType{
		models.TypeUnknown,
		models.TypeUnknownERC165,
		models.TypeMaybeERC20,
		models.ERC721Type(true, false),
		models.ERC721Type(false, true),
	}

	for round := 0; round < 50; round++ {
		c := New()
		results := make([]models.ContractType, 64)

		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = c.StoreType(addrA, candidates[i%len(candidates)])
			}(i)
		}
		wg.Wait()

		stored, ok := c.GetType(addrA)
		require.True(t, ok)
		assert.Contains(t, candidates, stored)
		for _, r := range results {
			assert.Equal(t, stored, r, "所有调用方都必须得到同一个值")
		}
		assert.Equal(t, 1, c.Len())
	}
}

func TestRecordOperations_RequireKnownContract(t *testing.T) {
	c := New()

	err := c.RecordTokenURI(addrA, big.NewInt(1), "ipfs://x")
	assert.True(t, errors.Is(err, scanerrors.ErrContractNotFound))

	err = c.RecordUncheckedToken(addrA, big.NewInt(1))
	assert.True(t, errors.Is(err, scanerrors.ErrContractNotFound))

	err = c.RecordTemplate(addrA, "ipfs://x/{id}", big.NewInt(1))
	assert.True(t, errors.Is(err, scanerrors.ErrContractNotFound))
}

func TestTokenURI(t *testing.T) {
	c := New()
	c.StoreType(addrA, models.ERC721Type(true, false))

	_, ok := c.TokenURI(addrA, big.NewInt(1))
	assert.False(t, ok)

	require.NoError(t, c.RecordTokenURI(addrA, big.NewInt(1), "https://example.com/1"))
	uri, ok := c.TokenURI(addrA, big.NewInt(1))
	require.True(t, ok)
	assert.Equal(t, "https://example.com/1", uri)

	require.NoError(t, c.RecordTemplate(addrA, "ipfs://QmBase/{id}.json", big.NewInt(7)))
	uri, ok = c.TokenURI(addrA, big.NewInt(7))
	require.True(t, ok)
	assert.Equal(t, "ipfs://QmBase/7.json", uri)

	// 未验证的代币不套用模板
	_, ok = c.TokenURI(addrA, big.NewInt(8))
	assert.False(t, ok)

	_, ok = c.TokenURI(addrB, big.NewInt(1))
	assert.False(t, ok)
}

func TestRecordUncheckedToken_IsOrderedSet(t *testing.T) {
	c := New()
	c.StoreType(addrA, models.ERC721Type(true, false))

	for _, id := range []int64{5, 3, 5, 9, 3} {
		require.NoError(t, c.RecordUncheckedToken(addrA, big.NewInt(id)))
	}

	entry, ok := c.Entry(addrA)
	require.True(t, ok)
	assert.Equal(t, []string{"5", "3", "9"}, entry.UncheckedTokenIDs)
}

func addTemplate(t *testing.T, c *Cache, addr common.Address, template string, ids int) {
	for i := 0; i < ids; i++ {
		require.NoError(t, c.RecordTemplate(addr, template, big.NewInt(int64(i))))
	}
}

func TestWantMoreURIs(t *testing.T) {
	tests := []struct {
		name      string
		templates []int // 每个模板的已验证代币数
		expected  bool
	}{
		{"无模板", nil, true},
		{"单模板低于阈值", []int{1}, true},
		{"单模板等于阈值", []int{TemplateStopThreshold}, true},
		{"单模板超过阈值", []int{TemplateStopThreshold + 1}, false},
		{"单模板远超阈值", []int{100}, false},
		{"多模板都超过阈值", []int{10, 10}, true},
		{"多模板", []int{6, 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			c.StoreType(addrA, models.ERC721Type(true, false))
			for i, n := range tt.templates {
				addTemplate(t, c, addrA, fmt.Sprintf("ipfs://Qm%d/{id}", i), n)
			}
			assert.Equal(t, tt.expected, c.WantMoreURIs(addrA))
		})
	}

	// 未知合约
	assert.True(t, New().WantMoreURIs(addrC))
}

func TestRecordTemplate_DeduplicatesTokenIDs(t *testing.T) {
	c := New()
	c.StoreType(addrA, models.ERC721Type(true, false))

	for i := 0; i < 10; i++ {
		require.NoError(t, c.RecordTemplate(addrA, "ipfs://Qm/{id}", big.NewInt(1)))
	}
	entry, _ := c.Entry(addrA)
	require.Len(t, entry.Templates, 1)
	assert.Equal(t, []string{"1"}, entry.Templates[0].VerifiedTokenIDs)
	assert.True(t, c.WantMoreURIs(addrA))
}

func TestEntry_ReturnsCopy(t *testing.T) {
	c := New()
	c.StoreType(addrA, models.ERC721Type(true, false))
	require.NoError(t, c.RecordTokenURI(addrA, big.NewInt(1), "a"))

	entry, _ := c.Entry(addrA)
	entry.TokenURIs["1"] = "changed"

	uri, _ := c.TokenURI(addrA, big.NewInt(1))
	assert.Equal(t, "a", uri)
}

func TestAddressesAndSummary(t *testing.T) {
	c := New()
	c.StoreType(addrC, models.TypeUnknown)
	c.StoreType(addrA, models.ERC721Type(true, false))
	c.StoreType(addrB, models.TypeMaybeERC20)
	require.NoError(t, c.RecordTokenURI(addrA, big.NewInt(1), "a"))
	require.NoError(t, c.RecordUncheckedToken(addrA, big.NewInt(2)))

	assert.Equal(t, []common.Address{addrA, addrB, addrC}, c.Addresses())

	s := c.Summary()
	assert.Equal(t, 3, s.Contracts)
	assert.Equal(t, 1, s.ByType["ERC721"])
	assert.Equal(t, 1, s.ByType["MaybeERC20"])
	assert.Equal(t, 1, s.TokenURIs)
	assert.Equal(t, 1, s.Unchecked)
}

func populated(t *testing.T) *Cache {
	c := New()
	c.StoreType(addrA, models.ERC721Type(true, true))
	c.StoreType(addrB, models.TypeMaybeERC20)
	c.StoreType(addrC, models.TypeUnknownERC165)

	huge, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)

	require.NoError(t, c.RecordTokenURI(addrA, big.NewInt(1), "ipfs://one"))
	require.NoError(t, c.RecordTokenURI(addrA, huge, "ipfs://max"))
	require.NoError(t, c.RecordUncheckedToken(addrA, big.NewInt(42)))
	require.NoError(t, c.RecordTemplate(addrA, "ipfs://Qm/{id}", big.NewInt(3)))
	require.NoError(t, c.RecordTemplate(addrA, "ipfs://Qm/{id}", big.NewInt(4)))
	return c
}

func assertSameCache(t *testing.T, expected, actual *Cache) {
	require.Equal(t, expected.Addresses(), actual.Addresses())
	for _, addr := range expected.Addresses() {
		want, _ := expected.Entry(addr)
		got, _ := actual.Entry(addr)
		assert.Equal(t, want, got, "合约 %s", addr.Hex())
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "contracts.json"))
	original := populated(t)

	require.NoError(t, original.Persist(store))
	loaded, err := Load(store)
	require.NoError(t, err)

	assertSameCache(t, original, loaded)

	// 再写一次内容不变
	require.NoError(t, loaded.Persist(store))
	reloaded, err := Load(store)
	require.NoError(t, err)
	assertSameCache(t, original, reloaded)
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "contracts.json"))

	c, err := Load(store)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	// 保存时自动创建目录
	c.StoreType(addrA, models.TypeUnknown)
	require.NoError(t, c.Persist(store))
	_, err = os.Stat(store.Path())
	assert.NoError(t, err)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(NewFileStore(path))
	require.Error(t, err)
	assert.True(t, errors.Is(err, scanerrors.ErrSnapshotCorrupt))
}

func TestFileStore_ReadErrorIsFatal(t *testing.T) {
	// 目录不能作为快照文件读取
	_, err := Load(NewFileStore(t.TempDir()))
	require.Error(t, err)
	assert.False(t, errors.Is(err, scanerrors.ErrSnapshotCorrupt))
}

func TestFileStore_LegacySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.json")
	legacy := `{
		"0x00000000000000000000000000000000000000aa": {"type": {"ERC721": {"metadata": true, "enumerable": false}}},
		"0x00000000000000000000000000000000000000bb": {"type": "MaybeERC20"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	c, err := Load(NewFileStore(path))
	require.NoError(t, err)

	typ, ok := c.GetType(addrA)
	require.True(t, ok)
	assert.Equal(t, models.ERC721Type(true, false), typ)
	typ, ok = c.GetType(addrB)
	require.True(t, ok)
	assert.Equal(t, models.TypeMaybeERC20, typ)
}

func TestFileStore_WritesLowercaseAddressKeys(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "contracts.json"))
	c := New()
	c.StoreType(common.HexToAddress("0xABCDEF0000000000000000000000000000000001"), models.TypeMaybeERC20)
	require.NoError(t, c.Persist(store))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"0xabcdef0000000000000000000000000000000001":{"type":"MaybeERC20"}}`, string(data))
}

func TestBoltStore_RoundTrip(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "contracts.db"))
	require.NoError(t, err)
	defer store.Close()

	empty, err := Load(store)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	original := populated(t)
	require.NoError(t, original.Persist(store))

	loaded, err := Load(store)
	require.NoError(t, err)
	assertSameCache(t, original, loaded)

	// 整体覆盖，旧条目不保留
	smaller := New()
	smaller.StoreType(addrB, models.TypeMaybeERC20)
	require.NoError(t, smaller.Persist(store))

	loaded, err = Load(store)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{addrB}, loaded.Addresses())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open("json", filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open("bolt", filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open("redis", "x")
	assert.Error(t, err)
}
