package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	scanerrors "tokenscan/internal/errors"
	"tokenscan/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"
)

// Store 快照存储，每次读写整个缓存
type Store interface {
	// Load 读取全部条目，快照不存在时返回空集合
	Load() (map[common.Address]*ContractData, error)
	// Save 用给定条目覆盖整个快照
	Save(entries map[common.Address]*ContractData) error
	Close() error
}

// Load 从快照加载缓存
func Load(store Store) (*Cache, error) {
	start := time.Now()
	entries, err := store.Load()
	metrics.SnapshotLatency.WithLabelValues("load").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return newFromEntries(entries), nil
}

// Persist 把整个缓存写回快照
func (c *Cache) Persist(store Store) error {
	entries := c.snapshot()

	start := time.Now()
	err := store.Save(entries)
	metrics.SnapshotLatency.WithLabelValues("persist").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	metrics.CachedContracts.Set(float64(len(entries)))
	return nil
}

func snapshotIOError(op, path string, err error) error {
	return scanerrors.WrapError(err, scanerrors.ErrorTypeSnapshot, scanerrors.SeverityCritical,
		scanerrors.CodeSnapshotIO, fmt.Sprintf("%s快照失败", op)).
		WithContext("path", path).
		WithComponent("cache")
}

func snapshotCorruptError(path string, err error) error {
	return scanerrors.WrapError(err, scanerrors.ErrorTypeSnapshot, scanerrors.SeverityCritical,
		scanerrors.CodeSnapshotCorrupt, "快照文件损坏").
		WithContext("path", path).
		WithComponent("cache")
}

// FileStore JSON快照文件，键为小写十六进制地址
type FileStore struct {
	path string
}

// NewFileStore 创建文件快照存储
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path 快照文件路径
func (s *FileStore) Path() string {
	return s.path
}

// Load 读取快照文件，文件不存在不是错误
func (s *FileStore) Load() (map[common.Address]*ContractData, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[common.Address]*ContractData), nil
		}
		return nil, snapshotIOError("读取", s.path, err)
	}

	entries := make(map[common.Address]*ContractData)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, snapshotCorruptError(s.path, err)
	}
	for addr, d := range entries {
		if d == nil {
			return nil, snapshotCorruptError(s.path, fmt.Errorf("合约 %s 的条目为空", addr.Hex()))
		}
	}
	return entries, nil
}

// Save 先写临时文件再重命名，避免留下半个快照
func (s *FileStore) Save(entries map[common.Address]*ContractData) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return snapshotIOError("编码", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return snapshotIOError("创建目录", s.path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return snapshotIOError("写入", s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return snapshotIOError("写入", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return snapshotIOError("刷新", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return snapshotIOError("写入", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return snapshotIOError("替换", s.path, err)
	}
	return nil
}

// Close 文件存储无需关闭
func (s *FileStore) Close() error {
	return nil
}

// ContractsBucket bbolt 中保存合约条目的存储桶
const ContractsBucket = "contracts"

// BoltStore bbolt快照存储，每个合约一条记录
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore 打开 bbolt 快照存储
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开快照数据库失败: %w", err)
	}
	return &BoltStore{db: db, path: path}, nil
}

// Load 读取全部合约条目
func (s *BoltStore) Load() (map[common.Address]*ContractData, error) {
	entries := make(map[common.Address]*ContractData)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ContractsBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if len(k) != common.AddressLength {
				return snapshotCorruptError(s.path, fmt.Errorf("无效的地址键: %x", k))
			}
			var d ContractData
			if err := json.Unmarshal(v, &d); err != nil {
				return snapshotCorruptError(s.path, err)
			}
			entries[common.BytesToAddress(k)] = &d
			return nil
		})
	})
	if err != nil {
		var scanErr *scanerrors.ScanError
		if errors.As(err, &scanErr) {
			return nil, err
		}
		return nil, snapshotIOError("读取", s.path, err)
	}
	return entries, nil
}

// Save 在一个事务内重建存储桶
func (s *BoltStore) Save(entries map[common.Address]*ContractData) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(ContractsBucket)) != nil {
			if err := tx.DeleteBucket([]byte(ContractsBucket)); err != nil {
				return fmt.Errorf("清空存储桶失败: %w", err)
			}
		}
		bucket, err := tx.CreateBucket([]byte(ContractsBucket))
		if err != nil {
			return fmt.Errorf("创建存储桶失败: %w", err)
		}
		for addr, d := range entries {
			value, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("编码合约 %s 失败: %w", addr.Hex(), err)
			}
			if err := bucket.Put(addr.Bytes(), value); err != nil {
				return fmt.Errorf("保存合约 %s 失败: %w", addr.Hex(), err)
			}
		}
		return nil
	})
	if err != nil {
		return snapshotIOError("写入", s.path, err)
	}
	return nil
}

// Close 关闭数据库
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Open 根据后端类型打开快照存储
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "json":
		return NewFileStore(path), nil
	case "bolt":
		store, err := NewBoltStore(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("不支持的快照后端: %s", backend)
	}
}
