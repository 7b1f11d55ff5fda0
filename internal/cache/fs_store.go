package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

const (
	binarySuffix     = ".binary"
	metaSuffix       = ".meta"
	legacyTypeSuffix = ".content_type"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 串行化同一 Locator 的并发写入；不同 key 互不阻塞。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// Entry 表示一次缓存命中，正文与元数据通过方法惰性读取。
type Entry struct {
	Locator   Locator
	FilePath  string
	SizeBytes int64
}

// Content 读取完整正文字节。
func (e *Entry) Content() ([]byte, error) {
	return os.ReadFile(e.FilePath)
}

type metaRecord struct {
	ContentType string `json:"content_type"`
}

// ContentType 依次尝试 .meta JSON 与旧版 .content_type sidecar，
// 两者均缺失时退回 application/octet-stream。
func (e *Entry) ContentType() string {
	metaPath := strings.TrimSuffix(e.FilePath, binarySuffix) + metaSuffix
	if raw, err := os.ReadFile(metaPath); err == nil {
		var meta metaRecord
		if err := json.Unmarshal(raw, &meta); err == nil && meta.ContentType != "" {
			return meta.ContentType
		}
	}

	legacyPath := strings.TrimSuffix(e.FilePath, binarySuffix) + legacyTypeSuffix
	if raw, err := os.ReadFile(legacyPath); err == nil {
		if ctype := strings.TrimSpace(string(raw)); ctype != "" {
			return ctype
		}
	}

	return DefaultContentType
}

func (s *fileStore) Get(ctx context.Context, locator Locator) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	return &Entry{
		Locator:   locator,
		FilePath:  filePath,
		SizeBytes: info.Size(),
	}, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, content []byte, contentType string) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	unlock := s.lockEntry(locator)
	defer unlock()

	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	// 正文先写，元数据后写：崩溃窗口内最多出现“有正文无元数据”，
	// 读取侧会退回默认 content type。
	if err := writeFileAtomic(filePath, content); err != nil {
		return nil, err
	}

	if contentType != "" {
		metaPath := strings.TrimSuffix(filePath, binarySuffix) + metaSuffix
		raw, err := json.Marshal(metaRecord{ContentType: contentType})
		if err != nil {
			return nil, err
		}
		if err := writeFileAtomic(metaPath, raw); err != nil {
			return nil, err
		}
	}

	return &Entry{
		Locator:   locator,
		FilePath:  filePath,
		SizeBytes: int64(len(content)),
	}, nil
}

func writeFileAtomic(filePath string, content []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".vault-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(content)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) lockEntry(locator Locator) func() {
	key := locatorKey(locator)
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(locator Locator) (string, error) {
	prefix := strings.Trim(locator.Prefix, "/")
	if prefix == "" {
		return "", errors.New("locator prefix required")
	}

	rel := locator.Path
	if rel == "" || rel == "/" {
		rel = "root"
	}
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "root"
	}

	root := filepath.Join(s.basePath, filepath.FromSlash(prefix))
	filePath := filepath.Join(root, filepath.FromSlash(rel)) + binarySuffix
	if !strings.HasPrefix(filePath, root) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

func locatorKey(locator Locator) string {
	return locator.Prefix + "::" + locator.Path
}
