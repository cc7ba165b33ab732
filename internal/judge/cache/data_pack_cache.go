// Package cache keeps extracted test data packs on local disk.
package cache

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ZeroOneDeveloper/code01-judge/internal/common/cache"
	"github.com/ZeroOneDeveloper/code01-judge/internal/common/storage"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox"
	appErr "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
)

const (
	metaFileName  = "meta.json"
	tempFileName  = "data-pack.tmp"
	lockKeyPrefix = "judge:datapack:lock:"

	inputSuffix  = ".in"
	answerSuffix = ".ans"
)

type packMeta struct {
	ObjectKey string `json:"object_key"`
	ETag      string `json:"etag"`
	// SHA256 is the hex digest of the downloaded archive. Empty when
	// the message carried no digest to check against.
	SHA256 string `json:"sha256,omitempty"`
}

type cacheEntry struct {
	key       string
	path      string
	sizeBytes int64
	expiresAt time.Time
}

// DataPackCache downloads zstd-compressed tar archives of test data
// from object storage and keeps the extracted trees on disk with TTL
// and LRU eviction. A distributed lock prevents concurrent workers
// from extracting the same pack twice.
type DataPackCache struct {
	rootDir    string
	ttl        time.Duration
	lockWait   time.Duration
	maxEntries int
	maxBytes   int64
	bucket     string
	storage    storage.ObjectStorage
	lock       cache.LockOps
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	lruKeys    []string
	totalSize  int64
}

// NewDataPackCache creates a new cache.
func NewDataPackCache(rootDir string, ttl, lockWait time.Duration, maxEntries int, maxBytes int64, bucket string, storageClient storage.ObjectStorage, lock cache.LockOps) *DataPackCache {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	if lockWait <= 0 {
		lockWait = 30 * time.Second
	}
	return &DataPackCache{
		rootDir:    rootDir,
		ttl:        ttl,
		lockWait:   lockWait,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		bucket:     bucket,
		storage:    storageClient,
		lock:       lock,
		entries:    make(map[string]*cacheEntry),
	}
}

// Get returns the local directory holding the extracted pack.
// sha256Hex, when non-empty, is the expected digest of the archive;
// a downloaded pack that does not match it is rejected.
func (c *DataPackCache) Get(ctx context.Context, objectKey, sha256Hex string) (string, error) {
	if objectKey == "" {
		return "", appErr.ValidationError("data_pack_key", "required")
	}
	if c.storage == nil {
		return "", appErr.New(appErr.CacheError).WithMessage("storage client is not initialized")
	}
	if c.rootDir == "" {
		return "", appErr.New(appErr.CacheError).WithMessage("cache root is not configured")
	}

	stat, err := c.storage.StatObject(ctx, c.bucket, objectKey)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.TestDataNotFound, "stat data pack failed")
	}
	meta := packMeta{ObjectKey: objectKey, ETag: stat.ETag, SHA256: strings.ToLower(sha256Hex)}

	key := cacheKey(objectKey)
	path := filepath.Join(c.rootDir, key)

	// The on-disk meta file is authoritative: it records the ETag and
	// verified digest of what was extracted, so a stale or mismatched
	// tree is never served from the in-memory index alone.
	if checkDisk(path, meta) {
		c.refreshEntry(key, path)
		return path, nil
	}
	if err := c.fetchAndExtract(ctx, meta, path); err != nil {
		return "", err
	}
	c.addEntry(key, path)
	return path, nil
}

// LoadCases reads an extracted pack directory into testcases. Cases
// are files NN.in paired with NN.ans, ordered by their numeric index.
func LoadCases(dir string) ([]sandbox.TestCase, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestDataCorrupt, "read data pack dir failed")
	}

	indices := make([]int, 0, len(entries)/2)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, inputSuffix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(name, inputSuffix))
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	cases := make([]sandbox.TestCase, 0, len(indices))
	for _, idx := range indices {
		input, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("%d%s", idx, inputSuffix)))
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.TestDataCorrupt, "read case input failed")
		}
		answer, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("%d%s", idx, answerSuffix)))
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.TestDataCorrupt, "case has input but no answer")
		}
		cases = append(cases, sandbox.TestCase{
			Input:    string(input),
			Expected: string(answer),
		})
	}
	return cases, nil
}

// refreshEntry extends the TTL of an entry whose on-disk tree was just
// revalidated, registering it first if the index lost track of it.
func (c *DataPackCache) refreshEntry(key, path string) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.expiresAt = time.Now().Add(c.ttl)
		c.touchLocked(key)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.addEntry(key, path)
}

func checkDisk(path string, meta packMeta) bool {
	data, err := os.ReadFile(filepath.Join(path, metaFileName))
	if err != nil {
		return false
	}
	var stored packMeta
	if err := json.Unmarshal(data, &stored); err != nil {
		return false
	}
	if meta.SHA256 != "" && stored.SHA256 != meta.SHA256 {
		return false
	}
	return stored.ObjectKey == meta.ObjectKey && stored.ETag == meta.ETag
}

func (c *DataPackCache) fetchAndExtract(ctx context.Context, meta packMeta, path string) error {
	if c.lock == nil {
		return appErr.New(appErr.CacheError).WithMessage("lock client is not initialized")
	}
	lockKey := lockKeyPrefix + cacheKey(meta.ObjectKey)
	locked, err := c.lock.TryLock(ctx, lockKey, 5*time.Minute)
	if err != nil {
		return appErr.Wrapf(err, appErr.LockFailed, "acquire data pack lock failed")
	}
	if !locked {
		return c.waitForCache(ctx, meta, path)
	}
	defer func() {
		_ = c.lock.Unlock(ctx, lockKey)
	}()

	if checkDisk(path, meta) {
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "cleanup cache dir failed")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create cache dir failed")
	}

	tempPath := filepath.Join(path, tempFileName)
	digest, err := c.downloadDataPack(ctx, meta.ObjectKey, tempPath)
	if err != nil {
		return err
	}
	if meta.SHA256 != "" && digest != meta.SHA256 {
		_ = os.RemoveAll(path)
		return appErr.Newf(appErr.TestDataCorrupt,
			"data pack digest mismatch: got %s, want %s", digest, meta.SHA256)
	}
	if err := extractDataPack(tempPath, path); err != nil {
		return err
	}
	_ = os.Remove(tempPath)

	meta.SHA256 = digest
	metaBytes, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(path, metaFileName), metaBytes, 0644); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write meta failed")
	}
	return nil
}

func (c *DataPackCache) waitForCache(ctx context.Context, meta packMeta, path string) error {
	deadline := time.Now().Add(c.lockWait)
	for {
		if checkDisk(path, meta) {
			return nil
		}
		if time.Now().After(deadline) {
			return appErr.New(appErr.Timeout).WithMessage("wait for data pack cache timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// downloadDataPack streams the object to dstPath and returns the hex
// sha256 digest of the bytes written.
func (c *DataPackCache) downloadDataPack(ctx context.Context, objectKey, dstPath string) (string, error) {
	reader, err := c.storage.GetObject(ctx, c.bucket, objectKey)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.TestDataNotFound, "download data pack failed")
	}
	defer reader.Close()

	file, err := os.Create(dstPath)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.CacheError, "create data pack file failed")
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(file, hasher), reader); err != nil {
		return "", appErr.Wrapf(err, appErr.CacheError, "write data pack file failed")
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func extractDataPack(srcPath, dstDir string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.TestDataCorrupt, "open data pack failed")
	}
	defer file.Close()

	zstdReader, err := zstd.NewReader(file)
	if err != nil {
		return appErr.Wrapf(err, appErr.TestDataCorrupt, "create zstd reader failed")
	}
	defer zstdReader.Close()

	tr := tar.NewReader(zstdReader)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.TestDataCorrupt, "read tar entry failed")
		}
		if hdr.Name == "" {
			continue
		}
		cleanName := filepath.Clean(hdr.Name)
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return appErr.New(appErr.TestDataCorrupt).WithMessage("invalid tar entry path")
		}
		target := filepath.Join(dstDir, cleanName)
		if !strings.HasPrefix(target, filepath.Clean(dstDir)+string(filepath.Separator)) {
			return appErr.New(appErr.TestDataCorrupt).WithMessage("tar entry escape detected")
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create dir failed")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create parent dir failed")
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode))
			if err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create file failed")
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return appErr.Wrapf(err, appErr.CacheError, "write file failed")
			}
			_ = out.Close()
		default:
			// skip other types
		}
	}
	return nil
}

func (c *DataPackCache) addEntry(key, path string) {
	size := dirSize(path)
	c.mu.Lock()
	if existing, ok := c.entries[key]; ok {
		c.totalSize -= existing.sizeBytes
	}
	c.entries[key] = &cacheEntry{
		key:       key,
		path:      path,
		sizeBytes: size,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.totalSize += size
	c.touchLocked(key)
	c.evictLocked()
	c.mu.Unlock()
}

func (c *DataPackCache) touchLocked(key string) {
	for i, k := range c.lruKeys {
		if k == key {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	c.lruKeys = append(c.lruKeys, key)
}

func (c *DataPackCache) evictLocked() {
	now := time.Now()
	kept := c.lruKeys[:0]
	for _, key := range c.lruKeys {
		entry, ok := c.entries[key]
		if !ok {
			continue
		}
		if now.After(entry.expiresAt) {
			c.removeEntryLocked(key)
			continue
		}
		kept = append(kept, key)
	}
	c.lruKeys = kept
	for {
		if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
			c.removeOldestLocked()
			continue
		}
		if c.maxBytes > 0 && c.totalSize > c.maxBytes {
			c.removeOldestLocked()
			continue
		}
		break
	}
}

func (c *DataPackCache) removeOldestLocked() {
	if len(c.lruKeys) == 0 {
		return
	}
	key := c.lruKeys[0]
	c.lruKeys = c.lruKeys[1:]
	c.removeEntryLocked(key)
}

func (c *DataPackCache) removeEntryLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.totalSize -= entry.sizeBytes
	_ = os.RemoveAll(entry.path)
}

// cacheKey hashes the object key so arbitrary storage keys map to
// safe directory names.
func cacheKey(objectKey string) string {
	sum := sha256.Sum256([]byte(objectKey))
	return hex.EncodeToString(sum[:16])
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
