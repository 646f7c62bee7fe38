package scanner

import (
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/twinsync/internal/utils"
)

const DefaultHashCacheSize = 4096

type hashKey struct {
	path  string
	size  int64
	mtime int64
}

// Hasher computes content digests on demand. Digests are cached by path, size
// and mtime so repeated analyses of an unchanged tree hash each file once.
type Hasher struct {
	cache *lru.Cache[hashKey, string]
}

func NewHasher(cacheSize int) *Hasher {
	if cacheSize <= 0 {
		cacheSize = DefaultHashCacheSize
	}
	cache, _ := lru.New[hashKey, string](cacheSize)
	return &Hasher{cache: cache}
}

// Hash returns "sha256:<hex>" for the file at absPath.
func (h *Hasher) Hash(absPath string) (string, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return "", err
	}

	key := hashKey{path: absPath, size: info.Size(), mtime: info.ModTime().UnixNano()}
	if sum, ok := h.cache.Get(key); ok {
		return sum, nil
	}

	sum, err := utils.FileHash(absPath)
	if err != nil {
		return "", err
	}
	h.cache.Add(key, sum)
	return sum, nil
}

// Remember seeds the cache with a digest computed elsewhere, e.g. while
// streaming a copy.
func (h *Hasher) Remember(absPath string, sum string) {
	info, err := os.Stat(absPath)
	if err != nil {
		return
	}
	h.cache.Add(hashKey{path: absPath, size: info.Size(), mtime: info.ModTime().UnixNano()}, sum)
}

func (h *Hasher) Len() int {
	return h.cache.Len()
}
