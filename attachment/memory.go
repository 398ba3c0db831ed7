package attachment

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/pkg/errors"

	"github.com/flashmob/go-mtom/chunk"
)

const defaultMemoryChunkSize = 32 * 1024

func init() {
	RegisterCaching("memory", func(cfg CallbackConfig) (CachingCallback, error) {
		return sharedMemoryCache(cfg)
	})
	RegisterSending("memory", func(cfg CallbackConfig) (SendingCallback, error) {
		c, err := sharedMemoryCache(cfg)
		if err != nil {
			return nil, err
		}
		return c.Sender(), nil
	})
}

type MemoryCallbackConfig struct {
	Shards            int `json:"memory_shards,omitempty"`
	LifeWindowSeconds int `json:"memory_life_window_seconds,omitempty"`
	HardMaxCacheSize  int `json:"memory_max_cache_mb,omitempty"`
	ChunkSize         int `json:"callback_chunk_size,omitempty"`
}

var memory struct {
	sync.Mutex
	cache *MemoryCache
}

// sharedMemoryCache returns the process wide memory cache, so that the sending callback
// finds what the caching callback stored. The config of the first call wins
func sharedMemoryCache(cfg CallbackConfig) (*MemoryCache, error) {
	memory.Lock()
	defer memory.Unlock()
	if memory.cache != nil {
		return memory.cache, nil
	}
	c, err := ExtractConfig(cfg, &MemoryCallbackConfig{})
	if err != nil {
		return nil, err
	}
	mc, err := NewMemoryCache(c.(*MemoryCallbackConfig))
	if err != nil {
		return nil, err
	}
	memory.cache = mc
	return mc, nil
}

// MemoryCache is a CachingCallback that keeps attachments in a bigcache, outside of the GC's reach.
// Each attachment is split in entries of ChunkSize bytes: "key/0", "key/1", ... and "key" holds the count
type MemoryCache struct {
	cache     *bigcache.BigCache
	chunkSize int
}

func NewMemoryCache(c *MemoryCallbackConfig) (*MemoryCache, error) {
	life := time.Hour
	if c.LifeWindowSeconds > 0 {
		life = time.Duration(c.LifeWindowSeconds) * time.Second
	}
	config := bigcache.DefaultConfig(life)
	config.Verbose = false
	if c.Shards > 0 {
		config.Shards = c.Shards
	} else {
		config.Shards = 64
	}
	if c.HardMaxCacheSize > 0 {
		config.HardMaxCacheSize = c.HardMaxCacheSize
	}
	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultMemoryChunkSize
	}
	config.MaxEntrySize = chunkSize
	cache, err := bigcache.New(context.Background(), config)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{cache: cache, chunkSize: chunkSize}, nil
}

func chunkKey(key string, i int) string {
	return key + "/" + strconv.Itoa(i)
}

type memoryHandle struct {
	key     string
	count   int
	chunker *chunk.Chunker
}

func (m *MemoryCache) InitHandler(key string) (Handle, error) {
	h := &memoryHandle{key: key}
	h.chunker = chunk.NewChunker(m.chunkSize, func(b []byte) error {
		// bigcache copies the entry
		if err := m.cache.Set(chunkKey(key, h.count), b); err != nil {
			return err
		}
		h.count++
		return nil
	})
	return h, nil
}

func (m *MemoryCache) Cache(data []byte, h Handle) error {
	mh, ok := h.(*memoryHandle)
	if !ok {
		return errors.New("not a memory handle")
	}
	_, err := mh.chunker.Write(data)
	return err
}

func (m *MemoryCache) CloseHandler(h Handle) error {
	mh, ok := h.(*memoryHandle)
	if !ok {
		return errors.New("not a memory handle")
	}
	if err := mh.chunker.Flush(); err != nil {
		return err
	}
	return m.cache.Set(mh.key, []byte(strconv.Itoa(mh.count)))
}

// Delete removes a stored attachment
func (m *MemoryCache) Delete(key string) error {
	n, err := m.count(key)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := m.cache.Delete(chunkKey(key, i)); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
			return err
		}
	}
	return m.cache.Delete(key)
}

func (m *MemoryCache) count(key string) (int, error) {
	raw, err := m.cache.Get(key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(raw))
}

func (m *MemoryCache) Free() error {
	return nil
}

func (m *MemoryCache) Sender() SendingCallback {
	return &memorySender{m: m}
}

type memorySender struct {
	m *MemoryCache
}

type memorySendHandle struct {
	key   string
	next  int
	count int
}

func (s *memorySender) InitHandler(userParam interface{}) (Handle, error) {
	key, ok := userParam.(string)
	if !ok {
		return nil, errors.Errorf("memory sender expects a key, got %T", userParam)
	}
	n, err := s.m.count(key)
	if err != nil {
		return nil, errors.Wrapf(err, "attachment %s", key)
	}
	return &memorySendHandle{key: key, count: n}, nil
}

func (s *memorySender) LoadData(h Handle) ([]byte, error) {
	mh, ok := h.(*memorySendHandle)
	if !ok {
		return nil, errors.New("not a memory send handle")
	}
	if mh.next >= mh.count {
		return nil, nil
	}
	b, err := s.m.cache.Get(chunkKey(mh.key, mh.next))
	if err != nil {
		return nil, errors.Wrapf(err, "chunk %d of %s", mh.next, mh.key)
	}
	mh.next++
	return b, nil
}

func (s *memorySender) CloseHandler(h Handle) error {
	return nil
}

func (s *memorySender) Free() error {
	return nil
}
