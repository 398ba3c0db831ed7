package attachment

import (
	"sync"

	"github.com/pkg/errors"
)

func init() {
	RegisterCaching("redis", func(cfg CallbackConfig) (CachingCallback, error) {
		c, err := redisConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewRedisCache(c), nil
	})
	RegisterSending("redis", func(cfg CallbackConfig) (SendingCallback, error) {
		c, err := redisConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewRedisCache(c).Sender(), nil
	})
}

type RedisCallbackConfig struct {
	RedisInterface     string `json:"redis_interface"`
	RedisExpireSeconds int    `json:"redis_expire_seconds,omitempty"`
	RedisPassword      string `json:"redis_password,omitempty"`
	RedisDB            int    `json:"redis_db,omitempty"`
	KeyPrefix          string `json:"redis_key_prefix,omitempty"`
	ChunkSize          int    `json:"callback_chunk_size,omitempty"`
}

func redisConfig(cfg CallbackConfig) (*RedisCallbackConfig, error) {
	c, err := ExtractConfig(cfg, &RedisCallbackConfig{})
	if err != nil {
		return nil, err
	}
	return c.(*RedisCallbackConfig), nil
}

// RedisCache is a CachingCallback that APPENDs each chunk to a redis string.
// The key expires RedisExpireSeconds after the attachment was closed, 0 keeps it forever
type RedisCache struct {
	config *RedisCallbackConfig

	mu   sync.Mutex
	conn RedisConn
}

func NewRedisCache(c *RedisCallbackConfig) *RedisCache {
	return &RedisCache{config: c}
}

// connection dials on first use and keeps the connection for the next handlers
func (r *RedisCache) connection() (RedisConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	conn, err := RedisDialer("tcp", r.config.RedisInterface, RedisDialOption{
		Password: r.config.RedisPassword,
		DB:       r.config.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return conn, nil
}

func (r *RedisCache) key(k string) string {
	return r.config.KeyPrefix + k
}

type redisHandle struct {
	key  string
	conn RedisConn
}

func (r *RedisCache) InitHandler(key string) (Handle, error) {
	conn, err := r.connection()
	if err != nil {
		return nil, err
	}
	k := r.key(key)
	// a part seen again replaces what was there
	if _, err := conn.Do("DEL", k); err != nil {
		return nil, err
	}
	return &redisHandle{key: k, conn: conn}, nil
}

func (r *RedisCache) Cache(data []byte, h Handle) error {
	rh, ok := h.(*redisHandle)
	if !ok {
		return errors.New("not a redis handle")
	}
	_, err := rh.conn.Do("APPEND", rh.key, data)
	return err
}

func (r *RedisCache) CloseHandler(h Handle) error {
	rh, ok := h.(*redisHandle)
	if !ok {
		return errors.New("not a redis handle")
	}
	if r.config.RedisExpireSeconds > 0 {
		if _, err := rh.conn.Do("EXPIRE", rh.key, r.config.RedisExpireSeconds); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisCache) Free() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

func (r *RedisCache) Sender() SendingCallback {
	return &redisSender{r: r}
}

// redisSender reads an attachment back with GETRANGE
type redisSender struct {
	r *RedisCache
}

type redisSendHandle struct {
	key  string
	conn RedisConn
	off  int64
	size int64
}

func (s *redisSender) InitHandler(userParam interface{}) (Handle, error) {
	key, ok := userParam.(string)
	if !ok {
		return nil, errors.Errorf("redis sender expects a key, got %T", userParam)
	}
	conn, err := s.r.connection()
	if err != nil {
		return nil, err
	}
	k := s.r.key(key)
	reply, err := conn.Do("STRLEN", k)
	if err != nil {
		return nil, err
	}
	size, err := redisInt(reply)
	if err != nil {
		return nil, err
	}
	return &redisSendHandle{key: k, conn: conn, size: size}, nil
}

func (s *redisSender) LoadData(h Handle) ([]byte, error) {
	rh, ok := h.(*redisSendHandle)
	if !ok {
		return nil, errors.New("not a redis send handle")
	}
	if rh.off >= rh.size {
		return nil, nil
	}
	size := int64(s.r.config.ChunkSize)
	if size <= 0 {
		size = DefaultSendChunkSize
	}
	end := rh.off + size - 1
	reply, err := rh.conn.Do("GETRANGE", rh.key, rh.off, end)
	if err != nil {
		return nil, err
	}
	b, err := redisBulk(reply)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		// the key expired or shrank under us
		return nil, errors.Errorf("%s ended at %d of %d bytes", rh.key, rh.off, rh.size)
	}
	rh.off += int64(len(b))
	return b, nil
}

func (s *redisSender) CloseHandler(h Handle) error {
	return nil
}

func (s *redisSender) Free() error {
	return s.r.Free()
}
