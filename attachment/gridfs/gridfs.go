// Package gridfs_callback stores attachments in a MongoDB GridFS bucket.
// Import it for its side effect to register the "gridfs" caching and sending callbacks.
package gridfs_callback

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flashmob/go-mtom/attachment"
)

const (
	defaultBucket    = "attachments"
	defaultChunkSize = 255 * 1024
)

func init() {
	attachment.RegisterCaching("gridfs", func(cfg attachment.CallbackConfig) (attachment.CachingCallback, error) {
		c, err := config(cfg)
		if err != nil {
			return nil, err
		}
		return New(c), nil
	})
	attachment.RegisterSending("gridfs", func(cfg attachment.CallbackConfig) (attachment.SendingCallback, error) {
		c, err := config(cfg)
		if err != nil {
			return nil, err
		}
		return New(c).Sender(), nil
	})
}

type Config struct {
	URI            string `json:"mongo_uri"`
	Database       string `json:"mongo_database"`
	Bucket         string `json:"gridfs_bucket,omitempty"`
	ChunkSizeBytes int    `json:"gridfs_chunk_size,omitempty"`
	SendChunkSize  int    `json:"callback_chunk_size,omitempty"`
	TimeoutSeconds int    `json:"mongo_timeout_seconds,omitempty"`
}

func config(cfg attachment.CallbackConfig) (*Config, error) {
	c, err := attachment.ExtractConfig(cfg, &Config{})
	if err != nil {
		return nil, err
	}
	return c.(*Config), nil
}

// Cache is an attachment.CachingCallback writing one GridFS file per Content-ID
type Cache struct {
	config *Config

	mu     sync.Mutex
	client *mongo.Client
	bucket *gridfs.Bucket
}

func New(c *Config) *Cache {
	return &Cache{config: c}
}

// NewWithBucket uses a bucket that is already open
func NewWithBucket(bucket *gridfs.Bucket) *Cache {
	return &Cache{config: &Config{}, bucket: bucket}
}

func (c *Cache) timeout() time.Duration {
	if c.config.TimeoutSeconds > 0 {
		return time.Duration(c.config.TimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

func (c *Cache) connect() (*gridfs.Bucket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bucket != nil {
		return c.bucket, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.config.URI))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "pinging MongoDB")
	}
	name := c.config.Bucket
	if name == "" {
		name = defaultBucket
	}
	chunkSize := c.config.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	bucket, err := gridfs.NewBucket(client.Database(c.config.Database), options.GridFSBucket().
		SetName(name).
		SetChunkSizeBytes(int32(chunkSize)))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "creating GridFS bucket")
	}
	c.client = client
	c.bucket = bucket
	return bucket, nil
}

func (c *Cache) InitHandler(key string) (attachment.Handle, error) {
	bucket, err := c.connect()
	if err != nil {
		return nil, err
	}
	opts := options.GridFSUpload().SetMetadata(bson.M{
		"content_id": key,
		"stored_at":  time.Now().UTC(),
	})
	us, err := bucket.OpenUploadStream(key, opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening upload stream")
	}
	return us, nil
}

func (c *Cache) Cache(data []byte, h attachment.Handle) error {
	us, ok := h.(*gridfs.UploadStream)
	if !ok {
		return errors.New("not a gridfs upload stream")
	}
	_, err := us.Write(data)
	return err
}

func (c *Cache) CloseHandler(h attachment.Handle) error {
	us, ok := h.(*gridfs.UploadStream)
	if !ok {
		return errors.New("not a gridfs upload stream")
	}
	return us.Close()
}

func (c *Cache) Free() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()
	err := c.client.Disconnect(ctx)
	c.client = nil
	c.bucket = nil
	return err
}

func (c *Cache) Sender() attachment.SendingCallback {
	return &sender{c: c}
}

type sender struct {
	c *Cache
}

type downloadHandle struct {
	ds  *gridfs.DownloadStream
	buf []byte
}

func (s *sender) InitHandler(userParam interface{}) (attachment.Handle, error) {
	key, ok := userParam.(string)
	if !ok {
		return nil, errors.Errorf("gridfs sender expects a key, got %T", userParam)
	}
	bucket, err := s.c.connect()
	if err != nil {
		return nil, err
	}
	ds, err := bucket.OpenDownloadStreamByName(key)
	if err != nil {
		return nil, errors.Wrap(err, "opening download stream")
	}
	size := s.c.config.SendChunkSize
	if size <= 0 {
		size = attachment.DefaultSendChunkSize
	}
	return &downloadHandle{ds: ds, buf: make([]byte, size)}, nil
}

func (s *sender) LoadData(h attachment.Handle) ([]byte, error) {
	dh, ok := h.(*downloadHandle)
	if !ok {
		return nil, errors.New("not a gridfs download handle")
	}
	n, err := io.ReadFull(dh.ds, dh.buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return dh.buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return dh.buf[:n], nil
}

func (s *sender) CloseHandler(h attachment.Handle) error {
	dh, ok := h.(*downloadHandle)
	if !ok {
		return errors.New("not a gridfs download handle")
	}
	return dh.ds.Close()
}

func (s *sender) Free() error {
	return nil
}
