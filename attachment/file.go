package attachment

import (
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultSendChunkSize is the size of the chunks sending callbacks hand out
const DefaultSendChunkSize = 1024

func init() {
	RegisterCaching("file", func(cfg CallbackConfig) (CachingCallback, error) {
		c, err := fileConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewFileCache(c.Dir, c.ChunkSize), nil
	})
	RegisterSending("file", func(cfg CallbackConfig) (SendingCallback, error) {
		c, err := fileConfig(cfg)
		if err != nil {
			return nil, err
		}
		return &FileSender{Dir: c.Dir, ChunkSize: c.ChunkSize}, nil
	})
}

type FileCallbackConfig struct {
	Dir       string `json:"callback_dir"`
	ChunkSize int    `json:"callback_chunk_size,omitempty"`
}

func fileConfig(cfg CallbackConfig) (*FileCallbackConfig, error) {
	c, err := ExtractConfig(cfg, &FileCallbackConfig{})
	if err != nil {
		return nil, err
	}
	return c.(*FileCallbackConfig), nil
}

// FileName returns where a key is stored under dir. Content-IDs can be URLs
// so the key is escaped to keep it to a single path element
func FileName(dir, key string) string {
	return filepath.Join(dir, url.QueryEscape(key))
}

// FileCache is a CachingCallback that appends every attachment to a file under Dir
type FileCache struct {
	Dir       string
	chunkSize int
}

func NewFileCache(dir string, chunkSize int) *FileCache {
	return &FileCache{Dir: dir, chunkSize: chunkSize}
}

func (c *FileCache) InitHandler(key string) (Handle, error) {
	f, err := os.OpenFile(FileName(c.Dir, key), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *FileCache) Cache(data []byte, h Handle) error {
	f, ok := h.(*os.File)
	if !ok {
		return errors.New("not a file handle")
	}
	_, err := f.Write(data)
	return err
}

func (c *FileCache) CloseHandler(h Handle) error {
	f, ok := h.(*os.File)
	if !ok {
		return errors.New("not a file handle")
	}
	return f.Close()
}

func (c *FileCache) Free() error {
	return nil
}

// Sender reads the stored attachments back by key
func (c *FileCache) Sender() SendingCallback {
	return &FileSender{Dir: c.Dir, ChunkSize: c.chunkSize}
}

// FileSender is a SendingCallback that reads a file in chunks.
// The user param is a path, or a key stored under Dir when Dir is set and the param isn't absolute
type FileSender struct {
	Dir       string
	ChunkSize int
}

type fileSendHandle struct {
	f   *os.File
	buf []byte
}

func (s *FileSender) path(param interface{}) (string, error) {
	p, ok := param.(string)
	if !ok || p == "" {
		return "", errors.Errorf("file sender expects a file name, got %T", param)
	}
	if s.Dir != "" && !filepath.IsAbs(p) {
		return FileName(s.Dir, p), nil
	}
	return p, nil
}

func (s *FileSender) InitHandler(userParam interface{}) (Handle, error) {
	name, err := s.path(userParam)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	size := s.ChunkSize
	if size <= 0 {
		size = DefaultSendChunkSize
	}
	return &fileSendHandle{f: f, buf: make([]byte, size)}, nil
}

func (s *FileSender) LoadData(h Handle) ([]byte, error) {
	fh, ok := h.(*fileSendHandle)
	if !ok {
		return nil, errors.New("not a file send handle")
	}
	n, err := io.ReadFull(fh.f, fh.buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fh.buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return fh.buf[:n], nil
}

func (s *FileSender) CloseHandler(h Handle) error {
	fh, ok := h.(*fileSendHandle)
	if !ok {
		return errors.New("not a file send handle")
	}
	return fh.f.Close()
}

func (s *FileSender) Free() error {
	return nil
}
