package attachment

import (
	"database/sql"
	"sync"

	"github.com/pkg/errors"

	"github.com/flashmob/go-mtom/chunk"
)

const (
	defaultSQLTable     = "attachment_chunks"
	defaultSQLChunkSize = 64 * 1024
)

func init() {
	RegisterCaching("sql", func(cfg CallbackConfig) (CachingCallback, error) {
		c, err := sqlConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewSQLCache(c), nil
	})
	RegisterSending("sql", func(cfg CallbackConfig) (SendingCallback, error) {
		c, err := sqlConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewSQLCache(c).Sender(), nil
	})
}

// SQLCallbackConfig needs a driver to be imported by the program, eg. github.com/go-sql-driver/mysql
type SQLCallbackConfig struct {
	Driver    string `json:"sql_driver"`
	DSN       string `json:"sql_dsn"`
	Table     string `json:"sql_attachment_table,omitempty"`
	ChunkSize int    `json:"callback_chunk_size,omitempty"`
}

func sqlConfig(cfg CallbackConfig) (*SQLCallbackConfig, error) {
	c, err := ExtractConfig(cfg, &SQLCallbackConfig{})
	if err != nil {
		return nil, err
	}
	sc := c.(*SQLCallbackConfig)
	if sc.Table == "" {
		sc.Table = defaultSQLTable
	}
	if sc.ChunkSize <= 0 {
		sc.ChunkSize = defaultSQLChunkSize
	}
	return sc, nil
}

// SQLCache stores an attachment as numbered rows of up to ChunkSize bytes:
//
//	CREATE TABLE attachment_chunks (
//	  attachment_key VARCHAR(255) NOT NULL,
//	  seq INT UNSIGNED NOT NULL,
//	  data LONGBLOB NOT NULL,
//	  PRIMARY KEY (attachment_key, seq)
//	)
type SQLCache struct {
	config     *SQLCallbackConfig
	mu         sync.Mutex
	db         *sql.DB
	statements map[string]*sql.Stmt
}

func NewSQLCache(c *SQLCallbackConfig) *SQLCache {
	return &SQLCache{config: c}
}

// NewSQLCacheWithDB uses an already opened database
func NewSQLCacheWithDB(db *sql.DB, table string, chunkSize int) *SQLCache {
	if table == "" {
		table = defaultSQLTable
	}
	if chunkSize <= 0 {
		chunkSize = defaultSQLChunkSize
	}
	return &SQLCache{config: &SQLCallbackConfig{Table: table, ChunkSize: chunkSize}, db: db}
}

func (s *SQLCache) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statements != nil {
		return nil
	}
	if s.db == nil {
		db, err := sql.Open(s.config.Driver, s.config.DSN)
		if err != nil {
			return err
		}
		s.db = db
	}
	// do we have permission to access the table?
	rows, err := s.db.Query("SELECT attachment_key FROM " + s.config.Table + " LIMIT 1")
	if err != nil {
		return err
	}
	_ = rows.Close()
	return s.prepareSql()
}

func (s *SQLCache) prepareSql() error {
	statements := make(map[string]*sql.Stmt)

	// a part seen again replaces what was there
	if stmt, err := s.db.Prepare(`DELETE FROM ` + s.config.Table + ` WHERE attachment_key = ?`); err != nil {
		return err
	} else {
		statements["deleteChunks"] = stmt
	}

	if stmt, err := s.db.Prepare(`INSERT INTO ` + s.config.Table +
		` (attachment_key, seq, data) VALUES(?, ?, ?)`); err != nil {
		return err
	} else {
		statements["insertChunk"] = stmt
	}

	if stmt, err := s.db.Prepare(`SELECT data FROM ` + s.config.Table +
		` WHERE attachment_key = ? AND seq = ?`); err != nil {
		return err
	} else {
		statements["selectChunk"] = stmt
	}
	s.statements = statements
	return nil
}

type sqlHandle struct {
	key     string
	seq     int
	chunker *chunk.Chunker
}

func (s *SQLCache) InitHandler(key string) (Handle, error) {
	if err := s.connect(); err != nil {
		return nil, err
	}
	if _, err := s.statements["deleteChunks"].Exec(key); err != nil {
		return nil, err
	}
	h := &sqlHandle{key: key}
	h.chunker = chunk.NewChunker(s.config.ChunkSize, func(b []byte) error {
		if _, err := s.statements["insertChunk"].Exec(key, h.seq, b); err != nil {
			return err
		}
		h.seq++
		return nil
	})
	return h, nil
}

func (s *SQLCache) Cache(data []byte, h Handle) error {
	sh, ok := h.(*sqlHandle)
	if !ok {
		return errors.New("not a sql handle")
	}
	_, err := sh.chunker.Write(data)
	return err
}

func (s *SQLCache) CloseHandler(h Handle) error {
	sh, ok := h.(*sqlHandle)
	if !ok {
		return errors.New("not a sql handle")
	}
	return sh.chunker.Flush()
}

func (s *SQLCache) Free() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range s.statements {
		_ = stmt.Close()
	}
	s.statements = nil
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLCache) Sender() SendingCallback {
	return &sqlSender{s: s}
}

type sqlSender struct {
	s *SQLCache
}

type sqlSendHandle struct {
	key string
	seq int
	buf []byte
}

func (ss *sqlSender) InitHandler(userParam interface{}) (Handle, error) {
	key, ok := userParam.(string)
	if !ok {
		return nil, errors.Errorf("sql sender expects a key, got %T", userParam)
	}
	if err := ss.s.connect(); err != nil {
		return nil, err
	}
	return &sqlSendHandle{key: key}, nil
}

func (ss *sqlSender) LoadData(h Handle) ([]byte, error) {
	sh, ok := h.(*sqlSendHandle)
	if !ok {
		return nil, errors.New("not a sql send handle")
	}
	sh.buf = sh.buf[:0]
	err := ss.s.statements["selectChunk"].QueryRow(sh.key, sh.seq).Scan(&sh.buf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sh.seq++
	return sh.buf, nil
}

func (ss *sqlSender) CloseHandler(h Handle) error {
	return nil
}

func (ss *sqlSender) Free() error {
	return nil
}
