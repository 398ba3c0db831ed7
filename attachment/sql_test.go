package attachment

import (
	"database/sql"
	"flag"
	"strconv"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sqlTableFlag  = flag.String("attachment-table", defaultSQLTable, "Table to use for testing the SQL callbacks")
	sqlDSNFlag    = flag.String("sql-dsn", "", "DSN to use for testing the SQL callbacks")
	sqlDriverFlag = flag.String("sql-driver", "mysql", "Driver to use for testing the SQL callbacks")
)

func TestSQLCallbacks(t *testing.T) {
	if *sqlDSNFlag == "" {
		t.Skip("requires -sql-dsn to run")
	}
	db, err := sql.Open(*sqlDriverFlag, *sqlDSNFlag)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS ` + *sqlTableFlag + ` (
		attachment_key VARCHAR(255) NOT NULL,
		seq INT UNSIGNED NOT NULL,
		data LONGBLOB NOT NULL,
		PRIMARY KEY (attachment_key, seq))`)
	require.NoError(t, err)

	cb, err := NewCachingCallback("sql", CallbackConfig{
		"sql_driver":           *sqlDriverFlag,
		"sql_dsn":              *sqlDSNFlag,
		"sql_attachment_table": *sqlTableFlag,
		"callback_chunk_size":  5,
	})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, cb.Free())
	}()

	key := "<" + strconv.FormatInt(time.Now().UnixNano(), 10) + "@example.com>"
	body := strings.Repeat("DEADBEEF", 3)
	require.NoError(t, CacheTo(cb, key, func(cache func([]byte) error) error {
		return cache([]byte(body))
	}))

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+*sqlTableFlag+` WHERE attachment_key = ?`, key).Scan(&rows))
	assert.Equal(t, 5, rows)

	b, err := NewCallback(cb.(Retriever).Sender(), key, "").ReadFrom()
	require.NoError(t, err)
	assert.Equal(t, body, string(b))

	_, err = db.Exec(`DELETE FROM `+*sqlTableFlag+` WHERE attachment_key = ?`, key)
	assert.NoError(t, err)
}
