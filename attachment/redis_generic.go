package attachment

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

func init() {
	RedisDialer = func(network, address string, options ...RedisDialOption) (RedisConn, error) {
		return NewRedisMockConn(), nil
	}
}

// RedisConn interface provides a generic way to access Redis via drivers
type RedisConn interface {
	Close() error
	Do(commandName string, args ...interface{}) (reply interface{}, err error)
}

// RedisDialOption configures a connection made by a driver
type RedisDialOption struct {
	Password string
	DB       int
}

type redisDial func(network, address string, options ...RedisDialOption) (RedisConn, error)

// RedisDialer is replaced by importing a driver, eg. attachment/storage/redigo.
// Without a driver an in-process mock is used
var RedisDialer redisDial

// RedisMockConn understands the handful of commands the redis callbacks use
type RedisMockConn struct {
	mu       sync.Mutex
	data     map[string][]byte
	ttl      map[string]int64
	Commands []string
}

func NewRedisMockConn() *RedisMockConn {
	return &RedisMockConn{data: map[string][]byte{}, ttl: map[string]int64{}}
}

func (m *RedisMockConn) Close() error {
	return nil
}

func (m *RedisMockConn) Do(commandName string, args ...interface{}) (reply interface{}, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = append(m.Commands, commandName)
	key := func() string {
		if len(args) == 0 {
			return ""
		}
		return redisString(args[0])
	}
	switch strings.ToUpper(commandName) {
	case "PING":
		return "PONG", nil
	case "DEL":
		_, existed := m.data[key()]
		delete(m.data, key())
		delete(m.ttl, key())
		if existed {
			return int64(1), nil
		}
		return int64(0), nil
	case "APPEND":
		if len(args) != 2 {
			return nil, errors.New("wrong number of arguments for APPEND")
		}
		m.data[key()] = append(m.data[key()], redisBytes(args[1])...)
		return int64(len(m.data[key()])), nil
	case "EXPIRE":
		if len(args) != 2 {
			return nil, errors.New("wrong number of arguments for EXPIRE")
		}
		n, _ := strconv.ParseInt(redisString(args[1]), 10, 64)
		m.ttl[key()] = n
		return int64(1), nil
	case "STRLEN":
		return int64(len(m.data[key()])), nil
	case "GETRANGE":
		if len(args) != 3 {
			return nil, errors.New("wrong number of arguments for GETRANGE")
		}
		v := m.data[key()]
		start, _ := strconv.Atoi(redisString(args[1]))
		end, _ := strconv.Atoi(redisString(args[2]))
		if end >= len(v) {
			end = len(v) - 1
		}
		if start > end || start >= len(v) {
			return []byte{}, nil
		}
		out := make([]byte, end-start+1)
		copy(out, v[start:end+1])
		return out, nil
	}
	return nil, errors.Errorf("mock does not support %s", commandName)
}

func redisString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	}
	return ""
}

func redisBytes(v interface{}) []byte {
	if b, ok := v.([]byte); ok {
		return b
	}
	return []byte(redisString(v))
}

// redisInt converts an integer reply. redigo returns int64, other drivers may return strings
func redisInt(reply interface{}) (int64, error) {
	switch v := reply.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case nil:
		return 0, nil
	}
	return 0, errors.Errorf("unexpected redis reply %T", reply)
}

// redisBulk converts a bulk string reply
func redisBulk(reply interface{}) ([]byte, error) {
	switch v := reply.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, nil
	}
	return nil, errors.Errorf("unexpected redis reply %T", reply)
}
