package goredis_driver

import (
	"context"
	"errors"

	"github.com/flashmob/go-mtom/attachment"
	"github.com/redis/go-redis/v9"
)

func init() {
	attachment.RedisDialer = Dial
}

// Dial connects with go-redis. It pings the server so that a bad address fails here
// and not on the first command
func Dial(network, address string, options ...attachment.RedisDialOption) (attachment.RedisConn, error) {
	opts := &redis.Options{Network: network, Addr: address}
	for _, o := range options {
		if o.Password != "" {
			opts.Password = o.Password
		}
		if o.DB != 0 {
			opts.DB = o.DB
		}
	}
	c := redis.NewClient(opts)
	if err := c.Ping(context.Background()).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &conn{client: c}, nil
}

type conn struct {
	client *redis.Client
}

func (c *conn) Close() error {
	return c.client.Close()
}

func (c *conn) Do(commandName string, args ...interface{}) (interface{}, error) {
	cmd := make([]interface{}, 0, len(args)+1)
	cmd = append(cmd, commandName)
	cmd = append(cmd, args...)
	reply, err := c.client.Do(context.Background(), cmd...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return reply, err
}
