package redigo_driver

import (
	"github.com/flashmob/go-mtom/attachment"
	redigo "github.com/gomodule/redigo/redis"
)

func init() {
	attachment.RedisDialer = Dial
}

// Dial connects with redigo
func Dial(network, address string, options ...attachment.RedisDialOption) (attachment.RedisConn, error) {
	var opts []redigo.DialOption
	for _, o := range options {
		if o.Password != "" {
			opts = append(opts, redigo.DialPassword(o.Password))
		}
		if o.DB != 0 {
			opts = append(opts, redigo.DialDatabase(o.DB))
		}
	}
	return redigo.Dial(network, address, opts...)
}
