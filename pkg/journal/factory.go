package journal

import (
	"net/url"
	"time"

	"github.com/fagongzi/log"
	"github.com/fagongzi/util/format"
)

const (
	protocolMem   = "mem"
	protocolLocal = "local"
	protocolRedis = "redis"
)

const (
	paramProxies       = "proxy"
	paramMaxRetryTimes = "retry"
	paramMaxActive     = "maxActive"
	paramMaxIdle       = "maxIdle"
	paramIdleTimeout   = "idleTimeout"
	paramDailTimeout   = "dailTimeout"
	paramReadTimeout   = "readTimeout"
	paramWriteTimeout  = "writeTimeout"
)

// CreateStore returns the journal store of the address.
// examples:
//
//	mem://
//	local:///var/sluice/journals
//	redis://ip:port?proxy=ip2:port2&retry=3&maxActive=100&maxIdle=10&idleTimeout=30&dailTimeout=10&readTimeout=30&writeTimeout=10
func CreateStore(protocolAddr string) (Store, error) {
	u, err := url.Parse(protocolAddr)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case protocolMem:
		return NewMemStore(), nil
	case protocolLocal:
		return createLocalStore(u)
	case protocolRedis:
		return createRedisStore(u)
	}

	log.Fatalf("the schema %s is not support", u.Scheme)
	return nil, nil
}

func createRedisStore(u *url.URL) (Store, error) {
	var opts []Option

	var proxies []string
	proxies = append(proxies, u.Host)
	if values, ok := u.Query()[paramProxies]; ok {
		proxies = append(proxies, values...)
	}
	opts = append(opts, WithProxies(proxies...))

	retry := u.Query().Get(paramMaxRetryTimes)
	if retry != "" {
		opts = append(opts, WithRetry(format.MustParseStrInt(retry)))
	}

	maxActive := u.Query().Get(paramMaxActive)
	if maxActive != "" {
		opts = append(opts, WithMaxActive(format.MustParseStrInt(maxActive)))
	}

	maxIdle := u.Query().Get(paramMaxIdle)
	if maxIdle != "" {
		opts = append(opts, WithMaxIdle(format.MustParseStrInt(maxIdle)))
	}

	idleTimeout := u.Query().Get(paramIdleTimeout)
	if idleTimeout != "" {
		opts = append(opts, WithIdleTimeout(time.Second*time.Duration(format.MustParseStrInt64(idleTimeout))))
	}

	dailTimeout := u.Query().Get(paramDailTimeout)
	if dailTimeout != "" {
		opts = append(opts, WithDailTimeout(time.Second*time.Duration(format.MustParseStrInt64(dailTimeout))))
	}

	readTimeout := u.Query().Get(paramReadTimeout)
	if readTimeout != "" {
		opts = append(opts, WithReadTimeout(time.Second*time.Duration(format.MustParseStrInt64(readTimeout))))
	}

	writeTimeout := u.Query().Get(paramWriteTimeout)
	if writeTimeout != "" {
		opts = append(opts, WithWriteTimeout(time.Second*time.Duration(format.MustParseStrInt64(writeTimeout))))
	}

	return NewRedisStore(opts...), nil
}
