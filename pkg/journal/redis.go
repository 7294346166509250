package journal

import (
	"fmt"
	"sync/atomic"

	"github.com/garyburd/redigo/redis"
	"github.com/infinivision/sluice/pkg/meta"
)

type redisStore struct {
	ops   uint64
	opts  options
	pools []*redis.Pool
}

// NewRedisStore returns a store holding every journal as a redis
// list, one RPUSH appends a whole batch atomically
func NewRedisStore(opts ...Option) Store {
	s := &redisStore{}
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.opts.adjust()

	for _, proxy := range s.opts.proxies {
		proxy := proxy
		s.pools = append(s.pools, &redis.Pool{
			MaxActive:   s.opts.maxActive,
			MaxIdle:     s.opts.maxIdle,
			IdleTimeout: s.opts.idleTimeout,
			Wait:        true,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp",
					proxy,
					redis.DialWriteTimeout(s.opts.writeTimeout),
					redis.DialConnectTimeout(s.opts.dailTimeout),
					redis.DialReadTimeout(s.opts.readTimeout))
			},
		})
	}

	return s
}

func (s *redisStore) Append(journal string, docs ...[]byte) (int64, error) {
	key := getJournalKey(journal)
	args := make([]interface{}, 0, len(docs)+1)
	args = append(args, key)
	for _, doc := range docs {
		args = append(args, doc)
	}

	head := int64(0)
	err := s.doWithRetry(func(conn redis.Conn) error {
		value, err := redis.Int64(conn.Do("RPUSH", args...))
		head = value
		return err
	})

	return head, err
}

func (s *redisStore) AppendFenced(journal string, token uint64, docs ...[]byte) (int64, error) {
	key := getJournalKey(journal)
	args := make([]interface{}, 0, len(docs)+1)
	args = append(args, key)
	for _, doc := range docs {
		args = append(args, doc)
	}

	head := int64(0)
	stale := false
	err := s.doWithRetry(func(conn redis.Conn) error {
		fence, err := s.readFence(conn, journal)
		if err != nil {
			return err
		}
		if token < fence {
			stale = true
			return nil
		}

		head, err = redis.Int64(conn.Do("RPUSH", args...))
		if err != nil {
			return err
		}

		_, err = conn.Do("SET", getJournalFenceKey(journal), token)
		return err
	})
	if err != nil {
		return 0, err
	}
	if stale {
		return 0, meta.ErrStaleToken
	}

	return head, nil
}

func (s *redisStore) Fence(journal string, token uint64) error {
	return s.doWithRetry(func(conn redis.Conn) error {
		fence, err := s.readFence(conn, journal)
		if err != nil {
			return err
		}
		if token <= fence {
			return nil
		}

		_, err = conn.Do("SET", getJournalFenceKey(journal), token)
		return err
	})
}

func (s *redisStore) readFence(conn redis.Conn, journal string) (uint64, error) {
	fence, err := redis.Uint64(conn.Do("GET", getJournalFenceKey(journal)))
	if err != nil && err != redis.ErrNil {
		return 0, err
	}

	return fence, nil
}

func (s *redisStore) Read(journal string, offset int64, limit int) ([][]byte, int64, error) {
	if offset < 0 {
		return nil, 0, fmt.Errorf("invalid offset %d", offset)
	}

	key := getJournalKey(journal)
	end := int64(-1)
	if limit > 0 {
		end = offset + int64(limit) - 1
	}

	var docs [][]byte
	err := s.doWithRetry(func(conn redis.Conn) error {
		values, err := redis.ByteSlices(conn.Do("LRANGE", key, offset, end))
		docs = values
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	return docs, offset + int64(len(docs)), nil
}

func (s *redisStore) Size(journal string) (int64, error) {
	key := getJournalKey(journal)
	head := int64(0)
	err := s.doWithRetry(func(conn redis.Conn) error {
		value, err := redis.Int64(conn.Do("LLEN", key))
		head = value
		return err
	})

	return head, err
}

func (s *redisStore) Close() error {
	for _, pool := range s.pools {
		pool.Close()
	}

	return nil
}

func (s *redisStore) get() redis.Conn {
	return s.pools[int(atomic.AddUint64(&s.ops, 1)%uint64(len(s.pools)))].Get()
}

func (s *redisStore) doWithRetry(doFunc func(conn redis.Conn) error) error {
	times := 0

	for {
		conn := s.get()
		err := doFunc(conn)
		conn.Close()

		if err == nil {
			break
		}

		if times >= s.opts.maxRetryTimes {
			return err
		}
		times++
	}

	return nil
}

func getJournalKey(journal string) string {
	return "j:" + journal
}

func getJournalFenceKey(journal string) string {
	return "jf:" + journal
}
