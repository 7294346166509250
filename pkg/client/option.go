package client

import (
	"time"
)

// Option option
type Option func(*options)

type options struct {
	addr    string
	timeout time.Duration
}

func (opts *options) adjust() {
	if opts.timeout == 0 {
		opts.timeout = time.Second * 30
	}
}

// WithTimeout set the request timeout
func WithTimeout(value time.Duration) Option {
	return func(opts *options) {
		opts.timeout = value
	}
}
