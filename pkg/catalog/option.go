package catalog

import (
	"github.com/infinivision/sluice/pkg/id"
)

// Option option
type Option func(*options)

type options struct {
	prefix    string
	group     string
	generator id.Generator
}

func (opts *options) adjust() {
	if opts.prefix == "" {
		opts.prefix = "/sluice/catalog"
	}

	if opts.group == "" {
		opts.group = "default"
	}

	if opts.generator == nil {
		opts.generator = id.NewSnowflakeGenerator(0)
	}
}

// WithPrefix set the etcd key prefix
func WithPrefix(value string) Option {
	return func(opts *options) {
		opts.prefix = value
	}
}

// WithGroup set group, clusters sharing one etcd use distinct groups
func WithGroup(value string) Option {
	return func(opts *options) {
		opts.group = value
	}
}

// WithGenerator set the generation token generator
func WithGenerator(value id.Generator) Option {
	return func(opts *options) {
		opts.generator = value
	}
}
