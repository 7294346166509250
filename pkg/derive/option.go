package derive

import (
	"time"

	"github.com/infinivision/sluice/pkg/election"
	"github.com/infinivision/sluice/pkg/id"
	"github.com/infinivision/sluice/pkg/journal"
	"github.com/infinivision/sluice/pkg/lambda"
	"github.com/infinivision/sluice/pkg/local"
	"github.com/infinivision/sluice/pkg/meta"
)

// Topology returns the current ring of the derivation and the shard
// id of every ring member, aligned by member index. Rings grow when a
// member splits, every worker of the derivation must observe the same
// ring or keys would route to different members.
type Topology func(derivation string) (meta.Ring, []uint64, error)

// Option derive worker option
type Option func(*options)

type options struct {
	journals journal.Store
	local    local.Storage
	gen      id.Generator

	elector        election.Elector
	electorOptions []election.Option

	topology Topology
	send     func(shard uint64, msg interface{})

	concurrency int
	blockDocs   int
	retries     int

	wall func() time.Time

	registerValidator func(value []byte) error
	outputValidator   func(value []byte) error
	lambdaOptions     []lambda.Option

	becomeLeader   func()
	becomeFollower func()
}

func (opts *options) adjust() {
	if opts.concurrency == 0 {
		opts.concurrency = 3
	}

	if opts.blockDocs == 0 {
		opts.blockDocs = 256
	}

	if opts.retries == 0 {
		opts.retries = 3
	}

	if opts.wall == nil {
		opts.wall = time.Now
	}

	if opts.gen == nil {
		opts.gen = id.NewMemGenerator()
	}
}

// WithJournalStore set the journal store of source and derived collections
func WithJournalStore(value journal.Store) Option {
	return func(opts *options) {
		opts.journals = value
	}
}

// WithLocalStorage set the local storage holding the shard registers
func WithLocalStorage(value local.Storage) Option {
	return func(opts *options) {
		opts.local = value
	}
}

// WithGenerator set the checkpoint token generator
func WithGenerator(value id.Generator) Option {
	return func(opts *options) {
		opts.gen = value
	}
}

// WithElector set the elector fencing shard ownership
func WithElector(value election.Elector) Option {
	return func(opts *options) {
		opts.elector = value
	}
}

// WithElectorOptions set the options used to build the elector
func WithElectorOptions(values ...election.Option) Option {
	return func(opts *options) {
		opts.electorOptions = append(opts.electorOptions, values...)
	}
}

// WithTopology set the ring topology source
func WithTopology(value Topology) Option {
	return func(opts *options) {
		opts.topology = value
	}
}

// WithSend set the func used to send a message to a shard leader
func WithSend(value func(shard uint64, msg interface{})) Option {
	return func(opts *options) {
		opts.send = value
	}
}

// WithConcurrency set the max count of blocks with in-flight update
// lambda invocations
func WithConcurrency(value int) Option {
	return func(opts *options) {
		opts.concurrency = value
	}
}

// WithBlockDocs set the max count of documents of one block
func WithBlockDocs(value int) Option {
	return func(opts *options) {
		opts.blockDocs = value
	}
}

// WithRetries set the retry times of journal appends
func WithRetries(value int) Option {
	return func(opts *options) {
		opts.retries = value
	}
}

// WithWallClock set the wall clock used by read-delay gating, just
// for test
func WithWallClock(value func() time.Time) Option {
	return func(opts *options) {
		opts.wall = value
	}
}

// WithRegisterValidator set the external schema validator applied to
// every reduced register value
func WithRegisterValidator(value func(value []byte) error) Option {
	return func(opts *options) {
		opts.registerValidator = value
	}
}

// WithOutputValidator set the external schema validator applied to
// every published output document
func WithOutputValidator(value func(value []byte) error) Option {
	return func(opts *options) {
		opts.outputValidator = value
	}
}

// WithLambdaOptions set the options of remote lambda invocations
func WithLambdaOptions(values ...lambda.Option) Option {
	return func(opts *options) {
		opts.lambdaOptions = values
	}
}

// WithBecomeLeader set the callback invoked when the worker becomes
// the shard leader
func WithBecomeLeader(value func()) Option {
	return func(opts *options) {
		opts.becomeLeader = value
	}
}

// WithBecomeFollower set the callback invoked when the worker loses
// the shard leadership
func WithBecomeFollower(value func()) Option {
	return func(opts *options) {
		opts.becomeFollower = value
	}
}
