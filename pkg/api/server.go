package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/id"
	"github.com/infinivision/sluice/pkg/journal"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/labstack/echo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	version = "/v1"
)

// ShardAPI exposes the derivation members served by this container
type ShardAPI interface {
	// States returns the state of every member of the derivation
	// served here
	States(derivation string) ([]derive.DerivationState, error)
	// Manual applies an operator action to a halted transform
	Manual(manual meta.Manual) error
	// Shards returns the shards served here
	Shards() []meta.Shard
}

// Server an api server. Ingested documents are stamped with their
// identity and appended to the collection's journal, where the
// shuffle readers pick them up.
type Server struct {
	sync.Mutex

	cfg      Cfg
	server   *echo.Echo
	journals journal.Store
	shards   ShardAPI
	tokens   id.Generator

	producer  meta.ProducerID
	lastClock uint64
}

// NewServer returns an api server
func NewServer(cfg Cfg, journals journal.Store, shards ShardAPI, tokens id.Generator) *Server {
	s := &Server{
		cfg:      cfg,
		server:   echo.New(),
		journals: journals,
		shards:   shards,
		tokens:   tokens,
		producer: meta.NewProducerID(),
	}

	s.initRoute()
	return s
}

func (s *Server) initRoute() {
	s.server.GET("/healthz", s.health())
	s.server.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	versionGroup := s.server.Group(version)
	versionGroup.GET("/catalog", s.catalog())
	versionGroup.GET("/shards", s.listShards())
	versionGroup.POST("/collections/:name/documents", s.ingest())
	versionGroup.GET("/collections/:name/documents", s.readDocuments())
	versionGroup.GET("/derivations/:name/states", s.states())
	versionGroup.PUT("/derivations/:name/transforms/:transform/resume", s.manual(meta.ManualResume))
	versionGroup.PUT("/derivations/:name/transforms/:transform/skip", s.manual(meta.ManualSkip))
}

// Handler returns the http handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.server
}

// Start start the api server
func (s *Server) Start() error {
	return s.server.Start(s.cfg.Addr)
}

// Stop stop the api server
func (s *Server) Stop() error {
	return s.server.Shutdown(context.TODO())
}

// nextUUIDParts returns a fresh document identity. The clock never
// repeats for this producer, ties within one wall tick are broken by
// the sequence bits.
func (s *Server) nextUUIDParts() meta.UUIDParts {
	s.Lock()
	defer s.Unlock()

	clock := meta.NewClock(time.Now())
	if clock <= s.lastClock {
		clock = meta.TickClock(s.lastClock)
	}
	s.lastClock = clock

	return meta.NewUUIDParts(s.producer, clock, meta.FlagOutsideTxn)
}
