package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/etcd/clientv3"
	"github.com/fagongzi/log"
	"github.com/infinivision/prophet"
	"github.com/infinivision/sluice/pkg/api"
	"github.com/infinivision/sluice/pkg/catalog"
	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/election"
	"github.com/infinivision/sluice/pkg/id"
	"github.com/infinivision/sluice/pkg/journal"
	"github.com/infinivision/sluice/pkg/local"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/metrics"
	"github.com/infinivision/sluice/pkg/sharding"
	"github.com/infinivision/sluice/pkg/util"
)

var (
	waitSeconds  = flag.Int("wait", 0, "wait seconds")
	nodeID       = flag.Uint("id", 0, "Node ID")
	addr         = flag.String("addr", "127.0.0.1:8080", "Addr: client http api")
	addrPeer     = flag.String("addr-peer", "127.0.0.1:8081", "Addr: sharding peer transport")
	addrProphet  = flag.String("addr-prophet", "127.0.0.1:9529", "Addr: prophet rpc")
	addrsProphet = flag.String("prophet-addrs", "", "Addr: every prophet rpc address, for the topology watcher, defaults to addr-prophet")
	addrPPROF    = flag.String("addr-pprof", "", "Addr: pprof addr")
	addrJournal  = flag.String("addr-journal", "mem://", "Addr: journal store address with protocol")
	dataPath     = flag.String("data", "/tmp/sluice", "Local data path")
	zone         = flag.String("zone", "zone-1", "Zone label")
	rack         = flag.String("rack", "rack-1", "Rack label")
	cpu          = flag.Int("cpu", 0, "Limit: schedule threads count")

	catalogFile  = flag.String("catalog", "", "Catalog yaml file")
	catalogEtcd  = flag.String("catalog-etcd", "", "Addr: etcd holding the published catalog, used when no catalog file is given")
	catalogGroup = flag.String("catalog-group", "default", "Catalog group")

	etcdExternal       = flag.String("etcd-external", "", "Addr: external etcd, empty means embedded")
	etcdClientURLs     = flag.String("etcd-urls-client", "http://127.0.0.1:2379", "URLs: embedded etcd client urls")
	etcdPeerURLs       = flag.String("etcd-urls-peer", "http://127.0.0.1:2381", "URLs: embedded etcd peer urls")
	etcdInitialCluster = flag.String("etcd-initial-cluster", "", "embedded etcd initial cluster")

	electionLockPath   = flag.String("election-lock-path", "/sluice/lock/election", "election lock path")
	electionLeaderPath = flag.String("election-leader-path", "/sluice/election", "election leader path")
	electionLease      = flag.Int64("election-lease", 5, "election leader lease seconds")

	storeHBIntervalSec = flag.Int("heartbeat-store", 30, "HB(sec): store heartbeat")
	shardHBIntervalSec = flag.Int("heartbeat-shard", 10, "HB(sec): shard heartbeat")
	maxPeerDownSec     = flag.Int("peer-max-downtime", 300, "Max(sec): max peer down time in seconds")
	splitCheckSec      = flag.Int("split-check", 30, "Interval(sec): register store split check")
	shardCapacityMB    = flag.Uint64("shard-capacity", 96, "Max(MB): register store size of one shard before it splits")

	concurrency = flag.Int("concurrency", 3, "Count: max blocks with in-flight update lambdas per shard")
	blockDocs   = flag.Int("block-docs", 256, "Count: max documents of one pipeline block")
	retries     = flag.Int("retries", 3, "Count: journal append retries")

	// metrics
	prometheusJob             = flag.String("metrics-job", "sluice", "Prometheus job name")
	prometheusPushgateway     = flag.String("metrics-push-addr", "", "Prometheus pushgateway address")
	prometheusPushIntervalSec = flag.Int("metrics-push-interval", 0, "Prometheus metrics push interval in seconds")

	version = flag.Bool("version", false, "Show version info")
)

var (
	prophetName = ""
)

func main() {
	flag.Parse()
	if *version && util.PrintVersion() {
		os.Exit(0)
	}

	if *waitSeconds > 0 {
		time.Sleep(time.Second * time.Duration(*waitSeconds))
	}

	prophetName = fmt.Sprintf("p%d", *nodeID)

	log.InitLog()
	prophet.SetLogger(&adapterLog{})

	if *cpu == 0 {
		runtime.GOMAXPROCS(runtime.NumCPU())
	} else {
		runtime.GOMAXPROCS(*cpu)
	}

	if *addrPPROF != "" {
		go func() {
			log.Errorf("start pprof failed, errors:\n%+v",
				http.ListenAndServe(*addrPPROF, nil))
		}()
	}

	metrics.Push(&metrics.MetricConfig{
		PushJob:      *prometheusJob,
		PushAddress:  *prometheusPushgateway,
		PushInterval: time.Second * time.Duration(*prometheusPushIntervalSec),
	})

	spec := loadCatalog()
	journals, err := journal.CreateStore(*addrJournal)
	if err != nil {
		log.Fatalf("create journal store failed with %+v", err)
	}

	s := sharding.NewStore(sharding.Cfg{
		Addr:       *addrPeer,
		ClientAddr: *addr,
		DataPath:   filepath.Join(*dataPath, "meta"),
		Labels: map[string]string{
			"zone": *zone,
			"rack": *rack,
		},
		ProphetName:         prophetName,
		ProphetAddr:         *addrProphet,
		ProphetAddrs:        prophetAddrs(),
		ProphetOptions:      parseProphetOptions(),
		ShardHBInterval:     time.Second * time.Duration(*shardHBIntervalSec),
		StoreHBInterval:     time.Second * time.Duration(*storeHBIntervalSec),
		MaxPeerDownDuration: time.Second * time.Duration(*maxPeerDownSec),
		SplitCheckInterval:  time.Second * time.Duration(*splitCheckSec),
		ShardCapacityBytes:  *shardCapacityMB * 1024 * 1024,
		Catalog:             spec,
		DeriveOptions:       parseDeriveOptions(journals),
	})

	go s.Start()

	apiSvr := api.NewServer(api.Cfg{
		Addr:    *addr,
		Catalog: spec,
	}, journals, s, id.NewSnowflakeGenerator(uint16(*nodeID)))

	go func() {
		if err := apiSvr.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("start api server failed with %+v", err)
		}
	}()

	waitStop(s, apiSvr)
}

func waitStop(s sharding.Store, apiSvr *api.Server) {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sc
	apiSvr.Stop()
	s.Stop()
	log.Infof("exit: signal=<%d>.", sig)
	switch sig {
	case syscall.SIGTERM:
		log.Infof("exit: bye :-).")
		os.Exit(0)
	default:
		log.Infof("exit: bye :-(.")
		os.Exit(1)
	}
}

func loadCatalog() meta.CatalogSpec {
	if *catalogFile != "" {
		spec, err := catalog.Load(*catalogFile)
		if err != nil {
			log.Fatalf("load catalog %s failed with %+v", *catalogFile, err)
		}

		return spec
	}

	if *catalogEtcd == "" {
		log.Fatalf("one of catalog or catalog-etcd is required")
	}

	client, err := clientv3.NewFromURL(*catalogEtcd)
	if err != nil {
		log.Fatalf("create catalog etcd client failed with %+v", err)
	}

	reg := catalog.NewRegistry(client, catalog.WithGroup(*catalogGroup))
	spec, err := reg.Current()
	if err != nil {
		log.Fatalf("fetch published catalog failed with %+v", err)
	}

	log.Infof("catalog generation %d of group %s loaded",
		spec.Generation,
		*catalogGroup)

	// the catalog is immutable within a process, newer generations
	// apply on restart
	go reg.Watch(context.Background(), func(next meta.CatalogSpec) {
		log.Warnf("catalog generation %d published, restart to apply it",
			next.Generation)
	})

	return spec
}

func prophetAddrs() []string {
	if *addrsProphet == "" {
		return []string{*addrProphet}
	}

	return strings.Split(*addrsProphet, ",")
}

func parseProphetOptions() []prophet.Option {
	if *etcdExternal != "" {
		client, err := clientv3.NewFromURL(*etcdExternal)
		if err != nil {
			log.Fatalf("create external etcd client failed with %+v", err)
		}

		return []prophet.Option{prophet.WithExternalEtcd(client)}
	}

	return []prophet.Option{
		prophet.WithEmbeddedEtcd(strings.Split(*etcdClientURLs, ","), &prophet.EmbeddedEtcdCfg{
			Name:           prophetName,
			DataPath:       filepath.Join(*dataPath, "prophet"),
			URLsClient:     *etcdClientURLs,
			URLsPeer:       *etcdPeerURLs,
			InitialCluster: *etcdInitialCluster,
		}),
	}
}

func parseDeriveOptions(journals journal.Store) []derive.Option {
	registers, err := local.NewBadgerStorage(filepath.Join(*dataPath, "registers"))
	if err != nil {
		log.Fatalf("create register storage failed with %+v", err)
	}

	var opts []derive.Option
	opts = append(opts, derive.WithJournalStore(journals))
	opts = append(opts, derive.WithLocalStorage(registers))
	opts = append(opts, derive.WithGenerator(id.NewSnowflakeGenerator(uint16(*nodeID))))
	opts = append(opts, derive.WithConcurrency(*concurrency))
	opts = append(opts, derive.WithBlockDocs(*blockDocs))
	opts = append(opts, derive.WithRetries(*retries))
	opts = append(opts, derive.WithElectorOptions(election.WithLeaderLeaseSec(*electionLease),
		election.WithLeaderPath(*electionLeaderPath),
		election.WithLockPath(*electionLockPath)))

	return opts
}

type adapterLog struct{}

func (l *adapterLog) Info(v ...interface{}) {
	log.Info(v...)
}

func (l *adapterLog) Infof(format string, v ...interface{}) {
	log.Infof(format, v...)
}

func (l *adapterLog) Debug(v ...interface{}) {
	log.Debug(v...)
}

func (l *adapterLog) Debugf(format string, v ...interface{}) {
	log.Debugf(format, v...)
}

func (l *adapterLog) Warn(v ...interface{}) {
	log.Warn(v...)
}

func (l *adapterLog) Warnf(format string, v ...interface{}) {
	log.Warnf(format, v...)
}

func (l *adapterLog) Error(v ...interface{}) {}

func (l *adapterLog) Errorf(format string, v ...interface{}) {
	log.Errorf(format, v...)
}

func (l *adapterLog) Fatal(v ...interface{}) {
	log.Fatal(v...)
}

func (l *adapterLog) Fatalf(format string, v ...interface{}) {
	log.Fatalf(format, v...)
}
