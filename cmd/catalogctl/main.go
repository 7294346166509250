package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/coreos/etcd/clientv3"
	"github.com/fagongzi/log"
	"github.com/fagongzi/util/json"
	"github.com/infinivision/sluice/pkg/catalog"
	"github.com/infinivision/sluice/pkg/id"
	"github.com/infinivision/sluice/pkg/util"
)

var (
	addrEtcd = flag.String("addr-etcd", "http://127.0.0.1:2379", "Addr: etcd of the cluster")
	group    = flag.String("group", "default", "Catalog group")
	file     = flag.String("catalog", "", "Catalog yaml file to publish, omit to show the published catalog")
	nodeID   = flag.Uint("id", 0, "Node ID, salts the generation tokens")

	version = flag.Bool("version", false, "Show version info")
)

func main() {
	flag.Parse()
	if *version && util.PrintVersion() {
		os.Exit(0)
	}

	log.InitLog()

	client, err := clientv3.NewFromURL(*addrEtcd)
	if err != nil {
		log.Fatalf("create etcd client failed with %+v", err)
	}

	reg := catalog.NewRegistry(client,
		catalog.WithGroup(*group),
		catalog.WithGenerator(id.NewSnowflakeGenerator(uint16(*nodeID))))

	if *file == "" {
		spec, err := reg.Current()
		if err != nil {
			log.Fatalf("fetch published catalog failed with %+v", err)
		}

		fmt.Printf("%s\n", json.MustMarshal(&spec))
		return
	}

	spec, err := catalog.Load(*file)
	if err != nil {
		log.Fatalf("load catalog %s failed with %+v", *file, err)
	}

	gen, err := reg.Publish(spec)
	if err != nil {
		log.Fatalf("publish catalog failed with %+v", err)
	}

	log.Infof("catalog %s published to group %s with generation %d",
		*file,
		*group,
		gen)
}
