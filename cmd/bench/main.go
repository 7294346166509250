package main

import (
	"flag"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/fagongzi/log"
	"github.com/infinivision/sluice/pkg/client"
)

var (
	addr       = flag.String("addr", "127.0.0.1:8080", "Addr: sluice http api")
	collection = flag.String("collection", "movements", "ingested collection")
	clients    = flag.Int("clients", 10, "Count: concurrent ingest clients")
	batch      = flag.Int("batch", 8, "Count: documents per ingest")
	accounts   = flag.Int("accounts", 100, "Count: distinct accounts")
)

var (
	total uint64
)

func main() {
	flag.Parse()
	log.InitLog()

	for i := 0; i < *clients; i++ {
		go func(idx int) {
			c := client.NewClient(*addr)
			seq := 0

			for {
				var docs [][]byte
				for j := 0; j < *batch; j++ {
					seq++
					docs = append(docs, []byte(fmt.Sprintf(
						`{"id": "c%d-%d", "from": "acct-%d", "to": "acct-%d", "amount": %d}`,
						idx,
						seq,
						rand.Intn(*accounts),
						rand.Intn(*accounts),
						rand.Intn(1000))))
				}

				result, err := c.Ingest(*collection, docs...)
				if err != nil {
					log.Fatalf("[c-%d] ingest failed with %+v", idx, err)
					return
				}

				if len(result.UUIDs) != *batch {
					log.Fatalf("[c-%d] ingest stamped %d of %d documents",
						idx,
						len(result.UUIDs),
						*batch)
				}

				atomic.AddUint64(&total, uint64(*batch))
			}
		}(i)
	}

	last := uint64(0)
	for {
		time.Sleep(time.Second)
		now := atomic.LoadUint64(&total)
		log.Infof("ingested %d documents, %d/s", now, now-last)
		last = now
	}
}
