package catalog

import (
	"context"
	"fmt"

	"github.com/coreos/etcd/clientv3"
	"github.com/coreos/etcd/mvcc/mvccpb"
	"github.com/fagongzi/log"
	"github.com/fagongzi/util/json"
	"github.com/infinivision/sluice/pkg/meta"
)

// Registry publishes the catalog of a cluster to etcd and watches it
// for newer generations, so every container converges on the same
// catalog after a redeployment or a rescale.
type Registry struct {
	opts   options
	client *clientv3.Client
}

// NewRegistry returns a etcd catalog registry
func NewRegistry(client *clientv3.Client, opts ...Option) *Registry {
	reg := &Registry{}
	for _, opt := range opts {
		opt(&reg.opts)
	}

	reg.opts.adjust()
	reg.client = client
	return reg
}

// Publish validates the catalog, stamps a fresh generation and writes
// it under the group key. Returns the stamped generation.
func (r *Registry) Publish(spec meta.CatalogSpec) (uint64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	if err := checkSources(spec); err != nil {
		return 0, err
	}

	gen, err := r.opts.generator.Gen()
	if err != nil {
		return 0, err
	}

	spec.Generation = gen
	_, err = r.client.KV.Put(r.client.Ctx(), r.catalogKey(), string(json.MustMarshal(&spec)))
	if err != nil {
		return 0, err
	}

	return gen, nil
}

// Current returns the published catalog of the group
func (r *Registry) Current() (meta.CatalogSpec, error) {
	resp, err := r.client.KV.Get(r.client.Ctx(), r.catalogKey())
	if err != nil {
		return meta.CatalogSpec{}, err
	}

	if resp.Count == 0 {
		return meta.CatalogSpec{}, fmt.Errorf("no catalog published of group %s", r.opts.group)
	}

	spec := meta.CatalogSpec{}
	json.MustUnmarshal(&spec, resp.Kvs[0].Value)
	return spec, nil
}

// Watch invokes fn with every newer catalog generation published to
// the group, until the ctx is done. Stale and replayed generations
// are dropped.
func (r *Registry) Watch(ctx context.Context, fn func(meta.CatalogSpec)) {
	watcher := clientv3.NewWatcher(r.client)
	defer watcher.Close()

	last := uint64(0)
	for {
		rch := watcher.Watch(ctx, r.catalogKey())
		for wresp := range rch {
			if wresp.Canceled {
				return
			}

			for _, ev := range wresp.Events {
				if ev.Type != mvccpb.PUT {
					continue
				}

				spec := meta.CatalogSpec{}
				json.MustUnmarshal(&spec, ev.Kv.Value)
				if spec.Generation <= last {
					continue
				}

				last = spec.Generation
				log.Infof("[catalog]: generation %d of group %s received",
					spec.Generation,
					r.opts.group)
				fn(spec)
			}
		}

		select {
		case <-ctx.Done():
			log.Infof("[catalog]: watcher of group %s exit", r.opts.group)
			return
		default:
		}
	}
}

func (r *Registry) catalogKey() string {
	return fmt.Sprintf("%s/%s", r.opts.prefix, r.opts.group)
}
