package api

import (
	"github.com/infinivision/sluice/pkg/meta"
)

// Cfg api server cfg
type Cfg struct {
	// Addr the http serve address
	Addr string
	// Catalog the catalog served by this cluster
	Catalog meta.CatalogSpec
}
