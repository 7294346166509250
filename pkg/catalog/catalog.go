package catalog

import (
	"io/ioutil"
	"net/url"

	"github.com/infinivision/sluice/pkg/meta"
	yaml "gopkg.in/yaml.v2"
)

// Load reads a YAML catalog file and returns the validated spec. The
// generation is left zero until the catalog is published.
func Load(file string) (meta.CatalogSpec, error) {
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return meta.CatalogSpec{}, err
	}

	return Parse(data)
}

// Parse parses a YAML catalog and validates it, including the checks
// that need the whole catalog in scope: transform sources must name
// known collections, builtin lambdas must be registered, and the
// derivation graph must be acyclic.
func Parse(data []byte) (meta.CatalogSpec, error) {
	spec := meta.CatalogSpec{}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return meta.CatalogSpec{}, meta.NewValidationError("malformed catalog yaml (%v)", err)
	}

	if err := spec.Validate(); err != nil {
		return meta.CatalogSpec{}, err
	}

	if err := checkLambdas(spec); err != nil {
		return meta.CatalogSpec{}, err
	}

	if err := checkSources(spec); err != nil {
		return meta.CatalogSpec{}, err
	}

	return spec, nil
}

// checkLambdas verifies every remote lambda names a http(s) endpoint.
// Builtin references resolve at worker build time, the serving binary
// owns the builtin registry and a publishing tool does not.
func checkLambdas(spec meta.CatalogSpec) error {
	for i, c := range spec.Collections {
		if c.Derivation == nil {
			continue
		}

		for j, t := range c.Derivation.Transforms {
			if err := checkLambda(t.Update); err != nil {
				return meta.ExtendContext(err,
					"Collections[%d].Derivation.Transforms[%d].Update", i, j)
			}

			if err := checkLambda(t.Publish); err != nil {
				return meta.ExtendContext(err,
					"Collections[%d].Derivation.Transforms[%d].Publish", i, j)
			}
		}
	}

	return nil
}

func checkLambda(spec *meta.LambdaSpec) error {
	if spec == nil {
		return nil
	}

	if spec.Builtin != "" {
		return nil
	}

	u, err := url.Parse(spec.Remote)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return meta.NewValidationError("not a http(s) endpoint (%s)", spec.Remote)
	}

	return nil
}
