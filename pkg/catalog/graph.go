package catalog

import (
	"strings"

	"github.com/infinivision/sluice/pkg/meta"
)

const (
	white = iota
	gray
	black
)

// checkSources verifies that every transform sources a known
// collection, and that the derivations do not form a cycle. A
// derivation may source its own output, iterative algorithms need
// that, but a cycle through another derivation can never drain and is
// refused here, before anything runs.
func checkSources(spec meta.CatalogSpec) error {
	for i, c := range spec.Collections {
		if c.Derivation == nil {
			continue
		}

		for j, t := range c.Derivation.Transforms {
			if _, ok := spec.Collection(t.Source); !ok {
				return meta.ExtendContext(
					meta.NewValidationError("source names an unknown collection (%s)", t.Source),
					"Collections[%d].Derivation.Transforms[%d].Source", i, j)
			}
		}
	}

	colors := make(map[string]int, len(spec.Collections))
	for _, c := range spec.Collections {
		if c.Derivation == nil || colors[c.Name] != white {
			continue
		}

		if err := visit(spec, c, colors, []string{c.Name}); err != nil {
			return err
		}
	}

	return nil
}

func visit(spec meta.CatalogSpec, c meta.CollectionSpec, colors map[string]int, path []string) error {
	colors[c.Name] = gray

	for _, t := range c.Derivation.Transforms {
		// a direct self-loop is allowed
		if t.Source == c.Name {
			continue
		}

		src, _ := spec.Collection(t.Source)
		if src.Derivation == nil {
			continue
		}

		switch colors[src.Name] {
		case gray:
			return meta.NewValidationError("cyclic derivation sources (%s)",
				strings.Join(append(path, src.Name), " -> "))
		case white:
			if err := visit(spec, src, colors, append(path, src.Name)); err != nil {
				return err
			}
		}
	}

	colors[c.Name] = black
	return nil
}
