package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of a stage mapping override.
type catalogFile struct {
	Boards map[string]TaxonomySpec `yaml:"boards"`
}

// LoadCatalogFile reads board taxonomies from a YAML file and merges them
// over the built-ins. A board present in the file replaces its built-in
// table entirely; boards absent from the file keep the defaults. Every
// loaded table goes through the same totality and round-trip validation as
// the built-ins, so a bad override fails at startup rather than at render
// time.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage map file: %w", err)
	}
	return parseCatalog(data)
}

func parseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse stage map file: %w", err)
	}
	catalog := DefaultCatalog()
	for rawBoard, spec := range file.Boards {
		board := BoardType(rawBoard)
		t, err := NewTaxonomy(board, spec)
		if err != nil {
			return nil, err
		}
		catalog.taxonomies[board] = t
	}
	return catalog, nil
}
