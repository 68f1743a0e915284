package geocode

import (
	"strings"

	"github.com/talentgrid/jobpipe/internal/model"
)

// Index is an in-memory city/state coordinate lookup. Keys are
// case-insensitive; the first entry wins on duplicates.
type Index struct {
	byKey map[string]model.Geolocation
}

func NewIndex(locations []model.Geolocation) *Index {
	byKey := make(map[string]model.Geolocation, len(locations))
	for _, g := range locations {
		k := key(g.City, g.State)
		if _, ok := byKey[k]; !ok {
			byKey[k] = g
		}
	}
	return &Index{byKey: byKey}
}

// Lookup resolves a city/state pair.
func (idx *Index) Lookup(city, state string) (model.Geolocation, bool) {
	g, ok := idx.byKey[key(city, state)]
	return g, ok
}

// Len reports the number of distinct keys.
func (idx *Index) Len() int {
	return len(idx.byKey)
}

func key(city, state string) string {
	return strings.ToLower(city + "," + state)
}
