package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/talentgrid/jobpipe/internal/db"
	"github.com/talentgrid/jobpipe/internal/model"
)

// SeedGeolocations bulk-upserts the static city-coordinates table. Keys are
// lowercased so lookups are case-insensitive.
func (s *PostgresStore) SeedGeolocations(ctx context.Context, locations []model.Geolocation) (int64, error) {
	rows := make([][]any, len(locations))
	for i, g := range locations {
		rows[i] = []any{strings.ToLower(g.City), strings.ToLower(g.State), g.Latitude, g.Longitude}
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "geolocations",
		Columns:      []string{"city", "state", "latitude", "longitude"},
		ConflictKeys: []string{"city", "state"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: seed geolocations")
	}
	return n, nil
}

func (s *PostgresStore) AllGeolocations(ctx context.Context) ([]model.Geolocation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT city, state, latitude, longitude FROM geolocations`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: all geolocations")
	}
	defer rows.Close()

	var locations []model.Geolocation
	for rows.Next() {
		var g model.Geolocation
		if err := rows.Scan(&g.City, &g.State, &g.Latitude, &g.Longitude); err != nil {
			return nil, eris.Wrap(err, "postgres: scan geolocation")
		}
		locations = append(locations, g)
	}
	return locations, eris.Wrap(rows.Err(), "postgres: iterate geolocations")
}

// LookupLocations returns cached resolutions for the given raw location
// strings. Matching ignores case; the returned map is keyed by the lowercased
// location text.
func (s *PostgresStore) LookupLocations(ctx context.Context, keys []string) (map[string]model.LocationLookup, error) {
	if len(keys) == 0 {
		return map[string]model.LocationLookup{}, nil
	}
	lowered := make([]string, len(keys))
	for i, k := range keys {
		lowered[i] = strings.ToLower(k)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT location, city, state, country, confidence FROM location_lookups WHERE lower(location) = ANY($1)`,
		lowered,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup locations")
	}
	defer rows.Close()

	lookups := make(map[string]model.LocationLookup)
	for rows.Next() {
		var l model.LocationLookup
		if err := rows.Scan(&l.Location, &l.City, &l.State, &l.Country, &l.Confidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan location lookup")
		}
		lookups[strings.ToLower(l.Location)] = l
	}
	return lookups, eris.Wrap(rows.Err(), "postgres: iterate location lookups")
}

// SaveLocationLookups caches resolved locations so identical raw strings skip
// the location batch next time.
func (s *PostgresStore) SaveLocationLookups(ctx context.Context, lookups []model.LocationLookup) error {
	if len(lookups) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save lookups")
	}
	defer tx.Rollback(ctx)

	for _, l := range lookups {
		_, err := tx.Exec(ctx,
			`INSERT INTO location_lookups (location, city, state, country, confidence)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (location) DO NOTHING`,
			l.Location, l.City, l.State, l.Country, l.Confidence,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: save lookup %q", l.Location)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save lookups")
}
