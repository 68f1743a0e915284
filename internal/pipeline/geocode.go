package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentgrid/jobpipe/internal/geocode"
	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/internal/store"
)

const geocodePageSize = 5000

// Geocoder joins location_classified records against the static coordinates
// table. A miss is not an error: the record still advances to geocoded with
// null coordinates. Non-US records that slipped through go invalid here.
type Geocoder struct {
	st       store.Store
	pageSize int
}

func NewGeocoder(st store.Store) *Geocoder {
	return &Geocoder{st: st, pageSize: geocodePageSize}
}

func (g *Geocoder) Name() string { return "geocode" }

func (g *Geocoder) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "geocoder"))

	locations, err := g.st.AllGeolocations(ctx)
	if err != nil {
		return err
	}
	if len(locations) == 0 {
		return eris.New("pipeline: geolocations table is empty, run geoload first")
	}
	idx := geocode.NewIndex(locations)
	log.Info("city index loaded", zap.Int("cities", idx.Len()))

	matched, missed, invalid := 0, 0, 0
	for {
		candidates, err := g.st.GeocodeCandidates(ctx, g.pageSize)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			break
		}

		var coords []store.CoordinateUpdate
		var done, bad []uuid.UUID
		for _, r := range candidates {
			switch {
			case r.Latitude != nil:
				// Already carries coordinates, just needs the status.
				done = append(done, r.ID)
			case r.GeneratedCountry == nil || *r.GeneratedCountry != "US":
				bad = append(bad, r.ID)
			default:
				loc, ok := idx.Lookup(deref(r.GeneratedCity, ""), deref(r.GeneratedState, ""))
				if ok {
					coords = append(coords, store.CoordinateUpdate{
						ID:        r.ID,
						Latitude:  loc.Latitude,
						Longitude: loc.Longitude,
					})
				} else {
					done = append(done, r.ID)
				}
			}
		}

		if err := g.st.ApplyCoordinates(ctx, coords); err != nil {
			return err
		}
		if err := g.st.MarkRecordsStatus(ctx, done, model.StatusGeocoded); err != nil {
			return err
		}
		if err := g.st.MarkRecordsInvalid(ctx, bad, model.StatusInvalid); err != nil {
			return err
		}
		matched += len(coords)
		missed += len(done)
		invalid += len(bad)
	}

	log.Info("geocoding complete",
		zap.Int("matched", matched),
		zap.Int("missed", missed),
		zap.Int("invalid", invalid),
	)
	return nil
}
