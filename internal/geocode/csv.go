// Package geocode resolves city/state pairs to coordinates using a static
// reference table.
package geocode

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/talentgrid/jobpipe/internal/model"
)

// LoadCSV reads a city-coordinates file with columns city, state, latitude,
// longitude and a header row. Rows with malformed coordinates are skipped.
func LoadCSV(path string) ([]model.Geolocation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var locations []model.Geolocation
	header := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "geocode: read %s", path)
		}
		if header {
			header = false
			continue
		}
		if len(row) < 4 {
			continue
		}

		lat, latErr := strconv.ParseFloat(row[2], 64)
		lon, lonErr := strconv.ParseFloat(row[3], 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		locations = append(locations, model.Geolocation{
			City:      row[0],
			State:     row[1],
			Latitude:  lat,
			Longitude: lon,
		})
	}
	return locations, nil
}
