package model

// Geolocation is one row of the static city-coordinates reference table.
type Geolocation struct {
	City      string
	State     string
	Latitude  float64
	Longitude float64
}

// LocationLookup caches a resolved raw location string so later records with
// the same text skip the location batch entirely. The location text is stored
// as written; consultation is case-insensitive. Confidence stays 0 for entries
// the pipeline derives itself and is reserved for curated rows.
type LocationLookup struct {
	Location   string
	City       string
	State      string
	Country    string
	Confidence int
}
